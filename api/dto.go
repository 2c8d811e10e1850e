package api

import "github.com/greybox/hackcore/domain/process"

// startProcessRequest is the wire shape for POST /processes.
type startProcessRequest struct {
	Kind          string `json:"kind"`
	GatewayServer string `json:"gateway_server"`
	TargetServer  string `json:"target_server"`
	Victim        string `json:"victim"`
	SoftwareRef   string `json:"software_ref"`
	Priority      int    `json:"priority"`
	HardwareCPU   uint64 `json:"hardware_cpu"`
	HardwareNet   uint64 `json:"hardware_net"`
	Difficulty    uint64 `json:"difficulty"`
}

// processResponse is the wire shape for a process returned to a client.
type processResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	State         string `json:"state"`
	GatewayServer string `json:"gateway_server"`
	TargetServer  string `json:"target_server"`
	CreatedAt     string `json:"created_at"`
	StartedAt     string `json:"started_at,omitempty"`
	ExpectedEnd   string `json:"expected_end,omitempty"`
	CPUReserved   uint64 `json:"cpu_reserved"`
	RAMReserved   uint64 `json:"ram_reserved"`
	Reason        string `json:"reason,omitempty"`
}

func toProcessResponse(p *process.Process) processResponse {
	resp := processResponse{
		ID:            p.ID,
		Kind:          string(p.Kind),
		State:         string(p.State),
		GatewayServer: p.GatewayServer,
		TargetServer:  p.TargetServer,
		CreatedAt:     p.CreatedAt.Format(timeLayout),
		CPUReserved:   uint64(p.CPUReserved),
		RAMReserved:   uint64(p.RAMReserved),
		Reason:        p.Reason,
	}
	if !p.StartedAt.IsZero() {
		resp.StartedAt = p.StartedAt.Format(timeLayout)
	}
	if !p.ExpectedEnd.IsZero() {
		resp.ExpectedEnd = p.ExpectedEnd.Format(timeLayout)
	}
	return resp
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
