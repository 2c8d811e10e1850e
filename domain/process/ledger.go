package process

import (
	"github.com/greybox/hackcore/infrastructure/errors"
)

// Ledger holds the running CPU/RAM totals currently reserved on one server.
// Net capacity is tracked on ResourceCaps/ResourceShape for the duration
// calculator but is not admission-gated by this engine (see SPEC_FULL.md
// §4.1/§4.2) — only CPU and RAM are contended resources here.
type Ledger struct {
	Used ResourceShape
}

// Allocate grants (wantCPU, wantRAM) in full or fails with a typed
// admission error; it never partially grants a request. It never mutates
// l; the caller applies the returned amounts to l.Used once the
// surrounding transaction commits.
func (l Ledger) Allocate(wantCPU, wantRAM Units, caps ResourceCaps) (granted ResourceShape, err error) {
	if wantCPU == 0 && wantRAM == 0 {
		return ResourceShape{}, errors.ZeroRequest()
	}

	freeCPU, ok := caps.CPU.TrySub(l.Used.CPU)
	if !ok {
		return ResourceShape{}, errors.LedgerUnderflow("cpu", uint64(l.Used.CPU), uint64(caps.CPU))
	}
	freeRAM, ok := caps.RAM.TrySub(l.Used.RAM)
	if !ok {
		return ResourceShape{}, errors.LedgerUnderflow("ram", uint64(l.Used.RAM), uint64(caps.RAM))
	}

	grantCPU := wantCPU.Min(freeCPU)
	grantRAM := wantRAM.Min(freeRAM)

	if grantCPU < wantCPU {
		return ResourceShape{}, errors.InsufficientCPU(uint64(wantCPU), uint64(freeCPU))
	}
	if grantRAM < wantRAM {
		return ResourceShape{}, errors.InsufficientRAM(uint64(wantRAM), uint64(freeRAM))
	}

	return ResourceShape{CPU: grantCPU, RAM: grantRAM}, nil
}

// Apply records a granted allocation against the ledger.
func (l *Ledger) Apply(granted ResourceShape) {
	l.Used.CPU = l.Used.CPU.SaturatingAdd(granted.CPU)
	l.Used.RAM = l.Used.RAM.SaturatingAdd(granted.RAM)
}

// Deallocate releases a reservation, saturating and capping at caps so a
// double-release (which the state machine should make impossible) cannot
// push the ledger negative or above capacity.
func (l *Ledger) Deallocate(release ResourceShape, caps ResourceCaps) {
	l.Used.CPU = l.Used.CPU.SaturatingSub(release.CPU).Min(caps.CPU)
	l.Used.RAM = l.Used.RAM.SaturatingSub(release.RAM).Min(caps.RAM)
}

// Free returns the currently unreserved capacity on each dimension.
func (l Ledger) Free(caps ResourceCaps) ResourceShape {
	freeCPU, ok := caps.CPU.TrySub(l.Used.CPU)
	if !ok {
		freeCPU = 0
	}
	freeRAM, ok := caps.RAM.TrySub(l.Used.RAM)
	if !ok {
		freeRAM = 0
	}
	return ResourceShape{CPU: freeCPU, RAM: freeRAM}
}
