package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/greybox/hackcore/domain/process"
)

// kindConfigYAML mirrors process.KindConfig for YAML decoding; the domain
// type itself stays free of struct tags since domain/process has no
// business knowing about the file format its tuning comes from.
type kindConfigYAML struct {
	BaseSeconds   float64 `yaml:"base_seconds"`
	MinSeconds    float64 `yaml:"min_seconds"`
	CPU           uint64  `yaml:"cpu"`
	RAM           uint64  `yaml:"ram"`
	CPUDivisor    float64 `yaml:"cpu_divisor"`
	NetDivisor    float64 `yaml:"net_divisor"`
	DifficultyMul float64 `yaml:"difficulty_mul"`
}

type serverCapsYAML struct {
	CPU uint64 `yaml:"cpu"`
	RAM uint64 `yaml:"ram"`
	Net uint64 `yaml:"net"`
}

// BalanceFile is the on-disk shape of the tuning data an operator edits
// without recompiling: per-kind duration/resource curves, and one default
// caps triple. The file has no per-server caps entries.
type BalanceFile struct {
	Kinds       map[string]kindConfigYAML `yaml:"kinds"`
	DefaultCaps serverCapsYAML            `yaml:"default_caps"`
}

// LoadBalance reads path and produces a process.BalanceTable plus the
// default resource caps new servers are registered with. Falls back to
// process.DefaultBalanceTable() entirely if path does not exist, so a
// fresh checkout runs without requiring an operator to author the file
// first.
func LoadBalance(path string) (process.BalanceTable, process.ResourceCaps, error) {
	defaultCaps := process.ResourceCaps{CPU: 1000, RAM: 2048, Net: 1000}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return process.DefaultBalanceTable(), defaultCaps, nil
		}
		return nil, process.ResourceCaps{}, err
	}

	var file BalanceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, process.ResourceCaps{}, err
	}

	table := make(process.BalanceTable, len(file.Kinds))
	for kind, kc := range file.Kinds {
		table[process.Kind(kind)] = process.KindConfig{
			BaseSeconds:   kc.BaseSeconds,
			MinSeconds:    kc.MinSeconds,
			Shape:         process.ResourceShape{CPU: process.Units(kc.CPU), RAM: process.Units(kc.RAM)},
			CPUDivisor:    kc.CPUDivisor,
			NetDivisor:    kc.NetDivisor,
			DifficultyMul: kc.DifficultyMul,
		}
	}
	if len(table) == 0 {
		table = process.DefaultBalanceTable()
	}

	caps := process.ResourceCaps{
		CPU: process.Units(file.DefaultCaps.CPU),
		RAM: process.Units(file.DefaultCaps.RAM),
		Net: process.Units(file.DefaultCaps.Net),
	}
	if caps.CPU == 0 && caps.RAM == 0 {
		caps = defaultCaps
	}

	return table, caps, nil
}
