package process

// Hardware is the actor-side capability that speeds a process up.
type Hardware struct {
	CPU Units
	Net Units
}

// Target describes the difficulty of whatever the process acts against.
type Target struct {
	Difficulty Units
}

// KindConfig is the per-kind tuning loaded from the game-balance YAML
// config (config/balance.go): a base duration, a minimum floor, and the
// resource shape a process of this kind reserves.
type KindConfig struct {
	BaseSeconds   float64
	MinSeconds    float64
	Shape         ResourceShape
	CPUDivisor    float64 // higher actor CPU divides duration down
	NetDivisor    float64 // higher actor Net divides duration down
	DifficultyMul float64 // higher target difficulty multiplies duration up
}

// BalanceTable maps each Kind to its tuning. The engine is handed one of
// these at construction; it never hardcodes per-kind formulas itself.
type BalanceTable map[Kind]KindConfig

// Duration computes the deterministic, positive duration (in seconds) and
// the resource shape a process of kind k against target t, run by an actor
// with hardware hw, will take. It is a pure function: identical inputs
// always produce identical outputs (SPEC_FULL.md §4.3, §8 algebraic law).
//
// Monotonicity: increasing hw.CPU or hw.Net never increases the result;
// increasing t.Difficulty never decreases it. The result is floored at
// cfg.MinSeconds.
func Duration(k Kind, hw Hardware, t Target, table BalanceTable) (seconds int64, shape ResourceShape, ok bool) {
	cfg, found := table[k]
	if !found {
		return 0, ResourceShape{}, false
	}

	d := cfg.BaseSeconds

	if cfg.CPUDivisor > 0 && hw.CPU > 0 {
		d /= 1.0 + float64(hw.CPU)/cfg.CPUDivisor
	}
	if cfg.NetDivisor > 0 && hw.Net > 0 {
		d /= 1.0 + float64(hw.Net)/cfg.NetDivisor
	}
	if cfg.DifficultyMul > 0 && t.Difficulty > 0 {
		d *= 1.0 + float64(t.Difficulty)*cfg.DifficultyMul
	}

	if d < cfg.MinSeconds {
		d = cfg.MinSeconds
	}
	if d < 1 {
		d = 1
	}

	return int64(d), cfg.Shape, true
}

// DefaultBalanceTable returns a reasonable built-in tuning for every known
// Kind, used when no YAML override is configured (development/tests).
func DefaultBalanceTable() BalanceTable {
	mk := func(base, min float64, cpu, ram, net Units, cpuDiv, netDiv, diffMul float64) KindConfig {
		return KindConfig{
			BaseSeconds:   base,
			MinSeconds:    min,
			Shape:         ResourceShape{CPU: cpu, RAM: ram, Net: net},
			CPUDivisor:    cpuDiv,
			NetDivisor:    netDiv,
			DifficultyMul: diffMul,
		}
	}
	return BalanceTable{
		KindHack:      mk(60, 5, 150, 256, 50, 500, 500, 0.01),
		KindDownload:  mk(20, 2, 50, 64, 200, 500, 200, 0.0),
		KindUpload:    mk(20, 2, 50, 64, 200, 500, 200, 0.0),
		KindDelete:    mk(10, 1, 40, 32, 10, 500, 0, 0.0),
		KindFormat:    mk(120, 10, 200, 128, 10, 500, 0, 0.0),
		KindScan:      mk(3, 1, 100, 256, 20, 500, 200, 0.005),
		KindResearch:  mk(300, 30, 100, 512, 0, 500, 0, 0.0),
		KindDdos:      mk(90, 5, 300, 256, 400, 500, 500, 0.02),
		KindInstall:   mk(15, 1, 60, 64, 0, 500, 0, 0.0),
		KindUninstall: mk(10, 1, 40, 32, 0, 500, 0, 0.0),
		KindSeek:      mk(25, 2, 60, 64, 30, 500, 200, 0.005),
		KindAntiVirus: mk(40, 5, 120, 128, 0, 500, 0, 0.0),
		KindLogEdit:   mk(15, 1, 50, 32, 10, 500, 0, 0.0),
	}
}
