package port

import "context"

type PressureLevel int

const (
	PressureLow PressureLevel = iota
	PressureMedium
	PressureHigh
	PressureCritical
)

func (l PressureLevel) String() string {
	switch l {
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	}
	return "unknown"
}

// Multiplier is the fraction of the base cache capacity allowed at this level.
func (l PressureLevel) Multiplier() float64 {
	switch l {
	case PressureMedium:
		return 0.75
	case PressureHigh:
		return 0.5
	case PressureCritical:
		return 0.25
	}
	return 1.0
}

// MemoryPressureSource reports the current system memory pressure.
type MemoryPressureSource interface {
	Level(ctx context.Context) (PressureLevel, error)
}
