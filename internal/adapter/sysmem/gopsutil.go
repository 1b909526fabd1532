package sysmem

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"codesearch/internal/port"
)

// Thresholds are UsedPercent boundaries between pressure levels.
type Thresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 70, High: 80, Critical: 90}
}

// Source reads system memory usage through gopsutil.
type Source struct {
	thresholds Thresholds
	read       func(ctx context.Context) (float64, error)
}

func NewSource(t Thresholds) *Source {
	return &Source{thresholds: t, read: usedPercent}
}

func usedPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read virtual memory: %w", err)
	}
	return vm.UsedPercent, nil
}

func (s *Source) Level(ctx context.Context) (port.PressureLevel, error) {
	used, err := s.read(ctx)
	if err != nil {
		return port.PressureLow, err
	}
	return s.thresholds.classify(used), nil
}

func (t Thresholds) classify(used float64) port.PressureLevel {
	switch {
	case used >= t.Critical:
		return port.PressureCritical
	case used >= t.High:
		return port.PressureHigh
	case used >= t.Medium:
		return port.PressureMedium
	}
	return port.PressureLow
}
