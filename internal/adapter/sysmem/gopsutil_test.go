package sysmem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codesearch/internal/port"
)

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	cases := map[float64]port.PressureLevel{
		10:   port.PressureLow,
		69.9: port.PressureLow,
		70:   port.PressureMedium,
		85:   port.PressureHigh,
		90:   port.PressureCritical,
		99:   port.PressureCritical,
	}
	for used, want := range cases {
		assert.Equal(t, want, th.classify(used), "used=%v", used)
	}
}

func TestLevelPropagatesReadError(t *testing.T) {
	s := NewSource(DefaultThresholds())
	s.read = func(context.Context) (float64, error) { return 0, errors.New("no procfs") }

	_, err := s.Level(context.Background())
	assert.Error(t, err)
}

func TestLevelReadsSystem(t *testing.T) {
	s := NewSource(DefaultThresholds())
	level, err := s.Level(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(level), int(port.PressureLow))
}
