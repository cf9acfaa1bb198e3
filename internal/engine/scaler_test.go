package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdtrading/mt5-copier/pkg/types"
)

func defaultLimits() types.SymbolLimits {
	return types.SymbolLimits{
		MinLot:       0.01,
		MaxLot:       100,
		LotStep:      0.01,
		MarginPerLot: 100,
	}
}

func richAccount() types.AccountInfo {
	return types.AccountInfo{FreeMargin: 1000000}
}

func TestScaleRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ratio  float64
		master float64
		want   float64
	}{
		{"identity", 1.0, 1.0, 1.0},
		{"half", 0.5, 1.0, 0.5},
		{"double", 2.0, 0.25, 0.5},
		{"snaps down to lot step", 1.0, 0.125, 0.12},
		{"small volume", 0.5, 0.02, 0.01},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewScaler(tt.ratio, 0)
			got, err := s.Scale(tt.master, defaultLimits(), richAccount())
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestScaleFixedLot(t *testing.T) {
	t.Parallel()

	s := NewScaler(3.0, 0.1)
	got, err := s.Scale(5.0, defaultLimits(), richAccount())
	require.NoError(t, err)
	assert.InDelta(t, 0.1, got, 1e-9)
}

func TestScaleClampsToMaxLot(t *testing.T) {
	t.Parallel()

	limits := defaultLimits()
	limits.MaxLot = 2.0

	s := NewScaler(10.0, 0)
	got, err := s.Scale(1.0, limits, richAccount())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 1e-9)
}

func TestScaleClampsToMargin(t *testing.T) {
	t.Parallel()

	// 50 free margin at 100 per lot caps the volume at 0.5 lots.
	account := types.AccountInfo{FreeMargin: 50}

	s := NewScaler(1.0, 0)
	got, err := s.Scale(2.0, defaultLimits(), account)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestScaleBelowMinLot(t *testing.T) {
	t.Parallel()

	s := NewScaler(0.001, 0)
	_, err := s.Scale(1.0, defaultLimits(), richAccount())
	require.Error(t, err)
	assert.True(t, types.IsRejected(err), "sizing failure must not be retried")
}

func TestScaleInvalidMasterVolume(t *testing.T) {
	t.Parallel()

	s := NewScaler(1.0, 0)
	_, err := s.Scale(0, defaultLimits(), richAccount())
	require.Error(t, err)
	assert.True(t, types.IsRejected(err))
}
