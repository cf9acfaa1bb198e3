package engine

import (
	"fmt"
	"math"

	"github.com/jdtrading/mt5-copier/pkg/types"
)

// Scaler sizes copier orders from master volume: either a fixed lot or
// a configurable ratio, clamped to the copier account's lot limits and
// margin headroom.
type Scaler struct {
	ratio    float64
	fixedLot float64
}

// NewScaler creates a scaler. A positive fixedLot overrides the ratio.
func NewScaler(ratio, fixedLot float64) *Scaler {
	return &Scaler{ratio: ratio, fixedLot: fixedLot}
}

// Scale computes the copier-side volume for a master volume. Returns a
// rejected adapter error when the result cannot satisfy the broker's
// minimum lot or the account's free margin.
func (s *Scaler) Scale(masterVolume float64, limits types.SymbolLimits, account types.AccountInfo) (float64, error) {
	if masterVolume <= 0 {
		return 0, types.NewRejectedError("scale_volume", types.ErrInvalidVolume,
			fmt.Sprintf("master volume %f is not positive", masterVolume))
	}

	volume := masterVolume * s.ratio
	if s.fixedLot > 0 {
		volume = s.fixedLot
	}

	step := limits.LotStep
	if step <= 0 {
		step = 0.01
	}

	// Snap down to the lot step so we never round up into a larger
	// exposure than configured.
	volume = math.Floor(volume/step+1e-9) * step

	if limits.MaxLot > 0 && volume > limits.MaxLot {
		volume = limits.MaxLot
	}

	if limits.MarginPerLot > 0 && account.FreeMargin > 0 {
		maxByMargin := math.Floor(account.FreeMargin/limits.MarginPerLot/step) * step
		if volume > maxByMargin {
			volume = maxByMargin
		}
	}

	if limits.MinLot > 0 && volume < limits.MinLot {
		return 0, types.NewRejectedError("scale_volume", types.ErrNoMoney,
			fmt.Sprintf("scaled volume %.2f below minimum lot %.2f", volume, limits.MinLot))
	}
	if volume <= 0 {
		return 0, types.NewRejectedError("scale_volume", types.ErrNoMoney,
			"no margin headroom for scaled volume")
	}

	return volume, nil
}
