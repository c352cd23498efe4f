package phase

import "math/big"

// PriceScale is the fixed-point denominator shared by USD prices, token
// amounts and stable amounts (18 decimals).
var PriceScale = big.NewInt(1_000_000_000_000_000_000)

// Params control the volume-triggered step pricing inside a phase.
type Params struct {
	// VolumeStep is the sold volume that triggers one price step.
	VolumeStep *big.Int
	// MaxSteps is the step count at which a phase completes.
	MaxSteps uint64
	// PriceIncrement is the fixed-point USD price increase per step.
	PriceIncrement *big.Int
}

// DefaultParams mirror the launch ladder: 100k tokens per step, twenty steps
// per phase, one cent per step.
func DefaultParams() Params {
	return Params{
		VolumeStep:     new(big.Int).Mul(big.NewInt(100_000), PriceScale),
		MaxSteps:       20,
		PriceIncrement: big.NewInt(10_000_000_000_000_000),
	}
}

// Normalize fills zero-value fields with the defaults so a partially
// configured ladder still prices consistently.
func (p Params) Normalize() Params {
	def := DefaultParams()
	if p.VolumeStep == nil || p.VolumeStep.Sign() <= 0 {
		p.VolumeStep = def.VolumeStep
	}
	if p.MaxSteps == 0 {
		p.MaxSteps = def.MaxSteps
	}
	if p.PriceIncrement == nil || p.PriceIncrement.Sign() < 0 {
		p.PriceIncrement = def.PriceIncrement
	}
	return p
}
