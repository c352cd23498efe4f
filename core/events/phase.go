package events

import (
	"math/big"
	"strconv"

	"tiersale/core/types"
)

const (
	// TypePhasePriceStepped is emitted whenever reported volume moves the
	// active phase's price up a step.
	TypePhasePriceStepped = "phase.price.stepped"
	// TypePhaseCompleted is emitted once when a phase reaches its maximum step.
	TypePhaseCompleted = "phase.completed"
	// TypePhaseAdvanced is emitted when the ladder moves to the next phase.
	TypePhaseAdvanced = "phase.advanced"
)

// PhasePriceStepped records a volume-triggered price change within a phase.
type PhasePriceStepped struct {
	Phase      uint64
	Steps      uint64
	Price      *big.Int
	SoldVolume *big.Int
}

func (PhasePriceStepped) EventType() string { return TypePhasePriceStepped }

func (e PhasePriceStepped) Event() *types.Event {
	return &types.Event{
		Type: TypePhasePriceStepped,
		Attributes: map[string]string{
			"phase":      strconv.FormatUint(e.Phase, 10),
			"steps":      strconv.FormatUint(e.Steps, 10),
			"price":      bigString(e.Price),
			"soldVolume": bigString(e.SoldVolume),
		},
	}
}

// PhaseCompleted records a phase reaching its final step.
type PhaseCompleted struct {
	Phase      uint64
	SoldVolume *big.Int
}

func (PhaseCompleted) EventType() string { return TypePhaseCompleted }

func (e PhaseCompleted) Event() *types.Event {
	return &types.Event{
		Type: TypePhaseCompleted,
		Attributes: map[string]string{
			"phase":      strconv.FormatUint(e.Phase, 10),
			"soldVolume": bigString(e.SoldVolume),
		},
	}
}

// PhaseAdvanced records the ladder advancing to a new phase. BasePrice is the
// price the new phase re-seeds, which may sit below the previous phase's
// final stepped price.
type PhaseAdvanced struct {
	Phase     uint64
	BasePrice *big.Int
}

func (PhaseAdvanced) EventType() string { return TypePhaseAdvanced }

func (e PhaseAdvanced) Event() *types.Event {
	return &types.Event{
		Type: TypePhaseAdvanced,
		Attributes: map[string]string{
			"phase":     strconv.FormatUint(e.Phase, 10),
			"basePrice": bigString(e.BasePrice),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
