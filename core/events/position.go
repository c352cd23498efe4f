package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"tiersale/core/types"
)

const (
	// TypePositionActivated is emitted when a position is activated with its
	// lifetime value cap.
	TypePositionActivated = "position.activated"
	// TypePositionAccrued is emitted when an allocation is recorded against a
	// position.
	TypePositionAccrued = "position.accrued"
	// TypePositionReleasing is emitted once when a position's accrued value
	// crosses its USD cap. The flag never reverts.
	TypePositionReleasing = "position.releasing"
)

// PositionActivated records a position entering the accrual ledger.
type PositionActivated struct {
	Position  uint64
	Owner     [20]byte
	CapUSD    *big.Int
	Purchased *big.Int
}

func (PositionActivated) EventType() string { return TypePositionActivated }

func (e PositionActivated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionActivated,
		Attributes: map[string]string{
			"position":  strconv.FormatUint(e.Position, 10),
			"owner":     hex.EncodeToString(e.Owner[:]),
			"capUsd":    bigString(e.CapUSD),
			"purchased": bigString(e.Purchased),
		},
	}
}

// PositionAccrued records a purchased, rewarded or airdropped allocation.
type PositionAccrued struct {
	Position uint64
	Kind     string
	Amount   *big.Int
	Total    *big.Int
}

func (PositionAccrued) EventType() string { return TypePositionAccrued }

func (e PositionAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypePositionAccrued,
		Attributes: map[string]string{
			"position": strconv.FormatUint(e.Position, 10),
			"kind":     e.Kind,
			"amount":   bigString(e.Amount),
			"total":    bigString(e.Total),
		},
	}
}

// PositionReleasing records the irrevocable release transition.
type PositionReleasing struct {
	Position uint64
	ValueUSD *big.Int
	CapUSD   *big.Int
	Price    *big.Int
}

func (PositionReleasing) EventType() string { return TypePositionReleasing }

func (e PositionReleasing) Event() *types.Event {
	return &types.Event{
		Type: TypePositionReleasing,
		Attributes: map[string]string{
			"position": strconv.FormatUint(e.Position, 10),
			"valueUsd": bigString(e.ValueUSD),
			"capUsd":   bigString(e.CapUSD),
			"price":    bigString(e.Price),
		},
	}
}
