package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"tiersale/core/types"
)

// TypeSettlementBurned is emitted exactly once per position when it settles.
const TypeSettlementBurned = "settlement.burned"

// SettlementBurned records the one-shot settlement of a releasing position.
type SettlementBurned struct {
	Position uint64
	Holder   [20]byte
	Burned   *big.Int
	Released *big.Int
	Stable   *big.Int
	Price    *big.Int
}

func (SettlementBurned) EventType() string { return TypeSettlementBurned }

func (e SettlementBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeSettlementBurned,
		Attributes: map[string]string{
			"position": strconv.FormatUint(e.Position, 10),
			"holder":   hex.EncodeToString(e.Holder[:]),
			"burned":   bigString(e.Burned),
			"released": bigString(e.Released),
			"stable":   bigString(e.Stable),
			"price":    bigString(e.Price),
		},
	}
}
