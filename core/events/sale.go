package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"tiersale/core/types"
)

const (
	// TypeSalePurchased is emitted for every successful purchase.
	TypeSalePurchased = "sale.purchased"
	// TypeSaleCycleAdvanced is emitted when a completed phase rolls the sale
	// into its next cycle.
	TypeSaleCycleAdvanced = "sale.cycle.advanced"
)

// SalePurchased records a purchase: the paid asset and amount, the minted
// amount and the price actually used.
type SalePurchased struct {
	Buyer    [20]byte
	Position uint64
	Asset    string
	Paid     *big.Int
	Minted   *big.Int
	Price    *big.Int
}

func (SalePurchased) EventType() string { return TypeSalePurchased }

func (e SalePurchased) Event() *types.Event {
	return &types.Event{
		Type: TypeSalePurchased,
		Attributes: map[string]string{
			"buyer":    hex.EncodeToString(e.Buyer[:]),
			"position": strconv.FormatUint(e.Position, 10),
			"asset":    strings.ToUpper(strings.TrimSpace(e.Asset)),
			"paid":     bigString(e.Paid),
			"minted":   bigString(e.Minted),
			"price":    bigString(e.Price),
		},
	}
}

// SaleCycleAdvanced records the monotonic cycle counter moving forward.
type SaleCycleAdvanced struct {
	Cycle     uint64
	Phase     uint64
	BasePrice *big.Int
}

func (SaleCycleAdvanced) EventType() string { return TypeSaleCycleAdvanced }

func (e SaleCycleAdvanced) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleCycleAdvanced,
		Attributes: map[string]string{
			"cycle":     strconv.FormatUint(e.Cycle, 10),
			"phase":     strconv.FormatUint(e.Phase, 10),
			"basePrice": bigString(e.BasePrice),
		},
	}
}
