package position

import "math/big"

// AllocationKind classifies how tokens accrued to a position.
type AllocationKind string

const (
	// KindPurchase marks tokens minted by a purchase.
	KindPurchase AllocationKind = "purchase"
	// KindReward marks tokens granted by the referral/team collaborator.
	KindReward AllocationKind = "reward"
	// KindAirdrop marks tokens granted by the airdrop collaborator.
	KindAirdrop AllocationKind = "airdrop"
)

func (k AllocationKind) valid() bool {
	switch k {
	case KindPurchase, KindReward, KindAirdrop:
		return true
	}
	return false
}

// Position is one sellable unit tracked against a USD value cap. Activated
// and Releasing are one-way latches; the allocation accumulators only grow
// while Releasing is false and freeze once it flips.
type Position struct {
	ID          uint64
	Owner       [20]byte
	Activated   bool
	ActivatedAt int64
	CapUSD      *big.Int
	Purchased   *big.Int
	Rewarded    *big.Int
	Airdropped  *big.Int
	Releasing   bool
	Invalidated bool
}

// TotalAllocation sums the purchased, rewarded and airdropped accumulators.
func (p *Position) TotalAllocation() *big.Int {
	total := big.NewInt(0)
	if p == nil {
		return total
	}
	for _, part := range []*big.Int{p.Purchased, p.Rewarded, p.Airdropped} {
		if part != nil {
			total.Add(total, part)
		}
	}
	return total
}

// Clone returns a deep copy for defensive use by callers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.CapUSD != nil {
		clone.CapUSD = new(big.Int).Set(p.CapUSD)
	}
	if p.Purchased != nil {
		clone.Purchased = new(big.Int).Set(p.Purchased)
	}
	if p.Rewarded != nil {
		clone.Rewarded = new(big.Int).Set(p.Rewarded)
	}
	if p.Airdropped != nil {
		clone.Airdropped = new(big.Int).Set(p.Airdropped)
	}
	return &clone
}

func (p *Position) normalize() {
	if p.CapUSD == nil {
		p.CapUSD = big.NewInt(0)
	}
	if p.Purchased == nil {
		p.Purchased = big.NewInt(0)
	}
	if p.Rewarded == nil {
		p.Rewarded = big.NewInt(0)
	}
	if p.Airdropped == nil {
		p.Airdropped = big.NewInt(0)
	}
}
