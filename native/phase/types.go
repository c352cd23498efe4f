package phase

import "math/big"

// Phase is one tier of the price ladder. CurrentPrice always satisfies
// basePrice + min(soldVolume/VolumeStep, MaxSteps)*PriceIncrement, and
// Completed never reverts to false once set.
type Phase struct {
	Index        uint64
	BasePrice    *big.Int
	CurrentPrice *big.Int
	SoldVolume   *big.Int
	Completed    bool
}

// Clone returns a deep copy for defensive use by callers.
func (p *Phase) Clone() *Phase {
	if p == nil {
		return nil
	}
	clone := *p
	if p.BasePrice != nil {
		clone.BasePrice = new(big.Int).Set(p.BasePrice)
	}
	if p.CurrentPrice != nil {
		clone.CurrentPrice = new(big.Int).Set(p.CurrentPrice)
	}
	if p.SoldVolume != nil {
		clone.SoldVolume = new(big.Int).Set(p.SoldVolume)
	}
	return &clone
}

func (p *Phase) soldVolume() *big.Int {
	if p == nil || p.SoldVolume == nil {
		return big.NewInt(0)
	}
	return p.SoldVolume
}

func (p *Phase) basePrice() *big.Int {
	if p == nil || p.BasePrice == nil {
		return big.NewInt(0)
	}
	return p.BasePrice
}
