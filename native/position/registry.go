package position

import (
	"math/big"
	"time"

	"tiersale/core/events"
	"tiersale/core/types"
	"tiersale/native/phase"
)

// RegistryState describes the minimal state access the registry needs. The
// position arena is owned exclusively by this engine.
type RegistryState interface {
	PositionGet(id uint64) (*Position, bool, error)
	PositionPut(id uint64, p *Position) error
	AppendEvent(evt *types.Event)
}

// PriceSource supplies the current ladder price for release evaluation. The
// cap check deliberately uses the price at evaluation time, not the price
// the allocation was acquired at.
type PriceSource interface {
	CurrentPrice() (*big.Int, error)
}

// Registry tracks per-position allocations and flips the release latch once
// the accrued USD value crosses the position's cap.
type Registry struct {
	state  RegistryState
	prices PriceSource
	nowFn  func() int64
}

// NewRegistry constructs a registry bound to the provided state and price source.
func NewRegistry(state RegistryState, prices PriceSource) *Registry {
	return &Registry{
		state:  state,
		prices: prices,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if r == nil || now == nil {
		return
	}
	r.nowFn = now
}

// Activate opens a position with its lifetime value cap and any allocation
// purchased at activation. Activating twice fails.
func (r *Registry) Activate(id uint64, owner [20]byte, capUSD, purchased *big.Int) (*Position, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if capUSD == nil || capUSD.Sign() <= 0 {
		return nil, ErrInvalidCap
	}
	if purchased != nil && purchased.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if existing, ok, err := r.state.PositionGet(id); err != nil {
		return nil, err
	} else if ok && existing.Activated {
		return nil, ErrAlreadyActivated
	}
	pos := &Position{
		ID:          id,
		Owner:       owner,
		Activated:   true,
		ActivatedAt: r.nowFn(),
		CapUSD:      new(big.Int).Set(capUSD),
		Purchased:   big.NewInt(0),
		Rewarded:    big.NewInt(0),
		Airdropped:  big.NewInt(0),
	}
	if purchased != nil {
		pos.Purchased = new(big.Int).Set(purchased)
	}
	r.state.AppendEvent(events.PositionActivated{
		Position:  id,
		Owner:     owner,
		CapUSD:    pos.CapUSD,
		Purchased: pos.Purchased,
	}.Event())
	if pos.Purchased.Sign() > 0 {
		if err := r.evaluateRelease(pos); err != nil {
			return nil, err
		}
	}
	if err := r.state.PositionPut(id, pos); err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// RecordAllocation adds the amount to the accumulator matching kind, then
// re-evaluates the release condition against the current price.
func (r *Registry) RecordAllocation(id uint64, amount *big.Int, kind AllocationKind) (*Position, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if !kind.valid() {
		return nil, ErrInvalidKind
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pos, ok, err := r.state.PositionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || !pos.Activated {
		return nil, ErrNotActivated
	}
	if pos.Releasing {
		return nil, ErrAlreadyReleasing
	}
	pos.normalize()
	switch kind {
	case KindPurchase:
		pos.Purchased.Add(pos.Purchased, amount)
	case KindReward:
		pos.Rewarded.Add(pos.Rewarded, amount)
	case KindAirdrop:
		pos.Airdropped.Add(pos.Airdropped, amount)
	}
	r.state.AppendEvent(events.PositionAccrued{
		Position: id,
		Kind:     string(kind),
		Amount:   amount,
		Total:    pos.TotalAllocation(),
	}.Event())
	if err := r.evaluateRelease(pos); err != nil {
		return nil, err
	}
	if err := r.state.PositionPut(id, pos); err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// Info returns a copy of the position record. Pure read, no side effects.
func (r *Registry) Info(id uint64) (*Position, bool, error) {
	if r == nil || r.state == nil {
		return nil, false, errNilState
	}
	pos, ok, err := r.state.PositionGet(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return pos.Clone(), true, nil
}

// OwnerOf returns the holder recorded for an activated position.
func (r *Registry) OwnerOf(id uint64) ([20]byte, error) {
	pos, ok, err := r.state.PositionGet(id)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok || !pos.Activated {
		return [20]byte{}, ErrNotActivated
	}
	return pos.Owner, nil
}

// Invalidate marks the position's backing claim unusable. The latch only
// moves one way.
func (r *Registry) Invalidate(id uint64) error {
	pos, ok, err := r.state.PositionGet(id)
	if err != nil {
		return err
	}
	if !ok || !pos.Activated {
		return ErrNotActivated
	}
	if pos.Invalidated {
		return nil
	}
	pos.Invalidated = true
	return r.state.PositionPut(id, pos)
}

// evaluateRelease flips the release latch when the allocation's value at the
// current price meets the cap. The flag never reverts, even if the price
// later falls.
func (r *Registry) evaluateRelease(pos *Position) error {
	if pos == nil || pos.Releasing {
		return nil
	}
	price, err := r.prices.CurrentPrice()
	if err != nil {
		return err
	}
	value := new(big.Int).Mul(pos.TotalAllocation(), price)
	value.Quo(value, phase.PriceScale)
	if value.Cmp(pos.CapUSD) >= 0 {
		pos.Releasing = true
		r.state.AppendEvent(events.PositionReleasing{
			Position: pos.ID,
			ValueUSD: value,
			CapUSD:   pos.CapUSD,
			Price:    price,
		}.Event())
	}
	return nil
}
