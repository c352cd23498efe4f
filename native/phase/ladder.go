package phase

import (
	"math/big"

	"tiersale/core/events"
	"tiersale/core/types"
)

// LadderState describes the minimal state access the ladder needs. The phase
// arena is owned exclusively by this engine; other components read prices
// through the accessor methods, never the raw records.
type LadderState interface {
	PhaseCount() (uint64, error)
	PhaseGet(index uint64) (*Phase, bool, error)
	PhasePut(index uint64, p *Phase) error
	ActivePhaseIndex() (uint64, error)
	SetActivePhaseIndex(index uint64) error
	AppendEvent(evt *types.Event)
}

// PriceObserver receives synchronous price-change notifications. Dispatch
// happens inside the triggering operation's atomic unit; a returned error
// aborts that operation.
type PriceObserver interface {
	OnPriceChanged(price *big.Int) error
}

// Ladder converts cumulative sold volume into the active phase's price and
// advances phases once they complete.
type Ladder struct {
	state     LadderState
	params    Params
	observers []PriceObserver
}

// NewLadder constructs a ladder bound to the provided state backend.
func NewLadder(state LadderState, params Params) *Ladder {
	return &Ladder{state: state, params: params.Normalize()}
}

// Subscribe registers an observer for price-change notifications.
func (l *Ladder) Subscribe(obs PriceObserver) {
	if l == nil || obs == nil {
		return
	}
	l.observers = append(l.observers, obs)
}

// Params returns the pricing parameters the ladder was configured with.
func (l *Ladder) Params() Params { return l.params }

func (l *Ladder) activePhase() (*Phase, uint64, error) {
	if l == nil || l.state == nil {
		return nil, 0, errNilState
	}
	index, err := l.state.ActivePhaseIndex()
	if err != nil {
		return nil, 0, err
	}
	count, err := l.state.PhaseCount()
	if err != nil {
		return nil, 0, err
	}
	if index >= count {
		return nil, 0, ErrNoActivePhase
	}
	current, ok, err := l.state.PhaseGet(index)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrNoActivePhase
	}
	return current, index, nil
}

// ActiveIndex returns the index of the active phase.
func (l *Ladder) ActiveIndex() (uint64, error) {
	_, index, err := l.activePhase()
	return index, err
}

// CurrentPrice returns the active phase's stepped price.
func (l *Ladder) CurrentPrice() (*big.Int, error) {
	current, _, err := l.activePhase()
	if err != nil {
		return nil, err
	}
	if current.CurrentPrice == nil {
		return new(big.Int).Set(current.basePrice()), nil
	}
	return new(big.Int).Set(current.CurrentPrice), nil
}

// NextBasePrice returns the base price of the phase after the active one.
// This is the price quote settlement uses for the next cycle.
func (l *Ladder) NextBasePrice() (*big.Int, error) {
	_, index, err := l.activePhase()
	if err != nil {
		return nil, err
	}
	count, err := l.state.PhaseCount()
	if err != nil {
		return nil, err
	}
	if index+1 >= count {
		return nil, ErrNoNextPhase
	}
	next, ok, err := l.state.PhaseGet(index + 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoNextPhase
	}
	return new(big.Int).Set(next.basePrice()), nil
}

// PhaseInfo returns a copy of the phase at the given index.
func (l *Ladder) PhaseInfo(index uint64) (*Phase, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, errNilState
	}
	current, ok, err := l.state.PhaseGet(index)
	if err != nil || !ok {
		return nil, ok, err
	}
	return current.Clone(), true, nil
}

// ReportSold adds the amount to the active phase's sold volume, recomputes
// the stepped price and notifies observers on a change. Completion latches at
// MaxSteps and re-reporting a completed phase is not an error. Returns the
// stepped price and whether the phase is complete.
func (l *Ladder) ReportSold(amount *big.Int) (*big.Int, bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, false, ErrInvalidVolume
	}
	current, index, err := l.activePhase()
	if err != nil {
		return nil, false, err
	}
	current.SoldVolume = new(big.Int).Add(current.soldVolume(), amount)

	steps := new(big.Int).Quo(current.SoldVolume, l.params.VolumeStep)
	maxSteps := new(big.Int).SetUint64(l.params.MaxSteps)
	if steps.Cmp(maxSteps) >= 0 {
		steps.Set(maxSteps)
		if !current.Completed {
			current.Completed = true
			l.state.AppendEvent(events.PhaseCompleted{Phase: index, SoldVolume: current.SoldVolume}.Event())
		}
	}

	price := new(big.Int).Mul(steps, l.params.PriceIncrement)
	price.Add(price, current.basePrice())
	stepped := current.CurrentPrice == nil || price.Cmp(current.CurrentPrice) != 0
	if stepped {
		current.CurrentPrice = new(big.Int).Set(price)
	}
	// Persist before notifying so an observer reading back through the
	// ladder sees the stepped price, matching Advance.
	if err := l.state.PhasePut(index, current); err != nil {
		return nil, false, err
	}
	if stepped {
		l.state.AppendEvent(events.PhasePriceStepped{
			Phase:      index,
			Steps:      steps.Uint64(),
			Price:      price,
			SoldVolume: current.SoldVolume,
		}.Event())
		if err := l.notify(price); err != nil {
			return nil, false, err
		}
	}
	return new(big.Int).Set(price), current.Completed, nil
}

// Advance moves the ladder to the next phase. It returns false without
// mutating state when the active phase is not complete or the ladder has no
// next phase; running off the end of the ladder is a normal condition.
// The new phase prices at its own base, which can sit below the previous
// phase's final stepped price.
func (l *Ladder) Advance() (bool, error) {
	current, index, err := l.activePhase()
	if err != nil {
		return false, err
	}
	if !current.Completed {
		return false, nil
	}
	count, err := l.state.PhaseCount()
	if err != nil {
		return false, err
	}
	if index+1 >= count {
		return false, nil
	}
	next, ok, err := l.state.PhaseGet(index + 1)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNoNextPhase
	}
	if err := l.state.SetActivePhaseIndex(index + 1); err != nil {
		return false, err
	}
	base := next.basePrice()
	if next.CurrentPrice == nil {
		next.CurrentPrice = new(big.Int).Set(base)
		if err := l.state.PhasePut(index+1, next); err != nil {
			return false, err
		}
	}
	l.state.AppendEvent(events.PhaseAdvanced{Phase: index + 1, BasePrice: base}.Event())
	if err := l.notify(base); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ladder) notify(price *big.Int) error {
	for _, obs := range l.observers {
		if err := obs.OnPriceChanged(new(big.Int).Set(price)); err != nil {
			return err
		}
	}
	return nil
}
