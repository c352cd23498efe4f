package settle

import (
	"fmt"
	"math/big"

	"tiersale/core/events"
	"tiersale/core/types"
	"tiersale/native/phase"
	"tiersale/native/position"
)

const (
	// MinBurnPercent is the smallest settleable burn fraction.
	MinBurnPercent = 15
	// MaxBurnPercent is the largest settleable burn fraction.
	MaxBurnPercent = 85
)

// EngineState describes the state access settlement needs: holder balances,
// the token burn and the write-once burn bitmap.
type EngineState interface {
	GetAccount(addr []byte) (*types.Account, error)
	BurnToken(from [20]byte, amount *big.Int) error
	SettlementBurned(id uint64) (bool, error)
	MarkSettlementBurned(id uint64) error
	AppendEvent(evt *types.Event)
}

// Custody is the position custody collaborator: holder lookup and the
// invalidation of the position's backing claim.
type Custody interface {
	OwnerOf(id uint64) ([20]byte, error)
	Invalidate(id uint64) error
}

// Positions is the read surface settlement consumes from the accrual registry.
type Positions interface {
	Info(id uint64) (*position.Position, bool, error)
}

// PriceQuote supplies the next cycle's starting price, which settlement uses
// instead of the current stepped price.
type PriceQuote interface {
	NextBasePrice() (*big.Int, error)
}

// StablePayout pushes settlement proceeds to the treasury.
type StablePayout interface {
	Push(to [20]byte, amount *big.Int) error
}

// Receipt summarises a completed settlement.
type Receipt struct {
	Position uint64
	Holder   [20]byte
	Burned   *big.Int
	Released *big.Int
	Stable   *big.Int
	Price    *big.Int
}

// Engine performs the one-shot settlement burn: destroy a bounded fraction of
// the position's allocation at the next cycle's price, release the remainder
// to the holder's spendable balance and pay the stable amount to the treasury.
type Engine struct {
	state     EngineState
	custody   Custody
	positions Positions
	quotes    PriceQuote
	stable    StablePayout
	treasury  [20]byte
}

// NewEngine constructs a settlement engine.
func NewEngine(state EngineState, custody Custody, positions Positions, quotes PriceQuote, stable StablePayout) *Engine {
	return &Engine{
		state:     state,
		custody:   custody,
		positions: positions,
		quotes:    quotes,
		stable:    stable,
	}
}

// SetTreasury configures the fixed address that receives stable payouts.
func (e *Engine) SetTreasury(addr [20]byte) { e.treasury = addr }

// Settle burns burnPercent of the position's total allocation and settles the
// stable amount exactly once. The caller must still hold the full allocation.
// Step ordering is load-bearing: burn, then payout, then the burn-record and
// custody invalidation, all inside one atomic unit managed by the caller.
func (e *Engine) Settle(caller [20]byte, positionID uint64, burnPercent uint64) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.treasury == ([20]byte{}) {
		return nil, errNilTreasury
	}
	if burnPercent < MinBurnPercent || burnPercent > MaxBurnPercent {
		return nil, ErrBurnPercent
	}
	holder, err := e.custody.OwnerOf(positionID)
	if err != nil {
		return nil, err
	}
	if holder != caller {
		return nil, ErrNotHolder
	}
	burned, err := e.state.SettlementBurned(positionID)
	if err != nil {
		return nil, err
	}
	if burned {
		return nil, ErrAlreadySettled
	}
	pos, ok, err := e.positions.Info(positionID)
	if err != nil {
		return nil, err
	}
	if !ok || !pos.Activated {
		return nil, position.ErrNotActivated
	}
	if !pos.Releasing {
		return nil, ErrNotReleasing
	}

	total := pos.TotalAllocation()
	account, err := e.state.GetAccount(caller[:])
	if err != nil {
		return nil, err
	}
	account = types.EnsureAccount(account)
	if account.BalanceToken.Cmp(total) < 0 {
		return nil, ErrInsufficientBalance
	}

	burnAmount := new(big.Int).Mul(total, new(big.Int).SetUint64(burnPercent))
	burnAmount.Quo(burnAmount, big.NewInt(100))
	releaseAmount := new(big.Int).Sub(total, burnAmount)

	// The payout prices the burned amount at the next cycle's base, read at
	// call time inside the same atomic unit.
	nextPrice, err := e.quotes.NextBasePrice()
	if err != nil {
		return nil, err
	}
	stableAmount := new(big.Int).Mul(burnAmount, nextPrice)
	stableAmount.Quo(stableAmount, phase.PriceScale)

	if err := e.state.BurnToken(caller, burnAmount); err != nil {
		return nil, err
	}
	if err := e.stable.Push(e.treasury, stableAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettlementPayoutFailed, err)
	}
	if err := e.state.MarkSettlementBurned(positionID); err != nil {
		return nil, err
	}
	if err := e.custody.Invalidate(positionID); err != nil {
		return nil, err
	}

	e.state.AppendEvent(events.SettlementBurned{
		Position: positionID,
		Holder:   caller,
		Burned:   burnAmount,
		Released: releaseAmount,
		Stable:   stableAmount,
		Price:    nextPrice,
	}.Event())
	return &Receipt{
		Position: positionID,
		Holder:   caller,
		Burned:   burnAmount,
		Released: releaseAmount,
		Stable:   stableAmount,
		Price:    nextPrice,
	}, nil
}
