package sale

import (
	"fmt"
	"math/big"
	"strings"

	"tiersale/core/events"
	"tiersale/core/types"
	"tiersale/native/phase"
	"tiersale/native/position"
)

// EngineState describes the state access the purchase router needs: minting
// and the monotonic sale cycle counter.
type EngineState interface {
	MintToken(to [20]byte, amount *big.Int) error
	SaleCycle() (uint64, error)
	SetSaleCycle(cycle uint64) error
	AppendEvent(evt *types.Event)
}

// AssetTransfer is the narrow contract a payment asset exposes. Pull moves
// funds from the payer into module custody; Push moves custody funds out.
type AssetTransfer interface {
	Pull(from [20]byte, amount *big.Int) error
	Push(to [20]byte, amount *big.Int) error
}

// PriceLadder is the accessor surface the router consumes from the phase
// ladder. The router never touches phase records directly.
type PriceLadder interface {
	CurrentPrice() (*big.Int, error)
	ReportSold(amount *big.Int) (*big.Int, bool, error)
	Advance() (bool, error)
	ActiveIndex() (uint64, error)
}

// Positions is the accessor surface the router consumes from the accrual
// registry.
type Positions interface {
	Info(id uint64) (*position.Position, bool, error)
	RecordAllocation(id uint64, amount *big.Int, kind position.AllocationKind) (*position.Position, error)
}

// Receipt summarises a completed purchase.
type Receipt struct {
	Buyer    [20]byte
	Position uint64
	Asset    string
	Paid     *big.Int
	Minted   *big.Int
	Price    *big.Int
	Cycle    uint64
	Advanced bool
}

// Engine routes purchases: it pulls payment, mints at the current stepped
// price, reports sold volume and rolls the sale into its next cycle when a
// phase completes.
type Engine struct {
	state       EngineState
	ladder      PriceLadder
	positions   Positions
	assets      map[string]AssetTransfer
	distributor [20]byte
}

// NewEngine constructs a purchase router.
func NewEngine(state EngineState, ladder PriceLadder, positions Positions) *Engine {
	return &Engine{
		state:     state,
		ladder:    ladder,
		positions: positions,
		assets:    make(map[string]AssetTransfer),
	}
}

// RegisterAsset adds a payment asset under its symbol.
func (e *Engine) RegisterAsset(symbol string, transfer AssetTransfer) {
	if e == nil || transfer == nil {
		return
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return
	}
	e.assets[symbol] = transfer
}

// SetDistributor configures the address that receives forwarded payments for
// downstream fund-split distribution.
func (e *Engine) SetDistributor(addr [20]byte) { e.distributor = addr }

// Purchase executes the full flow as one unit: validate, price, pull, mint,
// forward, report, advance. The caller is responsible for committing or
// rolling back the surrounding state transaction; any error here must leave
// no observable effects.
func (e *Engine) Purchase(buyer [20]byte, asset string, payAmount *big.Int, positionID uint64) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ladder == nil {
		return nil, errNilLadder
	}
	if e.positions == nil {
		return nil, errNilPositions
	}
	if e.distributor == ([20]byte{}) {
		return nil, errNilDistributor
	}
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	transfer, ok := e.assets[symbol]
	if !ok {
		return nil, ErrAssetUnknown
	}
	if payAmount == nil || payAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pos, found, err := e.positions.Info(positionID)
	if err != nil {
		return nil, err
	}
	if !found || !pos.Activated {
		return nil, position.ErrNotActivated
	}
	if pos.Releasing {
		return nil, ErrPositionReleasing
	}

	price, err := e.ladder.CurrentPrice()
	if err != nil {
		return nil, err
	}
	// Truncation favours the ledger, never the buyer.
	mintAmount := new(big.Int).Mul(payAmount, phase.PriceScale)
	mintAmount.Quo(mintAmount, price)
	if mintAmount.Sign() == 0 {
		return nil, ErrAmountTooSmall
	}

	// Pull before minting so a rejected payment never leaves unbacked issuance.
	if err := transfer.Pull(buyer, payAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}
	if err := e.state.MintToken(buyer, mintAmount); err != nil {
		return nil, err
	}
	if err := transfer.Push(e.distributor, payAmount); err != nil {
		return nil, err
	}

	_, completed, err := e.ladder.ReportSold(mintAmount)
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{
		Buyer:    buyer,
		Position: positionID,
		Asset:    symbol,
		Paid:     new(big.Int).Set(payAmount),
		Minted:   mintAmount,
		Price:    price,
	}
	if completed {
		advanced, err := e.ladder.Advance()
		if err != nil {
			return nil, err
		}
		if advanced {
			if err := e.bumpCycle(receipt); err != nil {
				return nil, err
			}
		}
	}

	if _, err := e.positions.RecordAllocation(positionID, mintAmount, position.KindPurchase); err != nil {
		return nil, err
	}

	e.state.AppendEvent(events.SalePurchased{
		Buyer:    buyer,
		Position: positionID,
		Asset:    symbol,
		Paid:     receipt.Paid,
		Minted:   mintAmount,
		Price:    price,
	}.Event())
	return receipt, nil
}

func (e *Engine) bumpCycle(receipt *Receipt) error {
	cycle, err := e.state.SaleCycle()
	if err != nil {
		return err
	}
	cycle++
	if err := e.state.SetSaleCycle(cycle); err != nil {
		return err
	}
	index, err := e.ladder.ActiveIndex()
	if err != nil {
		return err
	}
	basePrice, err := e.ladder.CurrentPrice()
	if err != nil {
		return err
	}
	receipt.Cycle = cycle
	receipt.Advanced = true
	e.state.AppendEvent(events.SaleCycleAdvanced{
		Cycle:     cycle,
		Phase:     index,
		BasePrice: basePrice,
	}.Event())
	return nil
}
