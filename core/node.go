package core

import (
	"math/big"
	"sync"

	"tiersale/core/events"
	"tiersale/core/types"
	"tiersale/native/phase"
	"tiersale/native/position"
	"tiersale/native/sale"
	"tiersale/native/settle"
	"tiersale/observability"
	"tiersale/state"
	"tiersale/storage"
)

// NodeConfig carries the wiring a node needs at construction time.
type NodeConfig struct {
	// Params configure the volume-step pricing shared by all phases.
	Params phase.Params
	// BasePrices seed the phase ladder on first boot, one entry per phase.
	BasePrices []*big.Int
	// Treasury receives stable settlement payouts.
	Treasury [20]byte
	// Distributor receives forwarded purchase payments.
	Distributor [20]byte
	// Vault holds module custody for all asset ledgers.
	Vault [20]byte
	// PaymentAssets lists the accepted purchase asset symbols.
	PaymentAssets []string
	// StableAsset is the settlement payout asset symbol.
	StableAsset string
}

type nodeEvent struct {
	evt *types.Event
}

func (e nodeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e nodeEvent) Event() *types.Event { return e.evt }

// Node owns the state manager and the four engines and serializes every
// entry point behind one lock: a call fully commits or fully rolls back
// before the next begins, and re-entrant invocation is structurally
// impossible.
type Node struct {
	mu sync.Mutex

	state      *state.Manager
	ladder     *phase.Ladder
	positions  *position.Registry
	sale       *sale.Engine
	settlement *settle.Engine
	assets     map[string]*state.AssetLedger
	emitter    events.Emitter
}

// NewNode wires a node over the provided database, seeding the phase ladder
// on first boot.
func NewNode(db storage.Database, cfg NodeConfig) (*Node, error) {
	mgr := state.NewManager(db)
	if err := mgr.SeedPhases(cfg.BasePrices); err != nil {
		mgr.Rollback()
		return nil, err
	}
	if _, err := mgr.Commit(); err != nil {
		mgr.Rollback()
		return nil, err
	}

	ladder := phase.NewLadder(mgr, cfg.Params)
	registry := position.NewRegistry(mgr, ladder)

	assets := make(map[string]*state.AssetLedger)
	saleEngine := sale.NewEngine(mgr, ladder, registry)
	saleEngine.SetDistributor(cfg.Distributor)
	for _, symbol := range cfg.PaymentAssets {
		ledger := state.NewAssetLedger(mgr, symbol, cfg.Vault)
		assets[ledger.Symbol()] = ledger
		saleEngine.RegisterAsset(ledger.Symbol(), ledger)
	}
	stableLedger, ok := assets[cfg.StableAsset]
	if !ok {
		stableLedger = state.NewAssetLedger(mgr, cfg.StableAsset, cfg.Vault)
		assets[stableLedger.Symbol()] = stableLedger
	}

	settleEngine := settle.NewEngine(mgr, registry, registry, ladder, stableLedger)
	settleEngine.SetTreasury(cfg.Treasury)

	return &Node{
		state:      mgr,
		ladder:     ladder,
		positions:  registry,
		sale:       saleEngine,
		settlement: settleEngine,
		assets:     assets,
		emitter:    events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (n *Node) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		n.emitter = events.NoopEmitter{}
		return
	}
	n.emitter = emitter
}

// SubscribePriceObserver registers an external price-change observer (the
// airdrop collaborator). Observer errors abort the triggering operation.
func (n *Node) SubscribePriceObserver(obs phase.PriceObserver) {
	n.ladder.Subscribe(obs)
}

// AssetLedger exposes the ledger for a registered asset symbol.
func (n *Node) AssetLedger(symbol string) (*state.AssetLedger, bool) {
	ledger, ok := n.assets[symbol]
	return ledger, ok
}

// execute runs fn inside the node's critical section and commits or rolls
// back the state overlay as one unit. Buffered events are only emitted after
// a successful commit.
func (n *Node) execute(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := fn(); err != nil {
		n.state.Rollback()
		return err
	}
	emitted, err := n.state.Commit()
	if err != nil {
		n.state.Rollback()
		return err
	}
	for _, evt := range emitted {
		observability.CountEvent(evt.Type)
		n.emitter.Emit(nodeEvent{evt: evt})
	}
	return nil
}

// Purchase executes a purchase as one atomic unit.
func (n *Node) Purchase(buyer [20]byte, asset string, payAmount *big.Int, positionID uint64) (*sale.Receipt, error) {
	var receipt *sale.Receipt
	err := n.execute(func() error {
		var err error
		receipt, err = n.sale.Purchase(buyer, asset, payAmount, positionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Settle executes a settlement burn as one atomic unit.
func (n *Node) Settle(caller [20]byte, positionID uint64, burnPercent uint64) (*settle.Receipt, error) {
	var receipt *settle.Receipt
	err := n.execute(func() error {
		var err error
		receipt, err = n.settlement.Settle(caller, positionID, burnPercent)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ActivatePosition opens a position with its value cap.
func (n *Node) ActivatePosition(id uint64, owner [20]byte, capUSD, purchased *big.Int) (*position.Position, error) {
	var pos *position.Position
	err := n.execute(func() error {
		var err error
		pos, err = n.positions.Activate(id, owner, capUSD, purchased)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// RecordAllocation accrues a reward or airdrop allocation to a position.
// Purchase allocations are recorded only by the sale engine, where the mint
// backs them; accepting the purchase kind here would grow totalAllocation
// past the holder's balance.
func (n *Node) RecordAllocation(id uint64, amount *big.Int, kind position.AllocationKind) (*position.Position, error) {
	if kind != position.KindReward && kind != position.KindAirdrop {
		return nil, position.ErrInvalidKind
	}
	var pos *position.Position
	err := n.execute(func() error {
		var err error
		pos, err = n.positions.RecordAllocation(id, amount, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// FundAsset credits a registered asset ledger, e.g. to stage purchase funds
// or the settlement reserve.
func (n *Node) FundAsset(symbol string, addr [20]byte, amount *big.Int) error {
	return n.execute(func() error {
		ledger, ok := n.assets[symbol]
		if !ok {
			return sale.ErrAssetUnknown
		}
		return ledger.Credit(addr, amount)
	})
}

// CurrentPrice returns the active phase's stepped price.
func (n *Node) CurrentPrice() (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ladder.CurrentPrice()
}

// NextBasePrice returns the next phase's base price.
func (n *Node) NextBasePrice() (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ladder.NextBasePrice()
}

// ActivePhase returns the index of the active phase.
func (n *Node) ActivePhase() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ladder.ActiveIndex()
}

// PhaseInfo returns a copy of the phase at index.
func (n *Node) PhaseInfo(index uint64) (*phase.Phase, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ladder.PhaseInfo(index)
}

// PositionInfo returns a copy of the position record.
func (n *Node) PositionInfo(id uint64) (*position.Position, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.positions.Info(id)
}

// SaleCycle returns the monotonic cycle counter.
func (n *Node) SaleCycle() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.SaleCycle()
}

// TokenBalance returns the sale-token balance for addr.
func (n *Node) TokenBalance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.BalanceToken, nil
}
