package sale

import (
	"errors"
	"math/big"
	"testing"

	"tiersale/core/events"
	"tiersale/core/types"
	"tiersale/native/phase"
	"tiersale/native/position"
)

type mockEngineState struct {
	minted map[[20]byte]*big.Int
	cycle  uint64
	events []*types.Event
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{minted: make(map[[20]byte]*big.Int)}
}

func (s *mockEngineState) MintToken(to [20]byte, amount *big.Int) error {
	balance, ok := s.minted[to]
	if !ok {
		balance = big.NewInt(0)
	}
	s.minted[to] = new(big.Int).Add(balance, amount)
	return nil
}

func (s *mockEngineState) SaleCycle() (uint64, error) { return s.cycle, nil }

func (s *mockEngineState) SetSaleCycle(cycle uint64) error {
	s.cycle = cycle
	return nil
}

func (s *mockEngineState) AppendEvent(evt *types.Event) { s.events = append(s.events, evt) }

type mockLadder struct {
	price     *big.Int
	completed bool
	advances  bool
	index     uint64
	reported  []*big.Int
}

func (l *mockLadder) CurrentPrice() (*big.Int, error) { return new(big.Int).Set(l.price), nil }

func (l *mockLadder) ReportSold(amount *big.Int) (*big.Int, bool, error) {
	l.reported = append(l.reported, new(big.Int).Set(amount))
	return new(big.Int).Set(l.price), l.completed, nil
}

func (l *mockLadder) Advance() (bool, error) {
	if !l.completed || !l.advances {
		return false, nil
	}
	l.index++
	return true, nil
}

func (l *mockLadder) ActiveIndex() (uint64, error) { return l.index, nil }

type mockPositions struct {
	positions map[uint64]*position.Position
	accrued   []*big.Int
}

func newMockPositions() *mockPositions {
	return &mockPositions{positions: make(map[uint64]*position.Position)}
}

func (p *mockPositions) add(id uint64, releasing bool) {
	p.positions[id] = &position.Position{
		ID:        id,
		Activated: true,
		Releasing: releasing,
		CapUSD:    big.NewInt(1),
	}
}

func (p *mockPositions) Info(id uint64) (*position.Position, bool, error) {
	pos, ok := p.positions[id]
	if !ok {
		return nil, false, nil
	}
	return pos.Clone(), true, nil
}

func (p *mockPositions) RecordAllocation(id uint64, amount *big.Int, kind position.AllocationKind) (*position.Position, error) {
	if kind != position.KindPurchase {
		return nil, position.ErrInvalidKind
	}
	p.accrued = append(p.accrued, new(big.Int).Set(amount))
	return p.positions[id].Clone(), nil
}

type mockTransfer struct {
	pullErr error
	pulls   []*big.Int
	pushes  []*big.Int
}

func (t *mockTransfer) Pull(from [20]byte, amount *big.Int) error {
	if t.pullErr != nil {
		return t.pullErr
	}
	t.pulls = append(t.pulls, new(big.Int).Set(amount))
	return nil
}

func (t *mockTransfer) Push(to [20]byte, amount *big.Int) error {
	t.pushes = append(t.pushes, new(big.Int).Set(amount))
	return nil
}

func usdCents(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(10_000_000_000_000_000))
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), phase.PriceScale)
}

func testEngine(price *big.Int) (*Engine, *mockEngineState, *mockLadder, *mockPositions, *mockTransfer) {
	state := newMockEngineState()
	ladder := &mockLadder{price: price}
	positions := newMockPositions()
	positions.add(1, false)
	transfer := &mockTransfer{}
	engine := NewEngine(state, ladder, positions)
	engine.RegisterAsset("usdc", transfer)
	engine.SetDistributor([20]byte{0xdd})
	return engine, state, ladder, positions, transfer
}

func TestPurchaseMintsAtCurrentPrice(t *testing.T) {
	engine, state, ladder, positions, transfer := testEngine(usdCents(50))
	buyer := [20]byte{0x01}

	receipt, err := engine.Purchase(buyer, "USDC", tokens(100), 1)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	// 100 USD at 0.50 mints exactly 200 tokens.
	if want := tokens(200); receipt.Minted.Cmp(want) != 0 {
		t.Fatalf("minted = %s, want %s", receipt.Minted, want)
	}
	if receipt.Advanced {
		t.Fatalf("receipt should not report a cycle advance")
	}
	if state.minted[buyer].Cmp(tokens(200)) != 0 {
		t.Fatalf("buyer balance = %s", state.minted[buyer])
	}
	if len(transfer.pulls) != 1 || transfer.pulls[0].Cmp(tokens(100)) != 0 {
		t.Fatalf("payment not pulled")
	}
	if len(transfer.pushes) != 1 || transfer.pushes[0].Cmp(tokens(100)) != 0 {
		t.Fatalf("payment not forwarded to distributor")
	}
	if len(ladder.reported) != 1 || ladder.reported[0].Cmp(tokens(200)) != 0 {
		t.Fatalf("sold volume not reported")
	}
	if len(positions.accrued) != 1 || positions.accrued[0].Cmp(tokens(200)) != 0 {
		t.Fatalf("allocation not recorded")
	}
	last := state.events[len(state.events)-1]
	if last.Type != events.TypeSalePurchased {
		t.Fatalf("last event = %s, want %s", last.Type, events.TypeSalePurchased)
	}
}

func TestPurchaseTruncatesTowardLedger(t *testing.T) {
	engine, _, _, _, _ := testEngine(usdCents(30))
	receipt, err := engine.Purchase([20]byte{0x01}, "USDC", tokens(100), 1)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	want, _ := new(big.Int).SetString("333333333333333333333", 10)
	if receipt.Minted.Cmp(want) != 0 {
		t.Fatalf("minted = %s, want %s", receipt.Minted, want)
	}
}

func TestPurchaseRejectsUnknownAsset(t *testing.T) {
	engine, _, _, _, _ := testEngine(usdCents(50))
	if _, err := engine.Purchase([20]byte{0x01}, "DAI", tokens(100), 1); !errors.Is(err, ErrAssetUnknown) {
		t.Fatalf("err = %v, want %v", err, ErrAssetUnknown)
	}
}

func TestPurchaseRejectsDustPayment(t *testing.T) {
	// At 2.00 USD per token a single wei of payment mints nothing.
	engine, _, _, _, _ := testEngine(usdCents(200))
	if _, err := engine.Purchase([20]byte{0x01}, "USDC", big.NewInt(1), 1); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("err = %v, want %v", err, ErrAmountTooSmall)
	}
}

func TestPurchaseRejectsInvalidAmount(t *testing.T) {
	engine, _, _, _, _ := testEngine(usdCents(50))
	if _, err := engine.Purchase([20]byte{0x01}, "USDC", big.NewInt(0), 1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidAmount)
	}
	if _, err := engine.Purchase([20]byte{0x01}, "USDC", nil, 1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidAmount)
	}
}

func TestPurchaseRejectsReleasingPosition(t *testing.T) {
	engine, _, _, positions, _ := testEngine(usdCents(50))
	positions.add(2, true)
	if _, err := engine.Purchase([20]byte{0x01}, "USDC", tokens(100), 2); !errors.Is(err, ErrPositionReleasing) {
		t.Fatalf("err = %v, want %v", err, ErrPositionReleasing)
	}
}

func TestPurchaseRejectsUnknownPosition(t *testing.T) {
	engine, _, _, _, _ := testEngine(usdCents(50))
	if _, err := engine.Purchase([20]byte{0x01}, "USDC", tokens(100), 99); !errors.Is(err, position.ErrNotActivated) {
		t.Fatalf("err = %v, want %v", err, position.ErrNotActivated)
	}
}

func TestPurchasePaymentFailureMintsNothing(t *testing.T) {
	engine, state, ladder, _, transfer := testEngine(usdCents(50))
	transfer.pullErr = errors.New("card declined")

	buyer := [20]byte{0x01}
	_, err := engine.Purchase(buyer, "USDC", tokens(100), 1)
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("err = %v, want %v", err, ErrPaymentFailed)
	}
	if _, ok := state.minted[buyer]; ok {
		t.Fatalf("mint must not happen after a failed pull")
	}
	if len(ladder.reported) != 0 {
		t.Fatalf("volume must not be reported after a failed pull")
	}
}

func TestPurchaseAdvancesCycleOnCompletion(t *testing.T) {
	engine, state, ladder, _, _ := testEngine(usdCents(50))
	ladder.completed = true
	ladder.advances = true

	receipt, err := engine.Purchase([20]byte{0x01}, "USDC", tokens(100), 1)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if !receipt.Advanced || receipt.Cycle != 1 {
		t.Fatalf("receipt advanced=%t cycle=%d, want true/1", receipt.Advanced, receipt.Cycle)
	}
	if state.cycle != 1 {
		t.Fatalf("cycle counter = %d, want 1", state.cycle)
	}
	sawCycle := false
	for _, evt := range state.events {
		if evt.Type == events.TypeSaleCycleAdvanced {
			sawCycle = true
		}
	}
	if !sawCycle {
		t.Fatalf("missing %s event", events.TypeSaleCycleAdvanced)
	}
}

func TestPurchaseCompletedLastPhaseKeepsCycle(t *testing.T) {
	// Completing the final phase has nowhere to advance to; the sale keeps
	// selling at the capped price and the cycle counter holds.
	engine, state, ladder, _, _ := testEngine(usdCents(50))
	ladder.completed = true
	ladder.advances = false

	receipt, err := engine.Purchase([20]byte{0x01}, "USDC", tokens(100), 1)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.Advanced || state.cycle != 0 {
		t.Fatalf("cycle must hold when the ladder cannot advance")
	}
}
