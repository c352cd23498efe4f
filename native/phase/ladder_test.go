package phase

import (
	"errors"
	"math/big"
	"testing"

	"tiersale/core/events"
	"tiersale/core/types"
)

type mockLadderState struct {
	phases map[uint64]*Phase
	active uint64
	events []*types.Event
}

func newMockLadderState(basePrices ...*big.Int) *mockLadderState {
	s := &mockLadderState{phases: make(map[uint64]*Phase)}
	for i, base := range basePrices {
		s.phases[uint64(i)] = &Phase{
			Index:        uint64(i),
			BasePrice:    new(big.Int).Set(base),
			CurrentPrice: new(big.Int).Set(base),
			SoldVolume:   big.NewInt(0),
		}
	}
	return s
}

func (s *mockLadderState) PhaseCount() (uint64, error) { return uint64(len(s.phases)), nil }

func (s *mockLadderState) PhaseGet(index uint64) (*Phase, bool, error) {
	p, ok := s.phases[index]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (s *mockLadderState) PhasePut(index uint64, p *Phase) error {
	s.phases[index] = p.Clone()
	return nil
}

func (s *mockLadderState) ActivePhaseIndex() (uint64, error) { return s.active, nil }

func (s *mockLadderState) SetActivePhaseIndex(index uint64) error {
	s.active = index
	return nil
}

func (s *mockLadderState) AppendEvent(evt *types.Event) { s.events = append(s.events, evt) }

func (s *mockLadderState) eventTypes() []string {
	out := make([]string, 0, len(s.events))
	for _, evt := range s.events {
		out = append(out, evt.Type)
	}
	return out
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), PriceScale)
}

func usdCents(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(10_000_000_000_000_000))
}

func TestReportSoldStepsPrice(t *testing.T) {
	state := newMockLadderState(usdCents(30))
	ladder := NewLadder(state, Params{})

	price, completed, err := ladder.ReportSold(tokens(250_000))
	if err != nil {
		t.Fatalf("report sold: %v", err)
	}
	if completed {
		t.Fatalf("phase should not be complete at two steps")
	}
	if want := usdCents(32); price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}

	got := state.eventTypes()
	if len(got) != 1 || got[0] != events.TypePhasePriceStepped {
		t.Fatalf("events = %v, want one %s", got, events.TypePhasePriceStepped)
	}
}

func TestReportSoldSubStepVolumeKeepsPrice(t *testing.T) {
	state := newMockLadderState(usdCents(30))
	ladder := NewLadder(state, Params{})

	price, _, err := ladder.ReportSold(tokens(99_999))
	if err != nil {
		t.Fatalf("report sold: %v", err)
	}
	if want := usdCents(30); price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}
	if len(state.events) != 0 {
		t.Fatalf("unexpected events %v for sub-step volume", state.eventTypes())
	}
}

func TestReportSoldCompletesAtMaxSteps(t *testing.T) {
	state := newMockLadderState(usdCents(30))
	ladder := NewLadder(state, Params{})

	price, completed, err := ladder.ReportSold(tokens(2_000_000))
	if err != nil {
		t.Fatalf("report sold: %v", err)
	}
	if !completed {
		t.Fatalf("phase should complete at max steps")
	}
	if want := usdCents(50); price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}

	// Overshooting a completed phase clamps at the cap and is not an error.
	price, completed, err = ladder.ReportSold(tokens(500_000))
	if err != nil {
		t.Fatalf("report sold past completion: %v", err)
	}
	if !completed {
		t.Fatalf("completion latch must hold")
	}
	if want := usdCents(50); price.Cmp(want) != 0 {
		t.Fatalf("price after overshoot = %s, want %s", price, want)
	}

	sawCompleted := 0
	for _, evt := range state.events {
		if evt.Type == events.TypePhaseCompleted {
			sawCompleted++
		}
	}
	if sawCompleted != 1 {
		t.Fatalf("phase completed events = %d, want 1", sawCompleted)
	}
}

func TestReportSoldRejectsInvalidVolume(t *testing.T) {
	ladder := NewLadder(newMockLadderState(usdCents(30)), Params{})
	if _, _, err := ladder.ReportSold(big.NewInt(0)); !errors.Is(err, ErrInvalidVolume) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidVolume)
	}
	if _, _, err := ladder.ReportSold(nil); !errors.Is(err, ErrInvalidVolume) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidVolume)
	}
}

func TestAdvanceRequiresCompletion(t *testing.T) {
	state := newMockLadderState(usdCents(30), usdCents(32))
	ladder := NewLadder(state, Params{})

	advanced, err := ladder.Advance()
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if advanced {
		t.Fatalf("advance must refuse an incomplete phase")
	}
	if state.active != 0 {
		t.Fatalf("active index moved to %d", state.active)
	}
}

func TestAdvanceReseedsNextBase(t *testing.T) {
	state := newMockLadderState(usdCents(30), usdCents(32))
	ladder := NewLadder(state, Params{})

	if _, _, err := ladder.ReportSold(tokens(2_000_000)); err != nil {
		t.Fatalf("report sold: %v", err)
	}
	// Final stepped price of phase 0 is 0.50; phase 1 starts back at 0.32.
	advanced, err := ladder.Advance()
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !advanced {
		t.Fatalf("advance should move off a completed phase")
	}
	price, err := ladder.CurrentPrice()
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if want := usdCents(32); price.Cmp(want) != 0 {
		t.Fatalf("price after advance = %s, want %s", price, want)
	}
	index, err := ladder.ActiveIndex()
	if err != nil || index != 1 {
		t.Fatalf("active index = %d (%v), want 1", index, err)
	}
}

func TestAdvanceStopsAtLadderEnd(t *testing.T) {
	state := newMockLadderState(usdCents(30))
	ladder := NewLadder(state, Params{})

	if _, _, err := ladder.ReportSold(tokens(2_000_000)); err != nil {
		t.Fatalf("report sold: %v", err)
	}
	advanced, err := ladder.Advance()
	if err != nil {
		t.Fatalf("advance at ladder end: %v", err)
	}
	if advanced {
		t.Fatalf("advance must stay on the final phase")
	}
	if _, err := ladder.NextBasePrice(); !errors.Is(err, ErrNoNextPhase) {
		t.Fatalf("next base price err = %v, want %v", err, ErrNoNextPhase)
	}
}

func TestNoActivePhase(t *testing.T) {
	state := newMockLadderState()
	ladder := NewLadder(state, Params{})
	if _, err := ladder.CurrentPrice(); !errors.Is(err, ErrNoActivePhase) {
		t.Fatalf("err = %v, want %v", err, ErrNoActivePhase)
	}
}

type recordingObserver struct {
	prices []*big.Int
	err    error
}

func (o *recordingObserver) OnPriceChanged(price *big.Int) error {
	o.prices = append(o.prices, price)
	return o.err
}

func TestObserversNotifiedOnStep(t *testing.T) {
	state := newMockLadderState(usdCents(30))
	ladder := NewLadder(state, Params{})
	obs := &recordingObserver{}
	ladder.Subscribe(obs)

	if _, _, err := ladder.ReportSold(tokens(100_000)); err != nil {
		t.Fatalf("report sold: %v", err)
	}
	if len(obs.prices) != 1 {
		t.Fatalf("observer notified %d times, want 1", len(obs.prices))
	}
	if want := usdCents(31); obs.prices[0].Cmp(want) != 0 {
		t.Fatalf("observed price = %s, want %s", obs.prices[0], want)
	}
}

type readbackObserver struct {
	ladder *Ladder
	seen   []*big.Int
}

func (o *readbackObserver) OnPriceChanged(*big.Int) error {
	price, err := o.ladder.CurrentPrice()
	if err != nil {
		return err
	}
	o.seen = append(o.seen, price)
	return nil
}

func TestObserverReadsBackSteppedPrice(t *testing.T) {
	// The stepped phase is persisted before dispatch, so an observer going
	// back through the ladder sees the new price, not the pre-step one.
	state := newMockLadderState(usdCents(30))
	ladder := NewLadder(state, Params{})
	obs := &readbackObserver{ladder: ladder}
	ladder.Subscribe(obs)

	if _, _, err := ladder.ReportSold(tokens(100_000)); err != nil {
		t.Fatalf("report sold: %v", err)
	}
	if len(obs.seen) != 1 {
		t.Fatalf("observer notified %d times, want 1", len(obs.seen))
	}
	if want := usdCents(31); obs.seen[0].Cmp(want) != 0 {
		t.Fatalf("read-back price = %s, want %s", obs.seen[0], want)
	}
}

func TestObserverErrorAbortsReport(t *testing.T) {
	state := newMockLadderState(usdCents(30))
	ladder := NewLadder(state, Params{})
	boom := errors.New("airdrop rejected price")
	ladder.Subscribe(&recordingObserver{err: boom})

	if _, _, err := ladder.ReportSold(tokens(100_000)); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestNextBasePriceQuotesFollowingPhase(t *testing.T) {
	state := newMockLadderState(usdCents(30), usdCents(32))
	ladder := NewLadder(state, Params{})

	next, err := ladder.NextBasePrice()
	if err != nil {
		t.Fatalf("next base price: %v", err)
	}
	if want := usdCents(32); next.Cmp(want) != 0 {
		t.Fatalf("next base price = %s, want %s", next, want)
	}
}
