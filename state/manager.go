package state

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/rlp"

	"tiersale/core/types"
	"tiersale/native/phase"
	"tiersale/native/position"
	"tiersale/storage"
)

var (
	phaseCountKey  = []byte("phase/count")
	phaseActiveKey = []byte("phase/active")
	saleCycleKey   = []byte("sale/cycle")
	tokenSupplyKey = []byte("supply/token")
)

// Manager provides typed access to the sale ledger's state on top of a
// key-value database. Writes land in an uncommitted overlay; an operation
// either commits the overlay together with its buffered events or discards
// both, giving every entry point all-or-nothing semantics.
type Manager struct {
	db      storage.Database
	overlay map[string][]byte
	events  []*types.Event
}

// NewManager constructs a manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		overlay: make(map[string][]byte),
	}
}

// KVGet decodes the value stored under key into out, reading through the
// overlay first. The boolean reports whether the key exists.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if raw, ok := m.overlay[string(key)]; ok {
		if err := rlp.DecodeBytes(raw, out); err != nil {
			return false, err
		}
		return true, nil
	}
	raw, err := m.db.Get(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut encodes the value into the overlay.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.overlay[string(key)] = encoded
	return nil
}

// AppendEvent buffers an event for emission on commit.
func (m *Manager) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	m.events = append(m.events, evt)
}

// Commit flushes the overlay to the database as one batch and returns the
// buffered events. A failed batch write applies none of the overlay's keys,
// and the overlay is left intact so the caller can roll back.
func (m *Manager) Commit() ([]*types.Event, error) {
	if err := m.db.Write(m.overlay); err != nil {
		return nil, err
	}
	events := m.events
	m.overlay = make(map[string][]byte)
	m.events = nil
	return events, nil
}

// Rollback discards all uncommitted writes and buffered events.
func (m *Manager) Rollback() {
	m.overlay = make(map[string][]byte)
	m.events = nil
}

// --- Accounts and token supply ---

type storedAccount struct {
	Nonce        uint64
	BalanceToken string
}

func accountKey(addr []byte) []byte {
	return []byte("account/" + hex.EncodeToString(addr))
}

// GetAccount loads the account for addr, returning a zero account when the
// address has never been seen.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.EnsureAccount(nil), nil
	}
	balance, err := parseAmount(stored.BalanceToken)
	if err != nil {
		return nil, fmt.Errorf("state: account %x: %w", addr, err)
	}
	return &types.Account{Nonce: stored.Nonce, BalanceToken: balance}, nil
}

// PutAccount persists the account for addr.
func (m *Manager) PutAccount(addr []byte, acc *types.Account) error {
	acc = types.EnsureAccount(acc)
	return m.KVPut(accountKey(addr), storedAccount{
		Nonce:        acc.Nonce,
		BalanceToken: acc.BalanceToken.String(),
	})
}

// TokenSupply returns the total minted sale-token supply.
func (m *Manager) TokenSupply() (*big.Int, error) {
	var stored string
	ok, err := m.KVGet(tokenSupplyKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return parseAmount(stored)
}

func (m *Manager) setTokenSupply(supply *big.Int) error {
	return m.KVPut(tokenSupplyKey, supply.String())
}

// MintToken credits freshly issued sale tokens to an address.
func (m *Manager) MintToken(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	account, err := m.GetAccount(to[:])
	if err != nil {
		return err
	}
	account.BalanceToken = new(big.Int).Add(account.BalanceToken, amount)
	if err := m.PutAccount(to[:], account); err != nil {
		return err
	}
	supply, err := m.TokenSupply()
	if err != nil {
		return err
	}
	return m.setTokenSupply(supply.Add(supply, amount))
}

// BurnToken destroys sale tokens from an address.
func (m *Manager) BurnToken(from [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: burn amount must be positive")
	}
	account, err := m.GetAccount(from[:])
	if err != nil {
		return err
	}
	if account.BalanceToken.Cmp(amount) < 0 {
		return fmt.Errorf("state: burn exceeds balance")
	}
	account.BalanceToken = new(big.Int).Sub(account.BalanceToken, amount)
	if err := m.PutAccount(from[:], account); err != nil {
		return err
	}
	supply, err := m.TokenSupply()
	if err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		return fmt.Errorf("state: burn exceeds supply")
	}
	return m.setTokenSupply(supply.Sub(supply, amount))
}

// --- Phase ladder state ---

type storedPhase struct {
	Index        uint64
	BasePrice    string
	CurrentPrice string
	SoldVolume   string
	Completed    bool
}

func phaseKey(index uint64) []byte {
	return []byte("phase/" + strconv.FormatUint(index, 10))
}

// PhaseCount returns the number of phases in the ladder.
func (m *Manager) PhaseCount() (uint64, error) {
	var count uint64
	ok, err := m.KVGet(phaseCountKey, &count)
	if err != nil || !ok {
		return 0, err
	}
	return count, nil
}

// PhaseGet loads the phase at index.
func (m *Manager) PhaseGet(index uint64) (*phase.Phase, bool, error) {
	var stored storedPhase
	ok, err := m.KVGet(phaseKey(index), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	base, err := parseAmount(stored.BasePrice)
	if err != nil {
		return nil, false, fmt.Errorf("state: phase %d: %w", index, err)
	}
	current, err := parseAmount(stored.CurrentPrice)
	if err != nil {
		return nil, false, fmt.Errorf("state: phase %d: %w", index, err)
	}
	sold, err := parseAmount(stored.SoldVolume)
	if err != nil {
		return nil, false, fmt.Errorf("state: phase %d: %w", index, err)
	}
	return &phase.Phase{
		Index:        stored.Index,
		BasePrice:    base,
		CurrentPrice: current,
		SoldVolume:   sold,
		Completed:    stored.Completed,
	}, true, nil
}

// PhasePut persists the phase at index.
func (m *Manager) PhasePut(index uint64, p *phase.Phase) error {
	if p == nil {
		return fmt.Errorf("state: nil phase")
	}
	stored := storedPhase{Index: p.Index, Completed: p.Completed}
	stored.BasePrice = amountString(p.BasePrice)
	stored.CurrentPrice = amountString(p.CurrentPrice)
	stored.SoldVolume = amountString(p.SoldVolume)
	return m.KVPut(phaseKey(index), stored)
}

// ActivePhaseIndex returns the index of the active phase.
func (m *Manager) ActivePhaseIndex() (uint64, error) {
	var index uint64
	ok, err := m.KVGet(phaseActiveKey, &index)
	if err != nil || !ok {
		return 0, err
	}
	return index, nil
}

// SetActivePhaseIndex moves the active phase pointer. The pointer only ever
// advances.
func (m *Manager) SetActivePhaseIndex(index uint64) error {
	current, err := m.ActivePhaseIndex()
	if err != nil {
		return err
	}
	if index < current {
		return fmt.Errorf("state: active phase index cannot decrease")
	}
	return m.KVPut(phaseActiveKey, index)
}

// SeedPhases initialises the ladder from base prices on first boot. It is a
// no-op when the ladder already exists.
func (m *Manager) SeedPhases(basePrices []*big.Int) error {
	count, err := m.PhaseCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for i, base := range basePrices {
		if base == nil || base.Sign() <= 0 {
			return fmt.Errorf("state: phase %d base price must be positive", i)
		}
		p := &phase.Phase{
			Index:        uint64(i),
			BasePrice:    new(big.Int).Set(base),
			CurrentPrice: new(big.Int).Set(base),
			SoldVolume:   big.NewInt(0),
		}
		if err := m.PhasePut(uint64(i), p); err != nil {
			return err
		}
	}
	if err := m.KVPut(phaseCountKey, uint64(len(basePrices))); err != nil {
		return err
	}
	return m.KVPut(phaseActiveKey, uint64(0))
}

// --- Position state ---

type storedPosition struct {
	ID          uint64
	Owner       [20]byte
	Activated   bool
	ActivatedAt uint64
	CapUSD      string
	Purchased   string
	Rewarded    string
	Airdropped  string
	Releasing   bool
	Invalidated bool
}

func positionKey(id uint64) []byte {
	return []byte("position/" + strconv.FormatUint(id, 10))
}

// PositionGet loads the position record for id.
func (m *Manager) PositionGet(id uint64) (*position.Position, bool, error) {
	var stored storedPosition
	ok, err := m.KVGet(positionKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	pos := &position.Position{
		ID:          stored.ID,
		Owner:       stored.Owner,
		Activated:   stored.Activated,
		ActivatedAt: int64(stored.ActivatedAt),
		Releasing:   stored.Releasing,
		Invalidated: stored.Invalidated,
	}
	for _, field := range []struct {
		raw  string
		dest **big.Int
	}{
		{stored.CapUSD, &pos.CapUSD},
		{stored.Purchased, &pos.Purchased},
		{stored.Rewarded, &pos.Rewarded},
		{stored.Airdropped, &pos.Airdropped},
	} {
		value, err := parseAmount(field.raw)
		if err != nil {
			return nil, false, fmt.Errorf("state: position %d: %w", id, err)
		}
		*field.dest = value
	}
	return pos, true, nil
}

// PositionPut persists the position record for id.
func (m *Manager) PositionPut(id uint64, pos *position.Position) error {
	if pos == nil {
		return fmt.Errorf("state: nil position")
	}
	stored := storedPosition{
		ID:          pos.ID,
		Owner:       pos.Owner,
		Activated:   pos.Activated,
		Releasing:   pos.Releasing,
		Invalidated: pos.Invalidated,
		CapUSD:      amountString(pos.CapUSD),
		Purchased:   amountString(pos.Purchased),
		Rewarded:    amountString(pos.Rewarded),
		Airdropped:  amountString(pos.Airdropped),
	}
	if pos.ActivatedAt > 0 {
		stored.ActivatedAt = uint64(pos.ActivatedAt)
	}
	return m.KVPut(positionKey(id), stored)
}

// --- Settlement burn bitmap ---

func burnedKey(id uint64) []byte {
	return []byte("settle/burned/" + strconv.FormatUint(id, 10))
}

// SettlementBurned reports whether the position has already settled.
func (m *Manager) SettlementBurned(id uint64) (bool, error) {
	var burned bool
	ok, err := m.KVGet(burnedKey(id), &burned)
	if err != nil || !ok {
		return false, err
	}
	return burned, nil
}

// MarkSettlementBurned sets the write-once burn record for the position.
func (m *Manager) MarkSettlementBurned(id uint64) error {
	burned, err := m.SettlementBurned(id)
	if err != nil {
		return err
	}
	if burned {
		return fmt.Errorf("state: settlement record already set for position %d", id)
	}
	return m.KVPut(burnedKey(id), true)
}

// --- Sale cycle counter ---

// SaleCycle returns the monotonic cycle counter.
func (m *Manager) SaleCycle() (uint64, error) {
	var cycle uint64
	ok, err := m.KVGet(saleCycleKey, &cycle)
	if err != nil || !ok {
		return 0, err
	}
	return cycle, nil
}

// SetSaleCycle stores the cycle counter. The counter only ever increases.
func (m *Manager) SetSaleCycle(cycle uint64) error {
	current, err := m.SaleCycle()
	if err != nil {
		return err
	}
	if cycle < current {
		return fmt.Errorf("state: sale cycle cannot decrease")
	}
	return m.KVPut(saleCycleKey, cycle)
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
