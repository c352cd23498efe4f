package state

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// AssetLedger is a state-backed fungible asset keyed by symbol. It satisfies
// the purchase router's AssetTransfer contract and the settlement engine's
// StablePayout contract: Pull moves funds from a payer into the module vault,
// Push moves vault funds out.
type AssetLedger struct {
	mgr    *Manager
	symbol string
	vault  [20]byte
}

// NewAssetLedger binds an asset ledger for symbol with the given vault
// address holding module custody.
func NewAssetLedger(mgr *Manager, symbol string, vault [20]byte) *AssetLedger {
	return &AssetLedger{
		mgr:    mgr,
		symbol: strings.ToUpper(strings.TrimSpace(symbol)),
		vault:  vault,
	}
}

// Symbol returns the asset symbol the ledger is bound to.
func (l *AssetLedger) Symbol() string { return l.symbol }

func (l *AssetLedger) balanceKey(addr [20]byte) []byte {
	return []byte("asset/" + l.symbol + "/" + hex.EncodeToString(addr[:]))
}

// Balance returns the asset balance held by addr.
func (l *AssetLedger) Balance(addr [20]byte) (*big.Int, error) {
	var stored string
	ok, err := l.mgr.KVGet(l.balanceKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return parseAmount(stored)
}

func (l *AssetLedger) setBalance(addr [20]byte, amount *big.Int) error {
	return l.mgr.KVPut(l.balanceKey(addr), amount.String())
}

// Credit adds funds to addr. Used for genesis funding and external deposits.
func (l *AssetLedger) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("asset %s: credit amount must be positive", l.symbol)
	}
	balance, err := l.Balance(addr)
	if err != nil {
		return err
	}
	return l.setBalance(addr, balance.Add(balance, amount))
}

func (l *AssetLedger) move(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("asset %s: transfer amount must be positive", l.symbol)
	}
	fromBalance, err := l.Balance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("asset %s: insufficient balance", l.symbol)
	}
	if from == to {
		return nil
	}
	toBalance, err := l.Balance(to)
	if err != nil {
		return err
	}
	if err := l.setBalance(from, fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.setBalance(to, toBalance.Add(toBalance, amount))
}

// Pull moves funds from the payer into module custody.
func (l *AssetLedger) Pull(from [20]byte, amount *big.Int) error {
	return l.move(from, l.vault, amount)
}

// Push moves module custody funds to the recipient.
func (l *AssetLedger) Push(to [20]byte, amount *big.Int) error {
	return l.move(l.vault, to, amount)
}
