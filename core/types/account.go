package types

import "math/big"

// Account tracks the sale-token balance held by an address. Stable-asset
// balances are kept per asset symbol by the state manager's asset ledgers.
type Account struct {
	Nonce        uint64   `json:"nonce"`
	BalanceToken *big.Int `json:"balanceToken"`
}

// EnsureAccount normalises a possibly-nil account loaded from state.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{BalanceToken: big.NewInt(0)}
	}
	if acc.BalanceToken == nil {
		acc.BalanceToken = big.NewInt(0)
	}
	return acc
}
