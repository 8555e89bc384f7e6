// Package custody abstracts token movement so the protocol packages never
// touch transfer mechanics directly. The settlement engine and the output
// filler both speak to a Custody; deployments choose between the in-process
// ledger and the on-chain escrow client.
package custody

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when the source account cannot
	// cover the transfer.
	ErrInsufficientBalance = errors.New("custody: insufficient balance")

	// ErrBadAmount is returned for nil or negative amounts.
	ErrBadAmount = errors.New("custody: bad amount")
)

// Custody moves amount of token between chain-agnostic 32-byte accounts.
type Custody interface {
	Transfer(ctx context.Context, token, from, to common.Hash, amount *big.Int) error
}

// Ledger is the in-process Custody: a balance table per token. It backs tests
// and single-node deployments where escrow lives inside the settler.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Hash]map[common.Hash]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[common.Hash]map[common.Hash]*big.Int)}
}

// Mint credits an account out of thin air. Funding primitive for tests and
// local deployments.
func (l *Ledger) Mint(token, account common.Hash, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, account, amount)
}

// Balance returns a copy of the account's balance for token.
func (l *Ledger) Balance(token, account common.Hash) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[token][account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) Transfer(_ context.Context, token, from, to common.Hash, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrBadAmount
	}
	if amount.Sign() == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.balances[token][from]
	if !ok || src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.Sub(src, amount)
	l.credit(token, to, amount)
	return nil
}

func (l *Ledger) credit(token, account common.Hash, amount *big.Int) {
	accounts, ok := l.balances[token]
	if !ok {
		accounts = make(map[common.Hash]*big.Int)
		l.balances[token] = accounts
	}
	if b, ok := accounts[account]; ok {
		b.Add(b, amount)
	} else {
		accounts[account] = new(big.Int).Set(amount)
	}
}
