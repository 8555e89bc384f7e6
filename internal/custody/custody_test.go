package custody

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	tokenX = common.HexToHash("0x01")
	alice  = common.HexToHash("0xA1")
	bob    = common.HexToHash("0xB1")
)

func TestLedger_Transfer(t *testing.T) {
	l := NewLedger()
	l.Mint(tokenX, alice, big.NewInt(100))

	if err := l.Transfer(context.Background(), tokenX, alice, bob, big.NewInt(60)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := l.Balance(tokenX, alice); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("alice balance = %s, want 40", got)
	}
	if got := l.Balance(tokenX, bob); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("bob balance = %s, want 60", got)
	}
}

func TestLedger_InsufficientBalance(t *testing.T) {
	l := NewLedger()
	l.Mint(tokenX, alice, big.NewInt(10))

	err := l.Transfer(context.Background(), tokenX, alice, bob, big.NewInt(11))
	if err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := l.Balance(tokenX, alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatal("failed transfer must not move funds")
	}
}

func TestLedger_UnknownAccount(t *testing.T) {
	l := NewLedger()
	if err := l.Transfer(context.Background(), tokenX, alice, bob, big.NewInt(1)); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestLedger_ZeroAndBadAmounts(t *testing.T) {
	l := NewLedger()
	if err := l.Transfer(context.Background(), tokenX, alice, bob, big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer should be a no-op, got %v", err)
	}
	if err := l.Transfer(context.Background(), tokenX, alice, bob, nil); err != ErrBadAmount {
		t.Fatalf("expected ErrBadAmount for nil, got %v", err)
	}
	if err := l.Transfer(context.Background(), tokenX, alice, bob, big.NewInt(-1)); err != ErrBadAmount {
		t.Fatalf("expected ErrBadAmount for negative, got %v", err)
	}
}

func TestLedger_TokensAreIsolated(t *testing.T) {
	tokenY := common.HexToHash("0x02")
	l := NewLedger()
	l.Mint(tokenX, alice, big.NewInt(5))

	if err := l.Transfer(context.Background(), tokenY, alice, bob, big.NewInt(1)); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance across tokens, got %v", err)
	}
}
