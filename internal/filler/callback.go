package filler

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	// ErrNotEnoughGasExecution means the fill supplied less execution budget
	// than the configured stipend, so the callback never had a fair chance.
	ErrNotEnoughGasExecution = errors.New("filler: not enough gas for callback execution")

	// ErrBudgetExhausted is returned by Meter.Consume-driven handlers when
	// the budget runs out mid-execution.
	ErrBudgetExhausted = errors.New("filler: callback budget exhausted")
)

// Meter is the execution budget handed to a callback handler. Handlers call
// Consume as they work; a false return means the budget is gone and the
// handler must stop.
type Meter struct {
	remaining uint64
	exhausted bool
}

func NewMeter(budget uint64) *Meter { return &Meter{remaining: budget} }

func (m *Meter) Consume(units uint64) bool {
	if m.exhausted || units > m.remaining {
		m.exhausted = true
		m.remaining = 0
		return false
	}
	m.remaining -= units
	return true
}

// Exhausted reports whether the handler ran out of budget.
func (m *Meter) Exhausted() bool { return m.exhausted }

// CallbackHandler receives the post-delivery callback attached to an output.
// Implementations must respect the meter and return ErrBudgetExhausted when
// Consume fails.
type CallbackHandler interface {
	OutputFilled(ctx context.Context, recipient common.Hash, token common.Hash, amount *big.Int, call []byte, m *Meter) error
}

// dispatchCallback runs the handler with the available budget and applies the
// stipend rule: an exhausted handler only fails the fill when the fill itself
// supplied less than the stipend. An exhausted handler that did have the full
// stipend chose to overspend, which is the recipient's problem, and any other
// handler error is tolerated outright.
func (f *Filler) dispatchCallback(ctx context.Context, recipient, token common.Hash, amount *big.Int, call []byte) error {
	m := NewMeter(f.callbackBudget)
	err := f.callback.OutputFilled(ctx, recipient, token, amount, call, m)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBudgetExhausted) && f.callbackBudget < f.callbackStipend {
		return ErrNotEnoughGasExecution
	}
	f.log.Warn("output callback failed; fill stands",
		zap.String("recipient", recipient.Hex()),
		zap.Error(err),
	)
	return nil
}
