package settlement

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotOwner rejects fee governance by anyone but the configured owner.
	ErrNotOwner = errors.New("settlement: caller is not the fee owner")

	// ErrFeeTooHigh caps the governance fee at MaxFeeBps.
	ErrFeeTooHigh = errors.New("settlement: fee above maximum")

	// ErrNoPendingFee means ApplyFee was called with nothing scheduled.
	ErrNoPendingFee = errors.New("settlement: no pending fee change")

	// ErrFeeChangeNotReady means the timelock on the pending fee has not
	// elapsed yet.
	ErrFeeChangeNotReady = errors.New("settlement: fee change still timelocked")
)

// MaxFeeBps caps the governance fee at 10%.
const MaxFeeBps uint16 = 1000

// FeeChangeDelay is the timelock between scheduling a fee and applying it.
const FeeChangeDelay = 24 * time.Hour

// FeeState holds the governance fee: the active rate, the recipient of
// collected fees, and an optional timelocked pending change.
type FeeState struct {
	owner     common.Address
	recipient common.Hash

	mu          sync.Mutex
	current     uint16
	pending     uint16
	hasPending  bool
	effectiveAt time.Time

	now func() time.Time
}

func NewFeeState(owner common.Address, recipient common.Hash) *FeeState {
	return &FeeState{owner: owner, recipient: recipient, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (f *FeeState) SetClock(now func() time.Time) { f.now = now }

// Current returns the active fee rate in basis points.
func (f *FeeState) Current() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Recipient returns the custody account fees are paid to.
func (f *FeeState) Recipient() common.Hash { return f.recipient }

// SetFee schedules a new rate behind the timelock. Scheduling again replaces
// the pending change and restarts the clock.
func (f *FeeState) SetFee(caller common.Address, rate uint16) error {
	if caller != f.owner {
		return ErrNotOwner
	}
	if rate > MaxFeeBps {
		return ErrFeeTooHigh
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = rate
	f.hasPending = true
	f.effectiveAt = f.now().Add(FeeChangeDelay)
	return nil
}

// ApplyFee promotes the pending rate once its timelock has elapsed. Anyone
// may call it; the delay, not the caller, is the protection.
func (f *FeeState) ApplyFee() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasPending {
		return ErrNoPendingFee
	}
	if f.now().Before(f.effectiveAt) {
		return ErrFeeChangeNotReady
	}
	f.current = f.pending
	f.hasPending = false
	return nil
}

// Pending reports the scheduled rate and when it becomes applicable.
func (f *FeeState) Pending() (rate uint16, effectiveAt time.Time, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, f.effectiveAt, f.hasPending
}

// feeOf returns amount * rate / 10000, rounded down.
func feeOf(amount *big.Int, rate uint16) *big.Int {
	if rate == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(rate)))
	return fee.Div(fee, big.NewInt(bpsDenominator))
}
