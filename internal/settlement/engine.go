// Package settlement is the origin-side order lifecycle: registration of an
// order's inputs into custody, optional sale of the claim to a purchaser,
// and the terminal finalise that releases inputs once every output's fill is
// attested by the order's oracle.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/attest"
	"github.com/openintents/settler/internal/custody"
	"github.com/openintents/settler/internal/events"
	"github.com/openintents/settler/internal/order"
)

var (
	// ErrWrongOriginChain rejects orders registered on the wrong chain.
	ErrWrongOriginChain = errors.New("settlement: order names another origin chain")

	// ErrExpired means the order's expiry has passed.
	ErrExpired = errors.New("settlement: order expired")

	// ErrDeadlinePassed means the fill deadline has passed.
	ErrDeadlinePassed = errors.New("settlement: fill deadline passed")

	// ErrInvalidDeadlines rejects orders with fillDeadline after expiry.
	ErrInvalidDeadlines = errors.New("settlement: fill deadline after expiry")

	// ErrAlreadyRegistered means the order id is already in the registry.
	ErrAlreadyRegistered = errors.New("settlement: order already registered")

	// ErrNotRegistered means no deposit exists for the order id.
	ErrNotRegistered = errors.New("settlement: order not registered")

	// ErrAlreadyFinalised means the order was consumed.
	ErrAlreadyFinalised = errors.New("settlement: order already finalised")

	// ErrUnknownOracle means the order names an oracle this engine has no
	// validator for, so its fills can never be proven here.
	ErrUnknownOracle = errors.New("settlement: cannot prove order with unknown oracle")

	// ErrUnauthorizedCaller rejects a finalise by anyone but the resolved
	// owner or their delegate.
	ErrUnauthorizedCaller = errors.New("settlement: caller not authorized")

	// ErrLengthMismatch rejects finalise input arrays of the wrong shape.
	ErrLengthMismatch = errors.New("settlement: solver/timestamp count must match outputs")
)

// Status is the registry state of one order.
type Status uint8

const (
	StatusUnregistered Status = iota
	StatusDeposited
	// StatusFinalising marks an order claimed by an in-flight finalise. The
	// reservation is taken under the engine mutex before any proof check or
	// custody transfer, so a second finalise can never release the same
	// inputs; it unwinds to StatusDeposited if the attempt fails.
	StatusFinalising
	StatusFinalised
)

func (s Status) String() string {
	switch s {
	case StatusUnregistered:
		return "UNREGISTERED"
	case StatusDeposited:
		return "DEPOSITED"
	case StatusFinalising:
		return "FINALISING"
	case StatusFinalised:
		return "FINALISED"
	default:
		return "UNKNOWN"
	}
}

type orderState struct {
	status Status
	order  *order.Order
}

// Purchase is the consumable record of a sold claim: who bought it and the
// latest fill timestamp the purchase still covers.
type Purchase struct {
	Purchaser common.Address
	Cutoff    uint32
}

type purchaseKey struct {
	solver  common.Hash
	orderID common.Hash
}

// EventSink receives lifecycle events; wiring decides where they land.
type EventSink interface {
	OrderOpened(ctx context.Context, ev *events.OpenEvent)
	OrderFinalised(ctx context.Context, ev *events.FinaliseEvent)
}

// Engine is one input-settlement instance on an origin chain.
type Engine struct {
	chainID           *big.Int
	escrow            common.Hash // custody account holding deposited inputs
	verifyingContract common.Address

	custody custody.Custody
	oracles map[common.Hash]attest.Store // input oracle identity -> validator

	fees *FeeState

	sink EventSink
	now  func() time.Time
	log  *zap.Logger

	mu        sync.Mutex
	orders    map[common.Hash]*orderState
	purchases map[purchaseKey]Purchase
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithSink installs the lifecycle event sink.
func WithSink(s EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOracle registers an attestation validator under the identity orders
// use in their InputOracle field.
func WithOracle(identity common.Hash, store attest.Store) Option {
	return func(e *Engine) { e.oracles[identity] = store }
}

func New(
	chainID *big.Int,
	escrow common.Hash,
	verifyingContract common.Address,
	cust custody.Custody,
	fees *FeeState,
	log *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		chainID:           chainID,
		escrow:            escrow,
		verifyingContract: verifyingContract,
		custody:           cust,
		oracles:           make(map[common.Hash]attest.Store),
		fees:              fees,
		now:               time.Now,
		log:               log,
		orders:            make(map[common.Hash]*orderState),
		purchases:         make(map[purchaseKey]Purchase),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status reports the registry state of an order id.
func (e *Engine) Status(orderID common.Hash) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.orders[orderID]; ok {
		return st.status
	}
	return StatusUnregistered
}

// Order returns the registered order for an id, if any.
func (e *Engine) Order(orderID common.Hash) (*order.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.orders[orderID]
	if !ok {
		return nil, false
	}
	return st.order, true
}

// Open verifies the user's signature over the order and moves its inputs
// into escrow. The full order is emitted for off-chain solver discovery.
func (e *Engine) Open(ctx context.Context, o *order.Order, sig []byte) (common.Hash, error) {
	if o.OriginChainID == nil || o.OriginChainID.Cmp(e.chainID) != 0 {
		return common.Hash{}, ErrWrongOriginChain
	}
	if o.FillDeadline > o.Expires {
		return common.Hash{}, ErrInvalidDeadlines
	}
	now := uint32(e.now().Unix())
	if now > o.Expires {
		return common.Hash{}, ErrExpired
	}
	if now > o.FillDeadline {
		return common.Hash{}, ErrDeadlinePassed
	}
	if _, ok := e.oracles[o.InputOracle]; !ok {
		return common.Hash{}, ErrUnknownOracle
	}

	signer, err := order.RecoverSigner(o, sig, e.chainID, e.verifyingContract)
	if err != nil {
		return common.Hash{}, err
	}
	if signer != o.User {
		return common.Hash{}, order.ErrInvalidSigner
	}

	orderID := o.ID()

	e.mu.Lock()
	if _, ok := e.orders[orderID]; ok {
		e.mu.Unlock()
		return common.Hash{}, ErrAlreadyRegistered
	}
	e.orders[orderID] = &orderState{status: StatusDeposited, order: o}
	e.mu.Unlock()

	user := order.AddressToBytes32(o.User)
	if err := e.collectInputs(ctx, o.Inputs, user); err != nil {
		e.mu.Lock()
		delete(e.orders, orderID)
		e.mu.Unlock()
		return common.Hash{}, err
	}

	e.log.Info("order opened",
		zap.String("order", orderID.Hex()),
		zap.String("user", o.User.Hex()),
		zap.Int("inputs", len(o.Inputs)),
		zap.Int("outputs", len(o.Outputs)),
	)
	if e.sink != nil {
		e.sink.OrderOpened(ctx, &events.OpenEvent{OrderID: orderID, Order: o})
	}
	return orderID, nil
}

// collectInputs escrows each input, undoing earlier transfers if a later one
// fails so a half-deposited order never exists.
func (e *Engine) collectInputs(ctx context.Context, inputs []order.Input, user common.Hash) error {
	for i := range inputs {
		in := &inputs[i]
		if err := e.custody.Transfer(ctx, in.Token, user, e.escrow, in.Amount); err != nil {
			for j := i - 1; j >= 0; j-- {
				prev := &inputs[j]
				if rbErr := e.custody.Transfer(ctx, prev.Token, e.escrow, user, prev.Amount); rbErr != nil {
					e.log.Error("deposit rollback failed", zap.Error(rbErr))
				}
			}
			return err
		}
	}
	return nil
}
