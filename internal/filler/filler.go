// Package filler is the destination-side output settlement: it records that a
// specific output of a specific order was delivered by a specific solver,
// exactly once, moves the tokens, and later vouches for those fills when an
// oracle adapter asks before transporting proofs off-chain.
package filler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/custody"
	"github.com/openintents/settler/internal/events"
	"github.com/openintents/settler/internal/order"
	"github.com/openintents/settler/internal/wire"
)

var (
	// ErrZeroSolver rejects fills that would credit the zero identity.
	ErrZeroSolver = errors.New("filler: proposed solver is zero")

	// ErrFillDeadline is returned when the fill deadline has passed.
	ErrFillDeadline = errors.New("filler: fill deadline passed")

	// ErrWrongChain means the output targets a different destination chain.
	ErrWrongChain = errors.New("filler: output targets another chain")

	// ErrWrongRemoteFiller means the output names another settler deployment.
	ErrWrongRemoteFiller = errors.New("filler: output names another filler")

	// ErrAlreadyFilled aborts a throw-policy batch when an output was
	// already taken by a different solver.
	ErrAlreadyFilled = errors.New("filler: output already filled by another solver")
)

// BatchPolicy selects how FillBatch treats outputs already filled by someone
// else. The choice is explicit; callers never get a default.
type BatchPolicy uint8

const (
	// PolicyThrow aborts the whole batch if any output belongs to another
	// solver, undoing everything done so far.
	PolicyThrow BatchPolicy = iota + 1

	// PolicySkip fills what is fillable and leaves foreign fills alone.
	PolicySkip
)

// FilledOutput is the terminal record for one (orderId, outputHash) key.
type FilledOutput struct {
	Solver    common.Hash
	Timestamp uint32
}

type fillKey struct {
	orderID    common.Hash
	outputHash common.Hash
}

// EventSink receives fill notifications. Wiring decides where they go
// (Redis queue, journal); failures there never unwind a recorded fill.
type EventSink interface {
	OutputFilled(ctx context.Context, ev *events.FillEvent)
}

// Filler is one output-settlement instance on a destination chain.
type Filler struct {
	chainID  *big.Int
	identity common.Hash // this deployment, as outputs name it in Settler
	custody  custody.Custody

	callback        CallbackHandler
	callbackBudget  uint64
	callbackStipend uint64

	sink EventSink
	now  func() time.Time
	log  *zap.Logger

	mu      sync.Mutex
	records map[fillKey]FilledOutput
}

// Option configures optional collaborators.
type Option func(*Filler)

// WithCallback installs the post-delivery callback handler with its execution
// budget and the stipend fills are expected to supply.
func WithCallback(h CallbackHandler, budget, stipend uint64) Option {
	return func(f *Filler) {
		f.callback = h
		f.callbackBudget = budget
		f.callbackStipend = stipend
	}
}

// WithSink installs the fill event sink.
func WithSink(s EventSink) Option {
	return func(f *Filler) { f.sink = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Filler) { f.now = now }
}

func New(chainID *big.Int, identity common.Hash, cust custody.Custody, log *zap.Logger, opts ...Option) *Filler {
	f := &Filler{
		chainID:  chainID,
		identity: identity,
		custody:  cust,
		now:      time.Now,
		log:      log,
		records:  make(map[fillKey]FilledOutput),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// pendingEmit is a completed fill whose event has not been announced yet.
// Single fills announce immediately; batches hold theirs until the whole
// batch commits, so an aborted batch never advertises fills it undid.
type pendingEmit struct {
	out    *order.Output
	rec    FilledOutput
	amount *big.Int // the amount actually paid, for exact rollback
}

// Fill records and pays out one output. payer is the authenticated account
// funding the transfer; proposedSolver is the identity credited with the
// fill. If the output was already filled the existing solver identity is
// returned without moving funds; callers compare it against their own to
// detect losing the race.
func (f *Filler) Fill(ctx context.Context, payer common.Hash, fillDeadline uint32, orderID common.Hash, out *order.Output, proposedSolver common.Hash) (common.Hash, error) {
	got, pe, err := f.fill(ctx, payer, fillDeadline, orderID, out, proposedSolver)
	if err != nil {
		return common.Hash{}, err
	}
	if pe != nil {
		f.emit(ctx, orderID, pe)
	}
	return got, nil
}

// fill reserves, resolves and pays one output without announcing it. pe is
// nil when the output was already filled by someone else.
func (f *Filler) fill(ctx context.Context, payer common.Hash, fillDeadline uint32, orderID common.Hash, out *order.Output, proposedSolver common.Hash) (common.Hash, *pendingEmit, error) {
	if proposedSolver == (common.Hash{}) {
		return common.Hash{}, nil, ErrZeroSolver
	}
	now := uint32(f.now().Unix())
	if now > fillDeadline {
		return common.Hash{}, nil, ErrFillDeadline
	}
	if out.ChainID == nil || out.ChainID.Cmp(f.chainID) != 0 {
		return common.Hash{}, nil, ErrWrongChain
	}
	if out.Settler != f.identity {
		return common.Hash{}, nil, ErrWrongRemoteFiller
	}

	key := fillKey{orderID: orderID, outputHash: order.OutputHash(out)}

	// Reserve before transferring: a racing second fill observes the record
	// and short-circuits before any duplicate payout.
	f.mu.Lock()
	if existing, ok := f.records[key]; ok {
		f.mu.Unlock()
		return existing.Solver, nil, nil
	}
	rec := FilledOutput{Solver: proposedSolver, Timestamp: now}
	f.records[key] = rec
	f.mu.Unlock()

	pe, err := f.payout(ctx, payer, out, now, rec, orderID, key)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return proposedSolver, pe, nil
}

// payout completes a reserved fill: resolve amount, transfer, callback. The
// reservation is rolled back only when resolution or the transfer fails.
func (f *Filler) payout(ctx context.Context, payer common.Hash, out *order.Output, now uint32, rec FilledOutput, orderID common.Hash, key fillKey) (*pendingEmit, error) {
	amount, err := ResolveAmount(out, now)
	if err != nil {
		f.unreserve(key)
		return nil, err
	}
	if err := f.custody.Transfer(ctx, out.Token, payer, out.Recipient, amount); err != nil {
		f.unreserve(key)
		return nil, err
	}

	if len(out.Call) > 0 && f.callback != nil {
		if err := f.dispatchCallback(ctx, out.Recipient, out.Token, amount, out.Call); err != nil {
			// The transfer already happened; hand it back before failing.
			if rbErr := f.custody.Transfer(ctx, out.Token, out.Recipient, payer, amount); rbErr != nil {
				f.log.Error("callback rollback failed",
					zap.String("order", orderID.Hex()),
					zap.Error(rbErr),
				)
			}
			f.unreserve(key)
			return nil, err
		}
	}

	return &pendingEmit{out: out, rec: rec, amount: amount}, nil
}

// PayloadFor builds the canonical fill payload for a recorded fill. It
// carries the output's face amount, not the resolved payout, so the origin
// side can rebuild the exact same bytes from the order alone.
func PayloadFor(orderID common.Hash, out *order.Output, solver common.Hash, timestamp uint32) *wire.FillPayload {
	return &wire.FillPayload{
		Solver:    solver,
		OrderID:   orderID,
		Timestamp: timestamp,
		Token:     out.Token,
		Amount:    out.Amount,
		Recipient: out.Recipient,
		Call:      out.Call,
		Context:   out.Context,
	}
}

func (f *Filler) unreserve(key fillKey) {
	f.mu.Lock()
	delete(f.records, key)
	f.mu.Unlock()
}

func (f *Filler) emit(ctx context.Context, orderID common.Hash, pe *pendingEmit) {
	f.log.Info("output filled",
		zap.String("order", orderID.Hex()),
		zap.String("solver", pe.rec.Solver.Hex()),
		zap.Uint32("timestamp", pe.rec.Timestamp),
		zap.String("amount", pe.amount.String()),
	)
	if f.sink == nil {
		return
	}
	payload, err := wire.EncodeFill(PayloadFor(orderID, pe.out, pe.rec.Solver, pe.rec.Timestamp))
	if err != nil {
		f.log.Error("encode fill payload", zap.Error(err))
		return
	}
	f.sink.OutputFilled(ctx, &events.FillEvent{
		OrderID:   orderID,
		Solver:    pe.rec.Solver,
		Timestamp: pe.rec.Timestamp,
		Payload:   payload,
	})
}

// FillBatch fills several outputs of one order under an explicit policy.
// Under PolicyThrow a single output owned by another solver aborts the whole
// batch and undoes this batch's work; under PolicySkip foreign fills are
// skipped and everything else proceeds. Fill events are held back until the
// batch commits: an aborted batch announces nothing.
func (f *Filler) FillBatch(ctx context.Context, payer common.Hash, fillDeadline uint32, orderID common.Hash, outs []order.Output, proposedSolver common.Hash, policy BatchPolicy) error {
	if policy != PolicyThrow && policy != PolicySkip {
		return errors.New("filler: batch policy not specified")
	}

	var filled []*pendingEmit

	rollback := func() {
		for i := len(filled) - 1; i >= 0; i-- {
			pe := filled[i]
			if err := f.custody.Transfer(ctx, pe.out.Token, pe.out.Recipient, payer, pe.amount); err != nil {
				f.log.Error("batch rollback transfer failed", zap.Error(err))
			}
			f.unreserve(fillKey{orderID: orderID, outputHash: order.OutputHash(pe.out)})
		}
	}

	for i := range outs {
		out := &outs[i]
		got, pe, err := f.fill(ctx, payer, fillDeadline, orderID, out, proposedSolver)
		if err != nil {
			rollback()
			return err
		}
		if got != proposedSolver {
			if policy == PolicySkip {
				continue
			}
			rollback()
			return ErrAlreadyFilled
		}
		// pe is nil when this solver had already filled the output; nothing
		// new to announce or undo.
		if pe != nil {
			filled = append(filled, pe)
		}
	}

	for _, pe := range filled {
		f.emit(ctx, orderID, pe)
	}
	return nil
}

// Recorded returns the fill record for a key, if any.
func (f *Filler) Recorded(orderID, outputHash common.Hash) (FilledOutput, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[fillKey{orderID: orderID, outputHash: outputHash}]
	return rec, ok
}

// PayloadsValid is the check an oracle adapter runs before transporting
// claimed fills: every payload must decode and match the recorded solver and
// timestamp for its (orderId, outputHash) key exactly. oracleIdentity is the
// adapter asking; it completes the output hash the same way the origin side
// will compute it.
func (f *Filler) PayloadsValid(oracleIdentity common.Hash, payloads [][]byte) bool {
	for _, raw := range payloads {
		p, err := wire.DecodeFill(raw)
		if err != nil {
			return false
		}
		outputHash := order.OutputHash(&order.Output{
			Oracle:    oracleIdentity,
			Settler:   f.identity,
			ChainID:   f.chainID,
			Token:     p.Token,
			Amount:    p.Amount,
			Recipient: p.Recipient,
			Call:      p.Call,
			Context:   p.Context,
		})
		rec, ok := f.Recorded(p.OrderID, outputHash)
		if !ok || rec.Solver != p.Solver || rec.Timestamp != p.Timestamp {
			return false
		}
	}
	return true
}

// Identity returns the deployment identity outputs must name as Settler.
func (f *Filler) Identity() common.Hash { return f.identity }

// IdentityFor derives a deployment identity from an operator address, the
// chain-agnostic way outputs reference a filler.
func IdentityFor(chainID *big.Int, operator common.Address) common.Hash {
	return crypto.Keccak256Hash(chainID.Bytes(), operator.Bytes())
}
