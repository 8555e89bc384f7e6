package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/events"
	"github.com/openintents/settler/internal/filler"
	"github.com/openintents/settler/internal/order"
	"github.com/openintents/settler/internal/wire"
)

// FinaliseCallback is invoked after inputs are released, with the tokens and
// net amounts delivered to the destination. Callback failures do not unwind
// the settlement.
type FinaliseCallback interface {
	OrderFinalised(ctx context.Context, orderID common.Hash, inputs []order.Input, call []byte)
}

// Finalise releases an order's escrowed inputs once every output's fill is
// attested on the order's oracle. solvers[i] and timestamps[i] describe the
// recorded fill of output i; solvers[0] is the principal claimant.
//
// The claim owner is the purchaser when an active purchase covers the latest
// fill timestamp, the principal solver otherwise; the purchase record is
// consumed either way. caller must be the owner, or carry the owner's
// delegation signature pinned to this caller, destination and callback.
func (e *Engine) Finalise(
	ctx context.Context,
	orderID common.Hash,
	solvers []common.Hash,
	timestamps []uint32,
	destination common.Hash,
	call []byte,
	caller common.Address,
	ownerSig []byte,
	cb FinaliseCallback,
) error {
	e.mu.Lock()
	st, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return ErrNotRegistered
	}
	if st.status != StatusDeposited {
		e.mu.Unlock()
		return ErrAlreadyFinalised
	}
	o := st.order
	if len(solvers) != len(o.Outputs) || len(timestamps) != len(o.Outputs) {
		e.mu.Unlock()
		return ErrLengthMismatch
	}

	// Claim the order before any proof check or transfer. A concurrent
	// finalise observes StatusFinalising and stops at the check above, so the
	// inputs can only ever be released once.
	st.status = StatusFinalising

	principal := solvers[0]
	pKey := purchaseKey{solver: principal, orderID: orderID}
	purchase, purchased := e.purchases[pKey]
	e.mu.Unlock()

	unwind := func() {
		e.mu.Lock()
		st.status = StatusDeposited
		e.mu.Unlock()
	}

	owner := order.Bytes32ToAddress(principal)
	if purchased && maxTimestamp(timestamps) <= purchase.Cutoff {
		owner = purchase.Purchaser
	}

	if caller != owner {
		auth := order.FinaliseAuthorization{
			OrderID:      orderID,
			Caller:       caller,
			Destination:  destination,
			CallbackHash: crypto.Keccak256Hash(call),
		}
		signer, err := order.RecoverDigestSigner(auth.Digest(), ownerSig)
		if err != nil {
			unwind()
			return err
		}
		if signer != owner {
			unwind()
			return ErrUnauthorizedCaller
		}
	}

	// Every fill must be proven on the order's oracle before any value moves;
	// an external transfer cannot be taken back.
	validator, ok := e.oracles[o.InputOracle]
	if !ok {
		unwind()
		return ErrUnknownOracle
	}
	series := make([]wire.ProofEntry, len(o.Outputs))
	for i := range o.Outputs {
		out := &o.Outputs[i]
		payload, err := wire.EncodeFill(filler.PayloadFor(orderID, out, solvers[i], timestamps[i]))
		if err != nil {
			unwind()
			return err
		}
		series[i] = wire.ProofEntry{
			ChainID:     common.BigToHash(out.ChainID),
			Oracle:      out.Oracle,
			Application: out.Settler,
			DataHash:    crypto.Keccak256Hash(payload),
		}
	}
	if err := validator.RequireProven(ctx, series); err != nil {
		unwind()
		return err
	}

	if err := e.releaseInputs(ctx, o.Inputs, destination); err != nil {
		unwind()
		return err
	}

	e.mu.Lock()
	st.status = StatusFinalised
	delete(e.purchases, pKey)
	e.mu.Unlock()

	e.log.Info("order finalised",
		zap.String("order", orderID.Hex()),
		zap.String("owner", owner.Hex()),
		zap.String("destination", destination.Hex()),
	)
	if cb != nil {
		cb.OrderFinalised(ctx, orderID, netInputs(o.Inputs, e.fees.Current()), call)
	}
	if e.sink != nil {
		e.sink.OrderFinalised(ctx, &events.FinaliseEvent{
			OrderID:     orderID,
			Owner:       order.AddressToBytes32(owner),
			Destination: destination,
		})
	}
	return nil
}

// releaseInputs pays each escrowed input to the destination net of the
// governance fee, rolling the batch back if any leg fails.
func (e *Engine) releaseInputs(ctx context.Context, inputs []order.Input, destination common.Hash) error {
	rate := e.fees.Current()
	recipient := e.fees.Recipient()

	type leg struct {
		token  common.Hash
		to     common.Hash
		amount *big.Int
	}
	var done []leg

	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			l := done[i]
			if err := e.custody.Transfer(ctx, l.token, l.to, e.escrow, l.amount); err != nil {
				e.log.Error("release rollback failed", zap.Error(err))
			}
		}
	}

	for i := range inputs {
		in := &inputs[i]
		fee := feeOf(in.Amount, rate)
		if fee.Sign() > 0 {
			if err := e.custody.Transfer(ctx, in.Token, e.escrow, recipient, fee); err != nil {
				rollback()
				return err
			}
			done = append(done, leg{token: in.Token, to: recipient, amount: fee})
		}
		net := new(big.Int).Sub(in.Amount, fee)
		if err := e.custody.Transfer(ctx, in.Token, e.escrow, destination, net); err != nil {
			rollback()
			return err
		}
		done = append(done, leg{token: in.Token, to: destination, amount: net})
	}
	return nil
}

// netInputs is the input list with governance fees deducted, as delivered.
func netInputs(inputs []order.Input, rate uint16) []order.Input {
	out := make([]order.Input, len(inputs))
	for i := range inputs {
		fee := feeOf(inputs[i].Amount, rate)
		out[i] = order.Input{
			Token:  inputs[i].Token,
			Amount: new(big.Int).Sub(inputs[i].Amount, fee),
		}
	}
	return out
}

func maxTimestamp(ts []uint32) uint32 {
	var m uint32
	for _, t := range ts {
		if t > m {
			m = t
		}
	}
	return m
}
