package settlement

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/order"
)

var (
	// ErrAlreadyPurchased means the (solver, order) claim was already sold.
	ErrAlreadyPurchased = errors.New("settlement: order already purchased")

	// ErrPurchaseExpired means the solver's authorization is past its expiry.
	ErrPurchaseExpired = errors.New("settlement: purchase authorization expired")

	// ErrBadDiscount rejects discounts above 100%.
	ErrBadDiscount = errors.New("settlement: discount exceeds 10000 bps")
)

const bpsDenominator = 10_000

// PurchaseOrder transfers the eventual input claim of (solver, order) to a
// purchaser, at the discount the solver authorized. The purchaser pays the
// solver the discounted input sum now; at finalise the engine pays the full
// inputs to the purchaser instead, provided the fills landed no later than
// the purchase cutoff.
//
// The purchase record is written before the payout so a reentrant buy of the
// same claim observes it as taken.
func (e *Engine) PurchaseOrder(
	ctx context.Context,
	orderID common.Hash,
	solver common.Hash,
	auth *order.PurchaseAuthorization,
	solverSig []byte,
	purchaser common.Address,
) error {
	if auth.DiscountBps > bpsDenominator {
		return ErrBadDiscount
	}
	now := uint32(e.now().Unix())
	if now > auth.Expiry {
		return ErrPurchaseExpired
	}
	if auth.OrderID != orderID || auth.Purchaser != purchaser {
		return order.ErrInvalidSigner
	}

	signer, err := order.RecoverDigestSigner(auth.Digest(), solverSig)
	if err != nil {
		return err
	}
	if order.AddressToBytes32(signer) != solver {
		return order.ErrInvalidSigner
	}

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
	key := purchaseKey{solver: solver, orderID: orderID}
	if _, taken := e.purchases[key]; taken {
		e.mu.Unlock()
		return ErrAlreadyPurchased
	}
	cutoff := uint32(0)
	if now > auth.TimeToBuy {
		cutoff = now - auth.TimeToBuy
	}
	e.purchases[key] = Purchase{Purchaser: purchaser, Cutoff: cutoff}
	inputs := st.order.Inputs
	e.mu.Unlock()

	// Pay the solver the discounted input sum out of the purchaser's funds.
	from := order.AddressToBytes32(purchaser)
	to := order.AddressToBytes32(signer)
	for i := range inputs {
		in := &inputs[i]
		price := discounted(in.Amount, auth.DiscountBps)
		if err := e.custody.Transfer(ctx, in.Token, from, to, price); err != nil {
			for j := i - 1; j >= 0; j-- {
				prev := &inputs[j]
				refund := discounted(prev.Amount, auth.DiscountBps)
				if rbErr := e.custody.Transfer(ctx, prev.Token, to, from, refund); rbErr != nil {
					e.log.Error("purchase rollback failed", zap.Error(rbErr))
				}
			}
			e.mu.Lock()
			delete(e.purchases, key)
			e.mu.Unlock()
			return err
		}
	}

	e.log.Info("order purchased",
		zap.String("order", orderID.Hex()),
		zap.String("solver", solver.Hex()),
		zap.String("purchaser", purchaser.Hex()),
		zap.Uint16("discount_bps", auth.DiscountBps),
		zap.Uint32("cutoff", cutoff),
	)
	return nil
}

// Purchased reports the active purchase record for a claim, if any.
func (e *Engine) Purchased(solver, orderID common.Hash) (Purchase, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.purchases[purchaseKey{solver: solver, orderID: orderID}]
	return p, ok
}

// discounted returns amount * (10000 - bps) / 10000, rounded down.
func discounted(amount *big.Int, bps uint16) *big.Int {
	keep := big.NewInt(int64(bpsDenominator - bps))
	out := new(big.Int).Mul(amount, keep)
	return out.Div(out, big.NewInt(bpsDenominator))
}
