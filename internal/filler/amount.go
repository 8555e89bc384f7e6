package filler

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/openintents/settler/internal/order"
)

var (
	// ErrUnknownFulfillmentType is returned for an unrecognized context tag.
	ErrUnknownFulfillmentType = errors.New("filler: unknown fulfillment type")

	// ErrDutchAuctionStopped is returned when a decaying output is filled at
	// or after its stop time.
	ErrDutchAuctionStopped = errors.New("filler: dutch auction stopped")

	// ErrBadContext is returned when a tagged context has the wrong length.
	ErrBadContext = errors.New("filler: malformed fulfillment context")
)

// Fulfillment context tags. An empty context means a fixed amount.
const (
	contextTagDutch = 0x01

	// tag(1) | slope(32) | stopTime(4)
	dutchContextLen = 1 + 32 + 4
)

// DutchContext builds the fulfillment context for a decaying output.
func DutchContext(slope *big.Int, stopTime uint32) []byte {
	buf := make([]byte, dutchContextLen)
	buf[0] = contextTagDutch
	slope.FillBytes(buf[1:33])
	binary.BigEndian.PutUint32(buf[33:], stopTime)
	return buf
}

// ResolveAmount computes the amount a solver must deliver for an output at
// the given time. Fixed outputs return the face amount; dutch-decay outputs
// pay `amount + slope*(stopTime-now)`, rewarding earlier fills, and stop
// being fillable at stopTime.
func ResolveAmount(out *order.Output, now uint32) (*big.Int, error) {
	if len(out.Context) == 0 {
		return new(big.Int).Set(out.Amount), nil
	}
	switch out.Context[0] {
	case contextTagDutch:
		if len(out.Context) != dutchContextLen {
			return nil, ErrBadContext
		}
		stopTime := binary.BigEndian.Uint32(out.Context[33:])
		if now >= stopTime {
			return nil, ErrDutchAuctionStopped
		}
		slope := new(big.Int).SetBytes(out.Context[1:33])
		bonus := new(big.Int).Mul(slope, big.NewInt(int64(stopTime-now)))
		return bonus.Add(bonus, out.Amount), nil
	default:
		return nil, ErrUnknownFulfillmentType
	}
}
