// Package wire implements the deterministic byte encodings exchanged across
// chain boundaries: the fill payload produced by the output settler, the
// oracle message envelope that batches payloads for transport, and the flat
// proof-series layout consumed by attestation checks.
package wire

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrMalformedPayload is returned when an input is truncated or its
	// length prefixes point past the end of the buffer.
	ErrMalformedPayload = errors.New("wire: malformed payload")

	// ErrFieldTooLarge is returned when a variable-length field exceeds the
	// 16-bit length prefix on encode.
	ErrFieldTooLarge = errors.New("wire: field exceeds 16-bit length budget")
)

const (
	maxFieldLen = 1<<16 - 1

	// fixed part of a fill payload: solver(32) orderId(32) timestamp(4)
	// token(32) amount(32) recipient(32) callLen(2) ... ctxLen(2) ...
	fillFixedLen = 32 + 32 + 4 + 32 + 32 + 32 + 2 + 2
)

// FillPayload is the canonical record of a single fill, byte-identical on the
// destination chain (where it is produced) and the origin chain (where it is
// verified against the attestation store).
type FillPayload struct {
	Solver    common.Hash
	OrderID   common.Hash
	Timestamp uint32
	Token     common.Hash
	Amount    *big.Int
	Recipient common.Hash
	Call      []byte
	Context   []byte
}

// EncodeFill serializes p into the frozen wire layout.
// Fails with ErrFieldTooLarge if Call or Context exceed 65535 bytes, and with
// ErrMalformedPayload if Amount does not fit a uint256.
func EncodeFill(p *FillPayload) ([]byte, error) {
	if len(p.Call) > maxFieldLen || len(p.Context) > maxFieldLen {
		return nil, ErrFieldTooLarge
	}
	amount, err := amountBytes(p.Amount)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, fillFixedLen+len(p.Call)+len(p.Context))
	buf = append(buf, p.Solver[:]...)
	buf = append(buf, p.OrderID[:]...)
	buf = binary.BigEndian.AppendUint32(buf, p.Timestamp)
	buf = append(buf, p.Token[:]...)
	buf = append(buf, amount[:]...)
	buf = append(buf, p.Recipient[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Call)))
	buf = append(buf, p.Call...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Context)))
	buf = append(buf, p.Context...)
	return buf, nil
}

// DecodeFill parses a fill payload, rejecting truncated or oversized input.
func DecodeFill(b []byte) (*FillPayload, error) {
	r := reader{buf: b}
	p := &FillPayload{}

	p.Solver = r.hash()
	p.OrderID = r.hash()
	p.Timestamp = r.uint32()
	p.Token = r.hash()
	amount := r.hash()
	p.Recipient = r.hash()
	p.Call = r.varBytes()
	p.Context = r.varBytes()

	if r.failed || r.off != len(b) {
		return nil, ErrMalformedPayload
	}
	p.Amount = new(big.Int).SetBytes(amount[:])
	return p, nil
}

// Message is the oracle envelope: the identity of the application that
// produced the payloads plus the payloads themselves.
type Message struct {
	Sender   common.Hash
	Payloads [][]byte
}

// EncodeMessage serializes m as sender(32) | count(2) | [len(2) | payload]*.
func EncodeMessage(m *Message) ([]byte, error) {
	if len(m.Payloads) > maxFieldLen {
		return nil, ErrFieldTooLarge
	}
	size := 32 + 2
	for _, p := range m.Payloads {
		if len(p) > maxFieldLen {
			return nil, ErrFieldTooLarge
		}
		size += 2 + len(p)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, m.Sender[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Payloads)))
	for _, p := range m.Payloads {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(p)))
		buf = append(buf, p...)
	}
	return buf, nil
}

// DecodeMessage parses an oracle envelope.
func DecodeMessage(b []byte) (*Message, error) {
	r := reader{buf: b}
	m := &Message{Sender: r.hash()}

	count := int(r.uint16())
	if r.failed {
		return nil, ErrMalformedPayload
	}
	m.Payloads = make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		m.Payloads = append(m.Payloads, r.varBytes())
	}
	if r.failed || r.off != len(b) {
		return nil, ErrMalformedPayload
	}
	return m, nil
}

// ProofEntry is one attestation tuple in a proof series.
type ProofEntry struct {
	ChainID     common.Hash
	Oracle      common.Hash
	Application common.Hash
	DataHash    common.Hash
}

const proofEntryLen = 4 * 32

// EncodeProofSeries flattens entries into consecutive 128-byte tuples.
func EncodeProofSeries(entries []ProofEntry) []byte {
	buf := make([]byte, 0, len(entries)*proofEntryLen)
	for _, e := range entries {
		buf = append(buf, e.ChainID[:]...)
		buf = append(buf, e.Oracle[:]...)
		buf = append(buf, e.Application[:]...)
		buf = append(buf, e.DataHash[:]...)
	}
	return buf
}

// DecodeProofSeries splits a flat series back into tuples. The input length
// must be an exact multiple of the tuple size.
func DecodeProofSeries(b []byte) ([]ProofEntry, error) {
	if len(b)%proofEntryLen != 0 {
		return nil, ErrMalformedPayload
	}
	entries := make([]ProofEntry, 0, len(b)/proofEntryLen)
	r := reader{buf: b}
	for r.off < len(b) {
		entries = append(entries, ProofEntry{
			ChainID:     r.hash(),
			Oracle:      r.hash(),
			Application: r.hash(),
			DataHash:    r.hash(),
		})
	}
	return entries, nil
}

func amountBytes(v *big.Int) (common.Hash, error) {
	var out common.Hash
	if v == nil {
		return out, nil
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return out, ErrMalformedPayload
	}
	v.FillBytes(out[:])
	return out, nil
}

// reader is a bounds-checked cursor; once a read runs past the end, failed
// latches and every subsequent read returns zero values.
type reader struct {
	buf    []byte
	off    int
	failed bool
}

func (r *reader) take(n int) []byte {
	if r.failed || r.off+n > len(r.buf) {
		r.failed = true
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) hash() common.Hash {
	var h common.Hash
	if b := r.take(32); b != nil {
		copy(h[:], b)
	}
	return h
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) varBytes() []byte {
	n := int(r.uint16())
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
