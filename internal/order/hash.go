package order

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ID computes the canonical order identifier: keccak256 over a fixed-width
// serialization of every economically meaningful field. Nested lists are
// reduced to sub-hashes with explicit element counts so two different input
// or output lists can never serialize to the same bytes.
func (o *Order) ID() common.Hash {
	buf := make([]byte, 0, 32*7)
	buf = append(buf, AddressToBytes32(o.User).Bytes()...)
	buf = appendUint256(buf, o.Nonce)
	buf = appendUint256(buf, o.OriginChainID)
	buf = binary.BigEndian.AppendUint32(buf, o.Expires)
	buf = binary.BigEndian.AppendUint32(buf, o.FillDeadline)
	buf = append(buf, o.InputOracle[:]...)

	inputs := hashInputs(o.Inputs)
	buf = append(buf, inputs[:]...)
	outputs := HashOutputs(o.Outputs)
	buf = append(buf, outputs[:]...)

	return crypto.Keccak256Hash(buf)
}

// OutputHash is the per-leg key used both for fill dedup on the destination
// chain and for attestation lookup on the origin chain. It covers oracle,
// settler and chain id, so a payload for one deployment can never satisfy
// another.
func OutputHash(out *Output) common.Hash {
	buf := make([]byte, 0, 32*6+4+len(out.Call)+len(out.Context))
	buf = append(buf, out.Oracle[:]...)
	buf = append(buf, out.Settler[:]...)
	buf = appendUint256(buf, out.ChainID)
	buf = append(buf, out.Token[:]...)
	buf = appendUint256(buf, out.Amount)
	buf = append(buf, out.Recipient[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(out.Call)))
	buf = append(buf, out.Call...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(out.Context)))
	buf = append(buf, out.Context...)
	return crypto.Keccak256Hash(buf)
}

// HashOutputs reduces an output list to a single hash: count(2) followed by
// each element's OutputHash.
func HashOutputs(outs []Output) common.Hash {
	buf := make([]byte, 0, 2+32*len(outs))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(outs)))
	for i := range outs {
		h := OutputHash(&outs[i])
		buf = append(buf, h[:]...)
	}
	return crypto.Keccak256Hash(buf)
}

func hashInputs(ins []Input) common.Hash {
	buf := make([]byte, 0, 2+64*len(ins))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(ins)))
	for i := range ins {
		buf = append(buf, ins[i].Token[:]...)
		buf = appendUint256(buf, ins[i].Amount)
	}
	return crypto.Keccak256Hash(buf)
}

func appendUint256(b []byte, v *big.Int) []byte {
	var slot [32]byte
	if v != nil {
		v.FillBytes(slot[:])
	}
	return append(b, slot[:]...)
}
