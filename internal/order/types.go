// Package order defines the cross-chain intent structures and their canonical
// identity and signing hashes. The order identifier and the per-output hash
// are the keys every other component is built around: the output hash is the
// dedup key on the destination chain and the attestation lookup key on the
// origin chain, so both sides must compute it byte-identically.
package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Order is a signed cross-domain intent: the inputs the user gives up on the
// origin chain and the outputs a solver must deliver remotely.
type Order struct {
	User          common.Address `json:"user"`
	Nonce         *big.Int       `json:"nonce"`
	OriginChainID *big.Int       `json:"origin_chain_id"`
	Expires       uint32         `json:"expires"`
	FillDeadline  uint32         `json:"fill_deadline"`
	InputOracle   common.Hash    `json:"input_oracle"`
	Inputs        []Input        `json:"inputs"`
	Outputs       []Output       `json:"outputs"`
}

// Input is one (token, amount) pair escrowed on the origin chain.
type Input struct {
	Token  common.Hash `json:"token"`
	Amount *big.Int    `json:"amount"`
}

// Output is one deliverable leg of an order. Identifiers are chain-agnostic
// 32-byte values; addresses on 20-byte chains are left-padded.
type Output struct {
	Oracle    common.Hash `json:"oracle"`
	Settler   common.Hash `json:"settler"`
	ChainID   *big.Int    `json:"chain_id"`
	Token     common.Hash `json:"token"`
	Amount    *big.Int    `json:"amount"`
	Recipient common.Hash `json:"recipient"`
	Call      []byte      `json:"call,omitempty"`
	Context   []byte      `json:"context,omitempty"`
}

// AddressToBytes32 left-pads a 20-byte address into the chain-agnostic form.
func AddressToBytes32(a common.Address) common.Hash {
	var h common.Hash
	copy(h[12:], a.Bytes())
	return h
}

// Bytes32ToAddress truncates a chain-agnostic identifier back to an EVM
// address (the low 20 bytes).
func Bytes32ToAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h[12:])
}
