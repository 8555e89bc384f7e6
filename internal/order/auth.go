package order

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSigner is returned when a signature is malformed or was not
// produced by the expected key.
var ErrInvalidSigner = errors.New("order: invalid signer")

// PurchaseAuthorization is everything a solver signs away when selling an
// order: who may buy it, at what discount, until when, and how fresh the fill
// must be for the purchase to be honored.
type PurchaseAuthorization struct {
	OrderID     common.Hash
	Purchaser   common.Address
	DiscountBps uint16
	Expiry      uint32
	TimeToBuy   uint32
}

var purchaseAuthTag = crypto.Keccak256Hash([]byte(
	"PurchaseAuthorization(bytes32 orderId,address purchaser,uint16 discountBps,uint32 expiry,uint32 timeToBuy)",
))

// Digest returns the canonical hash the solver signs (EIP-191 wrapped).
func (a *PurchaseAuthorization) Digest() [32]byte {
	buf := make([]byte, 0, 32+32+32+2+4+4)
	buf = append(buf, purchaseAuthTag[:]...)
	buf = append(buf, a.OrderID[:]...)
	buf = append(buf, AddressToBytes32(a.Purchaser).Bytes()...)
	buf = binary.BigEndian.AppendUint16(buf, a.DiscountBps)
	buf = binary.BigEndian.AppendUint32(buf, a.Expiry)
	buf = binary.BigEndian.AppendUint32(buf, a.TimeToBuy)
	return crypto.Keccak256Hash(buf)
}

// FinaliseAuthorization lets the resolved order owner delegate the finalise
// call to an external caller, pinned to a destination and callback.
type FinaliseAuthorization struct {
	OrderID      common.Hash
	Caller       common.Address
	Destination  common.Hash
	CallbackHash common.Hash
}

var finaliseAuthTag = crypto.Keccak256Hash([]byte(
	"FinaliseAuthorization(bytes32 orderId,address caller,bytes32 destination,bytes32 callbackHash)",
))

func (a *FinaliseAuthorization) Digest() [32]byte {
	buf := make([]byte, 0, 4*32+32)
	buf = append(buf, finaliseAuthTag[:]...)
	buf = append(buf, a.OrderID[:]...)
	buf = append(buf, AddressToBytes32(a.Caller).Bytes()...)
	buf = append(buf, a.Destination[:]...)
	buf = append(buf, a.CallbackHash[:]...)
	return crypto.Keccak256Hash(buf)
}

// SignDigest wraps a struct digest in the EIP-191 personal-message prefix and
// signs it. V is normalized to 27/28.
func SignDigest(digest [32]byte, privKey *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(personal(digest), privKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverDigestSigner recovers the address that signed an EIP-191 wrapped
// struct digest.
func RecoverDigestSigner(digest [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, ErrInvalidSigner
	}
	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pub, err := crypto.SigToPub(personal(digest), sigCopy)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// personal builds the EIP-191 prefixed hash:
// keccak256("\x19Ethereum Signed Message:\n32" + digest)
func personal(digest [32]byte) []byte {
	return crypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), digest[:])
}
