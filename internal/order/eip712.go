package order

import (
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	orderTypeHash = crypto.Keccak256Hash([]byte(
		"IntentOrder(address user,uint256 nonce,uint256 originChainId,uint32 expires,uint32 fillDeadline,bytes32 inputOracle,bytes32 inputsHash,bytes32 outputsHash)",
	))
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	domainNameHash    = crypto.Keccak256Hash([]byte("OpenIntents Settler"))
	domainVersionHash = crypto.Keccak256Hash([]byte("1"))
)

// DomainSeparator computes the EIP-712 domain separator for a deployment.
func DomainSeparator(chainID *big.Int, verifyingContract common.Address) [32]byte {
	// ABI-encode: (bytes32, bytes32, bytes32, uint256, address)
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], domainNameHash[:])
	copy(encoded[64:96], domainVersionHash[:])
	chainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], verifyingContract.Bytes()) // addr is right-aligned in its slot

	return crypto.Keccak256Hash(encoded)
}

// WitnessHash is the domain-separated digest a wallet signs to authorize an
// order. Nested lists enter as sub-hashes so signing tooling can render the
// struct field-by-field.
func (o *Order) WitnessHash(chainID *big.Int, verifyingContract common.Address) [32]byte {
	encoded := make([]byte, 9*32)
	copy(encoded[0:32], orderTypeHash[:])
	copy(encoded[44:64], o.User.Bytes())
	if o.Nonce != nil {
		o.Nonce.FillBytes(encoded[64:96])
	}
	if o.OriginChainID != nil {
		o.OriginChainID.FillBytes(encoded[96:128])
	}
	binary.BigEndian.PutUint32(encoded[156:160], o.Expires)
	binary.BigEndian.PutUint32(encoded[188:192], o.FillDeadline)
	copy(encoded[192:224], o.InputOracle[:])
	inputs := hashInputs(o.Inputs)
	copy(encoded[224:256], inputs[:])
	outputs := HashOutputs(o.Outputs)
	copy(encoded[256:288], outputs[:])

	structHash := crypto.Keccak256Hash(encoded)
	sep := DomainSeparator(chainID, verifyingContract)

	// digest = keccak256(0x1901 || domainSeparator || structHash)
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// Sign produces the 65-byte wallet signature over the witness hash, with V
// normalized to 27/28 for on-chain ecrecover compatibility.
func Sign(o *Order, privKey *ecdsa.PrivateKey, chainID *big.Int, verifyingContract common.Address) ([]byte, error) {
	digest := o.WitnessHash(chainID, verifyingContract)
	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner returns the address that signed the order's witness hash.
// sig must be 65 bytes (R || S || V), V in {0,1} or {27,28}.
func RecoverSigner(o *Order, sig []byte, chainID *big.Int, verifyingContract common.Address) (common.Address, error) {
	digest := o.WitnessHash(chainID, verifyingContract)
	return recoverDigest(digest, sig)
}

func recoverDigest(digest [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, ErrInvalidSigner
	}
	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sigCopy)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
