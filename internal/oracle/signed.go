package oracle

import (
	"context"
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/attest"
)

// ErrQuorumNotMet means fewer distinct guardians signed than the threshold.
var ErrQuorumNotMet = errors.New("oracle: guardian quorum not met")

// SignedAdapter trusts an external guardian set: a proof is valid when a
// threshold of known guardians signed the (remoteChain || envelope) digest.
//
// Proof layout: remoteChain(32) | sigCount(1) | [sig(65)]* | envelope.
type SignedAdapter struct {
	core
	guardians map[common.Address]struct{}
	threshold int
}

func NewSignedAdapter(
	identity common.Hash,
	pub Publisher,
	chains *ChainMap,
	expect map[common.Hash]Expectation,
	store attest.Store,
	guardians []common.Address,
	threshold int,
	log *zap.Logger,
) *SignedAdapter {
	set := make(map[common.Address]struct{}, len(guardians))
	for _, g := range guardians {
		set[g] = struct{}{}
	}
	return &SignedAdapter{
		core: core{
			identity: identity,
			pub:      pub,
			chains:   chains,
			expect:   expect,
			store:    store,
			log:      log,
		},
		guardians: set,
		threshold: threshold,
	}
}

func (a *SignedAdapter) Submit(ctx context.Context, source PayloadSource, payloads [][]byte) error {
	return a.submit(ctx, source, payloads)
}

func (a *SignedAdapter) Receive(ctx context.Context, rawProof []byte) error {
	if len(rawProof) < 32+1 {
		return ErrMalformedProof
	}
	remoteChain := common.BytesToHash(rawProof[:32])
	sigCount := int(rawProof[32])
	off := 33
	if len(rawProof) < off+sigCount*65 {
		return ErrMalformedProof
	}

	envelope := rawProof[off+sigCount*65:]
	digest := crypto.Keccak256(remoteChain[:], envelope)

	signed := make(map[common.Address]struct{}, sigCount)
	for i := 0; i < sigCount; i++ {
		sig := make([]byte, 65)
		copy(sig, rawProof[off+i*65:off+(i+1)*65])
		if sig[64] >= 27 {
			sig[64] -= 27
		}
		pub, err := crypto.SigToPub(digest, sig)
		if err != nil {
			return ErrMalformedProof
		}
		signer := crypto.PubkeyToAddress(*pub)
		if _, ok := a.guardians[signer]; ok {
			signed[signer] = struct{}{}
		}
	}
	if len(signed) < a.threshold {
		return ErrQuorumNotMet
	}

	return a.ingest(ctx, remoteChain, envelope)
}

// BuildSignedProof assembles a proof from guardian signatures over the
// (remoteChain || envelope) digest. Guardian-side helper, also used in tests.
func BuildSignedProof(remoteChain common.Hash, envelope []byte, keys []*ecdsa.PrivateKey) ([]byte, error) {
	if len(keys) > 255 {
		return nil, ErrMalformedProof
	}
	digest := crypto.Keccak256(remoteChain[:], envelope)

	proof := make([]byte, 0, 33+len(keys)*65+len(envelope))
	proof = append(proof, remoteChain[:]...)
	proof = append(proof, byte(len(keys)))
	for _, key := range keys {
		sig, err := crypto.Sign(digest, key)
		if err != nil {
			return nil, err
		}
		proof = append(proof, sig...)
	}
	return append(proof, envelope...), nil
}
