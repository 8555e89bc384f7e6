package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/attest"
)

var (
	// ErrRootAlreadySet guards one-shot epoch root registration.
	ErrRootAlreadySet = errors.New("oracle: epoch root already set")

	// ErrUnknownEpoch is returned for proofs against an unregistered epoch.
	ErrUnknownEpoch = errors.New("oracle: unknown epoch")

	// ErrBadInclusionProof means the branch does not fold to the epoch root.
	ErrBadInclusionProof = errors.New("oracle: inclusion proof does not match root")
)

// LogProofAdapter trusts an append-only log: epoch roots are registered once
// (by whatever governance watches the remote log), and a proof is a merkle
// branch showing the envelope was appended under a registered root.
//
// Proof layout:
// remoteChain(32) | epoch(8) | index(8) | branchLen(1) | [node(32)]* | envelope.
type LogProofAdapter struct {
	core

	mu    sync.RWMutex
	roots map[uint64]common.Hash
}

func NewLogProofAdapter(
	identity common.Hash,
	pub Publisher,
	chains *ChainMap,
	expect map[common.Hash]Expectation,
	store attest.Store,
	log *zap.Logger,
) *LogProofAdapter {
	return &LogProofAdapter{
		core: core{
			identity: identity,
			pub:      pub,
			chains:   chains,
			expect:   expect,
			store:    store,
			log:      log,
		},
		roots: make(map[uint64]common.Hash),
	}
}

// SetRoot registers the merkle root of one log epoch, exactly once.
func (a *LogProofAdapter) SetRoot(epoch uint64, root common.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.roots[epoch]; ok {
		return ErrRootAlreadySet
	}
	a.roots[epoch] = root
	return nil
}

func (a *LogProofAdapter) Submit(ctx context.Context, source PayloadSource, payloads [][]byte) error {
	return a.submit(ctx, source, payloads)
}

func (a *LogProofAdapter) Receive(ctx context.Context, rawProof []byte) error {
	const fixed = 32 + 8 + 8 + 1
	if len(rawProof) < fixed {
		return ErrMalformedProof
	}
	remoteChain := common.BytesToHash(rawProof[:32])
	epoch := binary.BigEndian.Uint64(rawProof[32:40])
	index := binary.BigEndian.Uint64(rawProof[40:48])
	branchLen := int(rawProof[48])
	if len(rawProof) < fixed+branchLen*32 {
		return ErrMalformedProof
	}

	branch := make([]common.Hash, branchLen)
	off := fixed
	for i := 0; i < branchLen; i++ {
		copy(branch[i][:], rawProof[off:off+32])
		off += 32
	}
	envelope := rawProof[off:]

	a.mu.RLock()
	root, ok := a.roots[epoch]
	a.mu.RUnlock()
	if !ok {
		return ErrUnknownEpoch
	}

	leaf := crypto.Keccak256Hash(envelope)
	if merkleRoot(leaf, index, branch) != root {
		return ErrBadInclusionProof
	}

	return a.ingest(ctx, remoteChain, envelope)
}
