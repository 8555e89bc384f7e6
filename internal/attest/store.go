// Package attest is the shared attestation table every oracle backend writes
// into: an append-only set of (chain, sender, application, payloadHash)
// tuples. Once a tuple is recorded it is proven forever; there is no delete.
package attest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openintents/settler/internal/wire"
)

// ErrNotProven is returned by RequireProven on the first missing tuple.
var ErrNotProven = errors.New("attest: payload not proven")

// Store records and checks remote attestations.
type Store interface {
	// Record inserts a tuple; inserting an existing tuple is a no-op.
	Record(ctx context.Context, chainID, sender, app, dataHash common.Hash) error

	// IsProven reports whether a tuple has been recorded.
	IsProven(ctx context.Context, chainID, sender, app, dataHash common.Hash) (bool, error)

	// RequireProven checks a whole series and fails fast on the first tuple
	// not present. An empty series succeeds trivially.
	RequireProven(ctx context.Context, series []wire.ProofEntry) error
}

// MemStore is the in-process Store used by the settlement engine's atomic
// paths and by tests.
type MemStore struct {
	mu   sync.RWMutex
	seen map[[4]common.Hash]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{seen: make(map[[4]common.Hash]struct{})}
}

func (s *MemStore) Record(_ context.Context, chainID, sender, app, dataHash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[[4]common.Hash{chainID, sender, app, dataHash}] = struct{}{}
	return nil
}

func (s *MemStore) IsProven(_ context.Context, chainID, sender, app, dataHash common.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[[4]common.Hash{chainID, sender, app, dataHash}]
	return ok, nil
}

func (s *MemStore) RequireProven(ctx context.Context, series []wire.ProofEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range series {
		e := &series[i]
		key := [4]common.Hash{e.ChainID, e.Oracle, e.Application, e.DataHash}
		if _, ok := s.seen[key]; !ok {
			return fmt.Errorf("%w: chain %s app %s hash %s",
				ErrNotProven, e.ChainID.Hex(), e.Application.Hex(), e.DataHash.Hex())
		}
	}
	return nil
}
