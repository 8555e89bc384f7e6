// Package oracle transports fill attestations between domains. Every backend
// shares the same two capabilities: Submit packages payloads the local
// output settler vouches for and hands them to a transport, and Receive
// verifies a transport-specific proof and writes the attested payload hashes
// into the shared attestation store. Trust roots differ per backend
// (guardian quorum, append-only-log root, light-client headers); everything
// around them is common.
package oracle

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/attest"
	"github.com/openintents/settler/internal/wire"
)

var (
	// ErrInvalidPayloads means the local source refused to vouch for the
	// submitted payloads.
	ErrInvalidPayloads = errors.New("oracle: source rejected payloads")

	// ErrWrongChain rejects proofs naming a chain this adapter is not
	// configured for.
	ErrWrongChain = errors.New("oracle: proof names an unexpected chain")

	// ErrWrongSource rejects proofs whose embedded application identifier
	// does not match the configured remote settler.
	ErrWrongSource = errors.New("oracle: proof names an unexpected source")

	// ErrChainAlreadySet guards the one-time chain mapping.
	ErrChainAlreadySet = errors.New("oracle: chain mapping already set")

	// ErrMalformedProof is returned for truncated or garbled proof bytes.
	ErrMalformedProof = errors.New("oracle: malformed proof")
)

// PayloadSource is the destination-side application an adapter submits for,
// normally the output settler.
type PayloadSource interface {
	Identity() common.Hash
	PayloadsValid(oracleIdentity common.Hash, payloads [][]byte) bool
}

// Publisher is the transport-specific publish primitive: header relay,
// guardian broadcast, or log append.
type Publisher interface {
	Publish(ctx context.Context, identifier common.Hash, envelope []byte) error
}

// Adapter is the capability set every oracle backend implements.
type Adapter interface {
	Submit(ctx context.Context, source PayloadSource, payloads [][]byte) error
	Receive(ctx context.Context, rawProof []byte) error
}

// ChainMap is the one-time-settable bidirectional mapping between a
// transport-native chain identifier and the canonical chain id. Once either
// direction is set it can never be remapped.
type ChainMap struct {
	mu          sync.RWMutex
	toCanonical map[common.Hash]common.Hash
	toRemote    map[common.Hash]common.Hash
}

func NewChainMap() *ChainMap {
	return &ChainMap{
		toCanonical: make(map[common.Hash]common.Hash),
		toRemote:    make(map[common.Hash]common.Hash),
	}
}

func (m *ChainMap) Set(remote, canonical common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.toCanonical[remote]; ok {
		return ErrChainAlreadySet
	}
	if _, ok := m.toRemote[canonical]; ok {
		return ErrChainAlreadySet
	}
	m.toCanonical[remote] = canonical
	m.toRemote[canonical] = remote
	return nil
}

func (m *ChainMap) Canonical(remote common.Hash) (common.Hash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.toCanonical[remote]
	return c, ok
}

func (m *ChainMap) Remote(canonical common.Hash) (common.Hash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.toRemote[canonical]
	return r, ok
}

// Expectation pins the remote identities this adapter will accept proofs
// from, per canonical chain.
type Expectation struct {
	Oracle common.Hash // remote oracle deployment
	App    common.Hash // remote output settler
}

// core carries what every backend shares: identity, transport, chain
// mapping, per-chain expectations, and the attestation store it writes into.
type core struct {
	identity common.Hash
	pub      Publisher
	chains   *ChainMap
	expect   map[common.Hash]Expectation // keyed by canonical chain id
	store    attest.Store
	log      *zap.Logger
}

// submit validates payloads with the source, wraps them in the envelope and
// publishes under an identifier derived from (source, this oracle).
func (c *core) submit(ctx context.Context, source PayloadSource, payloads [][]byte) error {
	if !source.PayloadsValid(c.identity, payloads) {
		return ErrInvalidPayloads
	}
	env, err := wire.EncodeMessage(&wire.Message{Sender: source.Identity(), Payloads: payloads})
	if err != nil {
		return err
	}
	identifier := crypto.Keccak256Hash(source.Identity().Bytes(), c.identity.Bytes())
	if err := c.pub.Publish(ctx, identifier, env); err != nil {
		return err
	}
	c.log.Info("payloads submitted",
		zap.String("source", source.Identity().Hex()),
		zap.Int("count", len(payloads)),
	)
	return nil
}

// ingest is the common tail of Receive: map the transport-native chain id,
// check the embedded application against the configured expectation, and
// record every payload hash.
func (c *core) ingest(ctx context.Context, remoteChain common.Hash, envelope []byte) error {
	canonical, ok := c.chains.Canonical(remoteChain)
	if !ok {
		return ErrWrongChain
	}
	exp, ok := c.expect[canonical]
	if !ok {
		return ErrWrongChain
	}

	msg, err := wire.DecodeMessage(envelope)
	if err != nil {
		return err
	}
	if msg.Sender != exp.App {
		return ErrWrongSource
	}

	for _, payload := range msg.Payloads {
		dataHash := crypto.Keccak256Hash(payload)
		if err := c.store.Record(ctx, canonical, exp.Oracle, msg.Sender, dataHash); err != nil {
			return err
		}
	}
	c.log.Info("attestations recorded",
		zap.String("chain", canonical.Hex()),
		zap.Int("count", len(msg.Payloads)),
	)
	return nil
}
