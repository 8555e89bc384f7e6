package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/attest"
)

var (
	// ErrNotEnoughConfirmations means the proving header is too close to the
	// remote tip.
	ErrNotEnoughConfirmations = errors.New("oracle: not enough confirmations")

	// ErrHeaderOutsideWindow rejects headers whose timestamp falls outside
	// the accepted freshness window.
	ErrHeaderOutsideWindow = errors.New("oracle: header timestamp outside window")
)

// Header is the slice of a remote block header a light client verifies:
// height, time, and the commitment to the payload envelopes included at that
// height.
type Header struct {
	Number      uint64
	Time        uint32
	PayloadRoot common.Hash
}

// HeaderSource is the pluggable light client for one remote chain. The
// chain-specific verification (PoW target checks, signature sets) lives
// behind this interface; the adapter only consumes verified headers.
type HeaderSource interface {
	Tip(ctx context.Context) (Header, error)
	ByNumber(ctx context.Context, number uint64) (Header, error)
}

// LightClientAdapter proves inclusion against a verified header chain with a
// confirmation-depth rule and a timestamp freshness window, the shape
// SPV-style backends take.
//
// Proof layout:
// remoteChain(32) | height(8) | index(8) | branchLen(1) | [node(32)]* | envelope.
type LightClientAdapter struct {
	core

	headers       HeaderSource
	confirmations uint64
	window        time.Duration
	now           func() time.Time
}

func NewLightClientAdapter(
	identity common.Hash,
	pub Publisher,
	chains *ChainMap,
	expect map[common.Hash]Expectation,
	store attest.Store,
	headers HeaderSource,
	confirmations uint64,
	window time.Duration,
	log *zap.Logger,
) *LightClientAdapter {
	return &LightClientAdapter{
		core: core{
			identity: identity,
			pub:      pub,
			chains:   chains,
			expect:   expect,
			store:    store,
			log:      log,
		},
		headers:       headers,
		confirmations: confirmations,
		window:        window,
		now:           time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (a *LightClientAdapter) SetClock(now func() time.Time) { a.now = now }

func (a *LightClientAdapter) Submit(ctx context.Context, source PayloadSource, payloads [][]byte) error {
	return a.submit(ctx, source, payloads)
}

func (a *LightClientAdapter) Receive(ctx context.Context, rawProof []byte) error {
	const fixed = 32 + 8 + 8 + 1
	if len(rawProof) < fixed {
		return ErrMalformedProof
	}
	remoteChain := common.BytesToHash(rawProof[:32])
	height := binary.BigEndian.Uint64(rawProof[32:40])
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

	tip, err := a.headers.Tip(ctx)
	if err != nil {
		return err
	}
	if tip.Number < height+a.confirmations {
		return ErrNotEnoughConfirmations
	}

	header, err := a.headers.ByNumber(ctx, height)
	if err != nil {
		return err
	}
	age := a.now().Unix() - int64(header.Time)
	if age < 0 || age > int64(a.window.Seconds()) {
		return ErrHeaderOutsideWindow
	}

	leaf := crypto.Keccak256Hash(envelope)
	if merkleRoot(leaf, index, branch) != header.PayloadRoot {
		return ErrBadInclusionProof
	}

	return a.ingest(ctx, remoteChain, envelope)
}
