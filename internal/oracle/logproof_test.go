package oracle

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/attest"
)

func buildLogProof(remote common.Hash, epoch, index uint64, branch []common.Hash, envelope []byte) []byte {
	proof := make([]byte, 0, 49+len(branch)*32+len(envelope))
	proof = append(proof, remote[:]...)
	proof = binary.BigEndian.AppendUint64(proof, epoch)
	proof = binary.BigEndian.AppendUint64(proof, index)
	proof = append(proof, byte(len(branch)))
	for _, node := range branch {
		proof = append(proof, node[:]...)
	}
	return append(proof, envelope...)
}

func newLogAdapter(t *testing.T, store attest.Store) *LogProofAdapter {
	t.Helper()
	return NewLogProofAdapter(localOracle, &memPublisher{}, mappedChains(t), expectations(), store, zap.NewNop())
}

func TestLogProof_SetRootOnce(t *testing.T) {
	a := newLogAdapter(t, attest.NewMemStore())
	if err := a.SetRoot(1, common.HexToHash("0x01")); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	if err := a.SetRoot(1, common.HexToHash("0x02")); err != ErrRootAlreadySet {
		t.Fatalf("expected ErrRootAlreadySet, got %v", err)
	}
}

func TestLogProof_ReceiveVerifiesInclusion(t *testing.T) {
	store := attest.NewMemStore()
	a := newLogAdapter(t, store)

	payload := []byte("fill-payload")
	env := envelopeWith(t, [][]byte{payload})
	other := envelopeWith(t, [][]byte{[]byte("other")})

	leaves := []common.Hash{crypto.Keccak256Hash(env), crypto.Keccak256Hash(other)}
	root, branches := BuildMerkle(leaves)
	if err := a.SetRoot(7, root); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}

	proof := buildLogProof(remoteChain, 7, 0, branches[0], env)
	if err := a.Receive(context.Background(), proof); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	ok, _ := store.IsProven(context.Background(), canonChain, remoteOracle, remoteApp, crypto.Keccak256Hash(payload))
	if !ok {
		t.Fatal("payload must be proven after log-proof receive")
	}
}

func TestLogProof_WrongBranch(t *testing.T) {
	a := newLogAdapter(t, attest.NewMemStore())

	env := envelopeWith(t, [][]byte{[]byte("p")})
	other := envelopeWith(t, [][]byte{[]byte("other")})
	leaves := []common.Hash{crypto.Keccak256Hash(env), crypto.Keccak256Hash(other)}
	root, branches := BuildMerkle(leaves)
	if err := a.SetRoot(7, root); err != nil {
		t.Fatal(err)
	}

	// Branch for the wrong leaf.
	proof := buildLogProof(remoteChain, 7, 0, branches[1], env)
	if err := a.Receive(context.Background(), proof); err != ErrBadInclusionProof {
		t.Fatalf("expected ErrBadInclusionProof, got %v", err)
	}
}

func TestLogProof_UnknownEpoch(t *testing.T) {
	a := newLogAdapter(t, attest.NewMemStore())
	env := envelopeWith(t, [][]byte{[]byte("p")})
	proof := buildLogProof(remoteChain, 42, 0, nil, env)
	if err := a.Receive(context.Background(), proof); err != ErrUnknownEpoch {
		t.Fatalf("expected ErrUnknownEpoch, got %v", err)
	}
}

func TestLogProof_Truncated(t *testing.T) {
	a := newLogAdapter(t, attest.NewMemStore())
	if err := a.Receive(context.Background(), make([]byte, 10)); err != ErrMalformedProof {
		t.Fatalf("expected ErrMalformedProof, got %v", err)
	}
}

// ── Merkle helpers ────────────────────────────────────────────────────────────

func TestBuildMerkle_AllLeavesVerify(t *testing.T) {
	leaves := make([]common.Hash, 5) // odd count exercises padding
	for i := range leaves {
		leaves[i] = crypto.Keccak256Hash([]byte{byte(i)})
	}
	root, branches := BuildMerkle(leaves)
	for i, leaf := range leaves {
		if merkleRoot(leaf, uint64(i), branches[i]) != root {
			t.Fatalf("leaf %d does not fold to root", i)
		}
	}
}

func TestBuildMerkle_SingleLeaf(t *testing.T) {
	leaf := crypto.Keccak256Hash([]byte("only"))
	root, branches := BuildMerkle([]common.Hash{leaf})
	if root != leaf {
		t.Fatal("single-leaf root is the leaf itself")
	}
	if len(branches[0]) != 0 {
		t.Fatal("single leaf needs no branch")
	}
}

// ── Light client ──────────────────────────────────────────────────────────────

type fakeHeaders struct {
	tip     Header
	headers map[uint64]Header
}

func (f *fakeHeaders) Tip(context.Context) (Header, error) { return f.tip, nil }
func (f *fakeHeaders) ByNumber(_ context.Context, n uint64) (Header, error) {
	return f.headers[n], nil
}

func newLightAdapter(t *testing.T, store attest.Store, hs HeaderSource) *LightClientAdapter {
	t.Helper()
	a := NewLightClientAdapter(localOracle, &memPublisher{}, mappedChains(t), expectations(), store, hs, 6, time.Hour, zap.NewNop())
	a.SetClock(func() time.Time { return time.Unix(1_700_000_600, 0) })
	return a
}

func TestLightClient_ReceiveVerifies(t *testing.T) {
	store := attest.NewMemStore()
	payload := []byte("fill-payload")
	env := envelopeWith(t, [][]byte{payload})
	root, branches := BuildMerkle([]common.Hash{crypto.Keccak256Hash(env)})

	hs := &fakeHeaders{
		tip: Header{Number: 106},
		headers: map[uint64]Header{
			100: {Number: 100, Time: 1_700_000_000, PayloadRoot: root},
		},
	}
	a := newLightAdapter(t, store, hs)

	proof := buildLogProof(remoteChain, 100, 0, branches[0], env)
	if err := a.Receive(context.Background(), proof); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	ok, _ := store.IsProven(context.Background(), canonChain, remoteOracle, remoteApp, crypto.Keccak256Hash(payload))
	if !ok {
		t.Fatal("payload must be proven after light-client receive")
	}
}

func TestLightClient_NotEnoughConfirmations(t *testing.T) {
	env := envelopeWith(t, [][]byte{[]byte("p")})
	root, branches := BuildMerkle([]common.Hash{crypto.Keccak256Hash(env)})
	hs := &fakeHeaders{
		tip:     Header{Number: 104}, // only 4 deep
		headers: map[uint64]Header{100: {Number: 100, Time: 1_700_000_000, PayloadRoot: root}},
	}
	a := newLightAdapter(t, attest.NewMemStore(), hs)

	proof := buildLogProof(remoteChain, 100, 0, branches[0], env)
	if err := a.Receive(context.Background(), proof); err != ErrNotEnoughConfirmations {
		t.Fatalf("expected ErrNotEnoughConfirmations, got %v", err)
	}
}

func TestLightClient_StaleHeader(t *testing.T) {
	env := envelopeWith(t, [][]byte{[]byte("p")})
	root, branches := BuildMerkle([]common.Hash{crypto.Keccak256Hash(env)})
	hs := &fakeHeaders{
		tip: Header{Number: 200},
		// More than an hour older than the adapter clock.
		headers: map[uint64]Header{100: {Number: 100, Time: 1_690_000_000, PayloadRoot: root}},
	}
	a := newLightAdapter(t, attest.NewMemStore(), hs)

	proof := buildLogProof(remoteChain, 100, 0, branches[0], env)
	if err := a.Receive(context.Background(), proof); err != ErrHeaderOutsideWindow {
		t.Fatalf("expected ErrHeaderOutsideWindow, got %v", err)
	}
}
