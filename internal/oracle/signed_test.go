package oracle

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/attest"
)

func guardianSet(t *testing.T, n int) ([]*ecdsa.PrivateKey, []common.Address) {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, n)
	addrs := make([]common.Address, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		keys[i] = key
		addrs[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return keys, addrs
}

func newSignedAdapter(t *testing.T, store attest.Store, guardians []common.Address, threshold int) *SignedAdapter {
	t.Helper()
	return NewSignedAdapter(localOracle, &memPublisher{}, mappedChains(t), expectations(), store, guardians, threshold, zap.NewNop())
}

func TestSignedReceive_QuorumIngests(t *testing.T) {
	keys, addrs := guardianSet(t, 3)
	store := attest.NewMemStore()
	a := newSignedAdapter(t, store, addrs, 2)

	payload := []byte("fill-payload")
	env := envelopeWith(t, [][]byte{payload})
	proof, err := BuildSignedProof(remoteChain, env, keys[:2])
	if err != nil {
		t.Fatalf("BuildSignedProof: %v", err)
	}

	if err := a.Receive(context.Background(), proof); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	ok, _ := store.IsProven(context.Background(), canonChain, remoteOracle, remoteApp, crypto.Keccak256Hash(payload))
	if !ok {
		t.Fatal("payload must be proven after quorum receive")
	}
}

func TestSignedReceive_BelowQuorum(t *testing.T) {
	keys, addrs := guardianSet(t, 3)
	a := newSignedAdapter(t, attest.NewMemStore(), addrs, 2)

	env := envelopeWith(t, [][]byte{[]byte("p")})
	proof, _ := BuildSignedProof(remoteChain, env, keys[:1])
	if err := a.Receive(context.Background(), proof); err != ErrQuorumNotMet {
		t.Fatalf("expected ErrQuorumNotMet, got %v", err)
	}
}

func TestSignedReceive_DuplicateSignaturesDontCount(t *testing.T) {
	keys, addrs := guardianSet(t, 2)
	a := newSignedAdapter(t, attest.NewMemStore(), addrs, 2)

	env := envelopeWith(t, [][]byte{[]byte("p")})
	proof, _ := BuildSignedProof(remoteChain, env, []*ecdsa.PrivateKey{keys[0], keys[0]})
	if err := a.Receive(context.Background(), proof); err != ErrQuorumNotMet {
		t.Fatalf("duplicate guardian must not reach quorum, got %v", err)
	}
}

func TestSignedReceive_StrangerSignaturesDontCount(t *testing.T) {
	_, addrs := guardianSet(t, 2)
	strangers, _ := guardianSet(t, 2)
	a := newSignedAdapter(t, attest.NewMemStore(), addrs, 1)

	env := envelopeWith(t, [][]byte{[]byte("p")})
	proof, _ := BuildSignedProof(remoteChain, env, strangers)
	if err := a.Receive(context.Background(), proof); err != ErrQuorumNotMet {
		t.Fatalf("stranger signatures must not count, got %v", err)
	}
}

func TestSignedReceive_TamperedEnvelope(t *testing.T) {
	keys, addrs := guardianSet(t, 1)
	a := newSignedAdapter(t, attest.NewMemStore(), addrs, 1)

	env := envelopeWith(t, [][]byte{[]byte("p")})
	proof, _ := BuildSignedProof(remoteChain, env, keys)
	proof[len(proof)-1] ^= 0xFF // flip a byte inside the envelope

	err := a.Receive(context.Background(), proof)
	if err == nil {
		t.Fatal("tampered envelope must not verify")
	}
}

func TestSignedReceive_Truncated(t *testing.T) {
	keys, addrs := guardianSet(t, 1)
	a := newSignedAdapter(t, attest.NewMemStore(), addrs, 1)

	env := envelopeWith(t, [][]byte{[]byte("p")})
	proof, _ := BuildSignedProof(remoteChain, env, keys)

	if err := a.Receive(context.Background(), proof[:10]); err != ErrMalformedProof {
		t.Fatalf("expected ErrMalformedProof, got %v", err)
	}
	if err := a.Receive(context.Background(), proof[:33+30]); err != ErrMalformedProof {
		t.Fatalf("expected ErrMalformedProof for cut signatures, got %v", err)
	}
}

func TestSignedReceive_UnmappedChain(t *testing.T) {
	keys, addrs := guardianSet(t, 1)
	a := newSignedAdapter(t, attest.NewMemStore(), addrs, 1)

	env := envelopeWith(t, [][]byte{[]byte("p")})
	proof, _ := BuildSignedProof(common.HexToHash("0xDEAD"), env, keys)
	if err := a.Receive(context.Background(), proof); err != ErrWrongChain {
		t.Fatalf("expected ErrWrongChain, got %v", err)
	}
}
