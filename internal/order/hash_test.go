package order

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func baseOrder() *Order {
	return &Order{
		User:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:         big.NewInt(7),
		OriginChainID: big.NewInt(1),
		Expires:       2_000_000_000,
		FillDeadline:  1_900_000_000,
		InputOracle:   common.HexToHash("0xAA"),
		Inputs: []Input{
			{Token: common.HexToHash("0x01"), Amount: big.NewInt(500)},
			{Token: common.HexToHash("0x02"), Amount: big.NewInt(1000)},
		},
		Outputs: []Output{
			{
				Oracle:    common.HexToHash("0xBB"),
				Settler:   common.HexToHash("0xCC"),
				ChainID:   big.NewInt(10),
				Token:     common.HexToHash("0x03"),
				Amount:    big.NewInt(499),
				Recipient: common.HexToHash("0x04"),
			},
		},
	}
}

// ── Order ID ──────────────────────────────────────────────────────────────────

func TestOrderID_Deterministic(t *testing.T) {
	a := baseOrder()
	b := baseOrder()
	if a.ID() != b.ID() {
		t.Fatal("identical orders must share an ID")
	}
}

func TestOrderID_FieldSensitivity(t *testing.T) {
	base := baseOrder().ID()

	mutations := map[string]func(*Order){
		"user":          func(o *Order) { o.User = common.HexToAddress("0x2222222222222222222222222222222222222222") },
		"nonce":         func(o *Order) { o.Nonce = big.NewInt(8) },
		"originChainId": func(o *Order) { o.OriginChainID = big.NewInt(5) },
		"expires":       func(o *Order) { o.Expires++ },
		"fillDeadline":  func(o *Order) { o.FillDeadline-- },
		"inputOracle":   func(o *Order) { o.InputOracle = common.HexToHash("0xAB") },
		"inputAmount":   func(o *Order) { o.Inputs[0].Amount = big.NewInt(501) },
		"inputDropped":  func(o *Order) { o.Inputs = o.Inputs[:1] },
		"outputAmount":  func(o *Order) { o.Outputs[0].Amount = big.NewInt(498) },
		"outputChain":   func(o *Order) { o.Outputs[0].ChainID = big.NewInt(42) },
		"outputAppend":  func(o *Order) { o.Outputs = append(o.Outputs, o.Outputs[0]) },
	}
	for name, mutate := range mutations {
		o := baseOrder()
		mutate(o)
		if o.ID() == base {
			t.Errorf("mutation %q did not change the order ID", name)
		}
	}
}

// TestOrderID_RandomizedUniqueness flips random fields across many sampled
// orders and checks no two distinct orders collide.
func TestOrderID_RandomizedUniqueness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seen := make(map[common.Hash]int)

	for i := 0; i < 2000; i++ {
		o := baseOrder()
		o.Nonce = big.NewInt(rng.Int63n(1000))
		o.OriginChainID = big.NewInt(1 + rng.Int63n(4))
		o.Expires = 2_000_000_000 + uint32(rng.Intn(100))
		o.FillDeadline = 1_900_000_000 + uint32(rng.Intn(100))
		o.Inputs[0].Amount = big.NewInt(rng.Int63n(10_000))
		o.Outputs[0].Amount = big.NewInt(rng.Int63n(10_000))

		id := o.ID()
		if prev, ok := seen[id]; ok && prev != i {
			// Collisions are only acceptable for identical draws; with a
			// 256-bit hash any other collision is a bug.
			t.Fatalf("order ID collision between draw %d and %d", prev, i)
		}
		seen[id] = i
	}
}

// TestOrderID_ListBoundaryAmbiguity moves a value across the inputs/outputs
// boundary; the length-prefixed list hashing must keep the IDs distinct.
func TestOrderID_ListBoundaryAmbiguity(t *testing.T) {
	a := baseOrder()
	a.Inputs = []Input{{Token: common.HexToHash("0x01"), Amount: big.NewInt(500)}}

	b := baseOrder()
	b.Inputs = []Input{
		{Token: common.HexToHash("0x01"), Amount: big.NewInt(500)},
		{Token: common.Hash{}, Amount: big.NewInt(0)},
	}
	if a.ID() == b.ID() {
		t.Fatal("orders with different input lists must not share an ID")
	}
}

// ── Output hash ───────────────────────────────────────────────────────────────

func TestOutputHash_CoversIdentityFields(t *testing.T) {
	base := baseOrder().Outputs[0]
	h := OutputHash(&base)

	for name, mutate := range map[string]func(*Output){
		"oracle":    func(o *Output) { o.Oracle = common.HexToHash("0x99") },
		"settler":   func(o *Output) { o.Settler = common.HexToHash("0x98") },
		"chainId":   func(o *Output) { o.ChainID = big.NewInt(11) },
		"token":     func(o *Output) { o.Token = common.HexToHash("0x97") },
		"amount":    func(o *Output) { o.Amount = big.NewInt(1) },
		"recipient": func(o *Output) { o.Recipient = common.HexToHash("0x96") },
		"call":      func(o *Output) { o.Call = []byte{1} },
		"context":   func(o *Output) { o.Context = []byte{2} },
	} {
		out := base
		mutate(&out)
		if OutputHash(&out) == h {
			t.Errorf("mutation %q did not change the output hash", name)
		}
	}
}

func TestOutputHash_VariableFieldBoundary(t *testing.T) {
	a := baseOrder().Outputs[0]
	a.Call = []byte{0x01, 0x02}
	a.Context = nil

	b := baseOrder().Outputs[0]
	b.Call = []byte{0x01}
	b.Context = []byte{0x02}

	if OutputHash(&a) == OutputHash(&b) {
		t.Fatal("call/context boundary must be unambiguous")
	}
}

// ── Address padding ───────────────────────────────────────────────────────────

func TestAddressBytes32_RoundTrip(t *testing.T) {
	addr := common.HexToAddress("0xDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEf")
	h := AddressToBytes32(addr)
	for i := 0; i < 12; i++ {
		if h[i] != 0 {
			t.Fatal("expected zero padding in high bytes")
		}
	}
	if Bytes32ToAddress(h) != addr {
		t.Fatal("address did not round-trip through bytes32")
	}
}
