package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testSetup(t *testing.T) (*miniredis.Miniredis, *gin.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := gin.New()
	r.POST("/test", Middleware(rdb), func(c *gin.Context) {
		addr, ok := Wallet(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no wallet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"solver": addr.Hex()})
	})
	return mr, r
}

// buildRequest creates a signed HTTP request. expiresOffset is relative to
// now (e.g. +2*time.Minute for valid, negative for expired).
func buildRequest(t *testing.T, expiresOffset time.Duration, nonce string) (*http.Request, string) {
	t.Helper()
	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	solverAddr := crypto.PubkeyToAddress(privKey.PublicKey).Hex()

	sr := SignedRequest{
		Action:    "fill",
		ExpiresAt: time.Now().Add(expiresOffset).Unix(),
		Nonce:     nonce,
		OrderID:   "0xabc",
		Payload:   json.RawMessage(`{}`),
	}
	msgBytes, _ := json.Marshal(sr)
	msgB64 := base64.StdEncoding.EncodeToString(msgBytes)

	sig, _ := crypto.Sign(HashMessage(msgBytes), privKey)
	sig[64] += 27
	sigHex := "0x" + hex.EncodeToString(sig)

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set("X-Solver-Address", solverAddr)
	req.Header.Set("X-Signed-Message", msgB64)
	req.Header.Set("X-Solver-Signature", sigHex)

	return req, solverAddr
}

func TestMiddleware_ValidRequest(t *testing.T) {
	_, r := testSetup(t)

	req, solver := buildRequest(t, 2*time.Minute, "nonce-valid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["solver"] != solver {
		t.Fatalf("solver = %s, want %s", resp["solver"], solver)
	}
}

func TestMiddleware_MissingHeaders(t *testing.T) {
	_, r := testSetup(t)

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_Expired(t *testing.T) {
	_, r := testSetup(t)

	req, _ := buildRequest(t, -1*time.Second, "nonce-expired-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "request expired" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_TooFarInFuture(t *testing.T) {
	_, r := testSetup(t)

	req, _ := buildRequest(t, 10*time.Minute, "nonce-future-1") // > 5 min
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "expires_at too far in future" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_ForeignAddressRejected(t *testing.T) {
	_, r := testSetup(t)

	// Valid signature, but the claimed address is someone else.
	req, _ := buildRequest(t, 2*time.Minute, "nonce-badsig-1")
	req.Header.Set("X-Solver-Address", "0x000000000000000000000000000000000000dEaD")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "invalid signature" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_NonceReplay(t *testing.T) {
	_, r := testSetup(t)

	req1, _ := buildRequest(t, 2*time.Minute, "nonce-replay-1")
	req2, _ := buildRequest(t, 2*time.Minute, "nonce-replay-1") // same nonce, different key

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d: %s", w1.Code, w1.Body.String())
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d: %s", w2.Code, w2.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w2.Body.Bytes(), &resp)
	if resp["error"] != "nonce already used" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestWallet_AbsentWithoutMiddleware(t *testing.T) {
	r := gin.New()
	r.POST("/bare", func(c *gin.Context) {
		if _, ok := Wallet(c); ok {
			t.Error("wallet present on an unauthenticated request")
		}
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bare", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
}

func TestRecover_RoundTrip(t *testing.T) {
	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("settle order 0xabc")

	sig, err := crypto.Sign(HashMessage(msg), privKey)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27

	got, err := Recover(msg, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if want := crypto.PubkeyToAddress(privKey.PublicKey); got != want {
		t.Fatalf("recovered %s, want %s", got.Hex(), want.Hex())
	}
}

func TestRecover_BadLength(t *testing.T) {
	if _, err := Recover([]byte("msg"), make([]byte, 64)); err == nil {
		t.Fatal("expected error for short signature")
	}
}
