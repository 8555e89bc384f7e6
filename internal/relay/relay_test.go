package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/events"
	"github.com/openintents/settler/internal/oracle"
)

type stubSource struct{}

func (stubSource) Identity() common.Hash                    { return common.HexToHash("0xF111E9") }
func (stubSource) PayloadsValid(common.Hash, [][]byte) bool { return true }

type captureAdapter struct {
	mu      sync.Mutex
	batches [][][]byte
	fail    int // fail the first N submissions
}

func (a *captureAdapter) Submit(_ context.Context, _ oracle.PayloadSource, payloads [][]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail > 0 {
		a.fail--
		return errors.New("transport down")
	}
	a.batches = append(a.batches, payloads)
	return nil
}

func (a *captureAdapter) Receive(context.Context, []byte) error { return nil }

func (a *captureAdapter) submitted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, b := range a.batches {
		n += len(b)
	}
	return n
}

func pushFill(t *testing.T, rdb *redis.Client, key string, payload []byte) {
	t.Helper()
	raw, err := json.Marshal(events.FillEvent{
		OrderID:   common.HexToHash("0xabc"),
		Solver:    common.HexToHash("0x50"),
		Timestamp: 1_700_000_000,
		Payload:   payload,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := rdb.RPush(context.Background(), key, string(raw)).Err(); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestRun_SubmitsQueuedFills(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	chainID := big.NewInt(9)
	key := fmt.Sprintf(events.FillQueueKeyFmt, chainID)
	pushFill(t, rdb, key, []byte{0x01})
	pushFill(t, rdb, key, []byte{0x02})

	adapter := &captureAdapter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Run(ctx, rdb, chainID, stubSource{}, adapter, nil, zap.NewNop())

	waitFor(t, func() bool { return adapter.submitted() == 2 })
}

func TestRun_RequeuesOnSubmitFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	chainID := big.NewInt(9)
	key := fmt.Sprintf(events.FillQueueKeyFmt, chainID)
	pushFill(t, rdb, key, []byte{0x01})

	adapter := &captureAdapter{fail: 1}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Run(ctx, rdb, chainID, stubSource{}, adapter, nil, zap.NewNop())

	// First pass fails and re-pushes; the retry succeeds.
	waitFor(t, func() bool { return adapter.submitted() == 1 })
}

// An item the transport never accepts must land on the dead-letter list
// instead of cycling through the queue forever ahead of newer fills.
func TestRun_DeadLettersAfterRepeatedFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	chainID := big.NewInt(9)
	key := fmt.Sprintf(events.FillQueueKeyFmt, chainID)
	deadKey := fmt.Sprintf(events.FillDeadKeyFmt, chainID)
	pushFill(t, rdb, key, []byte{0x0B, 0xAD})

	adapter := &captureAdapter{fail: 1 << 20} // never succeeds
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Run(ctx, rdb, chainID, stubSource{}, adapter, nil, zap.NewNop())

	waitFor(t, func() bool {
		n, err := rdb.LLen(context.Background(), deadKey).Result()
		return err == nil && n == 1
	})
	if n, _ := rdb.LLen(context.Background(), key).Result(); n != 0 {
		t.Fatalf("pending queue holds %d items, want 0", n)
	}
	if adapter.submitted() != 0 {
		t.Fatal("nothing should have been accepted")
	}

	// New fills behind the poisoned item still go through.
	adapter.mu.Lock()
	adapter.fail = 0
	adapter.mu.Unlock()
	pushFill(t, rdb, key, []byte{0x07})
	waitFor(t, func() bool { return adapter.submitted() == 1 })
}

func TestRun_SkipsGarbageItems(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	chainID := big.NewInt(9)
	key := fmt.Sprintf(events.FillQueueKeyFmt, chainID)
	if err := rdb.RPush(context.Background(), key, "not json").Err(); err != nil {
		t.Fatal(err)
	}
	pushFill(t, rdb, key, []byte{0x07})

	adapter := &captureAdapter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Run(ctx, rdb, chainID, stubSource{}, adapter, nil, zap.NewNop())

	waitFor(t, func() bool { return adapter.submitted() == 1 })
}
