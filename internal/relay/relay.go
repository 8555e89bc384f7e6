// Package relay drains the destination chain's pending-fill queue and pushes
// each batch of payloads through the configured oracle backend, so fills
// recorded here become provable on origin chains.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/events"
	"github.com/openintents/settler/internal/journal"
	"github.com/openintents/settler/internal/oracle"
)

const maxBatchSize = 50

const blpopTimeout = 5 * time.Second

// maxSubmitAttempts bounds how often a queue item is retried before it moves
// to the dead-letter list. An item the source refuses to vouch for would
// otherwise wedge the queue for everything behind it.
const maxSubmitAttempts = 3

// Run is the relay loop: BLPOP → submit batch → journal. It returns when ctx
// is cancelled.
func Run(
	ctx context.Context,
	rdb *redis.Client,
	chainID fmt.Stringer,
	source oracle.PayloadSource,
	adapter oracle.Adapter,
	j *journal.Journal,
	log *zap.Logger,
) {
	queueKey := fmt.Sprintf(events.FillQueueKeyFmt, chainID)
	deadKey := fmt.Sprintf(events.FillDeadKeyFmt, chainID)
	attempts := make(map[string]int)

	log.Info("relay started", zap.String("queue", queueKey))

	for {
		if ctx.Err() != nil {
			log.Info("relay stopped")
			return
		}

		// BLPOP blocks until an item appears or timeout
		results, err := rdb.BLPop(ctx, blpopTimeout, queueKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("relay: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		// results[0] = key, results[1] = value (already popped by BLPOP)
		firstItem := results[1]

		// Drain up to a batch; these are popped for real, failures re-push.
		remaining, err := rdb.LPopCount(ctx, queueKey, maxBatchSize-1).Result()
		if err != nil && err != redis.Nil {
			log.Error("relay: LPOP", zap.Error(err))
			remaining = nil
		}

		rawItems := append([]string{firstItem}, remaining...)
		fills := make([]events.FillEvent, 0, len(rawItems))
		payloads := make([][]byte, 0, len(rawItems))
		for _, raw := range rawItems {
			var ev events.FillEvent
			if err := json.Unmarshal([]byte(raw), &ev); err != nil {
				log.Error("relay: unmarshal fill event", zap.String("raw", raw), zap.Error(err))
				continue
			}
			fills = append(fills, ev)
			payloads = append(payloads, ev.Payload)
		}

		if len(payloads) == 0 {
			continue
		}

		if err := adapter.Submit(ctx, source, payloads); err != nil {
			log.Error("relay: submit batch", zap.Int("size", len(payloads)), zap.Error(err))
			// Re-push in order for the next pass; items that keep failing
			// move to the dead-letter list so they cannot wedge the queue.
			for i := len(rawItems) - 1; i >= 0; i-- {
				raw := rawItems[i]
				attempts[raw]++
				if attempts[raw] >= maxSubmitAttempts {
					log.Error("relay: dead-lettering item",
						zap.Int("attempts", attempts[raw]),
						zap.String("dead_letter", deadKey),
					)
					delete(attempts, raw)
					_ = rdb.RPush(ctx, deadKey, raw)
					continue
				}
				_ = rdb.LPush(ctx, queueKey, raw)
			}
			time.Sleep(time.Second)
			continue
		}

		for _, raw := range rawItems {
			delete(attempts, raw)
		}
		log.Info("relay: batch submitted", zap.Int("size", len(payloads)))

		if j != nil {
			for i := range fills {
				row := journal.FillRow{
					OrderID:     fills[i].OrderID.Hex(),
					Solver:      fills[i].Solver.Hex(),
					Timestamp:   int64(fills[i].Timestamp),
					PayloadHash: crypto.Keccak256Hash(fills[i].Payload).Hex(),
					RecordedAt:  time.Now().UTC(),
				}
				if err := j.InsertFill(row); err != nil {
					log.Warn("relay: journal fill", zap.Error(err))
				}
			}
		}
	}
}
