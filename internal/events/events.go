// Package events publishes lifecycle events onto Redis queues for off-chain
// consumers: solver bots discover open orders here, and the oracle relayer
// drains the fill queue to transport attestations to origin chains.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/order"
)

// Redis key templates
const (
	OpenQueueKeyFmt     = "orders:open:%s"    // %s = origin chain id
	FillQueueKeyFmt     = "fills:pending:%s"  // %s = destination chain id
	FillDeadKeyFmt      = "fills:dead:%s"     // %s = destination chain id
	FinaliseQueueKeyFmt = "orders:settled:%s" // %s = origin chain id
	OracleOutboxKeyFmt  = "oracle:outbox:%s"  // %s = message identifier
)

// OpenEvent carries the full order so solvers can price it without another
// round-trip.
type OpenEvent struct {
	OrderID common.Hash  `json:"order_id"`
	Order   *order.Order `json:"order"`
}

// FillEvent is emitted once per recorded fill on the destination chain.
type FillEvent struct {
	OrderID   common.Hash `json:"order_id"`
	Solver    common.Hash `json:"solver"`
	Timestamp uint32      `json:"timestamp"`
	Payload   []byte      `json:"payload"` // canonical fill payload bytes
}

// FinaliseEvent is emitted when an order's inputs are released.
type FinaliseEvent struct {
	OrderID     common.Hash `json:"order_id"`
	Owner       common.Hash `json:"owner"`
	Destination common.Hash `json:"destination"`
}

// Publisher pushes JSON events to per-chain Redis queues.
type Publisher struct {
	rdb     *redis.Client
	chainID *big.Int
	log     *zap.Logger
}

func NewPublisher(rdb *redis.Client, chainID *big.Int, log *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, chainID: chainID, log: log}
}

func (p *Publisher) PublishOpen(ctx context.Context, ev *OpenEvent) error {
	return p.push(ctx, fmt.Sprintf(OpenQueueKeyFmt, p.chainID), ev)
}

func (p *Publisher) PublishFill(ctx context.Context, ev *FillEvent) error {
	return p.push(ctx, fmt.Sprintf(FillQueueKeyFmt, p.chainID), ev)
}

func (p *Publisher) PublishFinalise(ctx context.Context, ev *FinaliseEvent) error {
	return p.push(ctx, fmt.Sprintf(FinaliseQueueKeyFmt, p.chainID), ev)
}

// Outbox hands submitted oracle envelopes to the off-process transport
// (guardian signers, log writers, header relayers) via Redis.
type Outbox struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewOutbox(rdb *redis.Client, log *zap.Logger) *Outbox {
	return &Outbox{rdb: rdb, log: log}
}

// Publish appends an envelope under its message identifier.
func (o *Outbox) Publish(ctx context.Context, identifier common.Hash, envelope []byte) error {
	key := fmt.Sprintf(OracleOutboxKeyFmt, identifier.Hex())
	if err := o.rdb.RPush(ctx, key, envelope).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	o.log.Debug("envelope published", zap.String("identifier", identifier.Hex()))
	return nil
}

func (p *Publisher) push(ctx context.Context, key string, ev any) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.RPush(ctx, key, string(raw)).Err(); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	p.log.Debug("event published", zap.String("queue", key))
	return nil
}
