package attest

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/openintents/settler/internal/wire"
)

// Redis key template: one set member per attested payload hash, bucketed by
// the (chain, sender, application) tuple.
const attestSetKeyFmt = "attest:%s:%s:%s"

// RedisStore is the durable Store backing a deployed settler: attestations
// survive restarts and are shared between the oracle ingester and the
// settlement engine.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Record(ctx context.Context, chainID, sender, app, dataHash common.Hash) error {
	key := setKey(chainID, sender, app)
	if err := s.rdb.SAdd(ctx, key, dataHash.Hex()).Err(); err != nil {
		return fmt.Errorf("attest: record: %w", err)
	}
	return nil
}

func (s *RedisStore) IsProven(ctx context.Context, chainID, sender, app, dataHash common.Hash) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, setKey(chainID, sender, app), dataHash.Hex()).Result()
	if err != nil {
		return false, fmt.Errorf("attest: lookup: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) RequireProven(ctx context.Context, series []wire.ProofEntry) error {
	for i := range series {
		e := &series[i]
		ok, err := s.IsProven(ctx, e.ChainID, e.Oracle, e.Application, e.DataHash)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: chain %s app %s hash %s",
				ErrNotProven, e.ChainID.Hex(), e.Application.Hex(), e.DataHash.Hex())
		}
	}
	return nil
}

func setKey(chainID, sender, app common.Hash) string {
	return fmt.Sprintf(attestSetKeyFmt, chainID.Hex(), sender.Hex(), app.Hex())
}
