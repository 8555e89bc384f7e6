package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/api"
	"github.com/openintents/settler/internal/attest"
	"github.com/openintents/settler/internal/auth"
	"github.com/openintents/settler/internal/config"
	"github.com/openintents/settler/internal/custody"
	"github.com/openintents/settler/internal/events"
	"github.com/openintents/settler/internal/filler"
	"github.com/openintents/settler/internal/journal"
	"github.com/openintents/settler/internal/oracle"
	"github.com/openintents/settler/internal/relay"
	"github.com/openintents/settler/internal/settlement"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Journal ───────────────────────────────────────────────────────────────
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		log.Fatal("journal open failed", zap.Error(err))
	}
	defer j.Close() //nolint:errcheck

	// ── Custody (on-chain escrow when configured, in-process ledger otherwise) ─
	var cust custody.Custody
	if cfg.Chain.RPCURL != "" && cfg.Chain.EscrowContract != "" && cfg.Chain.OperatorKey != "" {
		escrow, err := custody.NewChainEscrow(
			cfg.Chain.RPCURL, cfg.Chain.EscrowContract, cfg.Chain.OperatorKey, cfg.Chain.ChainID)
		if err != nil {
			log.Fatal("escrow client init failed", zap.Error(err))
		}
		cust = escrow
	} else {
		log.Warn("no RPC configured, running with the in-process ledger")
		cust = custody.NewLedger()
	}

	chainID := big.NewInt(cfg.Chain.ChainID)
	verifyingContract := common.HexToAddress(cfg.Chain.VerifyingContract)

	// The settler's own 32-byte identities on this chain.
	operator := common.HexToAddress(cfg.Chain.EscrowContract)
	identity := filler.IdentityFor(chainID, operator)

	// ── Attestation store + oracle backend ────────────────────────────────────
	store := attest.NewRedisStore(rdb)
	adapter, err := buildAdapter(cfg, rdb, identity, store, log)
	if err != nil {
		log.Fatal("oracle init failed", zap.Error(err))
	}

	// ── Lifecycle event publisher ─────────────────────────────────────────────
	pub := events.NewPublisher(rdb, chainID, log)

	// ── Settlement engine (origin side) ───────────────────────────────────────
	fees := settlement.NewFeeState(
		common.HexToAddress(cfg.Fees.Owner),
		common.HexToHash(cfg.Fees.Recipient),
	)
	engine := settlement.New(chainID, identity, verifyingContract, cust, fees, log,
		settlement.WithOracle(identity, store),
		settlement.WithSink(&journalingSink{pub: pub, journal: j, log: log}),
	)

	// ── Output filler (destination side) ──────────────────────────────────────
	fil := filler.New(chainID, identity, cust, log, filler.WithSink(&fillSink{pub: pub, log: log}))

	// ── Relay: pending fills → oracle backend ─────────────────────────────────
	go relay.Run(ctx, rdb, chainID, fil, adapter, j, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", api.Healthz)

	authed := r.Group("/api", auth.Middleware(rdb))
	api.NewHandler(engine, fil, adapter, j, log).Register(authed)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// buildAdapter constructs the configured oracle backend. All backends share
// the Redis attestation store and publish envelopes to the Redis outbox.
func buildAdapter(
	cfg *config.Config,
	rdb *redis.Client,
	identity common.Hash,
	store attest.Store,
	log *zap.Logger,
) (oracle.Adapter, error) {
	outbox := events.NewOutbox(rdb, log)
	chains := oracle.NewChainMap()
	expect := map[common.Hash]oracle.Expectation{}

	switch cfg.Oracle.Backend {
	case "signed":
		guardians := make([]common.Address, len(cfg.Oracle.Guardians))
		for i, g := range cfg.Oracle.Guardians {
			guardians[i] = common.HexToAddress(g)
		}
		return oracle.NewSignedAdapter(
			identity, outbox, chains, expect, store, guardians, cfg.Oracle.Threshold, log), nil

	case "logproof":
		return oracle.NewLogProofAdapter(identity, outbox, chains, expect, store, log), nil

	case "lightclient":
		headers, err := oracle.NewEthHeaderSource(cfg.Chain.RPCURL)
		if err != nil {
			return nil, err
		}
		return oracle.NewLightClientAdapter(
			identity, outbox, chains, expect, store, headers,
			cfg.Oracle.Confirmations, time.Duration(cfg.Oracle.WindowSec)*time.Second, log), nil

	default:
		return nil, fmt.Errorf("unknown oracle backend %q", cfg.Oracle.Backend)
	}
}

// fillSink forwards recorded fills onto the pending-fill queue the relay
// drains.
type fillSink struct {
	pub *events.Publisher
	log *zap.Logger
}

func (s *fillSink) OutputFilled(ctx context.Context, ev *events.FillEvent) {
	if err := s.pub.PublishFill(ctx, ev); err != nil {
		s.log.Error("publish fill event", zap.Error(err))
	}
}

// journalingSink fans lifecycle events out to the Redis queues and the
// sqlite journal.
type journalingSink struct {
	pub     *events.Publisher
	journal *journal.Journal
	log     *zap.Logger
}

func (s *journalingSink) OrderOpened(ctx context.Context, ev *events.OpenEvent) {
	if err := s.pub.PublishOpen(ctx, ev); err != nil {
		s.log.Error("publish open event", zap.Error(err))
	}
	row := journal.OrderRow{
		OrderID:      ev.OrderID.Hex(),
		User:         ev.Order.User.Hex(),
		OriginChain:  ev.Order.OriginChainID.String(),
		Expires:      int64(ev.Order.Expires),
		FillDeadline: int64(ev.Order.FillDeadline),
		Status:       settlement.StatusDeposited.String(),
		OpenedAt:     time.Now().UTC(),
	}
	if err := s.journal.InsertOrder(row); err != nil {
		s.log.Error("journal open", zap.Error(err))
	}
}

func (s *journalingSink) OrderFinalised(ctx context.Context, ev *events.FinaliseEvent) {
	if err := s.pub.PublishFinalise(ctx, ev); err != nil {
		s.log.Error("publish finalise event", zap.Error(err))
	}
	if err := s.journal.SetStatus(ev.OrderID.Hex(), settlement.StatusFinalised.String()); err != nil {
		s.log.Error("journal finalise", zap.Error(err))
	}
}
