// Command server wires the verification service and exposes it over HTTP.
// Business logic lives in the internal service packages; main only selects
// backends from configuration and owns the process lifecycle.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	_ "github.com/jackc/pgx/v5/stdlib"

	"biogate/internal/audit"
	"biogate/internal/audit/publisher"
	auditbadger "biogate/internal/audit/store/badgerstore"
	auditmem "biogate/internal/audit/store/memory"
	auditpg "biogate/internal/audit/store/postgres"
	"biogate/internal/fusion"
	"biogate/internal/identity"
	"biogate/internal/identity/didproof"
	identmem "biogate/internal/identity/store/memory"
	identpg "biogate/internal/identity/store/postgres"
	"biogate/internal/lockout"
	lockmem "biogate/internal/lockout/store/memory"
	lockpg "biogate/internal/lockout/store/postgres"
	lockredis "biogate/internal/lockout/store/redis"
	"biogate/internal/matcher"
	"biogate/internal/platform/badgerdb"
	"biogate/internal/platform/config"
	"biogate/internal/platform/httpserver"
	"biogate/internal/platform/logger"
	"biogate/internal/platform/metrics"
	"biogate/internal/platform/middleware"
	platformredis "biogate/internal/platform/redis"
	"biogate/internal/template"
	httptransport "biogate/internal/transport/http"
	"biogate/internal/verification"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	masterKey, err := hex.DecodeString(cfg.MasterKeyHex)
	if err != nil {
		return fmt.Errorf("decode master key: %w", err)
	}
	codec, err := template.NewCodec(masterKey, cfg.Codec)
	if err != nil {
		return err
	}

	// Backend selection: Postgres when configured, otherwise the embedded
	// Badger profile for audit with in-memory domain stores.
	var (
		identities identity.Store
		lockStore  lockout.Store
		auditStore audit.Store
		health     []func(context.Context) error
		closers    []func() error
	)

	if cfg.PostgresURL != "" {
		db, err := sql.Open("pgx", cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		for _, schema := range []string{identpg.Schema, lockpg.Schema, auditpg.Schema} {
			if _, err := db.ExecContext(ctx, schema); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		identities = identpg.New(db)
		lockStore = lockpg.New(db)
		auditStore = auditpg.New(db)
		health = append(health, db.PingContext)
		log.Info("postgres stores selected")
	} else {
		identities = identmem.New()
		lockStore = lockmem.New()
		if cfg.BadgerDir != "" {
			var bdb *badger.DB
			bdb, err = badgerdb.Open(cfg.BadgerDir, log)
			if err != nil {
				return err
			}
			closers = append(closers, bdb.Close)
			auditStore = auditbadger.New(bdb)
		} else {
			auditStore = auditmem.New()
			log.Warn("in-memory audit store selected; records do not survive restarts")
		}
	}

	if cfg.RedisURL != "" {
		rdb, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		closers = append(closers, rdb.Close)
		retention := cfg.Lockout.FailureWindow + cfg.Lockout.BackoffMax
		lockStore = lockredis.New(rdb.Client, retention)
		health = append(health, rdb.Health)
		log.Info("redis lockout store selected")
	}

	lockouts, err := lockout.New(lockStore, cfg.Lockout, lockout.WithLogger(log))
	if err != nil {
		return err
	}

	chainOpts := []audit.Option{audit.WithLogger(log)}
	if len(cfg.KafkaBrokers) > 0 {
		mirror, err := publisher.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return fmt.Errorf("kafka mirror: %w", err)
		}
		closers = append(closers, func() error { mirror.Close(); return nil })
		chainOpts = append(chainOpts, audit.WithPublisher(mirror))
		log.Info("kafka audit mirror enabled", "topic", cfg.KafkaTopic)
	}
	chain, err := audit.NewChain(ctx, auditStore, chainOpts...)
	if err != nil {
		return err
	}

	svcOpts := []verification.Option{
		verification.WithLogger(log),
		verification.WithMetrics(metrics.New()),
		verification.WithReenroll(cfg.AllowReenroll),
		verification.WithStoreTimeout(cfg.StoreTimeout),
	}
	if cfg.ProofSigningKey != "" {
		svcOpts = append(svcOpts,
			verification.WithProofSigner(didproof.NewSigner([]byte(cfg.ProofSigningKey), cfg.ProofIssuer)))
	}
	svc, err := verification.New(
		codec,
		matcher.New(codec),
		fusion.NewPolicy(cfg.Fusion),
		lockouts,
		identities,
		chain,
		svcOpts...,
	)
	if err != nil {
		return err
	}

	handlerOpts := []httptransport.Option{
		httptransport.WithHealthChecker(func(ctx context.Context) error {
			for _, check := range health {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		}),
	}
	if cfg.ProofSigningKey != "" {
		handlerOpts = append(handlerOpts, httptransport.WithOperatorValidator(
			middleware.NewJWTOperatorValidator([]byte(cfg.ProofSigningKey), cfg.ProofIssuer)))
	} else {
		log.Warn("operator endpoints are unauthenticated; set BIOGATE_PROOF_SIGNING_KEY")
	}

	router := httptransport.NewRouter(httptransport.New(svc, log, handlerOpts...))
	srv := httpserver.New(cfg.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
	return nil
}
