package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"granta/internal/changerequest"
	"granta/internal/claims"
	"granta/internal/history"
	"granta/internal/idempotency"
	"granta/internal/jwtactor"
	"granta/internal/platform/config"
	"granta/internal/platform/database"
	"granta/internal/platform/httpserver"
	"granta/internal/platform/logger"
	"granta/internal/platform/metrics"
	platformredis "granta/internal/platform/redis"
	"granta/internal/profile"
	httptransport "granta/internal/transport/http"
	"granta/internal/workflow"
	"granta/internal/workflow/pipeline"
	"granta/internal/workflow/service"
	"granta/pkg/platform/audit"
	kafkapublisher "granta/pkg/platform/audit/publisher"
	auditmemory "granta/pkg/platform/audit/store/memory"
	auditpostgres "granta/pkg/platform/audit/store/postgres"
	auditworker "granta/pkg/platform/audit/worker"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	m := metrics.New()

	pipe := pipeline.Default()
	if err := pipe.Validate(); err != nil {
		return err
	}

	// Store selection: a configured DATABASE_URL gets the postgres stores
	// plus SQL transactions; otherwise everything runs in memory with the
	// engine's compensation path providing atomicity.
	var (
		appStore   workflow.Store
		histStore  history.Store
		claimStore claims.Store
		crStore    changerequest.Store
		profStore  profile.Store
		auditSink  audit.Store
		txRunner   service.Tx
		health     func() error
	)
	if cfg.Database.URL != "" {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
		appStore = workflow.NewPostgresStore(db)
		histStore = history.NewPostgresStore(db)
		claimStore = claims.NewPostgresStore(db)
		crStore = changerequest.NewPostgresStore(db)
		profStore = profile.NewPostgresStore(db)
		auditSink = auditpostgres.New(db)
		txRunner = service.NewSQLTx(db)
		health = db.Ping
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		appStore = workflow.NewInMemoryStore()
		histStore = history.NewInMemoryStore()
		claimStore = claims.NewInMemoryStore()
		crStore = changerequest.NewInMemoryStore()
		profStore = profile.NewInMemoryStore()
		auditSink = auditmemory.New()
		txRunner = service.NewShardedTx()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafkapublisher.NewKafka(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return err
		}
		defer publisher.Close()
		auditSink = publisher
	}

	var idem service.IdempotencyStore = idempotency.NewMemory()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		idem = idempotency.NewRedis(redisClient)
	}

	recorder := audit.NewRecorder(256, log)
	auditDrain := auditworker.New(auditSink, recorder.Inbox(), log)

	ledger := history.NewLedger(histStore,
		history.WithLogger(log),
		history.WithRetryHook(m.HistoryAppendRetries.Inc),
	)
	registry := claims.NewRegistry(claimStore, claims.WithLogger(log))

	engine := service.New(appStore, ledger, registry, pipe, txRunner,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditRecorder(recorder),
		service.WithIdempotencyStore(idem),
	)

	changes := changerequest.New(crStore, profile.NewFields(profStore),
		changerequest.WithLogger(log),
		changerequest.WithMetrics(m),
		changerequest.WithAuditRecorder(recorder),
	)
	profiles := profile.New(profStore, pipe,
		profile.WithProposer(changes),
		profile.WithLogger(log),
	)

	jwtService := jwtactor.New(cfg.Server.JWTSigningKey, "granta")

	handler := httptransport.NewHandler(engine, ledger, registry, profiles, changes, health, log)
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler, jwtService))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return auditDrain.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting granta", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}
