package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"censo/internal/audit"
	"censo/internal/catalog"
	"censo/internal/family/dedup"
	famstore "censo/internal/family/store"
	"censo/internal/family/writer"
	"censo/internal/intake"
	"censo/internal/intake/handler"
	"censo/internal/platform/config"
	"censo/internal/platform/httpserver"
	"censo/internal/platform/logger"
	"censo/internal/platform/metrics"
	"censo/internal/platform/postgres"
	redisplatform "censo/internal/platform/redis"
	surveysvc "censo/internal/survey/service"
	surveystore "censo/internal/survey/store"
	"censo/pkg/platform/tx"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal services; without a Postgres DSN the server
// runs entirely on the in-memory stores, which is enough for local work.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	checks := map[string]handler.HealthCheck{}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		var err error
		db, err = postgres.Open(context.Background(), cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres connect failed", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		checks["postgres"] = db.PingContext
	}

	redisClient, err := redisplatform.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connect failed", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = redisClient.Health
	}

	var (
		familyStore  writer.AggregateStore
		familyFinder dedup.Store
		surveyStore  surveysvc.Store
		completer    writer.SurveyCompleter
		auditStore   audit.Store
		gateway      catalog.Gateway
		runner       tx.Runner
	)
	if db != nil {
		fam := famstore.NewPostgres(db)
		sur := surveystore.NewPostgres(db)
		familyStore, familyFinder = fam, fam
		surveyStore, completer = sur, sur
		auditStore = audit.NewPostgresStore(db)
		gateway = catalog.NewPostgres(db)
		runner = &tx.SQLRunner{DB: db}
	} else {
		log.Warn("no CENSO_POSTGRES_DSN set, using in-memory stores")
		fam := famstore.NewMemory()
		sur := surveystore.NewMemory()
		aud := audit.NewMemoryStore()
		familyStore, familyFinder = fam, fam
		surveyStore, completer = sur, sur
		auditStore = aud
		gateway = catalog.DefaultFixture()
		runner = tx.NewMemoryRunner(fam, sur, aud)
	}

	var cache surveysvc.DraftCache
	var evictor intake.DraftEvictor
	if redisClient != nil {
		dc := surveystore.NewDraftCache(redisClient.Client, cfg.DraftTTL)
		cache, evictor = dc, dc
	}

	publisher := audit.NewPublisher(auditStore)
	surveys := surveysvc.NewService(surveyStore, cache, publisher, m, log, cfg.TotalStages)
	w := writer.New(familyStore, completer, auditStore, gateway, runner, m, cfg.CommitTimeout)
	orch := intake.NewOrchestrator(surveyStore, dedup.NewDetector(familyFinder), w, publisher, evictor, m, log)

	router := handler.New(surveys, orch, checks, log).Routes()
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting censo intake server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
}
