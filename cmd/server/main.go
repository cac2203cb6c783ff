// Command server runs the forum moderation backend: HTTP API, the
// background job runner, and the in-memory search index.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/quillforum/backend/internal/config"
	httpapi "github.com/quillforum/backend/internal/http"
	"github.com/quillforum/backend/internal/jobs"
	"github.com/quillforum/backend/internal/observability"
	"github.com/quillforum/backend/internal/perms"
	"github.com/quillforum/backend/internal/repo"
	"github.com/quillforum/backend/internal/search"
	"github.com/quillforum/backend/internal/services"
	"github.com/quillforum/backend/internal/sysutil"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetupLogging(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(c)
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	idx := search.NewMemory()

	// Background jobs: notification resumption and search re-indexing.
	runner := &jobs.Runner{DB: db, Log: log.Logger, PollSpec: cfg.Forum.JobPollSpec}
	runner.Register(jobs.TypeNotifyResume, services.NotifyResumeHandler(db, func() *services.Notifier {
		return &services.Notifier{
			DB:     db,
			Perms:  perms.StateOracle{},
			Queue:  &jobs.GormQueue{DB: db},
			Mailer: &services.LogMailer{Log: log.Logger},
			Log:    log.Logger,
			Budget: cfg.Forum.NotifyBudget,
		}
	}))
	runner.Register(jobs.TypeSearchReindex, services.SearchReindexHandler(db, idx))
	if err := runner.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("job runner start failed")
	}
	defer runner.Stop()

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
