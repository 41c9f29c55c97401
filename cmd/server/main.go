// Command server runs the tutor chat HTTP API.
//
//	@title						Tutor Chat API
//	@version					1.0
//	@description				Chat session bridge: bots, conversations and streamed replies.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-chat/internal/config"
	httpapi "github.com/tbourn/go-tutor-chat/internal/http"
	"github.com/tbourn/go-tutor-chat/internal/llm"
	"github.com/tbourn/go-tutor-chat/internal/observability"
	"github.com/tbourn/go-tutor-chat/internal/repo"
	"github.com/tbourn/go-tutor-chat/internal/services"
	"github.com/tbourn/go-tutor-chat/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const idempotencyPurgeInterval = time.Hour

func main() {
	if err := config.LoadDotEnv(); err != nil {
		// Logger is not configured yet.
		_, _ = os.Stderr.WriteString("load .env: " + err.Error() + "\n")
	}
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	service := sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, observability.DefaultServiceName)
	log := sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, service, nil)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if cfg.BotsFile != "" {
		n, err := repo.SeedBotsFromFile(ctx, db, cfg.BotsFile)
		if err != nil {
			return err
		}
		log.Info().Int("bots", n).Str("file", cfg.BotsFile).Msg("bots seeded")
	}

	providers, err := buildProviders(ctx, cfg.Providers, log)
	if err != nil {
		return err
	}
	defer func() { _ = providers.Close() }()

	metrics := observability.NewChatMetrics(prometheus.DefaultRegisterer)
	recorder := services.NewRecorder(cfg.Persist.Workers, cfg.Persist.Queue, cfg.Persist.Timeout, log, metrics)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, httpapi.Deps{
		DB:        db,
		Providers: providers,
		Recorder:  recorder,
	})

	go purgeIdempotency(ctx, db, log)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Strs("providers", providers.Names()).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	// Streams in flight get the full chat ceiling to finish.
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Chat.Timeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := recorder.Close(sctx); err != nil {
		log.Warn().Err(err).Msg("recorder did not drain")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}

// buildProviders registers every completion provider that has credentials.
func buildProviders(ctx context.Context, pc config.ProviderConfig, log zerolog.Logger) (*llm.Registry, error) {
	reg := llm.NewRegistry(pc.Default)
	if pc.OpenAIAPIKey != "" || pc.OpenAIBaseURL != "" {
		p, err := llm.NewOpenAIProvider(pc.OpenAIAPIKey, pc.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		reg.Register(p)
	}
	if pc.GeminiAPIKey != "" {
		p, err := llm.NewGeminiProvider(ctx, pc.GeminiAPIKey)
		if err != nil {
			_ = reg.Close()
			return nil, err
		}
		reg.Register(p)
	}
	if len(reg.Names()) == 0 {
		log.Warn().Msg("no completion provider configured; chat requests will fail with 503")
	}
	return reg, nil
}

func purgeIdempotency(ctx context.Context, db *gorm.DB, log zerolog.Logger) {
	t := time.NewTicker(idempotencyPurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now)
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("expired idempotency keys purged")
			}
		}
	}
}
