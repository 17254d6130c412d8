package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/evanwzhao/relay/backend/internal/config"
	"github.com/evanwzhao/relay/backend/internal/handler"
	chatHandler "github.com/evanwzhao/relay/backend/internal/handler/chat"
	uploadHandler "github.com/evanwzhao/relay/backend/internal/handler/upload"
	"github.com/evanwzhao/relay/backend/internal/middleware"
	"github.com/evanwzhao/relay/backend/internal/service/ai"
	"github.com/evanwzhao/relay/backend/internal/service/attachment"
	chatservice "github.com/evanwzhao/relay/backend/internal/service/chat"
	"github.com/evanwzhao/relay/backend/internal/service/memory"
	"github.com/evanwzhao/relay/backend/internal/service/upload"
	"github.com/evanwzhao/relay/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file loaded, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open conversation store")
	}
	defer st.Close()

	aiService, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize generation adapter")
	}

	uploadService, err := upload.NewService(cfg.Upload)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob store client")
	}

	authenticator, err := middleware.NewAuthenticator(ctx, cfg.Auth)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize identity verifier")
	}
	if cfg.Auth.Disabled {
		log.Warn().Msg("identity verification disabled; trusting X-User-* headers")
	}

	turns := chatservice.NewService(st, memory.NewClient(cfg.Memory), attachment.NewNormalizer(), aiService)

	router := handler.NewRouter(
		authenticator,
		chatHandler.New(turns, st),
		uploadHandler.New(uploadService),
	)

	startServer(ctx, cfg.Server, router)
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		log.Info().Msg("using in-memory conversation store")
		return store.NewMemoryStore(), nil
	}
	log.Info().Str("dsn", cfg.DSN).Msg("using sqlite conversation store")
	return store.NewSQLiteStore(cfg.DSN)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("relay backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
