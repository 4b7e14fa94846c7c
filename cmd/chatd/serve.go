package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatd/internal/cache"
	"chatd/internal/chat"
	"chatd/internal/config"
	"chatd/internal/httpapi"
	"chatd/internal/llm"
	"chatd/internal/manager"
	"chatd/internal/registry"
	"chatd/internal/session"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat completion API",
		Example: "  chatd serve -c chatd.toml\n" +
			"  CHATD_ADDR=:8080 chatd serve",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve runs the HTTP server until ctx is canceled.
func serve(ctx context.Context, cfg config.Config) error {
	log, logCloser := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFile)
	defer logCloser.Close()

	backend, err := llm.Lookup(cfg.Backend)
	if err != nil {
		return err
	}

	reg := registry.Build(cfg.Models)
	for _, m := range reg.List() {
		if !m.Available {
			log.Warn().Str("model", m.ID).Str("weights", m.Config.Weights).Msg("weights missing; model unavailable")
		}
	}

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry: reg,
		Loader: manager.SessionLoader(session.LoadOptions{
			Backend:  backend,
			QuantNF4: cfg.QuantNF4,
			Logger:   log,
		}),
		MaxQueueDepth: cfg.MaxQueueDepth,
		Logger:        log,
		Publisher:     manager.LogPublisher{Logger: log},
	})
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Error().Err(err).Msg("release session")
		}
	}()

	svc := chat.NewService(mgr, cache.New(), chat.Options{
		MaxTokens:      cfg.MaxTokens,
		MaxTokensLimit: cfg.MaxTokensLimit,
		Sampler:        cfg.Sampler,
		Logger:         log,
	})

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetLogger(log)
	httpapi.SetDefaultLogLevel(cfg.LogLevel)
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetRequestTimeoutSeconds(cfg.RequestTimeoutSeconds)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(httpapi.NewCore(mgr, svc)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.DefaultModel != "" {
		if err := mgr.RequestActivation(ctx, cfg.DefaultModel); err != nil {
			log.Error().Err(err).Str("model", cfg.DefaultModel).Msg("default model not activated")
		}
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Int("models", reg.Len()).Str("backend", cfg.Backend).Msg("chatd listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	return nil
}
