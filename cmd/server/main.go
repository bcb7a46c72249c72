package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/agent"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/config"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/httpserver"
	applog "github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/log"
)

func main() {
	applog.Configure(applog.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "voice-agent",
	})
	logger := applog.Base()

	cfg := config.Load()

	sessionTTL := cfg.SessionTTL
	if !cfg.RetainSessions {
		// Without retention an idle session has no value; evict aggressively.
		sessionTTL = time.Minute
	}
	registry := agent.NewRegistry(agent.Config{UpstreamTimeout: cfg.UpstreamTimeout}, sessionTTL)
	defer registry.Close()

	srv := httpserver.New(registry, httpserver.NewConnectorFactory(cfg))

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("address", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}
