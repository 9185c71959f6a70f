package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sitwo-project/clinic-portal/config"
	"github.com/sitwo-project/clinic-portal/internal/stubserver"
	"github.com/sitwo-project/clinic-portal/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	srv := stubserver.New(stubserver.Config{
		JWTSecret:   cfg.Stub.JWTSecret,
		TokenExpiry: cfg.Stub.TokenExpiry,
		RateLimit:   rate.Limit(cfg.Stub.RateLimit),
		RateBurst:   cfg.Stub.RateBurst,
	}, appLog)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Stub.Port),
		Handler:      srv.Engine(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		appLog.Info("clinic backend stub listening", "port", cfg.Stub.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	appLog.Info("server stopped")
}
