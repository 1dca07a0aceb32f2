package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/artphone/go/internal/config"
	"github.com/mcdev12/artphone/go/internal/gateway"
)

func runServer(ctx context.Context, cfg config.AppConfig) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(signalCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close backends")
		}
	}()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	for _, run := range services.workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := run(workerCtx); err != nil {
				log.Error().Err(err).Msg("background worker failed")
			}
		}()
	}

	server := setupServer(cfg, services)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		log.Info().Msg("received shutdown signal")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("server shutdown failed")
	}

	// stops websocket participants before the backends they use are closed
	cancelWorkers()
	workers.Wait()

	log.Info().Msg("shutdown complete")
	return err
}

func setupServer(cfg config.AppConfig, services *Services) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	registerServices(mux, services)
	setupHealthCheck(mux)

	return &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	roomServicePath, roomServiceHandler := services.RoomService.Handler()
	mux.Handle(roomServicePath, roomServiceHandler)

	gateway.NewWebSocketHandler(services.Connections).RegisterRoutes(mux)
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
