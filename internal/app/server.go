package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// StatusServer serves the status router while a run is in progress.
type StatusServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	done     chan error
}

// StartStatusServer binds cfg.MetricsAddr and serves handler in the
// background. Bind failures are returned immediately.
func StartStatusServer(cfg *Config, handler http.Handler, logger *slog.Logger) (*StatusServer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	listener, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("app: listen %s: %w", cfg.MetricsAddr, err)
	}
	s := &StatusServer{
		server: &http.Server{
			Handler:      handler,
			ReadTimeout:  cfg.MetricsReadTimeout,
			WriteTimeout: cfg.MetricsWriteTimeout,
		},
		listener: listener,
		logger:   logger,
		done:     make(chan error, 1),
	}
	go func() {
		logger.Info("starting status server", slog.String("addr", listener.Addr().String()))
		err := s.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			logger.Error("status server", slog.Any("error", err))
		}
		s.done <- err
	}()
	return s, nil
}

// Addr is the bound listen address.
func (s *StatusServer) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully within ctx.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("app: shutdown status server: %w", err)
	}
	return <-s.done
}
