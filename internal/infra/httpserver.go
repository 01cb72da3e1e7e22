package infra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPServer runs the API until its context ends, then drains in-flight
// requests for at most the configured grace period.
type HTTPServer struct {
	server *http.Server
	grace  time.Duration
}

func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	grace := cfg.HTTPShutdownTimeout
	if grace <= 0 {
		grace = 15 * time.Second
	}
	return &HTTPServer{
		server: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.HTTPReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			IdleTimeout:       cfg.HTTPIdleTimeout,
		},
		grace: grace,
	}
}

func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

// Run serves on ln, or on the configured address when ln is nil, and returns
// once the server has stopped. A shutdown caused by ctx is not an error.
func (s *HTTPServer) Run(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
	}
	served := make(chan error, 1)
	go func() { served <- s.server.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
