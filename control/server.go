// File: control/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP control endpoint: Prometheus metrics, JSON debug state and a
// liveness check.

package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"
)

const shutdownGrace = 5 * time.Second

// Server serves the control endpoints.
type Server struct {
	metrics *Metrics
	probes  *DebugProbes
	log     logrus.FieldLogger
}

// NewServer wires metrics and probes into HTTP handlers. Either may be nil.
func NewServer(m *Metrics, p *DebugProbes, log logrus.FieldLogger) *Server {
	return &Server{metrics: m, probes: p, log: log}
}

// Handler returns the control mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.serveMetrics)
	mux.HandleFunc("/debug/state", s.serveState)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func (s *Server) serveMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if s.metrics != nil {
		s.metrics.WritePrometheus(w)
	}
}

func (s *Server) serveState(w http.ResponseWriter, _ *http.Request) {
	state := map[string]any{}
	if s.probes != nil {
		state = s.probes.DumpState()
	}
	body, err := sonnet.Marshal(state)
	if err != nil {
		s.log.WithError(err).Warn("debug state encoding")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// Serve accepts control requests on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.WithField("addr", ln.Addr().String()).Info("control endpoint listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe opens addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
