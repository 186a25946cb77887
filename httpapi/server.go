// Package httpapi exposes the cycle trigger over HTTP, mirroring the cloud
// function entry point the agent is deployed behind.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/autovest/cycle"
)

// CycleRunner runs one investment cycle to completion.
type CycleRunner interface {
	RunCycle(ctx context.Context, emitter *cycle.EventEmitter) cycle.Outcome
}

// Server is the HTTP trigger for the agent.
type Server struct {
	httpServer *http.Server
	runner     CycleRunner
	log        *slog.Logger

	// running serializes cycles: a trigger that arrives while a cycle is in
	// flight is rejected instead of queued.
	running sync.Mutex
}

// NewServer creates the trigger server bound to addr.
func NewServer(addr string, runner CycleRunner, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{runner: runner, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/run", s.handleRun)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("trigger server listening", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("trigger server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// POST /run — run one investment cycle and report its outcome.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.running.TryLock() {
		http.Error(w, "a cycle is already running", http.StatusConflict)
		return
	}
	defer s.running.Unlock()

	emitter := cycle.NewEventEmitter(uuid.NewString(), 256)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range emitter.Events() {
			s.log.Debug("cycle event", "cycle_id", ev.CycleID, "kind", ev.Kind, "data", ev.Data)
		}
	}()

	outcome := s.runner.RunCycle(r.Context(), emitter)
	emitter.Close()
	<-drained

	if outcome.Kind == cycle.OutcomeError {
		http.Error(w, outcome.Status(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, outcome.Status())
}

// GET /healthz — liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}
