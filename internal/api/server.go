package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/infra/storage"
)

// MismatchCounter reports the current reconciliation drift.
type MismatchCounter interface {
	MismatchCount(ctx context.Context, ledger domain.LedgerKind, beforeSequence int64) (int64, error)
}

// Dispatcher accepts batches of block operations from the watcher edge.
type Dispatcher interface {
	Dispatch(ctx context.Context, ops []domain.BlockOperation) (int, error)
}

// HealthChecker reports backing-store health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server provides the HTTP read surface and the operations ingestion edge.
type Server struct {
	heads      storage.HeadRepository
	mismatches MismatchCounter
	dispatcher Dispatcher
	health     HealthChecker
	server     *http.Server
	log        *slog.Logger
}

// NewServer creates the HTTP server.
func NewServer(
	heads storage.HeadRepository,
	mismatches MismatchCounter,
	dispatcher Dispatcher,
	health HealthChecker,
	port int,
	log *slog.Logger,
) *Server {
	mux := http.NewServeMux()
	s := &Server{
		heads:      heads,
		mismatches: mismatches,
		dispatcher: dispatcher,
		health:     health,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: log,
	}

	mux.HandleFunc("GET /v1/head/{ledger}", s.handleHead)
	mux.HandleFunc("GET /v1/mismatches", s.handleMismatches)
	mux.HandleFunc("POST /v1/operations", s.handleOperations)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	ledger, ok := parseLedger(r.PathValue("ledger"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown ledger")
		return
	}

	head, err := s.heads.Get(r.Context(), ledger)
	if errors.Is(err, storage.ErrHeadNotFound) {
		writeError(w, http.StatusNotFound, "head not found")
		return
	}
	if err != nil {
		s.log.Error("failed to read head pointer", "ledger", ledger, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"block_hash": head.BlockHash})
}

func (s *Server) handleMismatches(w http.ResponseWriter, r *http.Request) {
	ledger, ok := parseLedger(r.URL.Query().Get("ledger"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown ledger")
		return
	}

	var beforeSequence int64
	if raw := r.URL.Query().Get("before_sequence"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid before_sequence")
			return
		}
		beforeSequence = parsed
	}

	count, err := s.mismatches.MismatchCount(r.Context(), ledger, beforeSequence)
	if err != nil {
		s.log.Error("failed to count mismatches", "ledger", ledger, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// operationsRequest is the ingestion payload from the chain watcher side.
type operationsRequest struct {
	Operations []domain.BlockOperation `json:"operations"`
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	var req operationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Operations) == 0 {
		writeError(w, http.StatusBadRequest, "no operations")
		return
	}

	enqueued, err := s.dispatcher.Dispatch(r.Context(), req.Operations)
	if err != nil {
		s.log.Error("failed to dispatch operations", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": enqueued})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func parseLedger(raw string) (domain.LedgerKind, bool) {
	switch domain.LedgerKind(raw) {
	case domain.LedgerDeposits:
		return domain.LedgerDeposits, true
	case domain.LedgerMaspTransactions:
		return domain.LedgerMaspTransactions, true
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
