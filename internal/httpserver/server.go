// Package httpserver exposes normalization and the collected record store
// over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/blackmichael/socialnorm/internal/domain"
)

// maxBodyBytes bounds a normalize request body.
const maxBodyBytes = 10 << 20

// NormalizeFunc turns one decoded payload into records.
type NormalizeFunc func(payload any, referenced bool, opts []domain.Option) ([]domain.Record, error)

// RecordLister pages through stored records, newest first.
type RecordLister interface {
	ListRecords(ctx context.Context, limit int, cursor string) ([]domain.Record, string, error)
}

// Server is the HTTP server that serves normalization and record listing
// endpoints.
type Server struct {
	normalizers map[string]NormalizeFunc
	records     RecordLister
	opts        []domain.Option
	logger      *zap.Logger
	httpServer  *http.Server
}

// NewServer creates a new HTTP server listening on port. normalizers are
// keyed by the kind named in the request path. records may be nil, which
// disables the records endpoint.
func NewServer(port int, normalizers map[string]NormalizeFunc, records RecordLister, opts []domain.Option, logger *zap.Logger) *Server {
	s := &Server{
		normalizers: normalizers,
		records:     records,
		opts:        opts,
		logger:      logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      withLogging(logger, s.Handler()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /normalize/{kind}", s.handleNormalize)
	mux.HandleFunc("GET /records", s.handleListRecords)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	normalize, ok := s.normalizers[kind]
	if !ok {
		writeError(w, http.StatusNotFound, "UnknownKind", fmt.Sprintf("no normalizer for %q", kind))
		return
	}

	referenced, err := boolParam(r, "referenced")
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "referenced must be a boolean")
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		s.logger.Warn("undecodable normalize body", zap.String("kind", kind), zap.Error(err))
		writeError(w, http.StatusBadRequest, "InvalidRequest", "body must be a JSON payload")
		return
	}

	opts := s.opts
	if source := r.URL.Query().Get("source"); source != "" {
		opts = append(opts[:len(opts):len(opts)], domain.WithCollectionSource(source))
	}

	records, err := normalize(payload, referenced, opts)
	if err != nil {
		if errors.Is(err, domain.ErrNormalization) {
			s.logger.Info("payload rejected", zap.String("kind", kind), zap.Error(err))
			writeError(w, http.StatusUnprocessableEntity, "InvalidPayload", err.Error())
			return
		}
		s.logger.Error("normalization failed", zap.String("kind", kind), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to normalize payload")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusNotFound, "NoStore", "no record store configured")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 100 {
			s.logger.Warn("invalid limit parameter", zap.String("limit", l), zap.Error(err))
			writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	cursor := r.URL.Query().Get("cursor")

	records, next, err := s.records.ListRecords(r.Context(), limit, cursor)
	if err != nil {
		s.logger.Error("failed to list records",
			zap.Int("limit", limit),
			zap.String("cursor", cursor),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list records")
		return
	}

	if records == nil {
		records = []domain.Record{}
	}
	resp := map[string]any{
		"records": records,
	}
	if next != "" {
		resp["cursor"] = next
	}

	writeJSON(w, http.StatusOK, resp)
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
