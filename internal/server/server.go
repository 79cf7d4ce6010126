// Package server handles the HTTP API for the record store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ASHISH26940/recordstore/internal/record"
	"github.com/ASHISH26940/recordstore/internal/replication"
)

const maxBodyBytes = 1 << 20

// Reader returns the persisted records.
type Reader interface {
	Records(ctx context.Context) (record.Sequence, error)
}

// Upserter merges one record into the persisted records.
type Upserter interface {
	Upsert(ctx context.Context, incoming record.Record) (record.Sequence, error)
}

// Joiner adds nodes to a replicated cluster.
type Joiner interface {
	Join(nodeID, addr string) error
}

// AccessLogger records one entry per request.
type AccessLogger interface {
	LogReq(r *http.Request, code int, size int64, dur time.Duration) error
}

// Options configures a Server.
type Options struct {
	Reader   Reader
	Upserter Upserter
	// Joiner enables POST /join when set.
	Joiner Joiner
	// StaticDir is served for paths that are not API routes.
	StaticDir   string
	CORSOrigins []string
	// RateLimit is the number of requests per second allowed per client IP; 0 disables it.
	RateLimit float64
	RateBurst int
	AccessLog AccessLogger
	Logger    *slog.Logger
}

// Server is the HTTP server for the record store.
type Server struct {
	reader   Reader
	upserter Upserter
	joiner   Joiner
	logger   *slog.Logger
	router   *http.ServeMux
	handler  http.Handler
}

type errorResponse struct {
	Error string `json:"error"`
}

type saveResponse struct {
	Message string          `json:"message"`
	Data    record.Sequence `json:"data"`
}

// New creates a new Server instance.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		reader:   opts.Reader,
		upserter: opts.Upserter,
		joiner:   opts.Joiner,
		logger:   opts.Logger,
		router:   http.NewServeMux(),
	}
	s.registerRoutes(opts.StaticDir)

	var h http.Handler = s.router
	if opts.RateLimit > 0 {
		h = rateLimit(newIPLimiter(opts.RateLimit, opts.RateBurst), h)
	}
	h = cors(opts.CORSOrigins, h)
	s.handler = s.logRequests(opts.AccessLog, h)
	return s
}

// ServeHTTP makes Server a standard http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes(staticDir string) {
	s.router.HandleFunc("GET /api/data", s.handleGetData)
	s.router.HandleFunc("POST /api/data", s.handlePostData)
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	if s.joiner != nil {
		s.router.HandleFunc("POST /join", s.handleJoin)
	}
	if staticDir != "" {
		if st, err := os.Stat(staticDir); err == nil && st.IsDir() {
			s.router.Handle("/", http.FileServer(http.Dir(staticDir)))
		} else {
			s.logger.Info("Static directory not found, static files disabled", "dir", staticDir)
		}
	}
}

// handleGetData returns every record.
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	seq, err := s.reader.Records(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to load data", "request_id", requestID(r.Context()), "err", err)
		s.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "Failed to load data"})
		return
	}
	if !s.writeJSON(w, r, http.StatusOK, seq) {
		s.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "Failed to load data"})
	}
}

// handlePostData upserts the record in the request body and returns every record.
func (s *Server) handlePostData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	incoming, err := decodeRecord(w, r)
	if err != nil {
		s.logger.WarnContext(ctx, "Invalid request body", "request_id", requestID(ctx), "err", err)
		s.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "Failed to save data"})
		return
	}

	seq, err := s.upserter.Upsert(ctx, incoming)
	if err != nil {
		var nle *replication.NotLeaderError
		if errors.As(err, &nle) && nle.Leader != "" {
			w.Header().Set("X-Raft-Leader", nle.Leader)
		}
		s.logger.ErrorContext(ctx, "Failed to save data", "request_id", requestID(ctx), "err", err)
		s.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "Failed to save data"})
		return
	}
	if !s.writeJSON(w, r, http.StatusOK, saveResponse{Message: "Data saved successfully", Data: seq}) {
		s.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "Failed to save data"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleJoin adds a new node to the Raft cluster.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var joinReq struct {
		NodeID string `json:"node_id"`
		Addr   string `json:"addr"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&joinReq); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "Invalid join request body"})
		return
	}
	if joinReq.NodeID == "" || joinReq.Addr == "" {
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "Missing node_id or addr in join request"})
		return
	}

	if err := s.joiner.Join(joinReq.NodeID, joinReq.Addr); err != nil {
		if errors.Is(err, replication.ErrNotLeader) {
			s.writeJSON(w, r, http.StatusForbidden, errorResponse{Error: "Can only join a cluster via the leader node"})
			return
		}
		s.logger.ErrorContext(r.Context(), "Failed to add node to cluster", "node_id", joinReq.NodeID, "err", err)
		s.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "Failed to add node to cluster"})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "joined"})
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (record.Record, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return record.Record{}, err
	}
	return record.Parse(body)
}

// writeJSON encodes v before writing anything so that an encoding failure can
// still be answered with an error status. It reports whether v was written.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to encode response", "request_id", requestID(r.Context()), "err", err)
		return false
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(data)
	return true
}
