package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"docdigest/constants"
	"docdigest/internal/common"
	"docdigest/internal/metrics"
	"docdigest/internal/producer"
	"docdigest/internal/status"
)

// Server exposes the submission and polling API.
type Server struct {
	producer *producer.Producer
	store    status.Store
	redis    *redis.Client
	cfg      common.ServerConfig
	log      *slog.Logger
}

func New(p *producer.Producer, store status.Store, rdb *redis.Client, cfg common.ServerConfig, logger *slog.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{producer: p, store: store, redis: rdb, cfg: cfg, log: logger}
}

// NewMux exposes the service handlers for testing.
func (s *Server) NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/documents", s.handleSubmit)
	mux.HandleFunc("GET /v1/documents/{id}", s.handleGet)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type submitResponse struct {
	DocumentID string `json:"document_id"`
	State      string `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "expected multipart form with a \"file\" part")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing \"file\" part")
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			s.log.Warn("server.upload.close_failed", "error", err)
		}
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	mode := constants.Mode(r.FormValue("mode"))
	if mode == "" {
		mode = constants.ModeTextExtraction
	}

	docID, err := s.producer.Submit(r.Context(), data, mode, header.Filename)
	if err != nil {
		if errors.Is(err, common.ErrInvalidInput) {
			s.writeError(w, http.StatusBadRequest, userMessage(err))
			return
		}
		s.log.Error("server.submit.failed", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "submission failed, try again")
		return
	}

	metrics.DocumentsSubmitted.WithLabelValues(string(mode)).Inc()
	s.writeJSON(w, http.StatusAccepted, submitResponse{
		DocumentID: docID,
		State:      string(constants.StateQueued),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")

	rec, err := s.store.Get(r.Context(), docID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown document")
			return
		}
		s.log.Error("server.get.failed", "doc_id", docID, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "status lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.redis.Ping(r.Context()).Err(); err != nil {
		s.log.Warn("server.readyz.redis_unreachable", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "redis unreachable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("server.response.encode_failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg})
}

// userMessage strips internal wrapping from validation errors so clients see
// the human-readable part.
func userMessage(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
