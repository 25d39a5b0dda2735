package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/history"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// Pipeline is the part of the orchestrator manager the server drives.
type Pipeline interface {
	Scan(ctx context.Context, a orchestrator.Attempt) (orchestrator.Result, error)
	SetDetecting(enabled bool) bool
	Reset()
	Status() orchestrator.Status
	Subscribe(buffer int) (<-chan orchestrator.Event, func())
	History(ctx context.Context, limit int) ([]history.Entry, error)
	Counts(ctx context.Context) (map[string]int64, error)
}

// CardStore serves saved cards. Optional.
type CardStore interface {
	Get(ctx context.Context, id string) (card.Card, error)
	List(ctx context.Context, limit, offset int) ([]card.Card, error)
	Search(ctx context.Context, query string, limit int) ([]card.Card, error)
	Ping(ctx context.Context) error
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	pipeline Pipeline
	store    CardStore
	metrics  http.Handler
	limiter  *ipLimiter

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithCardStore enables the /api/cards endpoints and the store health check.
func WithCardStore(store CardStore) Option {
	return func(s *Server) { s.store = store }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New creates a server.
func New(p Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline: p,
		limiter:  newIPLimiter(IPRateLimitMessages, IPRateLimitWindow),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.limiter.cleanupLoop(s.stop)
	return s
}

// Close stops background housekeeping.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware, trace.Middleware)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Post("/detector/start", s.handleDetector(true))
		r.Post("/detector/stop", s.handleDetector(false))
		r.Post("/reset", s.handleReset)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.middleware)
			r.Post("/scan", s.handleScanUpload)
			r.Post("/scan/text", s.handleScanText)
		})

		r.Get("/cards", s.handleListCards)
		r.Get("/cards/{id}", s.handleGetCard)
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Expose-Headers", trace.TraceIDKey)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps error codes to HTTP statuses.
func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.InvalidArgument, apperrors.OCRInvalidImage:
		return http.StatusBadRequest
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.PipelineBusy:
		return http.StatusConflict
	case apperrors.RateLimited:
		return http.StatusTooManyRequests
	case apperrors.Unavailable, apperrors.StoreFailed, apperrors.QueueFailed:
		return http.StatusServiceUnavailable
	case apperrors.OCRFailed, apperrors.ExtractService, apperrors.ExtractParse:
		return http.StatusBadGateway
	case apperrors.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: string(apperrors.CodeOf(err))})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			body["status"], body["store"] = "degraded", err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["store"] = "ok"
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r)
	entries, err := s.pipeline.History(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	counts, err := s.pipeline.Counts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "counts": counts})
}

func (s *Server) handleDetector(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.pipeline.SetDetecting(enabled) {
			writeError(w, r, apperrors.New(apperrors.NotFound, "no camera configured"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"detecting": enabled})
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Reset()
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

// handleScanUpload accepts multipart form files "front" and optional "back".
func (s *Server) handleScanUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.InvalidArgument, "invalid multipart upload"))
		return
	}
	front, err := formFile(r, "front")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(front) == 0 {
		writeError(w, r, apperrors.New(apperrors.InvalidArgument, "front image is required"))
		return
	}
	back, err := formFile(r, "back")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.runScan(w, r, orchestrator.Attempt{Image: front, BackImage: back, Still: true, Trigger: "upload"})
}

type textScanRequest struct {
	FullText    string `json:"fullText"`
	RawTextBack string `json:"rawTextBack,omitempty"`
}

func (s *Server) handleScanText(w http.ResponseWriter, r *http.Request) {
	var req textScanRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxTextBytes)).Decode(&req); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.InvalidArgument, "invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.FullText) == "" {
		writeError(w, r, apperrors.New(apperrors.InvalidArgument, "fullText is required"))
		return
	}
	s.runScan(w, r, orchestrator.Attempt{Text: req.FullText, BackText: req.RawTextBack, Trigger: "text"})
}

func (s *Server) runScan(w http.ResponseWriter, r *http.Request, a orchestrator.Attempt) {
	res, err := s.pipeline.Scan(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == orchestrator.OutcomeError && res.Err != nil {
		status = statusFor(res.Err)
	}
	writeJSON(w, status, res)
}

func formFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if stderrors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "read "+field)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "read "+field)
	}
	return data, nil
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, r, apperrors.New(apperrors.Unavailable, "card storage is not configured"))
		return
	}
	limit := limitParam(r)
	var (
		cards []card.Card
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		cards, err = s.store.Search(r.Context(), q, limit)
	} else {
		cards, err = s.store.List(r.Context(), limit, intParam(r, "offset", 0))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards, "count": len(cards)})
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, r, apperrors.New(apperrors.Unavailable, "card storage is not configured"))
		return
	}
	c, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func intParam(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func limitParam(r *http.Request) int {
	return min(intParam(r, "limit", DefaultPageSize), MaxPageSize)
}
