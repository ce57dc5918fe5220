package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/klyr/proxyurl/internal/config"
	"github.com/klyr/proxyurl/internal/inspect"
	"github.com/klyr/proxyurl/internal/logging"
	"github.com/klyr/proxyurl/internal/observability"
	"github.com/klyr/proxyurl/internal/ratelimit"
)

const (
	maxBatchURLs = 1000
	sinkTimeout  = 2 * time.Second
)

// Sink receives every record produced by the API, e.g. a database store.
type Sink interface {
	Save(ctx context.Context, record logging.Record) error
}

type Server struct {
	inspector    *inspect.Inspector
	maxBodyBytes int64
	timeout      time.Duration

	limiter      *ratelimit.Limiter
	limitKey     ratelimit.KeyType
	limitStatus  int
	records      *logging.RecordLogger
	metrics      *observability.Metrics
	sink         Sink
	log          *zap.Logger
	mux          *http.ServeMux
	requestCount uint64
}

type extractRequest struct {
	URLs   []string `json:"urls"`
	Decode bool     `json:"decode"`
}

type extractResponse struct {
	RequestID string           `json:"request_id"`
	Results   []inspect.Result `json:"results"`
}

func New(cfg *config.Config, inspector *inspect.Inspector) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if inspector == nil {
		return nil, errors.New("inspector is required")
	}

	s := &Server{
		inspector:    inspector,
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		timeout:      cfg.Server.Timeout,
		log:          zap.NewNop(),
		mux:          http.NewServeMux(),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		s.limitKey = ratelimit.KeyType(cfg.RateLimit.Key)
		s.limitStatus = rateLimitStatus(cfg.RateLimit.StatusCode)
	}

	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/v1/keys", s.handleKeys)
	s.mux.HandleFunc("/v1/extract", s.handleExtract)
	return s, nil
}

func (s *Server) SetRecordLogger(logger *logging.RecordLogger) {
	s.records = logger
}

func (s *Server) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

func (s *Server) SetSink(sink Sink) {
	s.sink = sink
}

func (s *Server) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	s.log = log
}

// Limiter exposes the rate limiter so the caller can sweep idle buckets.
func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		s.metrics.ObserveRequest(endpointLabel(r.URL.Path), rec.status, time.Since(start))
	}()

	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	if r.URL.Path != "/healthz" && s.limiter != nil {
		key := ratelimit.Key(s.limitKey, clientIP(r), r.URL.Path)
		if !s.limiter.Allow(key, start) {
			s.metrics.ObserveRateLimit(string(s.limitKey))
			writeError(rec, s.limitStatus, "rate limit exceeded")
			return
		}
	}

	s.mux.ServeHTTP(rec, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"keys":     s.inspector.Extractor.Keys(),
		"gateways": s.inspector.Gateways.Patterns(),
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	switch r.Method {
	case http.MethodGet:
		raw := r.URL.Query().Get("url")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "url parameter is required")
			return
		}
		req.URLs = []string{raw}
		req.Decode = r.URL.Query().Get("decode") == "true"
	case http.MethodPost:
		status, err := s.decodeBody(w, r, &req)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	requestID := s.newRequestID()
	client := clientIP(r)

	// One sink deadline covers the whole batch; it never outlives the request.
	sinkCtx, cancel := context.WithTimeout(r.Context(), sinkTimeout)
	defer cancel()

	results := make([]inspect.Result, len(req.URLs))
	for i, raw := range req.URLs {
		if r.Context().Err() != nil {
			s.log.Warn("extract request timed out",
				zap.String("request_id", requestID),
				zap.Int("done", i),
				zap.Int("urls", len(req.URLs)),
			)
			writeError(w, http.StatusServiceUnavailable, "request timed out")
			return
		}
		results[i] = s.inspector.Inspect(raw, req.Decode)

		record := results[i].Record("api", time.Now())
		record.RequestID = requestID
		record.ClientIP = client
		s.emit(sinkCtx, record)
	}

	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, results[0])
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{RequestID: requestID, Results: results})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, req *extractRequest) (int, error) {
	if s.maxBodyBytes > 0 {
		if r.ContentLength > s.maxBodyBytes {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)
	}
	if len(req.URLs) == 0 {
		return http.StatusBadRequest, errors.New("urls is required")
	}
	if len(req.URLs) > maxBatchURLs {
		return http.StatusRequestEntityTooLarge, fmt.Errorf("at most %d urls per request", maxBatchURLs)
	}
	return http.StatusOK, nil
}

func (s *Server) emit(ctx context.Context, record logging.Record) {
	if err := s.records.Write(record); err != nil {
		s.log.Warn("write extraction record", zap.Error(err))
	}
	s.metrics.ObserveRecord(record)

	if s.sink == nil || ctx.Err() != nil {
		return
	}
	if err := s.sink.Save(ctx, record); err != nil {
		s.log.Warn("store extraction record", zap.String("request_id", record.RequestID), zap.Error(err))
	}
}

func (s *Server) newRequestID() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err == nil {
		return hex.EncodeToString(buf[:])
	}
	value := atomic.AddUint64(&s.requestCount, 1)
	return fmt.Sprintf("req-%d", value)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func endpointLabel(path string) string {
	switch path {
	case "/healthz", "/v1/keys", "/v1/extract":
		return path
	default:
		return "other"
	}
}

func rateLimitStatus(code int) int {
	if code <= 0 {
		return http.StatusTooManyRequests
	}
	return code
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
