package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
	"github.com/kailas-cloud/livedoc/internal/logger"
	healthuc "github.com/kailas-cloud/livedoc/internal/usecase/health"
	"github.com/kailas-cloud/livedoc/internal/usecase/livequery"
	"github.com/kailas-cloud/livedoc/internal/usecase/storage"
	"github.com/kailas-cloud/livedoc/internal/version"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Error codes returned in ErrorResponse.Code.
const (
	codeBadRequest       = "bad_request"
	codeValidationFailed = "validation_failed"
	codeClassNotFound    = "class_not_found"
	codeDocumentNotFound = "document_not_found"
	codeAlreadyExists    = "already_exists"
	codeQueryDisposed    = "query_disposed"
	codeInternalError    = "internal_error"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the document API over chi.
type Server struct {
	storage       *storage.Service
	live          *livequery.Engine
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	storageSvc *storage.Service,
	live *livequery.Engine,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		storage: storageSvc,
		live:    live,
		health:  health,
		logger:  logger,
	}
	validation := []error{
		domain.ErrAttributeNotFound,
		domain.ErrDomainNotFound,
		domain.ErrDomainMismatch,
		domain.ErrInvalidSelectorTarget,
		domain.ErrInvalidOperationTarget,
		domain.ErrInvalidQuery,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrClassNotFound, http.StatusNotFound, codeClassNotFound),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, codeAlreadyExists),
		sentinelHandler(domain.ErrQueryDisposed, http.StatusGone, codeQueryDisposed),
	}
	for _, sentinel := range validation {
		s.errorHandlers = append(s.errorHandlers, sentinelHandler(sentinel, http.StatusBadRequest, codeValidationFailed))
	}
	return s
}

// Routes registers the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/find", s.Find)
		r.Post("/find-one", s.FindOne)
		r.Post("/tx", s.Tx)
		r.Post("/watch", s.Watch)
	})
}

// SortField is one key of a requested order; Order is 1 (ascending) or -1 (descending).
type SortField struct {
	Path  string `json:"path"`
	Order int    `json:"order"`
}

// FindRequest is the body of find, find-one and watch.
type FindRequest struct {
	Class string         `json:"class"`
	Query map[string]any `json:"query"`
	Limit int            `json:"limit"`
	Skip  int            `json:"skip"`
	Sort  []SortField    `json:"sort"`
}

// FindResponse is one window of matches.
type FindResponse struct {
	Docs  []domain.Doc `json:"docs"`
	Total int          `json:"total"`
}

// TxResponse identifies the document a transaction addressed.
type TxResponse struct {
	Kind  tx.Kind `json:"kind"`
	Class string  `json:"class"`
	ID    string  `json:"id"`
}

// Snapshot is one server-sent event of a watch stream.
type Snapshot struct {
	Docs  []domain.Doc `json:"docs"`
	Total int          `json:"total"`
	Seq   uint64       `json:"seq"`
}

func (req FindRequest) options() (query.Options, error) {
	opts := query.Options{Limit: req.Limit, Skip: req.Skip}
	for _, f := range req.Sort {
		if f.Path == "" {
			return query.Options{}, fmt.Errorf("sort path is required: %w", domain.ErrInvalidQuery)
		}
		switch f.Order {
		case 1, -1:
		default:
			return query.Options{}, fmt.Errorf("sort order of %q must be 1 or -1: %w", f.Path, domain.ErrInvalidQuery)
		}
		opts.Sort = append(opts.Sort, query.SortField{Path: f.Path, Order: query.SortOrder(f.Order)})
	}
	return opts, nil
}

func decodeFind(w http.ResponseWriter, r *http.Request) (FindRequest, query.Options, bool) {
	var req FindRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return req, query.Options{}, false
	}
	if req.Class == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "class is required")
		return req, query.Options{}, false
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return req, query.Options{}, false
	}
	return req, opts, true
}

// Find handles POST /v1/find.
func (s *Server) Find(w http.ResponseWriter, r *http.Request) {
	req, opts, ok := decodeFind(w, r)
	if !ok {
		return
	}
	res, err := s.storage.Find(r.Context(), domain.ClassRef(req.Class), req.Query, opts)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FindResponse{Docs: nonNil(res.Docs), Total: res.Total})
}

// FindOne handles POST /v1/find-one.
func (s *Server) FindOne(w http.ResponseWriter, r *http.Request) {
	req, opts, ok := decodeFind(w, r)
	if !ok {
		return
	}
	doc, err := s.storage.FindOne(r.Context(), domain.ClassRef(req.Class), req.Query, opts.Sort)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Tx handles POST /v1/tx. Transactions go through the live query engine so that watchers
// in this process see them before the commit returns.
func (s *Server) Tx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	t, err := tx.Unmarshal(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	prepared, err := s.storage.Prepare(t)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.live.Tx(r.Context(), prepared); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if prepared.Kind() == tx.KindCreate {
		status = http.StatusCreated
	}
	writeJSON(w, status, TxResponse{
		Kind:  prepared.Kind(),
		Class: string(prepared.ObjectClass()),
		ID:    string(prepared.ObjectID()),
	})
}

// Watch handles POST /v1/watch: a server-sent event stream of result snapshots. Only the
// latest snapshot is kept for a slow client; every event supersedes the previous one.
func (s *Server) Watch(w http.ResponseWriter, r *http.Request) {
	req, opts, ok := decodeFind(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported")
		return
	}
	sub, err := s.live.Query(domain.ClassRef(req.Class), req.Query, opts)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	updates := make(chan livequery.Result, 1)
	unsubscribe, err := sub.Subscribe(r.Context(), func(res livequery.Result) {
		select {
		case <-updates:
		default:
		}
		updates <- res
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := logger.FromContext(logger.WithFields(r.Context(), zap.String("class", req.Class)))
	var last uint64
	defer func() { log.Debug("watch stream closed", zap.Uint64("last_seq", last)) }()
	for {
		select {
		case <-r.Context().Done():
			return
		case res := <-updates:
			data, err := json.Marshal(Snapshot{Docs: nonNil(res.Docs), Total: res.Total, Seq: res.Seq})
			if err != nil {
				log.Error("encode snapshot", zap.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", res.Seq, data); err != nil {
				return
			}
			flusher.Flush()
			last = res.Seq
		}
	}
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":  report.Status,
		"checks":  report.Checks,
		"version": version.String(),
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func nonNil(docs []domain.Doc) []domain.Doc {
	if docs == nil {
		return []domain.Doc{}
	}
	return docs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns the error text for domain errors and hides everything else.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrClassNotFound,
		domain.ErrAttributeNotFound,
		domain.ErrDomainNotFound,
		domain.ErrDomainMismatch,
		domain.ErrInvalidSelectorTarget,
		domain.ErrInvalidOperationTarget,
		domain.ErrDocumentNotFound,
		domain.ErrAlreadyExists,
		domain.ErrInvalidQuery,
		domain.ErrQueryDisposed,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
