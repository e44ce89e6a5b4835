package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains server configuration.
type Config struct {
	Handler *Handler
	// Gatherer backs /metrics. Nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewServer builds the control API router: POST /rpc, GET /health and
// GET /metrics.
func NewServer(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &server{handler: cfg.Handler, logger: logger}

	router := http.NewServeMux()
	router.HandleFunc("POST /rpc", s.serveRPC)
	router.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Gatherer != nil {
		router.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return router
}

type server struct {
	handler *Handler
	logger  *slog.Logger
}

func (s *server) serveRPC(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest(r.Body)
	if err != nil {
		if errors.Is(err, errInvalidRequest) {
			WriteError(w, nil, ErrInvalidReq, "Invalid request", nil)
			return
		}
		WriteError(w, nil, ErrParseCode, "Parse error", nil)
		return
	}

	ctx := r.Context()
	s.logTraffic(ctx, "request", req.Method, req.Params, nil)
	result, err := s.handler.Handle(ctx, req.Method, req.Params)
	s.logTraffic(ctx, "response", req.Method, result, err)
	if err != nil {
		s.writeHandlerError(w, req, err)
		return
	}
	WriteResult(w, req.ID, result)
}

func (s *server) writeHandlerError(w http.ResponseWriter, req Request, err error) {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		WriteError(w, req.ID, ErrApplication, apiErr.Message, apiErr)
	case errors.Is(err, errMethodNotFound):
		WriteError(w, req.ID, ErrMethodNotFound, "Method not found", req.Method)
	case errors.Is(err, errInvalidParams):
		WriteError(w, req.ID, ErrInvalidParams, err.Error(), nil)
	default:
		s.logger.Error("control method failed", "method", req.Method, "error", err)
		WriteError(w, req.ID, ErrInternal, fmt.Sprintf("Internal error: %v", err), nil)
	}
}

func (s *server) logTraffic(ctx context.Context, stage, method string, payload any, err error) {
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := []any{"stage", stage, "method", method, "payload", formatPayload(payload)}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	s.logger.Debug("control traffic", attrs...)
}

func formatPayload(payload any) string {
	switch p := payload.(type) {
	case nil:
		return "<nil>"
	case json.RawMessage:
		return string(p)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%T", payload)
	}
	return string(data)
}
