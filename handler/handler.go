package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"order-bot/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	chatRoute           = "/chat"
	routeUnmatched      = "unmatched"
	maxBodyBytes        = 1 << 20
)

// ChatService is the use case behind POST /chat.
type ChatService interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

// RequestObserver records one completed request.
type RequestObserver interface {
	ObserveRequest(route string, code int)
}

type chatRequest struct {
	Message *string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMetrics mounts GET /metrics and records per-request counts.
func WithMetrics(observer RequestObserver, exposition http.Handler) Option {
	return func(h *Handler) {
		h.observer = observer
		h.metrics = exposition
	}
}

// Handler adapts HTTP requests and API Gateway events to the chat use case.
type Handler struct {
	svc      ChatService
	log      *slog.Logger
	observer RequestObserver
	metrics  http.Handler
}

func NewHandler(svc ChatService, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	h := &Handler{svc: svc, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// chat runs one request body through the use case and returns the status
// and JSON payload to send back.
func (h *Handler) chat(ctx context.Context, body []byte, correlationID string) (int, any) {
	req, err := decodeChatRequest(body)
	if err != nil {
		return http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()}
	}

	out, err := h.svc.Chat(ctx, usecase.ChatInput{
		Message:       *req.Message,
		CorrelationID: correlationID,
	})
	if err != nil {
		h.log.ErrorContext(ctx, "chat request failed",
			"err", err,
			"correlation_id", correlationID,
		)
		return http.StatusInternalServerError, errorResponse{Detail: errorDetail(err)}
	}
	return http.StatusOK, chatResponse{Response: out.Response}
}

func decodeChatRequest(body []byte) (chatRequest, error) {
	var req chatRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return chatRequest{}, errors.New("request body is required")
		}
		return chatRequest{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	if req.Message == nil {
		return chatRequest{}, errors.New("message: field required")
	}
	return req, nil
}

// errorDetail is the text of the failure that caused err, without the use
// case wrapping.
func errorDetail(err error) string {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		return ucErr.Detail()
	}
	return err.Error()
}

func correlationIDOrNew(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return newCorrelationID()
}

var newCorrelationID = func() string {
	return uuid.NewString()
}

func encodeJSON(v any) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"detail":"internal error"}`)
	}
	return buf
}
