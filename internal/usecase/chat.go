package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"order-bot/internal/domain"
)

// Generator produces a reply for a conversation.
type Generator interface {
	Generate(ctx context.Context, messages []domain.ChatMessage) (domain.Reply, error)
}

// Recorder persists completed exchanges.
type Recorder interface {
	Record(ctx context.Context, ex domain.Exchange) error
}

type GenerationObserver interface {
	ObserveGeneration(d time.Duration, err error)
}

type ChatInput struct {
	Message       string
	CorrelationID string
}

type ChatOutput struct {
	Response string
}

type Option func(*ChatService)

// WithRecorder enables transcript recording. Record failures are logged and
// never fail the request.
func WithRecorder(r Recorder) Option {
	return func(s *ChatService) {
		s.recorder = r
	}
}

func WithObserver(o GenerationObserver) Option {
	return func(s *ChatService) {
		s.observer = o
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *ChatService) {
		if l != nil {
			s.log = l
		}
	}
}

// ChatService sends one user message through the engine per call.
type ChatService struct {
	engine   Generator
	recorder Recorder
	observer GenerationObserver
	log      *slog.Logger
	now      func() time.Time
}

func NewChatService(engine Generator, opts ...Option) (*ChatService, error) {
	if engine == nil {
		return nil, errors.New("usecase: engine must not be nil")
	}
	s := &ChatService{
		engine: engine,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	started := s.now()
	reply, err := s.engine.Generate(ctx, []domain.ChatMessage{{
		Role:    domain.RoleUser,
		Content: in.Message,
	}})
	if s.observer != nil {
		s.observer.ObserveGeneration(s.now().Sub(started), err)
	}
	if err != nil {
		return ChatOutput{}, newError(ErrorGeneration, "engine_error", err)
	}

	if reply.Blocked {
		s.log.InfoContext(ctx, "reply replaced by rail", "correlation_id", in.CorrelationID)
	}
	s.record(ctx, in, reply)

	return ChatOutput{Response: reply.Content}, nil
}

func (s *ChatService) record(ctx context.Context, in ChatInput, reply domain.Reply) {
	if s.recorder == nil {
		return
	}
	ex := domain.Exchange{
		ID:            newUUID(),
		CorrelationID: in.CorrelationID,
		Message:       in.Message,
		Response:      reply.Content,
		Blocked:       reply.Blocked,
		Actions:       reply.Actions,
	}
	if err := s.recorder.Record(ctx, ex); err != nil {
		s.log.WarnContext(ctx, "failed to record exchange",
			"err", err,
			"exchange_id", ex.ID,
			"correlation_id", in.CorrelationID,
		)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
