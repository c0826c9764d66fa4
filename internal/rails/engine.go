package rails

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"order-bot/internal/actions"
	"order-bot/internal/domain"
)

// LLM is the model provider the engine drives.
type LLM interface {
	Chat(ctx context.Context, in domain.CompletionRequest) (domain.ChatMessage, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// ActionRegistry is the set of actions the model may call.
type ActionRegistry interface {
	Has(name string) bool
	Seal()
	Definitions() []actions.Definition
	Invoke(ctx context.Context, name string, args actions.Args) (string, error)
}

// ActionObserver is notified after each action invocation.
type ActionObserver interface {
	ObserveAction(name string, err error)
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithActionObserver(o ActionObserver) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// Engine applies input and output rails around a tool-calling generation.
// It is immutable after New and safe for concurrent use.
type Engine struct {
	llm          LLM
	actions      ActionRegistry
	model        Model
	tools        []domain.Tool
	systemPrompt string
	refusal      string
	maxRounds    int
	checkInput   bool
	checkOutput  bool
	observer     ActionObserver
	log          *slog.Logger
}

// New builds an Engine and seals the registry. Every action named in
// cfg.Actions must already be registered.
func New(cfg *Config, llm LLM, reg ActionRegistry, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("rails: config must not be nil")
	}
	if llm == nil {
		return nil, errors.New("rails: llm must not be nil")
	}
	if reg == nil {
		return nil, errors.New("rails: action registry must not be nil")
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("rails: %w", err)
	}

	overrides := make(map[string]string, len(cfg.Actions))
	for _, a := range cfg.Actions {
		if !reg.Has(a.Name) {
			return nil, fmt.Errorf("rails: config references unregistered action %q", a.Name)
		}
		overrides[a.Name] = strings.TrimSpace(a.Description)
	}
	reg.Seal()

	defs := reg.Definitions()
	tools := make([]domain.Tool, 0, len(defs))
	for _, d := range defs {
		desc := d.Description
		if o := overrides[d.Name]; o != "" {
			desc = o
		}
		tools = append(tools, domain.Tool{Name: d.Name, Description: desc, Params: d.Params})
	}

	e := &Engine{
		llm:          llm,
		actions:      reg,
		model:        cfg.MainModel(),
		tools:        tools,
		systemPrompt: buildSystemPrompt(cfg),
		refusal:      cfg.RefusalMessage,
		maxRounds:    cfg.MaxActionRounds,
		checkInput:   cfg.Rails.Input.Has(FlowSelfCheckInput),
		checkOutput:  cfg.Rails.Output.Has(FlowSelfCheckOutput),
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Generate produces the assistant reply for messages. A rail that trips
// yields a refusal reply, not an error; every other failure is returned.
func (e *Engine) Generate(ctx context.Context, messages []domain.ChatMessage) (domain.Reply, error) {
	if len(messages) == 0 {
		return domain.Reply{}, errors.New("rails: no messages to generate from")
	}

	if e.checkInput {
		flagged, err := e.llm.Moderate(ctx, lastUserContent(messages))
		if err != nil {
			return domain.Reply{}, fmt.Errorf("rails: input check: %w", err)
		}
		if flagged {
			e.log.InfoContext(ctx, "input rail blocked message")
			return domain.Reply{Content: e.refusal, Blocked: true}, nil
		}
	}

	conversation := make([]domain.ChatMessage, 0, len(messages)+1)
	if e.systemPrompt != "" {
		conversation = append(conversation, domain.ChatMessage{Role: domain.RoleSystem, Content: e.systemPrompt})
	}
	conversation = append(conversation, messages...)

	var invoked []string
	for round := 0; ; round++ {
		msg, err := e.llm.Chat(ctx, domain.CompletionRequest{
			Model:       e.model.Model,
			Messages:    conversation,
			Tools:       e.tools,
			Temperature: e.model.Parameters.Temperature,
		})
		if err != nil {
			return domain.Reply{}, err
		}
		if len(msg.ToolCalls) == 0 {
			return e.finish(ctx, msg.Content, invoked)
		}
		if round >= e.maxRounds {
			return domain.Reply{}, fmt.Errorf("rails: exceeded %d action rounds", e.maxRounds)
		}

		conversation = append(conversation, msg)
		for _, call := range msg.ToolCalls {
			result, err := e.runAction(ctx, call)
			if err != nil {
				return domain.Reply{}, err
			}
			invoked = append(invoked, call.Function.Name)
			conversation = append(conversation, domain.ChatMessage{
				Role:       domain.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}
}

func (e *Engine) finish(ctx context.Context, content string, invoked []string) (domain.Reply, error) {
	if e.checkOutput {
		flagged, err := e.llm.Moderate(ctx, content)
		if err != nil {
			return domain.Reply{}, fmt.Errorf("rails: output check: %w", err)
		}
		if flagged {
			e.log.InfoContext(ctx, "output rail blocked reply")
			return domain.Reply{Content: e.refusal, Blocked: true, Actions: invoked}, nil
		}
	}
	return domain.Reply{Content: content, Actions: invoked}, nil
}

func (e *Engine) runAction(ctx context.Context, call domain.ToolCall) (string, error) {
	name := call.Function.Name
	if call.Type != "" && call.Type != "function" {
		return "", fmt.Errorf("rails: unsupported tool call type %q", call.Type)
	}
	args, err := decodeArgs(call.Function.Arguments)
	if err != nil {
		return "", fmt.Errorf("rails: decode arguments for %s: %w", name, err)
	}

	e.log.DebugContext(ctx, "invoking action", "action", name)
	out, err := e.actions.Invoke(ctx, name, args)
	if e.observer != nil {
		e.observer.ObserveAction(name, err)
	}
	if err != nil {
		return "", err
	}
	return out, nil
}

// decodeArgs turns a JSON object into string arguments. Non-string values
// are rendered with their JSON text.
func decodeArgs(raw string) (actions.Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return actions.Args{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	args := make(actions.Args, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			args[k] = s
			continue
		}
		args[k] = string(v)
	}
	return args, nil
}

func lastUserContent(messages []domain.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
