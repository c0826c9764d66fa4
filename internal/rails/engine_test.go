package rails

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"order-bot/internal/actions"
	"order-bot/internal/domain"
)

type chatStep struct {
	msg domain.ChatMessage
	err error
}

// scriptedLLM replays chat steps in order and records every request.
type scriptedLLM struct {
	steps       []chatStep
	requests    []domain.CompletionRequest
	flagged     map[string]bool
	moderateErr error
	moderated   []string
}

func (s *scriptedLLM) Chat(_ context.Context, in domain.CompletionRequest) (domain.ChatMessage, error) {
	in.Messages = append([]domain.ChatMessage(nil), in.Messages...)
	s.requests = append(s.requests, in)
	if len(s.steps) == 0 {
		return domain.ChatMessage{}, errors.New("no scripted step")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.msg, step.err
}

func (s *scriptedLLM) Moderate(_ context.Context, input string) (bool, error) {
	s.moderated = append(s.moderated, input)
	return s.flagged[input], s.moderateErr
}

type recordingObserver struct {
	names []string
	errs  []error
}

func (r *recordingObserver) ObserveAction(name string, err error) {
	r.names = append(r.names, name)
	r.errs = append(r.errs, err)
}

func reply(content string) chatStep {
	return chatStep{msg: domain.ChatMessage{Role: domain.RoleAssistant, Content: content}}
}

func toolCall(id, name, args string) chatStep {
	return chatStep{msg: domain.ChatMessage{
		Role: domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: domain.FunctionCall{Name: name, Arguments: args},
		}},
	}}
}

func testConfig(input, output bool) *Config {
	cfg := &Config{
		Models:       []Model{{Type: ModelTypeMain, Engine: "openai", Model: "gpt-test"}},
		Instructions: []Instruction{{Type: "general", Content: "You help with orders."}},
	}
	if input {
		cfg.Rails.Input.Flows = []string{FlowSelfCheckInput}
	}
	if output {
		cfg.Rails.Output.Flows = []string{FlowSelfCheckOutput}
	}
	applyDefaults(cfg)
	return cfg
}

func newRegistry(t *testing.T) *actions.Registry {
	t.Helper()
	r := actions.NewRegistry()
	require.NoError(t, actions.RegisterDefaults(r))
	return r
}

func newEngine(t *testing.T, cfg *Config, llm LLM, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, llm, newRegistry(t), opts...)
	require.NoError(t, err)
	return e
}

func userSays(text string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: domain.RoleUser, Content: text}}
}

func TestNew_ValidatesDependencies(t *testing.T) {
	cfg := testConfig(false, false)
	llm := &scriptedLLM{}

	_, err := New(nil, llm, newRegistry(t))
	require.Error(t, err)
	_, err = New(cfg, nil, newRegistry(t))
	require.Error(t, err)
	_, err = New(cfg, llm, nil)
	require.Error(t, err)
	_, err = New(&Config{}, llm, newRegistry(t))
	require.Error(t, err)
}

func TestNew_RejectsUnregisteredConfiguredAction(t *testing.T) {
	cfg := testConfig(false, false)
	cfg.Actions = []ActionConfig{{Name: "refund_order"}}
	_, err := New(cfg, &scriptedLLM{}, newRegistry(t))
	require.ErrorContains(t, err, `unregistered action "refund_order"`)
}

func TestNew_SealsRegistryAndAppliesDescriptionOverride(t *testing.T) {
	cfg := testConfig(false, false)
	cfg.Actions = []ActionConfig{{Name: actions.CheckOrderStatus, Description: "Custom lookup"}}
	reg := newRegistry(t)
	llm := &scriptedLLM{steps: []chatStep{reply("ok")}}

	e, err := New(cfg, llm, reg)
	require.NoError(t, err)
	require.ErrorIs(t, reg.Register("late", actions.Action{Func: func(context.Context, actions.Args) (string, error) { return "", nil }}), actions.ErrSealed)

	_, err = e.Generate(context.Background(), userSays("hi"))
	require.NoError(t, err)
	require.Len(t, llm.requests[0].Tools, 1)
	require.Equal(t, "Custom lookup", llm.requests[0].Tools[0].Description)
	require.Equal(t, []string{"order_id"}, llm.requests[0].Tools[0].Params)
}

func TestGenerate_PlainReply(t *testing.T) {
	llm := &scriptedLLM{steps: []chatStep{reply("Hello! Ask me about your order.")}}
	e := newEngine(t, testConfig(false, false), llm)

	out, err := e.Generate(context.Background(), userSays("hi"))
	require.NoError(t, err)
	require.Equal(t, "Hello! Ask me about your order.", out.Content)
	require.False(t, out.Blocked)
	require.Empty(t, out.Actions)

	req := llm.requests[0]
	require.Equal(t, "gpt-test", req.Model)
	require.Len(t, req.Messages, 2)
	require.Equal(t, domain.RoleSystem, req.Messages[0].Role)
	require.Equal(t, "You help with orders.", req.Messages[0].Content)
	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "hi"}, req.Messages[1])
}

func TestGenerate_NoSystemPromptWithoutInstructions(t *testing.T) {
	cfg := testConfig(false, false)
	cfg.Instructions = nil
	llm := &scriptedLLM{steps: []chatStep{reply("ok")}}
	e := newEngine(t, cfg, llm)

	_, err := e.Generate(context.Background(), userSays("hi"))
	require.NoError(t, err)
	require.Len(t, llm.requests[0].Messages, 1)
}

func TestGenerate_InvokesRegisteredAction(t *testing.T) {
	cases := []struct {
		orderID string
		status  string
	}{
		{"ORD123", "Shipped"},
		{"RET456", "Returned"},
		{"XYZ789", "Invalid ID"},
		{"ORDRET", "Shipped"},
	}
	for _, tc := range cases {
		t.Run(tc.orderID, func(t *testing.T) {
			obs := &recordingObserver{}
			llm := &scriptedLLM{steps: []chatStep{
				toolCall("call_1", actions.CheckOrderStatus, `{"order_id":"`+tc.orderID+`"}`),
				reply("Your order status is " + tc.status + "."),
			}}
			e := newEngine(t, testConfig(false, false), llm, WithActionObserver(obs))

			out, err := e.Generate(context.Background(), userSays("status of "+tc.orderID+"?"))
			require.NoError(t, err)
			require.Equal(t, "Your order status is "+tc.status+".", out.Content)
			require.Equal(t, []string{actions.CheckOrderStatus}, out.Actions)
			require.Equal(t, []string{actions.CheckOrderStatus}, obs.names)
			require.NoError(t, obs.errs[0])

			second := llm.requests[1].Messages
			toolMsg := second[len(second)-1]
			require.Equal(t, domain.RoleTool, toolMsg.Role)
			require.Equal(t, "call_1", toolMsg.ToolCallID)
			require.Equal(t, tc.status, toolMsg.Content)
			require.Len(t, second[len(second)-2].ToolCalls, 1)
		})
	}
}

func TestGenerate_ActionFailures(t *testing.T) {
	cases := []struct {
		name    string
		step    chatStep
		wantErr string
	}{
		{name: "unknown action", step: toolCall("c1", "cancel_order", `{}`), wantErr: "unknown action"},
		{name: "bad arguments", step: toolCall("c1", actions.CheckOrderStatus, `{"order_id":`), wantErr: "decode arguments"},
		{name: "bad tool type", step: chatStep{msg: domain.ChatMessage{ToolCalls: []domain.ToolCall{{ID: "c1", Type: "retrieval"}}}}, wantErr: "unsupported tool call type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			llm := &scriptedLLM{steps: []chatStep{tc.step}}
			e := newEngine(t, testConfig(false, false), llm)
			_, err := e.Generate(context.Background(), userSays("hi"))
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestGenerate_ExceedsActionRounds(t *testing.T) {
	cfg := testConfig(false, false)
	cfg.MaxActionRounds = 2
	call := toolCall("c", actions.CheckOrderStatus, `{"order_id":"ORD1"}`)
	llm := &scriptedLLM{steps: []chatStep{call, call, call, reply("never")}}
	e := newEngine(t, cfg, llm)

	_, err := e.Generate(context.Background(), userSays("loop"))
	require.ErrorContains(t, err, "exceeded 2 action rounds")
	require.Len(t, llm.requests, 3)
}

func TestGenerate_LLMErrorIsReturnedUnchanged(t *testing.T) {
	boom := errors.New("provider unavailable")
	llm := &scriptedLLM{steps: []chatStep{{err: boom}}}
	e := newEngine(t, testConfig(false, false), llm)

	_, err := e.Generate(context.Background(), userSays("hi"))
	require.Equal(t, boom, err)
}

func TestGenerate_NoMessages(t *testing.T) {
	e := newEngine(t, testConfig(false, false), &scriptedLLM{})
	_, err := e.Generate(context.Background(), nil)
	require.Error(t, err)
}

func TestGenerate_InputRail(t *testing.T) {
	llm := &scriptedLLM{flagged: map[string]bool{"something awful": true}}
	e := newEngine(t, testConfig(true, false), llm)

	out, err := e.Generate(context.Background(), userSays("something awful"))
	require.NoError(t, err)
	require.True(t, out.Blocked)
	require.Equal(t, defaultRefusal, out.Content)
	require.Empty(t, llm.requests)
}

func TestGenerate_OutputRail(t *testing.T) {
	llm := &scriptedLLM{
		steps:   []chatStep{reply("bad words")},
		flagged: map[string]bool{"bad words": true},
	}
	e := newEngine(t, testConfig(true, true), llm)

	out, err := e.Generate(context.Background(), userSays("hi"))
	require.NoError(t, err)
	require.True(t, out.Blocked)
	require.Equal(t, defaultRefusal, out.Content)
	require.Equal(t, []string{"hi", "bad words"}, llm.moderated)
}

func TestGenerate_RailErrors(t *testing.T) {
	llm := &scriptedLLM{moderateErr: errors.New("moderation down")}
	e := newEngine(t, testConfig(true, false), llm)
	_, err := e.Generate(context.Background(), userSays("hi"))
	require.ErrorContains(t, err, "input check: moderation down")

	llm = &scriptedLLM{steps: []chatStep{reply("fine")}, moderateErr: errors.New("moderation down")}
	e = newEngine(t, testConfig(false, true), llm)
	_, err = e.Generate(context.Background(), userSays("hi"))
	require.ErrorContains(t, err, "output check: moderation down")
}

func TestDecodeArgs(t *testing.T) {
	args, err := decodeArgs(`{"order_id":"ORD1","qty":2,"gift":true,"note":null}`)
	require.NoError(t, err)
	require.Equal(t, actions.Args{"order_id": "ORD1", "qty": "2", "gift": "true", "note": ""}, args)

	args, err = decodeArgs("  ")
	require.NoError(t, err)
	require.Empty(t, args)

	_, err = decodeArgs(`[1,2]`)
	require.Error(t, err)
}

func TestLastUserContent(t *testing.T) {
	msgs := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, Content: "reply"},
		{Role: domain.RoleUser, Content: "second"},
		{Role: domain.RoleAssistant, Content: "reply 2"},
	}
	require.Equal(t, "second", lastUserContent(msgs))
	require.Empty(t, lastUserContent(msgs[1:2]))
}
