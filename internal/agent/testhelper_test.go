// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/warden/internal/agent"
	"github.com/sigil-dev/warden/internal/audit"
	"github.com/sigil-dev/warden/internal/permission"
	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/security"
	"github.com/sigil-dev/warden/internal/tool"
)

// ---------------------------------------------------------------------------
// Provider doubles
// ---------------------------------------------------------------------------

// scriptedProvider answers each Chat with the events script returns for that
// turn (0-based) and records every request.
type scriptedProvider struct {
	script  func(turn int) []provider.ChatEvent
	chatErr error

	mu       sync.Mutex
	requests []provider.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Available(_ context.Context) bool { return true }
func (p *scriptedProvider) Close() error { return nil }
func (p *scriptedProvider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *scriptedProvider) Status(_ context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: p.Name()}, nil
}

func (p *scriptedProvider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	turn := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.chatErr != nil {
		return nil, p.chatErr
	}

	events := p.script(turn)
	ch := make(chan provider.ChatEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			if !provider.Send(ctx, ch, ev) {
				return
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// turns plays each batch once, then answers "done." forever.
func turns(batches ...[]provider.ChatEvent) func(int) []provider.ChatEvent {
	return func(turn int) []provider.ChatEvent {
		if turn < len(batches) {
			return batches[turn]
		}
		return batch(text("done."))
	}
}

// always plays the same batch every turn.
func always(events ...provider.ChatEvent) func(int) []provider.ChatEvent {
	return func(int) []provider.ChatEvent { return events }
}

func batch(events ...provider.ChatEvent) []provider.ChatEvent {
	return append(events,
		provider.ChatEvent{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 10, OutputTokens: 2}},
		provider.ChatEvent{Type: provider.EventTypeDone, StopReason: "end_turn"},
	)
}

func text(s string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: s}
}

func toolCall(id, name, args string) provider.ChatEvent {
	return provider.ChatEvent{
		Type:     provider.EventTypeToolCall,
		ToolCall: &provider.ToolCall{ID: id, Name: name, Arguments: args},
	}
}

// hangingProvider never answers; its channel closes when ctx ends.
type hangingProvider struct {
	scriptedProvider
	started chan struct{}
	once    sync.Once
}

func newHangingProvider() *hangingProvider {
	return &hangingProvider{started: make(chan struct{})}
}

func (p *hangingProvider) Chat(ctx context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	p.once.Do(func() { close(p.started) })
	return ch, nil
}

// ---------------------------------------------------------------------------
// Tool doubles
// ---------------------------------------------------------------------------

// echoTool returns its text argument after an optional delay.
type echoTool struct {
	calls atomic.Int32
}

func (e *echoTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "echo",
		Description: "Echo the text back.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":     map[string]any{"type": "string"},
				"delay_ms": map[string]any{"type": "integer"},
			},
			"required": []any{"text"},
		},
		Capability: tool.CapabilityMeta,
	}
}

func (e *echoTool) Execute(ctx context.Context, _ tool.ExecContext, args json.RawMessage) (tool.Output, error) {
	e.calls.Add(1)
	var in struct {
		Text    string `json:"text"`
		DelayMS int    `json:"delay_ms"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tool.Output{}, err
	}
	if in.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(in.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return tool.Output{}, ctx.Err()
		}
	}
	return tool.Output{Text: "echo: " + in.Text}, nil
}

// failTool always fails.
type failTool struct{}

func (failTool) Definition() tool.Definition {
	return tool.Definition{Name: "fail", Description: "Always fails."}
}

func (failTool) Execute(context.Context, tool.ExecContext, json.RawMessage) (tool.Output, error) {
	return tool.Output{}, fmt.Errorf("disk on fire")
}

// taskTool replaces the session task list, like todo_write.
type taskTool struct{}

func (taskTool) Definition() tool.Definition {
	return tool.Definition{Name: "plan", Description: "Set the plan."}
}

func (taskTool) Execute(_ context.Context, ec tool.ExecContext, _ json.RawMessage) (tool.Output, error) {
	ec.Tasks.Replace([]tool.Task{
		{Content: "write the parser", Status: tool.TaskInProgress},
		{Content: "add tests", Status: tool.TaskPending},
	})
	return tool.Output{Text: "planned"}, nil
}

type memAuditor struct {
	mu      sync.Mutex
	records []audit.Record
}

func (m *memAuditor) Append(_ context.Context, rec audit.Record) (audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return audit.Entry{SessionID: rec.SessionID, Action: rec.Action}, nil
}

func (m *memAuditor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// ---------------------------------------------------------------------------
// Loop harness
// ---------------------------------------------------------------------------

type harness struct {
	loop    *agent.Loop
	echo    *echoTool
	auditor *memAuditor
	texts   *textSink
}

type textSink struct {
	mu    sync.Mutex
	parts []string
}

func (s *textSink) write(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, text)
}

func (s *textSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.parts...)
}

func newHarness(t *testing.T, p provider.Provider, configure func(*agent.LoopConfig)) *harness {
	t.Helper()

	v, err := security.NewValidator(security.Config{WorkspaceRoot: t.TempDir()})
	require.NoError(t, err)

	echo := &echoTool{}
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echo, failTool{}, taskTool{}))

	perms := permission.NewManager(permission.WithRules(map[string]permission.Level{
		"*": permission.LevelAllow,
	}))
	aud := &memAuditor{}
	disp, err := tool.NewDispatcher(tool.DispatcherConfig{
		Registry:       reg,
		Security:       v,
		Permissions:    perms,
		Auditor:        aud,
		DefaultTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	router := provider.NewRegistry()
	require.NoError(t, router.Register(p.Name(), p))

	sink := &textSink{}
	cfg := agent.LoopConfig{
		Router:     router,
		Provider:   p.Name(),
		Model:      "test-model",
		Dispatcher: disp,
		Hooks:      &agent.LoopHooks{OnText: sink.write},
	}
	if configure != nil {
		configure(&cfg)
	}
	loop, err := agent.NewLoop(cfg)
	require.NoError(t, err)

	return &harness{loop: loop, echo: echo, auditor: aud, texts: sink}
}
