// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package agent runs the conversation loop: it calls the model, gates and
// executes the tool calls it asks for, and feeds the results back until the
// model answers or a safety limit stops it.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/store"
	"github.com/sigil-dev/warden/internal/tool"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

const (
	DefaultMaxTurns         = 50
	DefaultInferenceTimeout = 5 * time.Minute
	DefaultMaxParallelTools = 4
)

const (
	repetitionWarning = "\n[Warning: Detected repetitive tool calls. Breaking loop.]"
	turnLimitWarning  = "\n[Warning: Reached maximum turns (%d). Stopping.]"
)

// StopReason tells the caller why Run returned.
type StopReason string

const (
	StopReasonDone       StopReason = "done"
	StopReasonRepetition StopReason = "repetition"
	StopReasonTurnLimit  StopReason = "turn_limit"
	StopReasonCancelled  StopReason = "cancelled"
)

// Result is the outcome of one Run.
type Result struct {
	// Text is the last text the model produced, followed by any stop
	// warning.
	Text       string
	StopReason StopReason
	// Turns counts inference calls.
	Turns int
	Usage provider.Usage
}

// Router picks the provider for each inference call. *provider.Registry
// satisfies it.
type Router interface {
	Route(ctx context.Context, preferred string) (provider.Provider, error)
}

// LoopHooks observe a run. All are optional and are called from the
// goroutine running Run, except OnToolCall and OnToolResult which run on
// the dispatching goroutine when tools run in parallel.
type LoopHooks struct {
	// OnText receives model text as it streams and every stop warning.
	OnText       func(text string)
	OnToolCall   func(call tool.Call)
	OnToolResult func(res tool.Result)
	// OnWarning receives context-usage warnings. Without it they go to
	// OnText.
	OnWarning func(warning string)
}

// LoopConfig holds dependencies for the Loop.
type LoopConfig struct {
	Router     Router
	Provider   string
	Model      string
	Dispatcher *tool.Dispatcher

	SystemPrompt string
	MaxTokens    int
	Temperature  *float32

	MaxTurns         int
	DoomThreshold    int
	DoomWindow       int
	InferenceTimeout time.Duration
	// ParallelTools runs the calls of one batch concurrently. Results are
	// still appended in request order.
	ParallelTools    bool
	MaxParallelTools int

	Hooks *LoopHooks
}

// Loop drives a Session through model turns and tool batches. A Loop is
// stateless between runs and may serve many sessions at once.
type Loop struct {
	router     Router
	provider   string
	model      string
	dispatcher *tool.Dispatcher
	tools      []provider.ToolDefinition

	systemPrompt string
	maxTokens    int
	temperature  *float32

	maxTurns         int
	doomThreshold    int
	doomWindow       int
	inferenceTimeout time.Duration
	parallel         bool
	maxParallel      int

	hooks LoopHooks
}

// NewLoop validates cfg and freezes the dispatcher's tool set.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	var missing []string
	if cfg.Router == nil {
		missing = append(missing, "Router")
	}
	if cfg.Provider == "" {
		missing = append(missing, "Provider")
	}
	if cfg.Model == "" {
		missing = append(missing, "Model")
	}
	if cfg.Dispatcher == nil {
		missing = append(missing, "Dispatcher")
	}
	if len(missing) > 0 {
		return nil, wardenerr.New(wardenerr.CodeAgentLoopInvalidInput,
			"missing required fields: "+strings.Join(missing, ", "))
	}

	l := &Loop{
		router:           cfg.Router,
		provider:         cfg.Provider,
		model:            cfg.Model,
		dispatcher:       cfg.Dispatcher,
		tools:            toolDefinitions(cfg.Dispatcher.Registry().Definitions()),
		systemPrompt:     cfg.SystemPrompt,
		maxTokens:        cfg.MaxTokens,
		temperature:      cfg.Temperature,
		maxTurns:         positiveOr(cfg.MaxTurns, DefaultMaxTurns),
		doomThreshold:    positiveOr(cfg.DoomThreshold, DefaultDoomThreshold),
		doomWindow:       positiveOr(cfg.DoomWindow, DefaultDoomWindow),
		inferenceTimeout: cfg.InferenceTimeout,
		parallel:         cfg.ParallelTools,
		maxParallel:      positiveOr(cfg.MaxParallelTools, DefaultMaxParallelTools),
	}
	if l.inferenceTimeout <= 0 {
		l.inferenceTimeout = DefaultInferenceTimeout
	}
	if cfg.Hooks != nil {
		l.hooks = *cfg.Hooks
	}
	return l, nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func toolDefinitions(defs []tool.Definition) []provider.ToolDefinition {
	out := make([]provider.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, provider.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

// Run appends input to the session and loops until the model stops asking
// for tools, a call repeats too often, the turn budget runs out or ctx is
// cancelled. Provider failures end the run and are returned as coded
// errors. On cancellation Run returns the partial Result together with an
// agent.loop.canceled error.
func (l *Loop) Run(ctx context.Context, s *Session, input string) (*Result, error) {
	if s == nil {
		return nil, wardenerr.New(wardenerr.CodeAgentLoopInvalidInput, "session is required")
	}
	if strings.TrimSpace(input) == "" {
		return nil, wardenerr.New(wardenerr.CodeAgentLoopInvalidInput, "input is empty",
			wardenerr.FieldSessionID(s.ID))
	}
	if !s.running.TryLock() {
		return nil, wardenerr.New(wardenerr.CodeAgentSessionConflict, "session is already running",
			wardenerr.FieldSessionID(s.ID))
	}
	defer s.running.Unlock()

	s.append(store.UserMessage(input))
	window := s.window(l.doomWindow)
	res := &Result{}

	for turn := 1; ; turn++ {
		if turn > l.maxTurns {
			l.stop(res, StopReasonTurnLimit, fmt.Sprintf(turnLimitWarning, l.maxTurns))
			slog.WarnContext(ctx, "turn limit reached",
				"session_id", s.ID,
				"max_turns", l.maxTurns,
			)
			return res, nil
		}

		if err := ctx.Err(); err != nil {
			return l.cancelled(res, s, err)
		}

		res.Turns = turn
		resp, err := l.infer(ctx, s)
		res.Usage.Add(resp.usage)
		if resp.text != "" {
			res.Text = resp.text
		}
		if err != nil {
			if ctx.Err() != nil {
				return l.cancelled(res, s, ctx.Err())
			}
			return res, err
		}

		if len(resp.calls) == 0 {
			if resp.text != "" {
				s.append(store.AssistantMessage(resp.text))
			}
			res.StopReason = StopReasonDone
			return res, nil
		}

		calls := normalizeCalls(ctx, s.ID, resp.calls)
		sigs := make([]string, len(calls))
		for i, c := range calls {
			sigs[i] = signature(c.Name, c.Arguments)
		}
		if sig, ok := window.repeated(sigs, l.doomThreshold); ok {
			slog.WarnContext(ctx, "repetitive tool calls, stopping",
				"session_id", s.ID,
				"tool", strings.SplitN(sig, "\x00", 2)[0],
				"threshold", l.doomThreshold,
			)
			if resp.text != "" {
				s.append(store.AssistantMessage(resp.text))
			}
			l.stop(res, StopReasonRepetition, repetitionWarning)
			return res, nil
		}

		uses := make([]store.ContentBlock, len(calls))
		for i, c := range calls {
			uses[i] = store.ToolUse(c.ID, c.Name, c.Arguments)
		}
		s.append(store.AssistantMessage(resp.text, uses...))

		results := l.dispatch(ctx, s, calls)
		msgs := make([]store.Message, len(results))
		for i, r := range results {
			msgs[i] = toolMessage(r)
		}
		s.append(msgs...)
		for _, sig := range sigs {
			window.push(sig)
		}

		l.checkContext(s)

		if err := ctx.Err(); err != nil {
			return l.cancelled(res, s, err)
		}
	}
}

func (l *Loop) stop(res *Result, reason StopReason, warning string) {
	res.StopReason = reason
	res.Text += warning
	l.emit(warning)
}

func (l *Loop) cancelled(res *Result, s *Session, cause error) (*Result, error) {
	res.StopReason = StopReasonCancelled
	return res, wardenerr.Wrap(cause, wardenerr.CodeAgentLoopCanceled, "run cancelled",
		wardenerr.FieldSessionID(s.ID))
}

func (l *Loop) emit(text string) {
	if l.hooks.OnText != nil && text != "" {
		l.hooks.OnText(text)
	}
}

// response is one model turn.
type response struct {
	text       string
	calls      []provider.ToolCall
	usage      provider.Usage
	stopReason string
}

// infer runs one inference call under the loop's timeout. The partial
// response is returned alongside any error so usage is still counted.
func (l *Loop) infer(ctx context.Context, s *Session) (resp response, err error) {
	p, err := l.router.Route(ctx, l.provider)
	if err != nil {
		return resp, err
	}

	callCtx, cancel := context.WithTimeout(ctx, l.inferenceTimeout)
	defer cancel()

	events, err := p.Chat(callCtx, provider.ChatRequest{
		Model:        l.model,
		Messages:     s.History(),
		Tools:        l.tools,
		SystemPrompt: l.systemPrompt,
		Options: provider.ChatOptions{
			Temperature: l.temperature,
			MaxTokens:   l.maxTokens,
		},
	})
	if err != nil {
		return resp, provider.Categorize(p.Name(), 0, err)
	}

	var text strings.Builder
	defer func() { resp.text = text.String() }()

	for {
		select {
		case <-callCtx.Done():
			if ctx.Err() != nil {
				return resp, ctx.Err()
			}
			return resp, wardenerr.New(wardenerr.CodeProviderTimeout,
				fmt.Sprintf("no response from %s within %s", p.Name(), l.inferenceTimeout),
				wardenerr.FieldProvider(p.Name()),
				wardenerr.FieldSessionID(s.ID))
		case ev, ok := <-events:
			if !ok {
				return resp, nil
			}
			switch ev.Type {
			case provider.EventTypeTextDelta:
				text.WriteString(ev.Text)
				l.emit(ev.Text)
			case provider.EventTypeToolCall:
				if ev.ToolCall != nil {
					resp.calls = append(resp.calls, *ev.ToolCall)
				}
			case provider.EventTypeUsage:
				if ev.Usage != nil {
					resp.usage.Add(*ev.Usage)
				}
			case provider.EventTypeDone:
				resp.stopReason = ev.StopReason
				return resp, nil
			case provider.EventTypeError:
				err := ev.Err
				if err == nil {
					err = wardenerr.New(wardenerr.CodeProviderUpstreamFailure, "provider reported an error")
				}
				return resp, provider.Categorize(p.Name(), 0, err)
			}
		}
	}
}

// normalizeCalls converts provider calls to tool calls. Missing or repeated
// IDs are replaced so every call in the batch has a unique ID.
func normalizeCalls(ctx context.Context, sessionID string, in []provider.ToolCall) []tool.Call {
	seen := make(map[string]bool, len(in))
	out := make([]tool.Call, len(in))
	for i, c := range in {
		id := c.ID
		if id == "" || seen[id] {
			fresh := "call_" + uuid.NewString()
			slog.WarnContext(ctx, "replacing tool call id",
				"session_id", sessionID,
				"tool", c.Name,
				"id", id,
				"replacement", fresh,
			)
			id = fresh
		}
		seen[id] = true

		args := json.RawMessage(c.Arguments)
		if strings.TrimSpace(c.Arguments) == "" {
			args = json.RawMessage(`{}`)
		}
		out[i] = tool.Call{ID: id, Name: c.Name, Arguments: args}
	}
	return out
}

// dispatch runs a batch through the pipeline. Results are index-aligned
// with calls. Calls not started before ctx is cancelled get a cancelled
// result so every call still has an answer.
func (l *Loop) dispatch(ctx context.Context, s *Session, calls []tool.Call) []tool.Result {
	results := make([]tool.Result, len(calls))

	if !l.parallel || len(calls) < 2 {
		for i, c := range calls {
			results[i] = l.execute(ctx, s, c)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(l.maxParallel)
	for i, c := range calls {
		g.Go(func() error {
			results[i] = l.execute(ctx, s, c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (l *Loop) execute(ctx context.Context, s *Session, c tool.Call) tool.Result {
	if ctx.Err() != nil {
		return tool.Result{
			CallID:  c.ID,
			Tool:    c.Name,
			Content: fmt.Sprintf("Error: tool %q not run: cancelled", c.Name),
			Status:  tool.StatusCancelled,
			IsError: true,
		}
	}
	if l.hooks.OnToolCall != nil {
		l.hooks.OnToolCall(c)
	}
	res := l.dispatcher.Execute(ctx, s.execContext(), c)
	slog.DebugContext(ctx, "tool call finished",
		"session_id", s.ID,
		"tool", c.Name,
		"status", res.Status,
		"duration", res.Duration,
	)
	if l.hooks.OnToolResult != nil {
		l.hooks.OnToolResult(res)
	}
	return res
}

func toolMessage(r tool.Result) store.Message {
	if r.Media != nil {
		return store.ToolResultMessage(r.CallID, r.Content, r.IsError, store.ContentBlock{
			Type:      store.BlockImage,
			MediaType: r.Media.MediaType,
			Data:      r.Media.Data,
		})
	}
	return store.ToolResultMessage(r.CallID, r.Content, r.IsError)
}

// checkContext hands the task list to the monitor and surfaces any new
// usage warning.
func (l *Loop) checkContext(s *Session) {
	if s.Monitor == nil {
		return
	}
	if task, ok := s.Tasks.Current(); ok {
		s.Monitor.SetTask(task)
	}
	s.Monitor.SetNextSteps(s.Tasks.Pending())

	warning := s.Monitor.CheckWarnings(s.History())
	if warning == "" {
		return
	}
	if l.hooks.OnWarning != nil {
		l.hooks.OnWarning(warning)
		return
	}
	l.emit("\n" + warning + "\n")
}
