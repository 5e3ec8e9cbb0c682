// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/sigil-dev/warden/internal/agent"
	"github.com/sigil-dev/warden/internal/audit"
	"github.com/sigil-dev/warden/internal/config"
	"github.com/sigil-dev/warden/internal/contextmon"
	"github.com/sigil-dev/warden/internal/permission"
	"github.com/sigil-dev/warden/internal/provider"
	anthropicprov "github.com/sigil-dev/warden/internal/provider/anthropic"
	googleprov "github.com/sigil-dev/warden/internal/provider/google"
	openaiprov "github.com/sigil-dev/warden/internal/provider/openai"
	openrouterprov "github.com/sigil-dev/warden/internal/provider/openrouter"
	"github.com/sigil-dev/warden/internal/secrets"
	"github.com/sigil-dev/warden/internal/security"
	"github.com/sigil-dev/warden/internal/store"
	_ "github.com/sigil-dev/warden/internal/store/sqlite" // register sqlite backend
	"github.com/sigil-dev/warden/internal/tool"
	"github.com/sigil-dev/warden/internal/tool/builtin"
	"github.com/sigil-dev/warden/internal/workspace"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

const baseSystemPrompt = `You are warden, a coding agent working inside a single workspace directory.
Use the tools to inspect and change files; paths are relative to the workspace root.
Keep a todo list for multi-step work and mark items done as you finish them.
Stop and answer once the task is complete.`

// providerFactory builds a provider from its API key. Tests replace it.
var providerFactory = func(name provider.Name, key string) (provider.Provider, error) {
	switch name {
	case provider.NameAnthropic:
		return anthropicprov.New(anthropicprov.Config{APIKey: key})
	case provider.NameOpenAI:
		return openaiprov.New(openaiprov.Config{APIKey: key})
	case provider.NameGoogle:
		return googleprov.New(googleprov.Config{APIKey: key})
	case provider.NameOpenRouter:
		return openrouterprov.New(openrouterprov.Config{APIKey: key})
	default:
		return nil, wardenerr.New(wardenerr.CodeProviderNotFound, "unknown provider",
			wardenerr.FieldProvider(string(name)))
	}
}

// Runtime holds the wired subsystems for one workspace.
type Runtime struct {
	Config      *config.Config
	Workspace   *workspace.Workspace
	Providers   *provider.Registry
	Sessions    *agent.SessionManager
	Audit       *audit.Logger
	Permissions *permission.Manager
	Loop        *agent.Loop

	sessionStore store.SessionStore
}

// WireOptions carry the terminal-facing pieces of a runtime.
type WireOptions struct {
	WorkspaceRoot string
	Approver      permission.Approver
	Hooks         *agent.LoopHooks
	// Model overrides models.default when non-empty.
	Model string
}

// openSessions opens the configured session store.
func openSessions(cfg *config.Config) (*agent.SessionManager, store.SessionStore, error) {
	if err := os.MkdirAll(cfg.Storage.Path, 0o700); err != nil {
		return nil, nil, wardenerr.Errorf(wardenerr.CodeCLISetupFailure, "creating session directory: %w", err)
	}
	ss, err := store.NewSessionStore(&store.StorageConfig{Backend: cfg.Storage.Backend, Path: cfg.Storage.Path})
	if err != nil {
		return nil, nil, wardenerr.Wrapf(err, wardenerr.CodeCLISetupFailure, "opening session store")
	}
	return agent.NewSessionManager(ss), ss, nil
}

// WireRuntime creates every subsystem and wires them together.
func WireRuntime(ctx context.Context, cfg *config.Config, opts WireOptions) (*Runtime, error) {
	if opts.Model != "" {
		cfg.Models.Default = opts.Model
		if errs := cfg.Validate(); len(errs) > 0 {
			return nil, wardenerr.Wrap(errors.Join(errs...), wardenerr.CodeCLIInputInvalid, "invalid --model")
		}
	}
	providerName, model := cfg.Model()

	// 1. Workspace: canonical root, validator, checkpoints, instructions.
	wsMgr := workspace.NewManager(security.Config{
		MaxOutputBytes: cfg.Security.MaxOutputBytes,
		MaxFileBytes:   cfg.Security.MaxFileBytes,
		AllowNetwork:   cfg.Security.AllowNetwork,
	})
	ws, err := wsMgr.Open(ctx, opts.WorkspaceRoot)
	if err != nil {
		return nil, err
	}

	// 2. Providers.
	reg := provider.NewRegistry()
	registerProviders(cfg, reg, secretStoreFactory())
	if _, err := reg.Get(providerName); err != nil {
		return nil, wardenerr.Errorf(wardenerr.CodeCLISetupFailure,
			"no API key for provider %q: run `warden secret set %s` or set providers.%s.api_key",
			providerName, providerName, providerName)
	}

	// 3. Audit log.
	auditLog, err := audit.NewLogger(cfg.Audit.Dir)
	if err != nil {
		_ = reg.Close()
		return nil, wardenerr.Wrapf(err, wardenerr.CodeCLISetupFailure, "opening audit log")
	}

	// 4. Permissions.
	rules, err := cfg.PermissionRules()
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	perms := permission.NewManager(
		permission.WithRules(rules),
		permission.WithApprover(opts.Approver),
		permission.WithAuditor(auditLog),
	)

	// 5. Tools and dispatcher.
	tools := tool.NewRegistry()
	if err := builtin.Register(tools); err != nil {
		_ = reg.Close()
		return nil, wardenerr.Wrapf(err, wardenerr.CodeCLISetupFailure, "registering built-in tools")
	}
	disp, err := tool.NewDispatcher(tool.DispatcherConfig{
		Registry:       tools,
		Security:       ws.Validator,
		Permissions:    perms,
		Auditor:        auditLog,
		DefaultTimeout: cfg.Tools.DefaultTimeout,
		MaxTimeout:     cfg.Tools.MaxTimeout,
	})
	if err != nil {
		_ = reg.Close()
		return nil, wardenerr.Wrapf(err, wardenerr.CodeCLISetupFailure, "creating dispatcher")
	}

	// 6. Loop.
	loop, err := agent.NewLoop(agent.LoopConfig{
		Router:           reg,
		Provider:         providerName,
		Model:            model,
		Dispatcher:       disp,
		SystemPrompt:     ws.SystemPrompt(baseSystemPrompt),
		MaxTokens:        cfg.Models.MaxTokens,
		MaxTurns:         cfg.Agent.MaxTurns,
		DoomThreshold:    cfg.Agent.DoomThreshold,
		DoomWindow:       cfg.Agent.DoomWindow,
		InferenceTimeout: cfg.Agent.InferenceTimeout,
		ParallelTools:    cfg.Agent.ParallelTools,
		MaxParallelTools: cfg.Agent.MaxParallelTools,
		Hooks:            opts.Hooks,
	})
	if err != nil {
		_ = reg.Close()
		return nil, wardenerr.Wrapf(err, wardenerr.CodeCLISetupFailure, "creating agent loop")
	}

	// 7. Sessions.
	sessions, ss, err := openSessions(cfg)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	return &Runtime{
		Config:       cfg,
		Workspace:    ws,
		Providers:    reg,
		Sessions:     sessions,
		Audit:        auditLog,
		Permissions:  perms,
		Loop:         loop,
		sessionStore: ss,
	}, nil
}

// registerProviders registers every provider that has an API key, either
// from config or from the keyring entry `warden secret set` writes.
func registerProviders(cfg *config.Config, reg *provider.Registry, ss secrets.Store) {
	for _, name := range provider.Names {
		key := cfg.APIKey(string(name))
		if key == "" && ss != nil {
			if v, err := ss.Retrieve(secrets.DefaultService, secrets.KeyFor(string(name))); err == nil {
				key = v
			} else if !wardenerr.IsNotFound(err) {
				slog.Debug("keyring lookup failed", "provider", name, "error", err)
			}
		}
		if key == "" {
			continue
		}

		p, err := providerFactory(name, key)
		if err != nil {
			slog.Warn("skipping provider", "provider", name, "error", err)
			continue
		}
		if err := reg.Register(string(name), p); err != nil {
			slog.Warn("skipping provider", "provider", name, "error", err)
			_ = p.Close()
		}
	}
}

// StartSession creates a session, or reopens resumeID, and attaches the
// workspace's context monitor.
func (r *Runtime) StartSession(ctx context.Context, resumeID string) (*agent.Session, error) {
	var (
		s   *agent.Session
		err error
	)
	if resumeID != "" {
		s, err = r.Sessions.Open(ctx, resumeID)
	} else {
		s, err = r.Sessions.Create(ctx, r.Workspace.Root)
	}
	if err != nil {
		return nil, err
	}

	s.Monitor = contextmon.New(
		contextmon.WithBudget(r.Config.Context.Budget),
		contextmon.WithCheckpointStore(r.Workspace.Checkpoints),
	)

	r.record(ctx, audit.Record{SessionID: s.ID, Action: audit.ActionSessionStart, Result: "workspace " + r.Workspace.Root, Approved: true})
	return s, nil
}

// Turn runs one user input through the loop, then persists the session.
// History beyond agent.history_keep is dropped from memory before the run;
// the store keeps every message.
func (r *Runtime) Turn(ctx context.Context, s *agent.Session, input string) (*agent.Result, error) {
	s.ApplyPolicy(agent.KeepLast(r.Config.Agent.HistoryKeep))

	res, runErr := r.Loop.Run(ctx, s, input)
	if res == nil {
		return nil, runErr
	}

	switch res.StopReason {
	case agent.StopReasonRepetition, agent.StopReasonTurnLimit:
		r.record(ctx, audit.Record{
			SessionID:  s.ID,
			Action:     audit.ActionLoopAborted,
			Result:     string(res.StopReason),
			Parameters: map[string]any{"turns": res.Turns},
		})
	}

	// Save with a context that survives Ctrl-C so the interrupted turn is kept.
	if err := r.Sessions.Save(context.WithoutCancel(ctx), s); err != nil {
		return res, errors.Join(runErr, err)
	}
	return res, runErr
}

// EndSession records the end of s and forgets its remembered approvals.
func (r *Runtime) EndSession(ctx context.Context, s *agent.Session) {
	r.Permissions.ClearSession(s.ID)
	r.record(ctx, audit.Record{SessionID: s.ID, Action: audit.ActionSessionEnd, Approved: true})
}

func (r *Runtime) record(ctx context.Context, rec audit.Record) {
	if _, err := r.Audit.Append(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("audit append failed", "session_id", rec.SessionID, "action", rec.Action, "error", err)
	}
}

// Close releases the providers and the session store.
func (r *Runtime) Close() error {
	return errors.Join(r.Providers.Close(), r.sessionStore.Close())
}
