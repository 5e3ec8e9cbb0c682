// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sigil-dev/warden/internal/audit"
	"github.com/sigil-dev/warden/internal/permission"
	"github.com/sigil-dev/warden/internal/security"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

const (
	DefaultTimeout = 120 * time.Second
	MaxTimeout     = 600 * time.Second
	minTimeout     = time.Second

	// DeniedMessage is the result content for a permission denial.
	DeniedMessage = "User denied permission for this operation."

	timeoutArg = "timeout"
)

// PermissionChecker is the permission gate. *permission.Manager satisfies it.
type PermissionChecker interface {
	Check(ctx context.Context, req permission.Request) permission.Decision
}

// Auditor records pipeline outcomes. *audit.Logger satisfies it.
type Auditor interface {
	Append(ctx context.Context, rec audit.Record) (audit.Entry, error)
}

// DispatcherConfig holds the Dispatcher's collaborators.
type DispatcherConfig struct {
	Registry    *Registry
	Security    *security.Validator
	Permissions PermissionChecker
	Auditor     Auditor
	// DefaultTimeout applies when a call does not ask for one.
	DefaultTimeout time.Duration
	// MaxTimeout caps a call's "timeout" argument.
	MaxTimeout time.Duration
}

// Dispatcher runs a Call through lookup, argument validation, the security
// gate, the permission gate, execution, truncation and audit. Every step's
// failure becomes a Result; Execute never returns an error.
type Dispatcher struct {
	registry       *Registry
	security       *security.Validator
	permissions    PermissionChecker
	auditor        Auditor
	defaultTimeout time.Duration
	maxTimeout     time.Duration

	auditFailCount atomic.Int64
	auditFailTotal atomic.Int64
}

// NewDispatcher validates cfg. Registry, Security and Permissions are
// required; a nil Auditor disables audit logging.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, wardenerr.New(wardenerr.CodeAgentLoopInvalidInput, "Registry is required")
	}
	if cfg.Security == nil {
		return nil, wardenerr.New(wardenerr.CodeAgentLoopInvalidInput, "Security validator is required")
	}
	if cfg.Permissions == nil {
		return nil, wardenerr.New(wardenerr.CodeAgentLoopInvalidInput, "Permissions is required")
	}
	if cfg.Auditor == nil {
		slog.Warn("tool dispatcher created without an auditor; audit logging disabled")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = MaxTimeout
	}
	if cfg.DefaultTimeout > cfg.MaxTimeout {
		cfg.DefaultTimeout = cfg.MaxTimeout
	}

	return &Dispatcher{
		registry:       cfg.Registry,
		security:       cfg.Security,
		permissions:    cfg.Permissions,
		auditor:        cfg.Auditor,
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
	}, nil
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

type execOutcome struct {
	out Output
	err error
}

// Execute runs one call. ec carries the session's state; the Dispatcher
// fills in Root, Security, Target and Timeout on its own copy.
func (d *Dispatcher) Execute(ctx context.Context, ec ExecContext, call Call) Result {
	start := time.Now()
	res := d.execute(ctx, ec, call)
	res.CallID = call.ID
	res.Tool = call.Name
	res.Duration = time.Since(start)
	return res
}

func (d *Dispatcher) execute(ctx context.Context, ec ExecContext, call Call) Result {
	// 1. Lookup.
	t, def, ok := d.registry.Lookup(call.Name)
	if !ok {
		res := errorResult(StatusUnknownTool, fmt.Sprintf("Error: unknown tool %q", call.Name))
		d.audit(ctx, ec.SessionID, audit.ActionToolRejected, call.Name, nil, res.Content, false)
		return res
	}

	args := call.Arguments
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}

	// Schema validation precedes the gates: they read typed arguments.
	schemaErr := d.registry.ValidateArguments(def.Name, args)
	params, decodeErr := decodeParams(args)
	if schemaErr != nil || decodeErr != nil {
		err := schemaErr
		if err == nil {
			err = decodeErr
		}
		res := errorResult(StatusInvalidArgs, fmt.Sprintf("Error: invalid arguments for tool %q: %s", def.Name, errMessage(err)))
		d.audit(ctx, ec.SessionID, audit.ActionToolRejected, def.Name, params, res.Content, false)
		return res
	}

	target := stringParam(params, def.TargetArg)
	if target == "" {
		target = def.DefaultTarget
	}

	// 2. Security gate.
	ec.Root = d.security.Root()
	ec.Security = d.security
	if ec.Files == nil {
		ec.Files = NewFileTracker()
	}
	if ec.Tasks == nil {
		ec.Tasks = NewTaskList()
	}
	if finding := d.securityGate(ctx, ec.SessionID, def, params, &target); finding != nil {
		res := errorResult(StatusBlocked, "Security error: "+finding.Reason)
		slog.WarnContext(ctx, "tool call blocked by security gate",
			"session_id", ec.SessionID,
			"tool", def.Name,
			"category", finding.Category,
			"rule", finding.Rule,
		)
		d.audit(ctx, ec.SessionID, audit.ActionSecurityBlocked, def.Name, params, res.Content, false)
		return res
	}
	ec.Target = target

	// 3. Permission gate. Paths are shown and remembered relative to the
	// workspace.
	decision := d.permissions.Check(ctx, permission.Request{
		SessionID: ec.SessionID,
		Tool:      def.Name,
		Operation: def.Capability.Operation(),
		Target:    d.displayTarget(def, target),
	})
	if !decision.Allowed {
		content := DeniedMessage
		if decision.Reason != "" {
			content += " Reason: " + decision.Reason
		}
		res := errorResult(StatusDenied, content)
		d.audit(ctx, ec.SessionID, audit.ActionToolRejected, def.Name, params, res.Content, false)
		return res
	}

	// 4. Execution.
	timeout := d.timeoutFor(params)
	ec.Timeout = timeout
	res := d.run(ctx, ec, t, def, args, timeout)

	// 5. Output shaping.
	res.Content, res.Truncated = d.security.Truncate(res.Content)

	// 6. Audit.
	action := audit.ActionToolExecuted
	if res.IsError {
		action = audit.ActionToolFailed
	}
	d.audit(ctx, ec.SessionID, action, def.Name, params, res.Content, true)
	return res
}

// securityGate picks the checks from the tool's capability. For read and
// write tools it replaces *target with the canonical path.
func (d *Dispatcher) securityGate(ctx context.Context, sessionID string, def Definition, params map[string]any, target *string) *security.Finding {
	switch def.Capability {
	case CapabilityRead, CapabilityWrite:
		if def.TargetArg == "" && def.DefaultTarget == "" {
			return nil
		}
		resolved, f := d.security.CheckPath(*target)
		if f != nil {
			return f
		}
		*target = resolved

		if def.Capability == CapabilityRead {
			return d.security.CheckFileSize(resolved)
		}
		for _, arg := range def.ContentArgs {
			content := stringParam(params, arg)
			if f := d.security.CheckContentSize(len(content)); f != nil {
				return f
			}
			d.reportSecrets(ctx, sessionID, def.Name, resolved, d.security.ScanForSecrets(content))
		}
		return nil

	case CapabilityExec:
		return d.security.ValidateCommand(*target)
	}
	return nil
}

// reportSecrets logs and audits advisory findings; they never block.
func (d *Dispatcher) reportSecrets(ctx context.Context, sessionID, tool, path string, findings []security.Finding) {
	if len(findings) == 0 {
		return
	}
	reasons := make([]any, 0, len(findings))
	for _, f := range findings {
		reasons = append(reasons, f.String())
	}
	slog.WarnContext(ctx, "potential secrets in tool content",
		"session_id", sessionID,
		"tool", tool,
		"path", path,
		"findings", len(findings),
	)
	d.audit(ctx, sessionID, audit.ActionSecretDetected, tool,
		map[string]any{"path": path, "findings": reasons},
		fmt.Sprintf("%d potential secret finding(s)", len(findings)), true)
}

func (d *Dispatcher) displayTarget(def Definition, target string) string {
	if def.Capability != CapabilityRead && def.Capability != CapabilityWrite {
		return target
	}
	if rel, err := filepath.Rel(d.security.Root(), target); err == nil && filepath.IsAbs(target) {
		return filepath.ToSlash(rel)
	}
	return target
}

func (d *Dispatcher) timeoutFor(params map[string]any) time.Duration {
	raw, ok := params[timeoutArg]
	if !ok {
		return d.defaultTimeout
	}
	var secs float64
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return d.defaultTimeout
		}
		secs = f
	case float64:
		secs = v
	default:
		return d.defaultTimeout
	}
	if math.IsNaN(secs) || secs <= 0 {
		return d.defaultTimeout
	}

	timeout := time.Duration(secs * float64(time.Second))
	if secs*float64(time.Second) > float64(d.maxTimeout) {
		timeout = d.maxTimeout
	}
	return max(timeout, minTimeout)
}

// run executes the tool body under timeout. The body runs on its own
// goroutine so a tool that ignores its context cannot hold the loop past the
// deadline.
func (d *Dispatcher) run(ctx context.Context, ec ExecContext, t Tool, def Definition, args json.RawMessage, timeout time.Duration) Result {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("tool panicked",
					"session_id", ec.SessionID,
					"tool", def.Name,
					"panic", r,
				)
				done <- execOutcome{err: wardenerr.Errorf(wardenerr.CodeAgentToolExecFailure, "tool %q panicked: %v", def.Name, r)}
			}
		}()
		out, err := t.Execute(execCtx, ec, args)
		done <- execOutcome{out: out, err: err}
	}()

	var o execOutcome
	received := false
	select {
	case o = <-done:
		received = true
	case <-execCtx.Done():
	}
	failed := !received || o.err != nil

	switch {
	case failed && ctx.Err() != nil:
		return errorResult(StatusCancelled, fmt.Sprintf("Error: tool %q cancelled", def.Name))
	case failed && execCtx.Err() == context.DeadlineExceeded:
		slog.WarnContext(ctx, "tool timed out",
			"session_id", ec.SessionID,
			"tool", def.Name,
			"timeout", timeout,
		)
		return errorResult(StatusTimeout, fmt.Sprintf("Error: tool %q timed out after %s", def.Name, timeout))
	case o.err != nil:
		return errorResult(StatusFailed, "Error: "+errMessage(o.err))
	}

	return Result{Content: o.out.Text, Media: o.out.Media, Status: StatusOK}
}

func (d *Dispatcher) audit(ctx context.Context, sessionID string, action audit.Action, tool string, params map[string]any, result string, approved bool) {
	if d.auditor == nil {
		return
	}

	// Detached so an in-flight call is recorded even when the run is
	// being cancelled.
	_, err := d.auditor.Append(context.WithoutCancel(ctx), audit.Record{
		SessionID:  sessionID,
		Action:     action,
		Tool:       tool,
		Parameters: params,
		Result:     result,
		Approved:   approved,
	})
	if err != nil {
		consecutive := d.auditFailCount.Add(1)
		total := d.auditFailTotal.Add(1)
		level := slog.LevelWarn
		if consecutive >= audit.LogEscalationThreshold {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "audit append failed",
			"session_id", sessionID,
			"tool", tool,
			"action", action,
			"consecutive_failures", consecutive,
			"total_failures", total,
			"error", err,
		)
		return
	}
	d.auditFailCount.Store(0)
}

func errorResult(status Status, content string) Result {
	return Result{Content: content, Status: status, IsError: true}
}

func decodeParams(args json.RawMessage) (map[string]any, error) {
	var params map[string]any
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeAgentToolInvalidInput, "arguments must be a JSON object")
	}
	return params, nil
}

func stringParam(params map[string]any, name string) string {
	if name == "" {
		return ""
	}
	s, _ := params[name].(string)
	return s
}

// errMessage returns a non-empty message for err.
func errMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}
