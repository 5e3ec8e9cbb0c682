// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package permission decides whether a tool call may run. Rules resolve per
// tool to allow, deny, ask or ask_once; ask variants consult the session's
// remembered decisions before falling back to an external Approver.
package permission

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sigil-dev/warden/internal/audit"
)

// Reasons returned in Decision.Reason.
const (
	ReasonAllowedByRule     = "tool always allowed"
	ReasonDeniedByRule      = "tool not permitted"
	ReasonAlwaysApproved    = "always approved"
	ReasonAlwaysDenied      = "always denied"
	ReasonSessionApproved   = "previously approved this session"
	ReasonSessionDenied     = "previously denied this session"
	ReasonNoApprover        = "no approval handler configured"
	ReasonApproverFailed    = "approval handler failed"
	ReasonApproverCancelled = "approval cancelled"
)

const anyTarget = "*"

// Request identifies the call being checked.
type Request struct {
	SessionID string
	Tool      string
	Operation string
	Target    string
}

// ApprovalRequest is what an Approver is shown.
type ApprovalRequest struct {
	SessionID string
	Tool      string
	Operation string
	Target    string
	Risk      Risk
	Level     Level
}

// Approval is an Approver's answer. Remember keeps the decision, either way,
// for the rest of the session.
type Approval struct {
	Allowed  bool
	Reason   string
	Remember bool
}

// Approver asks someone for a decision. It is called synchronously and must
// not call back into the agent loop.
type Approver func(ctx context.Context, req ApprovalRequest) (Approval, error)

// Decision is the outcome of Check.
type Decision struct {
	Allowed  bool
	Reason   string
	Level    Level
	Risk     Risk
	Prompted bool
}

// Auditor receives permission decisions. *audit.Logger satisfies it.
type Auditor interface {
	Append(ctx context.Context, rec audit.Record) (audit.Entry, error)
}

type sessionMemory struct {
	approved map[string]bool
	denied   map[string]bool
}

// Manager holds the rule table and per-session remembered decisions. Safe for
// concurrent use; sessions never share remembered state.
type Manager struct {
	mu             sync.RWMutex
	rules          *ruleTable
	alwaysApproved map[string]bool
	alwaysDenied   map[string]bool
	sessions       map[string]*sessionMemory

	approver Approver
	auditor  Auditor

	auditFailCount atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithRules overlays rules on top of the defaults.
func WithRules(rules map[string]Level) Option {
	return func(m *Manager) {
		for tool, l := range rules {
			m.rules.set(tool, l)
		}
	}
}

// WithApprover sets the callback consulted for ask rules.
func WithApprover(a Approver) Option {
	return func(m *Manager) { m.approver = a }
}

// WithAuditor records prompted and rule-denied decisions.
func WithAuditor(a Auditor) Option {
	return func(m *Manager) { m.auditor = a }
}

// NewManager returns a Manager seeded with DefaultRules.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		rules:          newRuleTable(defaultRules),
		alwaysApproved: make(map[string]bool),
		alwaysDenied:   make(map[string]bool),
		sessions:       make(map[string]*sessionMemory),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetApprover replaces the approval callback.
func (m *Manager) SetApprover(a Approver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approver = a
}

// SetRule sets the level for a tool name or pattern.
func (m *Manager) SetRule(tool string, l Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules.set(tool, l)
}

// Rule returns the level that applies to tool. Unknown tools resolve to
// LevelAsk.
func (m *Manager) Rule(tool string) Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules.lookup(tool)
}

func key(tool, target string) string {
	return tool + ":" + target
}

// Check resolves req. Always-deny patterns win over everything, rule allow
// and deny resolve immediately, and ask rules consult the session memory
// before calling the Approver. Without an Approver the call is denied.
func (m *Manager) Check(ctx context.Context, req Request) Decision {
	exact := key(req.Tool, req.Target)
	wide := key(req.Tool, anyTarget)
	risk := AssessRisk(req.Tool, req.Target)

	m.mu.RLock()
	level := m.rules.lookup(req.Tool)
	alwaysDenied := m.alwaysDenied[exact] || m.alwaysDenied[wide]
	alwaysApproved := m.alwaysApproved[exact] || m.alwaysApproved[wide]
	var sessionDenied, sessionApproved bool
	if mem, ok := m.sessions[req.SessionID]; ok {
		sessionDenied = mem.denied[exact] || mem.denied[wide]
		sessionApproved = mem.approved[exact] || mem.approved[wide]
	}
	approver := m.approver
	m.mu.RUnlock()

	d := Decision{Level: level, Risk: risk}

	switch {
	case alwaysDenied:
		d.Reason = ReasonAlwaysDenied
		m.record(ctx, req, d)
		return d
	case sessionDenied:
		d.Reason = ReasonSessionDenied
		m.record(ctx, req, d)
		return d
	case level == LevelAllow:
		d.Allowed, d.Reason = true, ReasonAllowedByRule
		return d
	case level == LevelDeny:
		d.Reason = ReasonDeniedByRule
		m.record(ctx, req, d)
		return d
	case alwaysApproved:
		d.Allowed, d.Reason = true, ReasonAlwaysApproved
		return d
	case sessionApproved:
		d.Allowed, d.Reason = true, ReasonSessionApproved
		return d
	}

	if approver == nil {
		d.Reason = ReasonNoApprover
		m.record(ctx, req, d)
		return d
	}

	ar := ApprovalRequest{
		SessionID: req.SessionID,
		Tool:      req.Tool,
		Operation: req.Operation,
		Target:    req.Target,
		Risk:      risk,
		Level:     level,
	}
	if ar.Operation == "" {
		ar.Operation = "execute"
	}

	d.Prompted = true
	approval, err := approver(ctx, ar)
	switch {
	case err != nil && ctx.Err() != nil:
		d.Reason = ReasonApproverCancelled
	case err != nil:
		slog.WarnContext(ctx, "approval handler failed",
			"session_id", req.SessionID,
			"tool", req.Tool,
			"error", err,
		)
		d.Reason = ReasonApproverFailed
	default:
		d.Allowed = approval.Allowed
		d.Reason = approval.Reason
		if approval.Remember {
			m.remember(req.SessionID, exact, approval.Allowed)
		}
	}

	m.record(ctx, req, d)
	return d
}

func (m *Manager) memory(sessionID string) *sessionMemory {
	mem, ok := m.sessions[sessionID]
	if !ok {
		mem = &sessionMemory{approved: make(map[string]bool), denied: make(map[string]bool)}
		m.sessions[sessionID] = mem
	}
	return mem
}

func (m *Manager) remember(sessionID, k string, allowed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem := m.memory(sessionID)
	if allowed {
		mem.approved[k] = true
		delete(mem.denied, k)
		return
	}
	mem.denied[k] = true
	delete(mem.approved, k)
}

// ApproveForSession remembers an approval for (tool, target) in one session.
// Target "*" approves every target of the tool.
func (m *Manager) ApproveForSession(sessionID, tool, target string) {
	if target == "" {
		target = anyTarget
	}
	m.remember(sessionID, key(tool, target), true)
}

// AlwaysAllow approves (tool, target) in every session. Target "*" covers all
// targets. Rule deny and always-deny still take precedence.
func (m *Manager) AlwaysAllow(tool, target string) {
	if target == "" {
		target = anyTarget
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alwaysApproved[key(tool, target)] = true
}

// AlwaysDeny blocks (tool, target) in every session, whatever the rule says.
func (m *Manager) AlwaysDeny(tool, target string) {
	if target == "" {
		target = anyTarget
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alwaysDenied[key(tool, target)] = true
}

// ClearSession forgets every remembered decision of the session.
func (m *Manager) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// SessionApprovals lists the remembered "tool:target" approvals.
func (m *Manager) SessionApprovals(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(mem.approved))
	for k := range mem.approved {
		out = append(out, k)
	}
	return out
}

func (m *Manager) record(ctx context.Context, req Request, d Decision) {
	if m.auditor == nil || req.SessionID == "" {
		return
	}

	action := audit.ActionPermissionDenied
	summary := "Denied"
	if d.Allowed {
		action = audit.ActionPermissionGranted
		summary = "Approved"
	}

	// The decision must land in the log even if the run is being cancelled.
	_, err := m.auditor.Append(context.WithoutCancel(ctx), audit.Record{
		SessionID: req.SessionID,
		Action:    action,
		Tool:      req.Tool,
		Parameters: map[string]any{
			"target": req.Target,
			"reason": d.Reason,
			"risk":   string(d.Risk),
			"level":  string(d.Level),
		},
		Result:   summary,
		Approved: d.Allowed,
	})
	if err != nil {
		n := m.auditFailCount.Add(1)
		level := slog.LevelWarn
		if n >= audit.LogEscalationThreshold {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "audit log failure on permission decision",
			"session_id", req.SessionID,
			"tool", req.Tool,
			"allowed", d.Allowed,
			"consecutive_failures", n,
			"error", err,
		)
		return
	}
	m.auditFailCount.Store(0)
}
