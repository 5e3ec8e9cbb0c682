// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
// Codes follow the "area.operation.reason" shape; the reason suffix drives
// the Is* predicates below.
type Code string

const (
	CodeStoreSessionGetNotFound Code = "store.session.get.not_found"
	CodeStoreSessionConflict    Code = "store.session.create.conflict"
	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreInvalidInput       Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigWriteConflict        Code = "config.write.conflict"

	CodeProviderRequestInvalid   Code = "provider.request.invalid"
	CodeProviderRequestThrottled Code = "provider.request.throttled"
	CodeProviderAuthUnauthorized Code = "provider.auth.unauthorized"
	CodeProviderResponseInvalid  Code = "provider.response.invalid"
	CodeProviderUpstreamFailure  Code = "provider.upstream.failure"
	CodeProviderTimeout          Code = "provider.call.timeout"
	CodeProviderNotFound         Code = "provider.registry.not_found"
	CodeProviderConflict         Code = "provider.registry.conflict"

	CodeAgentLoopInvalidInput  Code = "agent.loop.invalid_input"
	CodeAgentLoopFailure       Code = "agent.loop.failure"
	CodeAgentLoopCanceled      Code = "agent.loop.canceled"
	CodeAgentSessionConflict   Code = "agent.session.run.conflict"
	CodeAgentToolTimeout       Code = "agent.tool.timeout"
	CodeAgentToolNotFound      Code = "agent.tool.not_found"
	CodeAgentToolInvalidInput  Code = "agent.tool.invalid_input"
	CodeAgentToolExecFailure   Code = "agent.tool.exec.failure"
	CodeAgentToolDuplicate     Code = "agent.tool.registry.conflict"

	CodeSecurityPathOutsideRoot  Code = "security.path.denied"
	CodeSecurityPathSensitive    Code = "security.path.sensitive.denied"
	CodeSecurityCommandDenied    Code = "security.command.denied"
	CodeSecurityNetworkDenied    Code = "security.network.denied"
	CodeSecurityRulesInvalid     Code = "security.rules.invalid"
	CodeSecurityWorkspaceInvalid Code = "security.workspace.invalid"
	CodeSecurityFileTooLarge     Code = "security.file.size.exceeded"

	CodePermissionDenied      Code = "permission.check.denied"
	CodePermissionRuleInvalid Code = "permission.rule.invalid"

	CodeAuditAppendFailure  Code = "audit.append.failure"
	CodeAuditReadFailure    Code = "audit.read.failure"
	CodeAuditInvalidInput   Code = "audit.append.invalid_input"
	CodeAuditLogNotFound    Code = "audit.log.not_found"
	CodeAuditExportFailure  Code = "audit.export.failure"
	CodeAuditVerifyTampered Code = "audit.verify.tampered"

	CodeContextCheckpointWriteFailure Code = "context.checkpoint.write.failure"
	CodeContextCheckpointReadFailure  Code = "context.checkpoint.read.failure"
	CodeContextCheckpointNotFound     Code = "context.checkpoint.not_found"

	CodeSecretInvalidInput   Code = "secret.input.invalid"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeWorkspaceOpenFailure     Code = "workspace.open.failure"
	CodeWorkspaceTemplateInvalid Code = "workspace.template.invalid_input"
	CodeWorkspaceTemplateExists  Code = "workspace.template.conflict"
	CodeWorkspaceTemplateFailure Code = "workspace.template.write.failure"

	CodeCLIInputInvalid Code = "cli.input.invalid"
	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeInternalFailure Code = "internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionID(value string) Attr {
	return Field("session_id", value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldPath(value string) Attr {
	return Field("path", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain, keeping its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden" || r == "denied"
}

func IsThrottled(err error) bool {
	return reason(CodeOf(err)) == "throttled"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

// IsProviderError reports whether err originated from the inference
// collaborator rather than from the loop itself.
func IsProviderError(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "provider.")
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
