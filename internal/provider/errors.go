// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"errors"
	"net/http"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// CodeForStatus maps an upstream HTTP status to a provider error code.
func CodeForStatus(status int) wardenerr.Code {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return wardenerr.CodeProviderAuthUnauthorized
	case status == http.StatusTooManyRequests:
		return wardenerr.CodeProviderRequestThrottled
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return wardenerr.CodeProviderTimeout
	case status == http.StatusNotFound:
		return wardenerr.CodeProviderNotFound
	case status >= 400 && status < 500:
		return wardenerr.CodeProviderRequestInvalid
	default:
		return wardenerr.CodeProviderUpstreamFailure
	}
}

// Categorize wraps an adapter failure with a provider.* code. status is the
// HTTP status reported by the SDK, or 0 when there was no response.
func Categorize(name string, status int, err error) error {
	if err == nil {
		return nil
	}
	if wardenerr.IsProviderError(err) {
		return err
	}

	code := CodeForStatus(status)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = wardenerr.CodeProviderTimeout
	case errors.Is(err, context.Canceled):
		code = wardenerr.CodeAgentLoopCanceled
	case status == 0:
		code = wardenerr.CodeProviderUpstreamFailure
	}
	return wardenerr.Wrap(err, code, name+" request failed",
		wardenerr.FieldProvider(name), wardenerr.Field("http_status", status))
}

// ErrorEvent builds the terminal error event for err.
func ErrorEvent(err error) ChatEvent {
	return ChatEvent{Type: EventTypeError, Err: err}
}
