// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"io"
	"net/http"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// Name identifies a supported LLM provider.
type Name string

const (
	NameAnthropic  Name = "anthropic"
	NameOpenAI     Name = "openai"
	NameGoogle     Name = "google"
	NameOpenRouter Name = "openrouter"
)

// Names lists the providers warden can build, in the order the CLI offers
// them.
var Names = []Name{NameAnthropic, NameOpenAI, NameGoogle, NameOpenRouter}

// keyCheck returns the models endpoint and auth headers used to validate a
// key for name.
func keyCheck(name Name, key string) (string, map[string]string, bool) {
	switch name {
	case NameAnthropic:
		return "https://api.anthropic.com/v1/models", map[string]string{
			"x-api-key":         key,
			"anthropic-version": "2023-06-01",
		}, true
	case NameOpenAI:
		return "https://api.openai.com/v1/models", map[string]string{
			"Authorization": "Bearer " + key,
		}, true
	case NameGoogle:
		// The Generative Language API only accepts the key as a query parameter.
		return "https://generativelanguage.googleapis.com/v1/models?key=" + key, nil, true
	case NameOpenRouter:
		return "https://openrouter.ai/api/v1/models", map[string]string{
			"Authorization": "Bearer " + key,
		}, true
	default:
		return "", nil, false
	}
}

// ValidateKey makes a lightweight call to the provider's models endpoint to
// confirm the API key is accepted.
func ValidateKey(ctx context.Context, client *http.Client, name Name, key string) error {
	return ValidateKeyAt(ctx, client, name, key, "")
}

// ValidateKeyAt is ValidateKey against an explicit URL. An empty url uses
// the provider default.
func ValidateKeyAt(ctx context.Context, client *http.Client, name Name, key, url string) error {
	defaultURL, headers, ok := keyCheck(name, key)
	if !ok {
		return wardenerr.New(wardenerr.CodeProviderNotFound, "unknown provider",
			wardenerr.FieldProvider(string(name)))
	}
	if url == "" {
		url = defaultURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeProviderRequestInvalid, "building validation request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Categorize(string(name), 0, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return wardenerr.Errorf(CodeForStatus(resp.StatusCode), "%s rejected the key (HTTP %d)", name, resp.StatusCode)
	}
	return nil
}
