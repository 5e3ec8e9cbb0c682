// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package openrouter configures the OpenAI adapter for OpenRouter's
// OpenAI-compatible API.
package openrouter

import (
	"cmp"

	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/provider/openai"
)

const (
	providerName = "openrouter"
	baseURL      = "https://openrouter.ai/api/v1"
)

// Config holds OpenRouter provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// New creates an OpenRouter provider. Returns an error if the API key is missing.
func New(cfg Config) (*openai.Provider, error) {
	return openai.New(openai.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cmp.Or(cfg.BaseURL, baseURL),
		Name:    providerName,
		Models:  knownModels(),
	})
}

// knownModels returns a curated set of popular models available via OpenRouter.
func knownModels() []provider.ModelInfo {
	return []provider.ModelInfo{
		{
			ID:       "anthropic/claude-sonnet-4-5",
			Name:     "Claude Sonnet 4.5",
			Provider: providerName,
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				SupportsThinking:  true,
				MaxContextTokens:  200000,
				MaxOutputTokens:   16000,
			},
		},
		{
			ID:       "openai/gpt-4.1",
			Name:     "GPT-4.1",
			Provider: providerName,
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				MaxContextTokens:  128000,
				MaxOutputTokens:   32768,
			},
		},
		{
			ID:       "google/gemini-2.5-pro",
			Name:     "Gemini 2.5 Pro",
			Provider: providerName,
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				SupportsThinking:  true,
				MaxContextTokens:  1000000,
				MaxOutputTokens:   65536,
			},
		},
	}
}
