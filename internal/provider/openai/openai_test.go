// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openaisdk "github.com/openai/openai-go"
	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/provider/openai"
	"github.com/sigil-dev/warden/internal/store"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*openai.Provider)(nil)

func TestOpenAIProvider_Basics(t *testing.T) {
	p := mustNewProvider(t)
	ctx := context.Background()

	assert.Equal(t, "openai", p.Name())
	assert.True(t, p.Available(ctx))
	assert.NoError(t, p.Close())

	status, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "openai", status.Provider)

	models, err := p.ListModels(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, models)
	for _, m := range models {
		assert.Equal(t, "openai", m.Provider, "model %s", m.ID)
	}
}

func TestOpenAIProvider_CompatibleEndpoint(t *testing.T) {
	p, err := openai.New(openai.Config{
		APIKey:  "k",
		Name:    "local",
		BaseURL: "http://localhost:11434/v1",
		Models:  []provider.ModelInfo{{ID: "qwen", Provider: "local"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "qwen", models[0].ID)
}

func TestOpenAIProvider_MissingAPIKey(t *testing.T) {
	_, err := openai.New(openai.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeProviderRequestInvalid))
}

func TestConvertMessages_Conversation(t *testing.T) {
	history := []store.Message{
		store.UserMessage("what is in main.go?"),
		store.AssistantMessage("Let me look.",
			store.ToolUse("call_1", "read_file", json.RawMessage(`{"path":"main.go"}`)),
		),
		store.ToolResultMessage("call_1", "package main", false),
		store.AssistantMessage("It is an empty main package."),
	}

	msgs, err := openai.ConvertMessages(history, "be brief")
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	require.NotNil(t, msgs[0].OfSystem)

	require.NotNil(t, msgs[1].OfUser)
	assert.Equal(t, "what is in main.go?", msgs[1].OfUser.Content.OfString.Value)

	require.NotNil(t, msgs[2].OfAssistant)
	assert.Equal(t, "Let me look.", msgs[2].OfAssistant.Content.OfString.Value)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[2].OfAssistant.ToolCalls[0].ID)
	assert.Equal(t, "read_file", msgs[2].OfAssistant.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"path":"main.go"}`, msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)

	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "call_1", msgs[3].OfTool.ToolCallID)
	assert.Equal(t, "package main", msgs[3].OfTool.Content.OfString.Value)

	require.NotNil(t, msgs[4].OfAssistant)
}

func TestConvertMessages_ToolImagesFollowToolRun(t *testing.T) {
	img := store.ContentBlock{Type: store.BlockImage, MediaType: "image/png", Data: []byte{0, 0, 0}}
	history := []store.Message{
		store.AssistantMessage("",
			store.ToolUse("c1", "read_file", json.RawMessage(`{"path":"a.png"}`)),
			store.ToolUse("c2", "read_file", json.RawMessage(`{"path":"b.txt"}`)),
		),
		store.ToolResultMessage("c1", "Read image a.png", false, img),
		store.ToolResultMessage("c2", "text", false),
	}

	msgs, err := openai.ConvertMessages(history, "")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[1].OfTool)
	assert.NotNil(t, msgs[2].OfTool, "tool messages stay contiguous")
	require.NotNil(t, msgs[3].OfUser)
	require.Len(t, msgs[3].OfUser.Content.OfArrayOfContentParts, 1)
	assert.Equal(t, "data:image/png;base64,AAAA",
		msgs[3].OfUser.Content.OfArrayOfContentParts[0].OfImageURL.ImageURL.URL)
}

func TestConvertMessages_UnsupportedRole(t *testing.T) {
	_, err := openai.ConvertMessages([]store.Message{{Role: "system"}}, "")
	assert.True(t, wardenerr.IsInvalidInput(err))
}

func TestBuildParams(t *testing.T) {
	temp := float32(0.5)
	params, err := openai.BuildParams(provider.ChatRequest{
		Model:    "gpt-4.1",
		Messages: []store.Message{store.UserMessage("hi")},
		Tools:    []provider.ToolDefinition{{Name: "grep", Description: "search", InputSchema: map[string]any{"type": "object"}}},
		Options:  provider.ChatOptions{Temperature: &temp, MaxTokens: 256, StopSequences: []string{"END"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(256), params.MaxCompletionTokens.Value)
	assert.InDelta(t, 0.5, params.Temperature.Value, 1e-6)
	assert.Equal(t, []string{"END"}, params.Stop.OfStringArray)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "grep", params.Tools[0].Function.Name)
}

func TestCategorize(t *testing.T) {
	apiErr := func(status int) *openaisdk.Error {
		return &openaisdk.Error{
			StatusCode: status,
			Request:    httptest.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil),
			Response:   &http.Response{StatusCode: status},
		}
	}

	assert.True(t, wardenerr.IsThrottled(openai.Categorize("openai", apiErr(http.StatusTooManyRequests))))
	assert.True(t, wardenerr.IsInvalidInput(openai.Categorize("openai", apiErr(http.StatusBadRequest))))
	assert.True(t, wardenerr.IsUpstreamFailure(openai.Categorize("openai", errors.New("EOF"))))
}

// mustNewProvider creates a provider with a dummy API key for unit tests.
func mustNewProvider(t *testing.T) *openai.Provider {
	t.Helper()
	p, err := openai.New(openai.Config{APIKey: "test-key-not-real"})
	require.NoError(t, err)
	return p
}
