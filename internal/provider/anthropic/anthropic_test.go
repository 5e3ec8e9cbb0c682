// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/provider/anthropic"
	"github.com/sigil-dev/warden/internal/store"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*anthropic.Provider)(nil)

func TestAnthropicProvider_Basics(t *testing.T) {
	p := mustNewProvider(t)
	ctx := context.Background()

	assert.Equal(t, "anthropic", p.Name())
	assert.True(t, p.Available(ctx))
	assert.NoError(t, p.Close())

	status, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", status.Provider)
	assert.True(t, status.Available)

	models, err := p.ListModels(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, models)
	for _, m := range models {
		assert.Equal(t, "anthropic", m.Provider, "model %s", m.ID)
		assert.True(t, m.Capabilities.SupportsTools, "model %s", m.ID)
	}
}

func TestAnthropicProvider_MissingAPIKey(t *testing.T) {
	_, err := anthropic.New(anthropic.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeProviderRequestInvalid))
}

func TestConvertMessages_ToolRoundTrip(t *testing.T) {
	history := []store.Message{
		store.UserMessage("read both files"),
		store.AssistantMessage("Reading.",
			store.ToolUse("toolu_1", "read_file", json.RawMessage(`{"path":"a.go"}`)),
			store.ToolUse("toolu_2", "read_file", json.RawMessage(`{"path":"b.go"}`)),
		),
		store.ToolResultMessage("toolu_1", "package a", false),
		store.ToolResultMessage("toolu_2", "Error: not found", true),
		store.AssistantMessage("Done."),
	}

	msgs, err := anthropic.ConvertMessages(history)
	require.NoError(t, err)
	require.Len(t, msgs, 4, "the two tool results share one user message")

	assert.Equal(t, anthropicsdk.MessageParamRoleUser, msgs[0].Role)
	require.Len(t, msgs[0].Content, 1)
	require.NotNil(t, msgs[0].Content[0].OfText)
	assert.Equal(t, "read both files", msgs[0].Content[0].OfText.Text)

	assert.Equal(t, anthropicsdk.MessageParamRoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Content, 3)
	require.NotNil(t, msgs[1].Content[1].OfToolUse)
	assert.Equal(t, "toolu_1", msgs[1].Content[1].OfToolUse.ID)
	assert.Equal(t, "read_file", msgs[1].Content[1].OfToolUse.Name)

	assert.Equal(t, anthropicsdk.MessageParamRoleUser, msgs[2].Role)
	require.Len(t, msgs[2].Content, 2)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "toolu_1", msgs[2].Content[0].OfToolResult.ToolUseID)
	require.NotNil(t, msgs[2].Content[1].OfToolResult)
	assert.Equal(t, "toolu_2", msgs[2].Content[1].OfToolResult.ToolUseID)

	assert.Equal(t, anthropicsdk.MessageParamRoleAssistant, msgs[3].Role)
}

func TestConvertMessages_Image(t *testing.T) {
	history := []store.Message{
		store.ToolResultMessage("toolu_1", "Read image logo.png", false,
			store.ContentBlock{Type: store.BlockImage, MediaType: "image/png", Data: []byte{0x89, 0x50, 0x4e, 0x47}}),
	}
	msgs, err := anthropic.ConvertMessages(history)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)
	assert.NotNil(t, msgs[0].Content[1].OfImage)
}

func TestConvertMessages_UnsupportedRole(t *testing.T) {
	_, err := anthropic.ConvertMessages([]store.Message{{Role: "system", Blocks: []store.ContentBlock{{Type: store.BlockText, Text: "x"}}}})
	assert.True(t, wardenerr.IsInvalidInput(err))
}

func TestExtractSchema(t *testing.T) {
	props := map[string]any{"path": map[string]any{"type": "string"}}

	s := anthropic.ExtractSchema(map[string]any{"type": "object", "properties": props, "required": []string{"path"}})
	assert.Equal(t, props, s.Properties)
	assert.Equal(t, []string{"path"}, s.Required)

	s = anthropic.ExtractSchema(map[string]any{"properties": props, "required": []any{"path", 3}})
	assert.Equal(t, []string{"path"}, s.Required, "decoded JSON carries []any")

	s = anthropic.ExtractSchema(map[string]any{"type": "object"})
	assert.Nil(t, s.Required)
}

func TestBuildParams(t *testing.T) {
	temp := float32(0.2)
	params, err := anthropic.BuildParams(provider.ChatRequest{
		Model:        "claude-sonnet-4-5",
		Messages:     []store.Message{store.UserMessage("hi")},
		SystemPrompt: "be brief",
		Tools:        []provider.ToolDefinition{{Name: "glob", Description: "find files", InputSchema: map[string]any{"type": "object"}}},
		Options:      provider.ChatOptions{Temperature: &temp},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(provider.DefaultMaxTokens), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "be brief", params.System[0].Text)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "glob", params.Tools[0].OfTool.Name)
}

func TestCategorize(t *testing.T) {
	err := anthropic.Categorize(apiError(http.StatusTooManyRequests))
	assert.True(t, wardenerr.IsThrottled(err))

	err = anthropic.Categorize(apiError(http.StatusUnauthorized))
	assert.True(t, wardenerr.IsUnauthorized(err))

	err = anthropic.Categorize(errors.New("connection reset"))
	assert.True(t, wardenerr.IsUpstreamFailure(err))
}

func apiError(status int) *anthropicsdk.Error {
	return &anthropicsdk.Error{
		StatusCode: status,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: status},
	}
}

// mustNewProvider creates a provider with a dummy API key for unit tests.
func mustNewProvider(t *testing.T) *anthropic.Provider {
	t.Helper()
	p, err := anthropic.New(anthropic.Config{APIKey: "test-key-not-real"})
	require.NoError(t, err)
	return p
}
