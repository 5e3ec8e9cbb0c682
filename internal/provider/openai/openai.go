// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package openai adapts the OpenAI Chat Completions API, and compatible
// endpoints, to provider.Provider.
package openai

import (
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"maps"
	"slices"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/store"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

const defaultName = "openai"

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, for compatible endpoints and mock servers
	// Name overrides the provider name for compatible endpoints.
	Name string
	// Models overrides the advertised model list.
	Models []provider.ModelInfo
}

// Provider implements provider.Provider using the OpenAI Chat Completions API.
type Provider struct {
	client openaisdk.Client
	name   string
	models []provider.ModelInfo
	health *provider.HealthTracker
}

// New creates a new OpenAI provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	name := cmp.Or(cfg.Name, defaultName)
	if cfg.APIKey == "" {
		return nil, wardenerr.New(wardenerr.CodeProviderRequestInvalid, name+": missing api_key in config",
			wardenerr.FieldProvider(name))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	health, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	models := cfg.Models
	if models == nil {
		models = knownModels()
	}

	return &Provider{
		client: openaisdk.NewClient(opts...),
		name:   name,
		models: models,
		health: health,
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

// knownModels returns the hardcoded set of known OpenAI models.
func knownModels() []provider.ModelInfo {
	return []provider.ModelInfo{
		{
			ID:       "gpt-4.1",
			Name:     "GPT-4.1",
			Provider: defaultName,
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				MaxContextTokens:  128000,
				MaxOutputTokens:   32768,
			},
		},
		{
			ID:       "gpt-4.1-mini",
			Name:     "GPT-4.1 Mini",
			Provider: defaultName,
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				MaxContextTokens:  128000,
				MaxOutputTokens:   16384,
			},
		},
		{
			ID:       "o4-mini",
			Name:     "o4-mini",
			Provider: defaultName,
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsStreaming: true,
				SupportsThinking:  true,
				MaxContextTokens:  200000,
				MaxOutputTokens:   100000,
			},
		},
	}
}

func (p *Provider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return slices.Clone(p.models), nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	eventCh := make(chan provider.ChatEvent, 100)

	go func() {
		defer close(eventCh)
		err := p.streamChat(ctx, params, eventCh)
		p.health.Record(err)
		if err != nil {
			provider.Send(ctx, eventCh, provider.ErrorEvent(err))
		}
	}()

	return eventCh, nil
}

func (p *Provider) Status(_ context.Context) (provider.ProviderStatus, error) {
	return p.health.Status(p.name), nil
}

func (p *Provider) Close() error { return nil }

// buildParams converts a provider.ChatRequest into OpenAI SDK ChatCompletionNewParams.
func buildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	msgs, err := convertMessages(req.Messages, req.SystemPrompt)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}

	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}

	if req.Options.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Options.Temperature))
	}

	if len(req.Options.StopSequences) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.Options.StopSequences,
		}
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params, nil
}

// convertMessages transforms the conversation into OpenAI message params.
// The system prompt is prepended as a system message if present. Tool
// messages cannot carry images, so images from tool results follow the
// run of tool messages as a user message.
func convertMessages(msgs []store.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	var result []openaisdk.ChatCompletionMessageParamUnion

	if systemPrompt != "" {
		result = append(result, openaisdk.SystemMessage(systemPrompt))
	}

	var pendingImages []openaisdk.ChatCompletionContentPartUnionParam
	flushImages := func() {
		if len(pendingImages) > 0 {
			result = append(result, openaisdk.UserMessage(pendingImages))
			pendingImages = nil
		}
	}

	for _, msg := range msgs {
		if msg.Role != store.MessageRoleTool {
			flushImages()
		}

		switch msg.Role {
		case store.MessageRoleUser:
			var parts []openaisdk.ChatCompletionContentPartUnionParam
			for _, b := range msg.Blocks {
				switch b.Type {
				case store.BlockText:
					parts = append(parts, openaisdk.TextContentPart(b.Text))
				case store.BlockImage:
					parts = append(parts, imagePart(b))
				}
			}
			if len(parts) == 1 && parts[0].OfText != nil {
				result = append(result, openaisdk.UserMessage(msg.Text()))
			} else if len(parts) > 0 {
				result = append(result, openaisdk.UserMessage(parts))
			}

		case store.MessageRoleAssistant:
			result = append(result, assistantMessage(msg))

		case store.MessageRoleTool:
			for _, b := range msg.Blocks {
				switch b.Type {
				case store.BlockToolResult:
					result = append(result, openaisdk.ToolMessage(b.Text, b.ToolCallID))
				case store.BlockImage:
					pendingImages = append(pendingImages, imagePart(b))
				}
			}

		default:
			return nil, wardenerr.Errorf(wardenerr.CodeProviderRequestInvalid, "openai: unsupported message role %q", msg.Role)
		}
	}
	flushImages()

	return result, nil
}

func assistantMessage(msg store.Message) openaisdk.ChatCompletionMessageParamUnion {
	var asst openaisdk.ChatCompletionAssistantMessageParam
	if text := msg.Text(); text != "" {
		asst.Content.OfString = param.NewOpt(text)
	}
	for _, use := range msg.ToolUses() {
		args := string(use.Arguments)
		if args == "" {
			args = "{}"
		}
		asst.ToolCalls = append(asst.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
			ID: use.ToolCallID,
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      use.ToolName,
				Arguments: args,
			},
		})
	}
	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func imagePart(b store.ContentBlock) openaisdk.ChatCompletionContentPartUnionParam {
	return openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{
		URL: "data:" + b.MediaType + ";base64," + base64.StdEncoding.EncodeToString(b.Data),
	})
}

// convertTools transforms provider.ToolDefinition slices into OpenAI SDK tool params.
func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		})
	}
	return result
}

func categorize(name string, err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return provider.Categorize(name, apiErr.StatusCode, err)
	}
	return provider.Categorize(name, 0, err)
}

type toolAccum struct {
	id          string
	name        string
	partialArgs string
}

// flushToolCalls emits accumulated calls in index order.
func flushToolCalls(ctx context.Context, ch chan<- provider.ChatEvent, calls map[int64]*toolAccum) bool {
	for _, idx := range slices.Sorted(maps.Keys(calls)) {
		acc := calls[idx]
		if !json.Valid([]byte(acc.partialArgs)) {
			acc.partialArgs = "{}"
		}
		ok := provider.Send(ctx, ch, provider.ChatEvent{
			Type:     provider.EventTypeToolCall,
			ToolCall: &provider.ToolCall{ID: acc.id, Name: acc.name, Arguments: acc.partialArgs},
		})
		delete(calls, idx)
		if !ok {
			return false
		}
	}
	return true
}

// streamChat runs the streaming loop, converting SDK chunks into
// provider.ChatEvent values. The returned error has not been sent.
func (p *Provider) streamChat(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- provider.ChatEvent) error {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	toolCalls := make(map[int64]*toolAccum)
	stopReason := ""

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			delta := choice.Delta

			if delta.Content != "" {
				if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: delta.Content}) {
					return nil
				}
			}

			for _, tc := range delta.ToolCalls {
				acc, ok := toolCalls[tc.Index]
				if !ok {
					acc = &toolAccum{}
					toolCalls[tc.Index] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.partialArgs += tc.Function.Arguments
			}

			if choice.FinishReason != "" {
				stopReason = string(choice.FinishReason)
			}
			if choice.FinishReason == "tool_calls" && !flushToolCalls(ctx, ch, toolCalls) {
				return nil
			}
		}

		// Usage arrives on the final chunk when include_usage is set.
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			ok := provider.Send(ctx, ch, provider.ChatEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:     int(chunk.Usage.PromptTokens),
					OutputTokens:    int(chunk.Usage.CompletionTokens),
					CacheReadTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
				},
			})
			if !ok {
				return nil
			}
		}
	}

	if err := stream.Err(); err != nil {
		return categorize(p.name, err)
	}
	if ctx.Err() != nil {
		return nil
	}

	// Some compatible endpoints finish with "stop" even after tool calls.
	if !flushToolCalls(ctx, ch, toolCalls) {
		return nil
	}
	provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone, StopReason: stopReason})
	return nil
}
