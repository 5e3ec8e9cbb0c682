// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package google adapts the Gemini API to provider.Provider.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"google.golang.org/genai"

	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/store"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

const providerName = "google"

// Config holds Google provider configuration.
type Config struct {
	APIKey string
}

// Provider implements provider.Provider using the Google Gemini API.
type Provider struct {
	client *genai.Client
	health *provider.HealthTracker
}

// New creates a new Google provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, wardenerr.New(wardenerr.CodeProviderRequestInvalid, "google: missing api_key in config",
			wardenerr.FieldProvider(providerName))
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, wardenerr.Wrapf(err, wardenerr.CodeProviderUpstreamFailure, "google: creating client")
	}

	health, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	return &Provider{
		client: client,
		health: health,
	}, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

// knownModels returns the hardcoded set of known Google Gemini models.
func knownModels() []provider.ModelInfo {
	return []provider.ModelInfo{
		{
			ID:       "gemini-2.5-pro",
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
		{
			ID:       "gemini-2.5-flash",
			Name:     "Gemini 2.5 Flash",
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

func (p *Provider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return knownModels(), nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	config := buildConfig(req)

	eventCh := make(chan provider.ChatEvent, 100)

	go func() {
		defer close(eventCh)
		err := p.streamChat(ctx, req.Model, contents, config, eventCh)
		p.health.Record(err)
		if err != nil {
			provider.Send(ctx, eventCh, provider.ErrorEvent(err))
		}
	}()

	return eventCh, nil
}

func (p *Provider) Status(_ context.Context) (provider.ProviderStatus, error) {
	return p.health.Status(providerName), nil
}

func (p *Provider) Close() error { return nil }

// buildConfig converts a provider.ChatRequest into a genai.GenerateContentConfig.
func buildConfig(req provider.ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.Options.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Options.Temperature)
	}

	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}

	if len(req.Options.StopSequences) > 0 {
		cfg.StopSequences = req.Options.StopSequences
	}

	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}

	if len(req.Tools) > 0 {
		cfg.Tools = convertTools(req.Tools)
	}

	return cfg
}

// convertMessages transforms the conversation into genai contents. Function
// responses need the function name, which is recovered from the preceding
// tool_use blocks. Consecutive contents with the same role are merged.
func convertMessages(msgs []store.Message) ([]*genai.Content, error) {
	var result []*genai.Content
	callNames := make(map[string]string)

	for _, msg := range msgs {
		var role string
		switch msg.Role {
		case store.MessageRoleUser, store.MessageRoleTool:
			role = "user"
		case store.MessageRoleAssistant:
			role = "model"
		default:
			return nil, wardenerr.Errorf(wardenerr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}

		var parts []*genai.Part
		for _, b := range msg.Blocks {
			switch b.Type {
			case store.BlockText:
				if b.Text != "" {
					parts = append(parts, genai.NewPartFromText(b.Text))
				}
			case store.BlockToolUse:
				callNames[b.ToolCallID] = b.ToolName
				var args map[string]any
				if len(b.Arguments) > 0 {
					if err := json.Unmarshal(b.Arguments, &args); err != nil {
						return nil, wardenerr.Wrapf(err, wardenerr.CodeProviderRequestInvalid,
							"google: decoding arguments of %s", b.ToolName)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   b.ToolCallID,
					Name: b.ToolName,
					Args: args,
				}})
			case store.BlockToolResult:
				key := "output"
				if b.IsError {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       b.ToolCallID,
					Name:     callNames[b.ToolCallID],
					Response: map[string]any{key: b.Text},
				}})
			case store.BlockImage:
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: b.MediaType, Data: b.Data}})
			}
		}
		if len(parts) == 0 {
			continue
		}

		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Parts = append(result[n-1].Parts, parts...)
			continue
		}
		result = append(result, &genai.Content{Role: role, Parts: parts})
	}

	return result, nil
}

// convertTools transforms provider.ToolDefinition slices into genai.Tool slices.
func convertTools(tools []provider.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.InputSchema,
		})
	}
	return []*genai.Tool{
		{FunctionDeclarations: decls},
	}
}

func categorize(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.Categorize(providerName, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return provider.Categorize(providerName, apiErrPtr.Code, err)
	}
	return provider.Categorize(providerName, 0, err)
}

// streamChat runs the streaming loop, converting SDK responses into
// provider.ChatEvent values. The returned error has not been sent.
func (p *Provider) streamChat(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	ch chan<- provider.ChatEvent,
) error {
	stopReason := ""
	var usage *genai.GenerateContentResponseUsageMetadata

	for result, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return categorize(err)
		}

		for _, candidate := range result.Candidates {
			if candidate.FinishReason != "" {
				stopReason = string(candidate.FinishReason)
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				var ev provider.ChatEvent
				switch {
				case part.Text != "" && !part.Thought:
					ev = provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: part.Text}
				case part.FunctionCall != nil:
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						slog.Error("failed to marshal tool call arguments",
							"function", part.FunctionCall.Name,
							"error", err,
						)
						return wardenerr.Wrapf(err, wardenerr.CodeProviderResponseInvalid,
							"google: marshaling tool call arguments for %q", part.FunctionCall.Name)
					}
					ev = provider.ChatEvent{
						Type: provider.EventTypeToolCall,
						ToolCall: &provider.ToolCall{
							ID:        part.FunctionCall.ID,
							Name:      part.FunctionCall.Name,
							Arguments: string(args),
						},
					}
				default:
					continue
				}
				if !provider.Send(ctx, ch, ev) {
					return nil
				}
			}
		}

		// Usage metadata is cumulative across chunks; report the last one.
		if result.UsageMetadata != nil {
			usage = result.UsageMetadata
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if usage != nil {
		ok := provider.Send(ctx, ch, provider.ChatEvent{
			Type: provider.EventTypeUsage,
			Usage: &provider.Usage{
				InputTokens:     int(usage.PromptTokenCount),
				OutputTokens:    int(usage.CandidatesTokenCount),
				CacheReadTokens: int(usage.CachedContentTokenCount),
			},
		})
		if !ok {
			return nil
		}
	}
	provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone, StopReason: stopReason})
	return nil
}
