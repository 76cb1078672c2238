package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"

	"deskjarvis/agent/internal/llmtypes"
	"deskjarvis/agent/pkg/logger"
)

// providerAwareModel adapts a langchaingo model to llmtypes.Model and logs
// generation timing with provider context.
type providerAwareModel struct {
	inner    llms.Model
	provider Provider
	modelID  string
	log      logger.Logger
}

func newProviderAwareModel(inner llms.Model, provider Provider, modelID string, log logger.Logger) *providerAwareModel {
	return &providerAwareModel{
		inner:    inner,
		provider: provider,
		modelID:  modelID,
		log:      log,
	}
}

func (m *providerAwareModel) GenerateContent(ctx context.Context, messages []llmtypes.MessageContent, options ...llmtypes.CallOption) (*llmtypes.ContentResponse, error) {
	opts := &llmtypes.CallOptions{}
	for _, opt := range options {
		opt(opts)
	}

	converted, err := convertMessages(messages)
	if err != nil {
		return nil, err
	}

	callOpts := make([]llms.CallOption, 0, 4)
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	start := time.Now()
	resp, err := m.inner.GenerateContent(ctx, converted, callOpts...)
	duration := time.Since(start)
	if err != nil {
		m.log.Errorf("LLM generation failed - provider: %s, model: %s, duration: %s, error: %s",
			m.provider, m.modelID, duration, err.Error())
		return nil, fmt.Errorf("LLM generation failed: %w", err)
	}

	m.log.Debugf("LLM generation completed - provider: %s, model: %s, duration: %s, choices: %d",
		m.provider, m.modelID, duration, len(resp.Choices))

	return convertResponse(resp), nil
}

func convertMessages(messages []llmtypes.MessageContent) ([]llms.MessageContent, error) {
	converted := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		parts := make([]llms.ContentPart, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case llmtypes.TextContent:
				parts = append(parts, llms.TextContent{Text: p.Text})
			case llmtypes.BinaryContent:
				parts = append(parts, llms.BinaryContent{MIMEType: p.MIMEType, Data: p.Data})
			default:
				return nil, fmt.Errorf("unsupported content part type: %T", part)
			}
		}
		converted = append(converted, llms.MessageContent{
			Role:  convertRole(msg.Role),
			Parts: parts,
		})
	}
	return converted, nil
}

func convertRole(role llmtypes.ChatMessageType) llms.ChatMessageType {
	switch role {
	case llmtypes.ChatMessageTypeSystem:
		return llms.ChatMessageTypeSystem
	case llmtypes.ChatMessageTypeHuman:
		return llms.ChatMessageTypeHuman
	case llmtypes.ChatMessageTypeAI:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeGeneric
	}
}

func convertResponse(resp *llms.ContentResponse) *llmtypes.ContentResponse {
	if resp == nil {
		return &llmtypes.ContentResponse{}
	}
	choices := make([]*llmtypes.ContentChoice, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		choices = append(choices, &llmtypes.ContentChoice{
			Content:        choice.Content,
			StopReason:     choice.StopReason,
			GenerationInfo: choice.GenerationInfo,
		})
	}
	return &llmtypes.ContentResponse{Choices: choices}
}
