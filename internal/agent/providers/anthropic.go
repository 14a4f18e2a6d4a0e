// Package providers implements LLM backends for the agent runtime.
//
// Each provider adapts a vendor streaming API to the agent.LLMProvider
// interface: requests go out with the full sanitized transcript and tool
// catalog, and responses come back as a channel of CompletionChunks
// carrying text deltas, complete tool calls, and a final done signal.
// Providers retry transient failures and respect context cancellation.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/belay/internal/agent"
	"github.com/haasonsaas/belay/pkg/models"
)

const defaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_20250514)

// AnthropicProvider implements agent.LLMProvider on the Anthropic
// Messages API with streaming.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicProvider creates a provider with the given API key.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultAnthropicModel,
		maxRetries:   defaultMaxRetries,
		retryDelay:   defaultRetryDelay,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: string(anthropic.ModelClaudeSonnet4_20250514), Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: string(anthropic.ModelClaude3_5HaikuLatest), Name: "Claude 3.5 Haiku", ContextSize: 200000},
		{ID: string(anthropic.ModelClaudeOpus4_0), Name: "Claude Opus 4", ContextSize: 200000},
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  convertAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, NewProviderError(p.Name(), model, err)
		}
		params.Tools = tools
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		err := retry(ctx, p.maxRetries, p.retryDelay, func() error {
			stream := p.client.Messages.NewStreaming(ctx, params)
			return p.processStream(ctx, stream, chunks)
		})
		if err != nil && ctx.Err() == nil {
			select {
			case chunks <- &agent.CompletionChunk{Error: NewProviderError(p.Name(), model, err)}:
			case <-ctx.Done():
			}
		}
	}()
	return chunks, nil
}

func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk) error {
	defer stream.Close()

	var (
		currentTool *models.ToolCall
		toolInput   []byte
		inputTokens int
		outTokens   int
	)

	emit := func(c *agent.CompletionChunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			inputTokens = int(event.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.ContentBlock
			if block.Type == "tool_use" {
				currentTool = &models.ToolCall{ID: block.ID, Name: block.Name}
				toolInput = nil
			}

		case "content_block_delta":
			delta := event.Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !emit(&agent.CompletionChunk{Text: delta.Text}) {
						return ctx.Err()
					}
				}
			case "input_json_delta":
				if currentTool != nil {
					toolInput = append(toolInput, delta.PartialJSON...)
				}
			}

		case "content_block_stop":
			if currentTool != nil {
				if len(toolInput) == 0 {
					toolInput = []byte("{}")
				}
				currentTool.Input = json.RawMessage(toolInput)
				if !emit(&agent.CompletionChunk{ToolCall: currentTool}) {
					return ctx.Err()
				}
				currentTool = nil
			}

		case "message_delta":
			outTokens = int(event.Usage.OutputTokens)

		case "message_stop":
			if !emit(&agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outTokens}) {
				return ctx.Err()
			}
			return nil
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	// Stream ended without message_stop; still signal completion.
	emit(&agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outTokens})
	return nil
}

func convertAnthropicMessages(msgs []agent.CompletionMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Input
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			var blocks []anthropic.ContentBlockParamUnion
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		default:
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	return out
}

func convertAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", tool.Name(), err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(tool.Description())
		}
		out = append(out, param)
	}
	return out, nil
}
