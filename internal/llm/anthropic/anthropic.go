// Package anthropic implements llm.Client against Anthropic's Claude API,
// adapted from the teacher's graph/model/anthropic ChatModel adapter: the
// same client-interface-for-mocking shape and system-prompt-as-separate-
// parameter handling, narrowed to the structured single-turn Call contract
// instead of a multi-turn Chat history.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/qa-orchestrator/internal/llm"
)

const defaultModel = "claude-sonnet-4-5-20250929"

// Client implements llm.Client for Anthropic's Claude API.
type Client struct {
	apiKey       string
	defaultModel string
	sdk          anthropicAPI
}

// anthropicAPI isolates the SDK call for test substitution, mirroring the
// teacher's anthropicClient interface.
type anthropicAPI interface {
	createMessage(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int) (string, llm.Usage, error)
}

// New builds a Client. An empty apiKey makes every Call return
// llm.ErrUnavailable, matching the original's "if settings.openai_api_key"
// guard pattern generalized to every provider.
func New(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:       apiKey,
		defaultModel: model,
		sdk:          &defaultAPI{apiKey: apiKey},
	}
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Call(ctx context.Context, systemPrompt, userPrompt string, responseSchema map[string]any, params llm.Params) (llm.Result, error) {
	if c.apiKey == "" {
		return llm.Result{}, llm.ErrUnavailable
	}
	if ctx.Err() != nil {
		return llm.Result{}, ctx.Err()
	}

	model := params.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	fullSystem := llm.AppendSchemaInstruction(systemPrompt, responseSchema)
	raw, usage, err := c.sdk.createMessage(ctx, fullSystem, userPrompt, model, maxTokens)
	if err != nil {
		return llm.Result{}, fmt.Errorf("anthropic: %w", err)
	}

	raw = llm.ExtractJSONObject(raw)
	parsed, err := llm.ValidateAndParse(raw, responseSchema)
	if err != nil {
		return llm.Result{}, err
	}

	return llm.Result{Parsed: parsed, Raw: raw, Usage: usage, Model: model}, nil
}

type defaultAPI struct {
	apiKey string
}

func (d *defaultAPI) createMessage(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int) (string, llm.Usage, error) {
	client := anthropicsdk.NewClient(option.WithAPIKey(d.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  []anthropicsdk.MessageParam{anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(userPrompt))},
		MaxTokens: int64(maxTokens),
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", llm.Usage{}, err
	}

	var text string
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			text += b.Text
		}
	}
	if text == "" {
		return "", llm.Usage{}, errors.New("empty response content")
	}

	usage := llm.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return text, usage, nil
}
