// Package openai implements llm.Client against OpenAI's chat completions
// API, adapted from the teacher's graph/model/openai ChatModel adapter
// (retry-on-transient-error loop) combined with the multi-llm-review
// example's json_object response format and markdown-fence stripping.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/qa-orchestrator/internal/llm"
)

const defaultModel = "gpt-4o"

// Client implements llm.Client for OpenAI's chat completions API.
type Client struct {
	apiKey       string
	defaultModel string
	sdk          openaiAPI
	maxRetries   int
	retryDelay   time.Duration
}

type openaiAPI interface {
	createChatCompletion(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int, temperature float64) (string, llm.Usage, error)
}

// New builds a Client. An empty apiKey makes every Call return
// llm.ErrUnavailable.
func New(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:       apiKey,
		defaultModel: model,
		sdk:          &defaultAPI{apiKey: apiKey},
		maxRetries:   3,
		retryDelay:   time.Second,
	}
}

func (c *Client) Name() string { return "openai" }

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
	temperature := params.Temperature

	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	fullSystem := llm.AppendSchemaInstruction(systemPrompt, responseSchema)

	var raw string
	var usage llm.Usage
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		raw, usage, lastErr = c.sdk.createChatCompletion(ctx, fullSystem, userPrompt, model, maxTokens, temperature)
		if lastErr == nil {
			break
		}
		if !isTransientError(lastErr) || attempt >= c.maxRetries {
			return llm.Result{}, fmt.Errorf("openai: %w", lastErr)
		}
		select {
		case <-time.After(c.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return llm.Result{}, ctx.Err()
		}
	}
	if lastErr != nil {
		return llm.Result{}, fmt.Errorf("openai: failed after %d retries: %w", c.maxRetries, lastErr)
	}

	raw = llm.ExtractJSONObject(raw)
	parsed, err := llm.ValidateAndParse(raw, responseSchema)
	if err != nil {
		return llm.Result{}, err
	}

	return llm.Result{Parsed: parsed, Raw: raw, Usage: usage, Model: model}, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "rate limit", "503", "502", "500"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

type defaultAPI struct {
	apiKey string
}

func (d *defaultAPI) createChatCompletion(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int, temperature float64) (string, llm.Usage, error) {
	client := openaisdk.NewClient(option.WithAPIKey(d.apiKey))

	messages := []openaisdk.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(systemPrompt))
	}
	messages = append(messages, openaisdk.UserMessage(userPrompt))

	completion, err := client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openaisdk.Ptr(shared.NewResponseFormatJSONObjectParam()),
		},
		MaxCompletionTokens: openaisdk.Int(int64(maxTokens)),
		Temperature:         openaisdk.Float(temperature),
	})
	if err != nil {
		return "", llm.Usage{}, err
	}
	if len(completion.Choices) == 0 {
		return "", llm.Usage{}, errors.New("no response from OpenAI API")
	}

	content := completion.Choices[0].Message.Content
	usage := llm.Usage{
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
	}
	return content, usage, nil
}
