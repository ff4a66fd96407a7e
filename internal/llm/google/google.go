// Package google implements llm.Client against Google's Gemini API,
// adapted from the teacher's graph/model/google ChatModel adapter
// (genai.NewClient/GenerativeModel/GenerateContent), narrowed to a single
// system-instruction-plus-user-prompt turn with JSON response mime type.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/qa-orchestrator/internal/llm"
)

const defaultModel = "gemini-2.5-flash"

// Client implements llm.Client for Google's Gemini API.
type Client struct {
	apiKey       string
	defaultModel string
	sdk          googleAPI
}

type googleAPI interface {
	generateContent(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int, temperature float64) (string, llm.Usage, error)
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
	}
}

func (c *Client) Name() string { return "google" }

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
	raw, usage, err := c.sdk.generateContent(ctx, fullSystem, userPrompt, model, maxTokens, params.Temperature)
	if err != nil {
		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			return llm.Result{}, fmt.Errorf("google: content blocked (%s): %w", safetyErr.Category, err)
		}
		return llm.Result{}, fmt.Errorf("google: %w", err)
	}

	raw = llm.ExtractJSONObject(raw)
	parsed, err := llm.ValidateAndParse(raw, responseSchema)
	if err != nil {
		return llm.Result{}, err
	}

	return llm.Result{Parsed: parsed, Raw: raw, Usage: usage, Model: model}, nil
}

// SafetyFilterError reports that Gemini's safety filters blocked content,
// grounded on the teacher's SafetyFilterError handling in its Chat method.
type SafetyFilterError struct {
	Category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.Category
}

type defaultAPI struct {
	apiKey string
}

func (d *defaultAPI) generateContent(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int, temperature float64) (string, llm.Usage, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(d.apiKey))
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("create google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(model)
	genModel.MaxOutputTokens = genai.Ptr(int32(maxTokens))
	genModel.Temperature = genai.Ptr(float32(temperature))
	genModel.ResponseMIMEType = "application/json"
	if systemPrompt != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	resp, err := genModel.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", llm.Usage{}, err
	}
	if len(resp.Candidates) == 0 {
		return "", llm.Usage{}, errors.New("no candidates in Gemini response")
	}
	if reason := resp.Candidates[0].FinishReason; reason == genai.FinishReasonSafety {
		return "", llm.Usage{}, &SafetyFilterError{Category: "unspecified"}
	}
	if resp.Candidates[0].Content == nil {
		return "", llm.Usage{}, errors.New("empty content in Gemini response")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	if text == "" {
		return "", llm.Usage{}, errors.New("no text parts in Gemini response")
	}

	usage := llm.Usage{}
	if resp.UsageMetadata != nil {
		usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return text, usage, nil
}
