// Package synthesizer produces the final answer text and source list from
// a completed run's successful worker results, grounded on spec.md
// section 4.7 and the original's SupervisorAgent._aggregate_results
// (combining per-worker outputs and confidence scores into one payload).
package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/llm"
)

const guidanceExamples = `예시 질문:
- "강남구 아파트 시세 알려줘"
- "5억 대출 한도가 얼마나 될까요?"
- "전세 계약 시 확인해야 할 사항은?"`

var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"answer":  map[string]any{"type": "string"},
		"sources": map[string]any{"type": "array"},
	},
	"required": []string{"answer"},
}

const systemPrompt = `You write the final answer for a Korean real-estate assistant, combining
the specialist worker outputs provided into one coherent response. Cite sources where payloads
carry citation-like fields. Respond only with the requested JSON object.`

// Synthesizer builds the final answer and response type.
type Synthesizer struct {
	client llm.Client
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLLM attaches an LLM client used before falling back to the
// deterministic per-worker summary template.
func WithLLM(c llm.Client) Option { return func(s *Synthesizer) { s.client = c } }

// New builds a Synthesizer.
func New(opts ...Option) *Synthesizer {
	s := &Synthesizer{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Output is the Synthesizer's result.
type Output struct {
	FinalAnswer  string
	Sources      []domain.Source
	ResponseType domain.ResponseType
}

// Synthesize implements spec.md section 4.7's policy.
func (s *Synthesizer) Synthesize(ctx context.Context, intent domain.IntentRecord, results map[string]domain.WorkerResult) Output {
	if intent.Kind == domain.IntentIrrelevant {
		return Output{
			FinalAnswer:  "부동산 관련 질문이 아닌 것 같습니다.\n\n" + guidanceExamples,
			ResponseType: domain.ResponseGuidance,
		}
	}
	if intent.Kind == domain.IntentUnclear {
		return Output{
			FinalAnswer:  "질문을 조금 더 구체적으로 말씀해 주시겠어요?\n\n" + guidanceExamples,
			ResponseType: domain.ResponseGuidance,
		}
	}

	successful := successfulResults(results)
	if len(successful) == 0 {
		return Output{
			FinalAnswer:  "요청을 처리할 수 있는 결과를 찾지 못했습니다.",
			ResponseType: domain.ResponseError,
		}
	}

	sources := extractSources(successful)

	if s.client != nil {
		if out, ok := s.synthesizeWithLLM(ctx, successful); ok {
			out.Sources = sources
			out.ResponseType = domain.ResponseAnswer
			return out
		}
	}

	return Output{
		FinalAnswer:  deterministicSummary(successful),
		Sources:      sources,
		ResponseType: domain.ResponseAnswer,
	}
}

func (s *Synthesizer) synthesizeWithLLM(ctx context.Context, successful map[string]domain.WorkerResult) (Output, bool) {
	payloadJSON, err := json.Marshal(payloadsOnly(successful))
	if err != nil {
		return Output{}, false
	}
	userPrompt := fmt.Sprintf("Worker results: %s", string(payloadJSON))

	res, err := s.client.Call(ctx, systemPrompt, userPrompt, responseSchema, llm.Params{Temperature: 0.5})
	if err != nil {
		return Output{}, false
	}
	answer, ok := res.Parsed["answer"].(string)
	if !ok || answer == "" {
		return Output{}, false
	}
	return Output{FinalAnswer: answer}, true
}

func successfulResults(results map[string]domain.WorkerResult) map[string]domain.WorkerResult {
	out := make(map[string]domain.WorkerResult)
	for name, r := range results {
		if r.Status == domain.WorkerSuccess {
			out[name] = r
		}
	}
	return out
}

func payloadsOnly(results map[string]domain.WorkerResult) map[string]map[string]any {
	out := make(map[string]map[string]any, len(results))
	for name, r := range results {
		out[name] = r.Payload
	}
	return out
}

// deterministicSummary concatenates one line per worker, the mandatory
// fallback when the LLM is unavailable or returns an unusable response.
func deterministicSummary(successful map[string]domain.WorkerResult) string {
	names := make([]string, 0, len(successful))
	for name := range successful {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		r := successful[name]
		b.WriteString(fmt.Sprintf("[%s] 신뢰도 %.0f%% 결과를 확인했습니다.\n", name, r.Confidence*100))
	}
	return strings.TrimSpace(b.String())
}

// extractSources builds one Source per successful worker, sorted by worker
// name, titled with the worker name plus the payload's "location" string
// when present. No other payload fields are read.
func extractSources(successful map[string]domain.WorkerResult) []domain.Source {
	var sources []domain.Source
	names := make([]string, 0, len(successful))
	for name := range successful {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		payload := successful[name].Payload
		title := name
		if loc, ok := payload["location"].(string); ok && loc != "" {
			title = name + ": " + loc
		}
		sources = append(sources, domain.Source{Title: title, Note: "worker:" + name})
	}
	return sources
}
