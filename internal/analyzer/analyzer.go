// Package analyzer classifies a raw query into an IntentRecord: an intent
// kind, extracted entities, and a confidence score. It is grounded on the
// original's AnalyzerAgent (_analyze_intent, _extract_entities,
// _evaluate_complexity), with an LLM-assisted path layered on top per
// spec.md section 4.3, calling into internal/llm the way the teacher's
// nodes call graph/model.ChatModel.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/llm"
	"github.com/dshills/qa-orchestrator/internal/worker/korean"
)

// vocabulary maps each intent kind to the keyword set that triggers it,
// ported from the original's YAML-configured intent_detection table and
// analyzer_agent.py's hard fallback keyword lists.
var vocabulary = map[domain.IntentKind][]string{
	domain.IntentSearch:         {"찾아", "검색", "알려줘", "어디", "시세", "매물", "뭐", "무엇", "어떤", "어떻게"},
	domain.IntentCalculation:    {"계산", "얼마", "비용", "한도", "세금", "대출"},
	domain.IntentRecommendation: {"추천", "좋은", "베스트", "어디가"},
	domain.IntentConsultation:   {"상담", "조언", "어떻게 해야", "괜찮을까"},
}

var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"kind":       map[string]any{"type": "string"},
		"confidence": map[string]any{"type": "number"},
		"entities":   map[string]any{"type": "object"},
		"reasoning":  map[string]any{"type": "string"},
	},
	"required": []string{"kind", "confidence"},
}

const systemPrompt = `You classify a Korean real-estate assistant query into an intent kind
(search, calculation, recommendation, consultation, unclear, irrelevant) and extract
entities (location, price, area, property_type, transaction_type, finance_related,
legal_related). Respond only with the requested JSON object.`

// Analyzer classifies raw queries into IntentRecord.
type Analyzer struct {
	client             llm.Client
	minConfidence      float64
	maxQueryLength     int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLLM attaches an LLM client used before falling back to keyword
// matching. A nil client (the zero value) means deterministic-only.
func WithLLM(c llm.Client) Option { return func(a *Analyzer) { a.client = c } }

// WithMinConfidence sets the floor below which a classified intent is
// treated as unclear (config's intent.min_confidence_threshold).
func WithMinConfidence(v float64) Option { return func(a *Analyzer) { a.minConfidence = v } }

// New builds an Analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{minConfidence: 0.15}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze implements spec.md section 4.3's algorithm: LLM-assisted
// classification with a mandatory deterministic fallback.
func (a *Analyzer) Analyze(ctx context.Context, q domain.Query, carrier domain.ContextCarrier) (domain.IntentRecord, error) {
	if strings.TrimSpace(q.Text) == "" {
		return domain.IntentRecord{Kind: domain.IntentUnclear, Confidence: 0, Entities: map[string]any{}}, nil
	}

	entities := extractEntities(q.Text)

	if a.client != nil {
		if rec, ok := a.analyzeWithLLM(ctx, q.Text, carrier); ok {
			if rec.Entities == nil {
				rec.Entities = map[string]any{}
			}
			for k, v := range entities {
				if _, exists := rec.Entities[k]; !exists {
					rec.Entities[k] = v
				}
			}
			return rec, nil
		}
	}

	kind, confidence, matched := classifyByKeyword(q.Text)
	if confidence < a.minConfidence {
		kind = domain.IntentUnclear
		confidence = 0
	}

	return domain.IntentRecord{
		Kind:       kind,
		Confidence: confidence,
		Entities:   entities,
		Keywords:   matched,
		Reasoning:  "keyword-vocabulary fallback",
	}, nil
}

func (a *Analyzer) analyzeWithLLM(ctx context.Context, query string, carrier domain.ContextCarrier) (domain.IntentRecord, bool) {
	userPrompt := fmt.Sprintf("Query: %s\nLanguage: %s", query, carrier.Language)
	res, err := a.client.Call(ctx, systemPrompt, userPrompt, responseSchema, llm.Params{Temperature: 0.3})
	if err != nil {
		return domain.IntentRecord{}, false
	}
	encoded, err := json.Marshal(res.Parsed)
	if err != nil {
		return domain.IntentRecord{}, false
	}
	var decoded struct {
		Kind       string         `json:"kind"`
		Confidence float64        `json:"confidence"`
		Entities   map[string]any `json:"entities"`
		Reasoning  string         `json:"reasoning"`
	}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return domain.IntentRecord{}, false
	}
	kind := domain.IntentKind(decoded.Kind)
	switch kind {
	case domain.IntentSearch, domain.IntentCalculation, domain.IntentRecommendation,
		domain.IntentConsultation, domain.IntentUnclear, domain.IntentIrrelevant, domain.IntentError:
	default:
		return domain.IntentRecord{}, false
	}
	return domain.IntentRecord{
		Kind:       kind,
		Confidence: decoded.Confidence,
		Entities:   decoded.Entities,
		Reasoning:  decoded.Reasoning,
	}, true
}

// classifyByKeyword implements the deterministic fallback: count vocabulary
// hits per kind, confidence = matched/len(vocabulary), ties broken by
// higher confidence, all-zero => unclear.
func classifyByKeyword(query string) (domain.IntentKind, float64, []string) {
	lower := strings.ToLower(query)
	var bestKind domain.IntentKind = domain.IntentUnclear
	var bestConfidence float64
	var bestMatched []string

	for kind, words := range vocabulary {
		var matched []string
		for _, w := range words {
			if strings.Contains(lower, strings.ToLower(w)) {
				matched = append(matched, w)
			}
		}
		if len(matched) == 0 {
			continue
		}
		confidence := float64(len(matched)) / float64(len(words))
		if confidence > 1 {
			confidence = 1
		}
		if confidence > bestConfidence {
			bestKind = kind
			bestConfidence = confidence
			bestMatched = matched
		}
	}
	return bestKind, bestConfidence, bestMatched
}

var (
	locationPattern = regexp.MustCompile(`(서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충북|충남|전북|전남|경북|경남|제주|\p{Hangul}+[시구동]|\p{Hangul}+역)`)
	propertyTypes   = []string{"아파트", "빌라", "오피스텔", "단독주택", "다세대", "원룸", "투룸", "쓰리룸"}
	transactionTypes = []string{"매매", "전세", "월세", "반전세"}
	financeWords    = []string{"대출", "DTI", "LTV", "DSR", "금리"}
	legalWords      = []string{"계약", "세금", "취득세", "양도세", "등기"}
)

// extractEntities implements the original's _extract_entities: location,
// price (with 만/억 normalization), area (평/㎡), property/transaction
// type, and finance/legal relevance flags.
func extractEntities(query string) map[string]any {
	entities := map[string]any{}

	if loc := locationPattern.FindString(query); loc != "" {
		entities["location"] = loc
	}

	if won, ok := korean.ParsePriceWon(query); ok {
		entities["price_won"] = won
		entities["price_label"] = korean.FormatWon(won)
	}

	if sqm, ok := korean.ParseAreaSqm(query); ok {
		entities["area_sqm"] = sqm
	}

	for _, pt := range propertyTypes {
		if strings.Contains(query, pt) {
			entities["property_type"] = pt
			break
		}
	}
	for _, tt := range transactionTypes {
		if strings.Contains(query, tt) {
			entities["transaction_type"] = tt
			break
		}
	}

	for _, w := range financeWords {
		if strings.Contains(query, w) {
			entities["finance_related"] = true
			break
		}
	}
	for _, w := range legalWords {
		if strings.Contains(query, w) {
			entities["legal_related"] = true
			break
		}
	}

	return entities
}
