// Package pricesearch implements the price-search specialist: real
// transaction lookups, trend analysis, and per-area price computation,
// grounded on the original's PriceSearchAgent and price_tools.py
// (search_real_estate_price, analyze_price_trend, get_market_statistics,
// calculate_price_per_area).
package pricesearch

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/dshills/qa-orchestrator/internal/worker"
	"github.com/dshills/qa-orchestrator/internal/worker/korean"
	"github.com/dshills/qa-orchestrator/internal/worker/tool"
)

// Name is the registry key this worker is installed under.
const Name = "price_search"

// Transaction is a single comparable sale/lease record.
type Transaction struct {
	Location        string  `json:"location"`
	PropertyType    string  `json:"property_type"`
	TransactionType string  `json:"transaction_type"`
	PriceWon        int64   `json:"price_won"`
	PriceLabel      string  `json:"price_label"`
	AreaSqm         float64 `json:"area_sqm"`
	Floor           int     `json:"floor"`
	TransactedOn    string  `json:"transacted_on"`
}

// Source looks up comparable transactions for a location/property/
// transaction type triple. DummySource below is the only implementation
// in this repository: the deterministic fallback New installs when given
// a nil source, mirroring the original's _generate_dummy_price_data
// behavior.
type Source interface {
	Search(ctx context.Context, location, propertyType, transactionType string, limit int) ([]Transaction, error)
}

// Worker answers price, trend, and per-area price queries.
type Worker struct {
	source Source
	rng    *rand.Rand
}

// New builds a price-search Worker. A nil source falls back to
// DummySource, the deterministic synthetic generator.
func New(source Source) *Worker {
	if source == nil {
		source = DummySource{}
	}
	return &Worker{source: source, rng: rand.New(rand.NewSource(1))}
}

// Tools exposes this worker's capabilities as callable Tools, so an
// LLMClient's tool-use loop can invoke them individually.
func (w *Worker) Tools() []tool.Tool {
	return []tool.Tool{
		tool.Func{
			NameV:        "search_real_estate_price",
			DescriptionV: "Search comparable real-estate transactions for a location.",
			Fn: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				loc, _ := input["location"].(string)
				pt, _ := input["property_type"].(string)
				tt, _ := input["transaction_type"].(string)
				txns, err := w.source.Search(ctx, loc, defaultStr(pt, "아파트"), defaultStr(tt, "매매"), 10)
				if err != nil {
					return nil, err
				}
				return map[string]any{"results": txns, "total_results": len(txns)}, nil
			},
		},
		tool.Func{
			NameV:        "calculate_price_per_area",
			DescriptionV: "Compute price per pyeong and per square meter.",
			Fn: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				totalWon, _ := input["total_price_won"].(float64)
				areaSqm, _ := input["area_sqm"].(float64)
				if areaSqm <= 0 {
					return nil, fmt.Errorf("area_sqm must be positive")
				}
				pyeong := korean.SquareMetersToPyeong(areaSqm)
				perPyeong := int64(totalWon / pyeong)
				perSqm := int64(totalWon / areaSqm)
				return map[string]any{
					"total":     korean.FormatWon(int64(totalWon)),
					"per_pyeong": korean.FormatWon(perPyeong) + "/평",
					"per_sqm":    korean.FormatWon(perSqm) + "/㎡",
				}, nil
			},
		},
	}
}

// Execute implements worker.Worker.
func (w *Worker) Execute(ctx context.Context, in worker.Input) (worker.Output, error) {
	location, _ := in.Parameters["location"].(string)
	if location == "" {
		if v, ok := in.Context["location"].(string); ok {
			location = v
		}
	}
	propertyType := defaultStr(strOr(in.Parameters["property_type"]), "아파트")
	transactionType := defaultStr(strOr(in.Parameters["transaction_type"]), "매매")

	if location == "" {
		return worker.Output{
			Status:     worker.StatusFailed,
			Confidence: 0,
			Error:      "no location could be resolved from the query",
		}, nil
	}

	select {
	case <-ctx.Done():
		return worker.Output{}, ctx.Err()
	default:
	}

	txns, err := w.source.Search(ctx, location, propertyType, transactionType, 10)
	if err != nil {
		return worker.Output{Status: worker.StatusFailed, Error: err.Error()}, nil
	}

	trend := summarizeTrend(txns)
	stats := marketStatistics(location, txns)

	confidence := 0.5
	if len(txns) > 0 {
		confidence += 0.2
	}
	if trend != nil {
		confidence += 0.15
	}
	if stats != nil {
		confidence += 0.15
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	payload := map[string]any{
		"location":         location,
		"property_type":    propertyType,
		"transaction_type": transactionType,
		"transactions":     txns,
		"trend":            trend,
		"market_statistics": stats,
	}
	// average_price_won is the raw (unformatted) won figure downstream
	// workers consume via worker.Input.CollectedData — finance's loan
	// limit and legal's acquisition tax both key off of it when the plan
	// step didn't already carry an explicit property_price parameter.
	if avg := averagePriceWon(txns); avg > 0 {
		payload["average_price_won"] = avg
	}

	return worker.Output{
		Status:     worker.StatusSuccess,
		Confidence: confidence,
		Payload:    payload,
	}, nil
}

func averagePriceWon(txns []Transaction) int64 {
	if len(txns) == 0 {
		return 0
	}
	var sum int64
	for _, t := range txns {
		sum += t.PriceWon
	}
	return sum / int64(len(txns))
}

func summarizeTrend(txns []Transaction) map[string]any {
	if len(txns) == 0 {
		return nil
	}
	sum := int64(0)
	for _, t := range txns {
		sum += t.PriceWon
	}
	avg := sum / int64(len(txns))
	sorted := append([]Transaction{}, txns...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PriceWon < sorted[j].PriceWon })
	return map[string]any{
		"average_price":      korean.FormatWon(avg),
		"min_price":          korean.FormatWon(sorted[0].PriceWon),
		"max_price":          korean.FormatWon(sorted[len(sorted)-1].PriceWon),
		"sample_size":        len(txns),
	}
}

func marketStatistics(location string, txns []Transaction) map[string]any {
	if len(txns) == 0 {
		return nil
	}
	return map[string]any{
		"location":       location,
		"listing_count":  len(txns),
		"insight":        fmt.Sprintf("%s 지역 표본 %d건 기준 통계입니다.", location, len(txns)),
	}
}

func strOr(v any) string {
	s, _ := v.(string)
	return s
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// DummySource generates deterministic synthetic comparables when no real
// transaction API is configured, mirroring _generate_dummy_price_data's
// fallback role (same shape, seeded RNG instead of process-global random
// so repeated calls within a test are reproducible).
type DummySource struct{}

func (DummySource) Search(_ context.Context, location, propertyType, transactionType string, limit int) ([]Transaction, error) {
	r := rand.New(rand.NewSource(hashSeed(location + propertyType + transactionType)))
	n := 3 + r.Intn(5)
	if n > limit {
		n = limit
	}
	out := make([]Transaction, 0, n)
	for i := 0; i < n; i++ {
		var won int64
		switch transactionType {
		case "전세":
			won = int64(3+r.Intn(13)) * korean.Eok
		case "월세":
			won = int64(5000+r.Intn(25000)) * korean.Man
		default:
			won = int64(5+r.Intn(26)) * korean.Eok
		}
		areaSqm := korean.PyeongToSquareMeters(float64(20 + r.Intn(30)))
		out = append(out, Transaction{
			Location:        location,
			PropertyType:    propertyType,
			TransactionType: transactionType,
			PriceWon:        won,
			PriceLabel:      korean.FormatWon(won),
			AreaSqm:         areaSqm,
			Floor:           1 + r.Intn(24),
			TransactedOn:    fmt.Sprintf("2026-%02d-%02d", 1+r.Intn(7), 1+r.Intn(28)),
		})
	}
	return out, nil
}

func hashSeed(s string) int64 {
	var h int64 = 1469598103934665603
	for _, c := range s {
		h ^= int64(c)
		h *= 1099511628211
	}
	if h < 0 {
		h = -h
	}
	return h
}
