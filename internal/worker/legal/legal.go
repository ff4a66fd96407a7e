// Package legal implements the acquisition-tax and contract-checklist
// specialist, grounded on the original's LegalAgent and legal_tools.py
// (calculate_acquisition_tax, generate_contract_checklist).
package legal

import (
	"context"
	"strings"

	"github.com/dshills/qa-orchestrator/internal/worker"
	"github.com/dshills/qa-orchestrator/internal/worker/korean"
)

// Name is the registry key this worker is installed under.
const Name = "legal"

// regulatedAreas lists the speculation-regulated regions whose acquisition
// tax rate steps up a bracket, mirroring the original's regulated_areas
// list.
var regulatedAreas = []string{"서울", "과천", "성남", "하남", "고양", "남양주", "화성", "세종"}

// Worker answers acquisition-tax and transaction-checklist questions.
type Worker struct{}

// New builds a legal Worker.
func New() *Worker { return &Worker{} }

// Execute implements worker.Worker.
func (w *Worker) Execute(_ context.Context, in worker.Input) (worker.Output, error) {
	priceWon := wonParam(in.Parameters, "property_price")
	priceSearch, hasPriceSearch := in.CollectedData["price_search"]
	if priceWon <= 0 && hasPriceSearch {
		// No property_price parameter: fall back to the price-search
		// step's collected output, same as finance.Execute.
		priceWon = wonParam(priceSearch, "average_price_won")
	}
	if priceWon <= 0 {
		return worker.Output{
			Status:     worker.StatusSuccess,
			Confidence: 0.3,
			Payload:    map[string]any{"note": "property price not provided; acquisition tax requires it"},
		}, nil
	}

	areaSqm := floatParam(in.Parameters, "area_sqm", 85.0)
	isFirstHome := boolParam(in.Parameters, "is_first_home", true)
	location, _ := in.Parameters["location"].(string)
	if location == "" {
		location, _ = in.Context["location"].(string)
	}
	if location == "" && hasPriceSearch {
		location, _ = priceSearch["location"].(string)
	}
	propertyType := strParam(in.Parameters, "property_type", "아파트")

	tax := acquisitionTax(priceWon, propertyType, isFirstHome, areaSqm, location)
	checklist := contractChecklist(propertyType)

	confidence := 0.7
	if location != "" {
		confidence += 0.1
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return worker.Output{
		Status:     worker.StatusSuccess,
		Confidence: confidence,
		Payload: map[string]any{
			"acquisition_tax": tax,
			"checklist":       checklist,
		},
	}, nil
}

// AcquisitionTax is the result of a 취득세 (acquisition tax) computation.
type AcquisitionTax struct {
	BaseRatePct    float64  `json:"base_rate_pct"`
	AcquisitionWon int64    `json:"acquisition_tax_won"`
	EducationWon   int64    `json:"education_tax_won"`
	RuralWon       int64    `json:"rural_tax_won"`
	TotalWon       int64    `json:"total_tax_won"`
	ReductionWon   int64    `json:"reduction_won"`
	FinalWon       int64    `json:"final_tax_won"`
	IsRegulated    bool     `json:"is_regulated_area"`
	ReductionNotes []string `json:"reduction_reasons,omitempty"`
	Formatted      string   `json:"formatted_final"`
}

// acquisitionTax reproduces calculate_acquisition_tax's bracket logic:
// base rate by price bracket and regulated-area status, a multi-home
// surcharge, plus 지방교육세 (10% of acquisition tax) and 농어촌특별세
// (20% of acquisition tax when the base rate is 2% or higher).
func acquisitionTax(priceWon int64, propertyType string, isFirstHome bool, areaSqm float64, location string) AcquisitionTax {
	isRegulated := location != ""
	if isRegulated {
		isRegulated = false
		for _, area := range regulatedAreas {
			if strings.Contains(location, area) {
				isRegulated = true
				break
			}
		}
	}

	var baseRate float64
	switch {
	case priceWon <= 600_000_000:
		baseRate = 0.01
	case priceWon <= 900_000_000:
		if isRegulated {
			baseRate = 0.03
		} else {
			baseRate = 0.02
		}
	default:
		baseRate = 0.03
	}
	if !isFirstHome && priceWon > 900_000_000 {
		baseRate = 0.08
	}

	acquisition := float64(priceWon) * baseRate
	education := acquisition * 0.1
	var rural float64
	if baseRate >= 0.02 {
		rural = acquisition * 0.2
	}
	total := acquisition + education + rural

	var reduction float64
	var reasons []string
	if isFirstHome {
		if priceWon <= 600_000_000 && areaSqm <= 60 {
			reduction = acquisition * 0.5
			reasons = append(reasons, "생애첫주택 구매 (50% 감면)")
		} else if priceWon <= 900_000_000 {
			reasons = append(reasons, "생애첫주택 구매 (감면 혜택 확인 필요)")
		}
	}

	final := int64(total - reduction)
	return AcquisitionTax{
		BaseRatePct:    baseRate * 100,
		AcquisitionWon: int64(acquisition),
		EducationWon:   int64(education),
		RuralWon:       int64(rural),
		TotalWon:       int64(total),
		ReductionWon:   int64(reduction),
		FinalWon:       final,
		IsRegulated:    isRegulated,
		ReductionNotes: reasons,
		Formatted:      korean.FormatWon(final),
	}
}

// contractChecklist returns the standard review items for propertyType,
// grounded on generate_contract_checklist.
func contractChecklist(propertyType string) []string {
	base := []string{
		"등기부등본 확인 (소유권, 근저당, 압류 여부)",
		"건축물대장 확인 (위반건축물 여부)",
		"계약 당사자 신원 확인",
		"중개대상물 확인설명서 수령",
	}
	if propertyType == "전세" || propertyType == "월세" {
		base = append(base, "확정일자 및 전입신고 일정 확인", "임대인 체납 세금 확인")
	}
	return base
}

func wonParam(params map[string]any, key string) int64 {
	switch v := params[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		if won, ok := korean.ParsePriceWon(v); ok {
			return won
		}
	}
	return 0
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}

func strParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
