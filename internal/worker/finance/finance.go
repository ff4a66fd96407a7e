// Package finance implements the loan-limit and repayment-simulation
// specialist, grounded on the original's FinanceAgent and
// finance_tools.py (calculate_loan_limit, simulate_monthly_payment).
package finance

import (
	"context"
	"math"

	"github.com/dshills/qa-orchestrator/internal/worker"
	"github.com/dshills/qa-orchestrator/internal/worker/korean"
)

// Name is the registry key this worker is installed under.
const Name = "finance"

const (
	defaultDTILimit     = 40.0 // percent
	defaultLTVLimit     = 70.0 // percent
	defaultInterestRate = 4.0  // percent, annual
	defaultLoanYears    = 30
)

// Worker answers loan-limit and repayment-schedule questions.
type Worker struct{}

// New builds a finance Worker. It has no external dependencies: every
// computation is a closed-form amortization formula.
func New() *Worker { return &Worker{} }

// Execute implements worker.Worker.
func (w *Worker) Execute(_ context.Context, in worker.Input) (worker.Output, error) {
	monthlyIncome := wonParam(in.Parameters, "monthly_income")
	existingLoans := wonParam(in.Parameters, "existing_monthly_loan_payment")
	propertyPrice := wonParam(in.Parameters, "property_price")
	if propertyPrice == 0 {
		// No property_price parameter (e.g. the planner had no price
		// entity to carry forward): fall back to the price-search step's
		// collected output, the DAG/sequential dependency this worker was
		// scheduled behind in the first place.
		if priceSearch, ok := in.CollectedData["price_search"]; ok {
			propertyPrice = wonParam(priceSearch, "average_price_won")
		}
	}

	if monthlyIncome <= 0 {
		// Without income there is nothing to compute; still succeed with a
		// guidance-only payload rather than failing the whole plan.
		return worker.Output{
			Status:     worker.StatusSuccess,
			Confidence: 0.3,
			Payload: map[string]any{
				"note": "monthly income not provided; loan limit requires it to compute DTI",
			},
		}, nil
	}

	limit := loanLimit(monthlyIncome, existingLoans, propertyPrice, defaultDTILimit, defaultLTVLimit)

	var payment map[string]any
	if limit.FinalLimit > 0 {
		payment = monthlyPayment(limit.FinalLimit, defaultInterestRate, defaultLoanYears)
	}

	confidence := 0.6
	if propertyPrice > 0 {
		confidence += 0.15
	}
	if payment != nil {
		confidence += 0.15
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return worker.Output{
		Status:     worker.StatusSuccess,
		Confidence: confidence,
		Payload: map[string]any{
			"loan_limit":      limit,
			"monthly_payment": payment,
		},
	}, nil
}

// LoanLimit is the result of a DTI/LTV-bounded loan ceiling calculation.
type LoanLimit struct {
	DTIBasedWon  int64   `json:"dti_based_won"`
	LTVBasedWon  int64   `json:"ltv_based_won,omitempty"`
	FinalLimit   int64   `json:"final_limit_won"`
	DTIRatio     float64 `json:"dti_ratio"`
	DSRRatio     float64 `json:"dsr_ratio"`
	FormattedWon string  `json:"formatted"`
}

// loanLimit reproduces calculate_loan_limit's amortized-annuity inversion:
// the maximum loan principal whose monthly payment (at a fixed assumed
// rate/term) does not exceed the DTI-available budget, capped by LTV
// against propertyPriceWon when given.
func loanLimit(monthlyIncomeWon, existingLoansWon, propertyPriceWon int64, dtiLimitPct, ltvLimitPct float64) LoanLimit {
	annualIncome := float64(monthlyIncomeWon) * 12
	maxAnnualPaymentDTI := annualIncome * (dtiLimitPct / 100)
	maxMonthlyPaymentDTI := maxAnnualPaymentDTI / 12
	availableMonthlyPayment := maxMonthlyPaymentDTI - float64(existingLoansWon)

	const monthlyRate = 0.04 / 12
	const loanMonths = defaultLoanYears * 12

	var dtiBased float64
	if availableMonthlyPayment > 0 {
		growth := math.Pow(1+monthlyRate, loanMonths)
		dtiBased = availableMonthlyPayment * (growth - 1) / (monthlyRate * growth)
	}

	var ltvBased int64
	final := int64(dtiBased)
	if propertyPriceWon > 0 {
		ltvBased = int64(float64(propertyPriceWon) * (ltvLimitPct / 100))
		final = int64(math.Min(dtiBased, float64(ltvBased)))
	}

	dsr := 0.0
	if annualIncome > 0 {
		dsr = (float64(existingLoansWon) * 12 / annualIncome) * 100
	}

	return LoanLimit{
		DTIBasedWon:  int64(dtiBased),
		LTVBasedWon:  ltvBased,
		FinalLimit:   final,
		DTIRatio:     round1(dtiLimitPct),
		DSRRatio:     round1(dsr),
		FormattedWon: korean.FormatWon(final),
	}
}

// monthlyPayment reproduces simulate_monthly_payment for the equal
// principal-and-interest (원리금균등) repayment type, the original's
// default.
func monthlyPayment(loanWon int64, annualRatePct float64, years int) map[string]any {
	monthlyRate := annualRatePct / 100 / 12
	totalMonths := years * 12

	var payment float64
	if monthlyRate > 0 {
		growth := math.Pow(1+monthlyRate, float64(totalMonths))
		payment = float64(loanWon) * (monthlyRate * growth) / (growth - 1)
	} else {
		payment = float64(loanWon) / float64(totalMonths)
	}

	totalPayment := payment * float64(totalMonths)
	totalInterest := totalPayment - float64(loanWon)

	return map[string]any{
		"monthly_won":        int64(payment),
		"monthly_formatted":  korean.FormatWon(int64(payment)) + "/월",
		"total_interest_won": int64(totalInterest),
		"total_payment_won":  int64(totalPayment),
		"period_years":       years,
		"interest_rate_pct":  annualRatePct,
		"repayment_type":     "원리금균등",
	}
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

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
