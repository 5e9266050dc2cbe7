/*
combination.go - Primary + supplementary plan stacking

PURPOSE:
  Specialised two-layer case used to price a tariff for a patient holding
  a primary plan and one supplementary plan.

ALGORITHM:
  1. coverable  = max(0, amount - primary.Deductible)
  2. primary    = coverable * primary.CoveragePercent/100
  3. post       = amount - primary
  4. supplement = post * supplementary.CoveragePercent/100, capped at MaxPayment
  5. patient    = post - supplement, never below 0

  The supplementary percentage applies to what the patient still owes after
  the primary plan, not to the original amount. That is what makes it
  stacking rather than parallel coverage.

EXACTNESS:
  Coverage amounts are rounded to the currency scale; the patient share is
  always the remainder, so primary + supplement + patient == amount exactly.

EXAMPLE:
  amount 200,000; primary {deductible 50,000, 80%}; supplementary {50%, max 30,000}
  coverable 150,000 -> primary 120,000 -> post 80,000
  supplement 40,000 capped to 30,000 -> patient 50,000

SEE ALSO:
  - tariff/combination.go: Validation, duplicate check, tariff persistence
*/
package coverage

import (
	"github.com/shopspring/decimal"
)

// PrimaryTerms are the parts of a primary plan the combination math reads.
type PrimaryTerms struct {
	Deductible      decimal.Decimal
	CoveragePercent decimal.Decimal
}

// SupplementaryTerms are the parts of a supplementary plan the math reads.
type SupplementaryTerms struct {
	CoveragePercent decimal.Decimal
	MaxPayment      *decimal.Decimal // nil = uncapped
}

// CombinationResult is the split of one service amount across two plans.
//
// INVARIANT: PrimaryCoverage + SupplementaryCoverage + FinalPatientShare == ServiceAmount
type CombinationResult struct {
	ServiceAmount         decimal.Decimal
	CoverableAmount       decimal.Decimal
	PrimaryCoverage       decimal.Decimal
	PostPrimaryRemainder  decimal.Decimal
	SupplementaryCoverage decimal.Decimal
	FinalPatientShare     decimal.Decimal

	// SupplementaryCapped is true when MaxPayment limited the supplement.
	SupplementaryCapped bool
}

// InsurerShare is the total paid by both plans.
func (r CombinationResult) InsurerShare() decimal.Decimal {
	return r.PrimaryCoverage.Add(r.SupplementaryCoverage)
}

// ResolveCombination splits serviceAmount between a primary and a
// supplementary plan, rounding coverage to scale decimal places.
func ResolveCombination(serviceAmount decimal.Decimal, primary PrimaryTerms, supplementary SupplementaryTerms, scale int32) (CombinationResult, error) {
	if err := validateCombination(serviceAmount, primary, supplementary); err != nil {
		return CombinationResult{}, err
	}

	// 1.
	coverable := decimal.Max(decimal.Zero, serviceAmount.Sub(primary.Deductible))

	// 2. Rounding may not push coverage past the amount itself
	primaryCoverage := decimal.Min(coverable.Mul(Percent(primary.CoveragePercent)).Round(scale), serviceAmount)

	// 3.
	post := serviceAmount.Sub(primaryCoverage)

	// 4. Percentage of the post-primary remainder, then the cap
	supplement := post.Mul(Percent(supplementary.CoveragePercent)).Round(scale)
	capped := false
	if supplementary.MaxPayment != nil && supplement.GreaterThan(*supplementary.MaxPayment) {
		supplement = *supplementary.MaxPayment
		capped = true
	}
	supplement = decimal.Min(supplement, post)

	// 5.
	patient := post.Sub(supplement)
	if patient.IsNegative() {
		patient = decimal.Zero
	}

	return CombinationResult{
		ServiceAmount:         serviceAmount,
		CoverableAmount:       coverable,
		PrimaryCoverage:       primaryCoverage,
		PostPrimaryRemainder:  post,
		SupplementaryCoverage: supplement,
		FinalPatientShare:     patient,
		SupplementaryCapped:   capped,
	}, nil
}

func validateCombination(amount decimal.Decimal, p PrimaryTerms, s SupplementaryTerms) error {
	if amount.IsNegative() {
		return &AmountError{Field: "service_amount", Value: amount.String(), Err: ErrInvalidAmount}
	}
	if p.Deductible.IsNegative() {
		return &AmountError{Field: "deductible", Value: p.Deductible.String(), Err: ErrInvalidAmount}
	}
	if !inPercentRange(p.CoveragePercent) {
		return &AmountError{Field: "primary_coverage_percent", Value: p.CoveragePercent.String(), Err: ErrInvalidPercentage}
	}
	if !inPercentRange(s.CoveragePercent) {
		return &AmountError{Field: "supplementary_coverage_percent", Value: s.CoveragePercent.String(), Err: ErrInvalidPercentage}
	}
	if s.MaxPayment != nil && s.MaxPayment.IsNegative() {
		return &AmountError{Field: "supplementary_max_payment", Value: s.MaxPayment.String(), Err: ErrInvalidAmount}
	}
	return nil
}

func inPercentRange(p decimal.Decimal) bool {
	return !p.IsNegative() && !p.GreaterThan(hundred)
}
