// Package calculator prices access to a subject's data from a candidate
// snapshot and the market tables. It is pure: the same inputs at the same
// instant always produce the same quote.
package calculator

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"refaccess/internal/pricing/models"
)

const (
	seniorityCapYears     = 20.0
	demandCap             = 3.0
	minAvgQueries         = 1.0
	neutralGeographyIndex = 100.0
	defaultTurnoverRate   = 20.0
	maxScore              = 100.0
)

// Policy is the calibration the calculator applies. Coefficients are business
// inputs and come from configuration.
type Policy struct {
	Base     decimal.Decimal
	Min      decimal.Decimal
	Max      decimal.Decimal
	Currency string
	ValidFor time.Duration
}

// Calculator computes bounded quotes under a fixed policy.
type Calculator struct {
	policy Policy
}

func New(policy Policy) *Calculator {
	return &Calculator{policy: policy}
}

// Policy returns the calibration in use.
func (c *Calculator) Policy() Policy {
	return c.policy
}

// Compute prices a subject. Missing or out-of-domain snapshot fields are
// defaulted and clamped per factor, so Compute never fails.
func (c *Calculator) Compute(snapshot models.CandidateSnapshot, market models.MarketContext, now time.Time) models.Quote {
	factors := map[string]float64{
		models.FactorSeniority: Seniority(snapshot.YearsExperience),
		models.FactorDemand:    Demand(snapshot.QueryCount30d, market.AvgQueries30d),
		models.FactorRarity:    Rarity(snapshot.SkillPercentile),
		models.FactorScore:     Score(snapshot.HRScore),
		models.FactorGeography: Geography(snapshot.Location, market.GeographyIndex),
		models.FactorIndustry:  Industry(snapshot.Industry, market.IndustryTurnover),
	}

	multiplier := 1.0
	for _, name := range models.FactorOrder {
		multiplier *= factors[name]
	}

	raw := c.policy.Base.Mul(decimal.NewFromFloat(multiplier))
	amount := clampDecimal(raw, c.policy.Min, c.policy.Max).Round(2)

	return models.Quote{
		SubjectID:  snapshot.SubjectID,
		Amount:     amount,
		Currency:   c.policy.Currency,
		Base:       c.policy.Base,
		Raw:        raw,
		Factors:    factors,
		ComputedAt: now,
		ValidUntil: now.Add(c.policy.ValidFor),
	}
}

// Seniority is 1 + min(years, 20)/20, in [1, 2]. Missing years count as zero.
func Seniority(years *float64) float64 {
	y := clamp(valueOr(years, 0), 0, seniorityCapYears)
	return 1 + y/seniorityCapYears
}

// Demand is 1 + log10(1 + queries/avg), capped at 3. The market average is
// floored at 1 so an empty market cannot divide by zero.
func Demand(queries *int64, avgQueries float64) float64 {
	q := 0.0
	if queries != nil && *queries > 0 {
		q = float64(*queries)
	}
	avg := avgQueries
	if !isFinite(avg) || avg < minAvgQueries {
		avg = minAvgQueries
	}
	return math.Min(1+math.Log10(1+q/avg), demandCap)
}

// Rarity is 1 + (1 - percentile), in [1, 2]. A missing percentile is the median.
func Rarity(percentile *float64) float64 {
	p := clamp(valueOr(percentile, 0.5), 0, 1)
	return 1 + (1 - p)
}

// Score is 0.5 + score/100, in [0.5, 1.5]. A missing score is neutral (50).
func Score(score *float64) float64 {
	s := clamp(valueOr(score, maxScore/2), 0, maxScore)
	return 0.5 + s/maxScore
}

// Geography is index/100 from the market table; unknown locations and
// non-positive indices use the neutral index 100.
func Geography(location string, table map[string]float64) float64 {
	idx, ok := table[location]
	if !ok || !isFinite(idx) || idx <= 0 {
		idx = neutralGeographyIndex
	}
	return idx / neutralGeographyIndex
}

// Industry is 1 + rate/100 from the turnover table; unknown industries and
// negative rates use 20%.
func Industry(industry string, table map[string]float64) float64 {
	rate, ok := table[industry]
	if !ok || !isFinite(rate) || rate < 0 {
		rate = defaultTurnoverRate
	}
	return 1 + rate/100
}

func valueOr(v *float64, def float64) float64 {
	if v == nil || !isFinite(*v) {
		return def
	}
	return *v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
