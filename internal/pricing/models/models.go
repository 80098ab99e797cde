package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "refaccess/pkg/domain"
)

// CandidateSnapshot is the read-only pricing input for one subject. Pointer
// fields are nil when the profile store has no value; the calculator defaults
// each one independently.
type CandidateSnapshot struct {
	SubjectID       id.SubjectID
	YearsExperience *float64
	Location        string
	Industry        string
	HRScore         *float64 // 0-100
	SkillPercentile *float64 // 0.0-1.0
	QueryCount30d   *int64
}

// MarketContext holds the market-wide lookup tables used by the geography,
// industry and demand factors.
type MarketContext struct {
	AvgQueries30d    float64
	GeographyIndex   map[string]float64 // location -> index, 100 is neutral
	IndustryTurnover map[string]float64 // industry -> annual turnover percent
}

// Factor names as recorded in a quote breakdown.
const (
	FactorSeniority = "seniority"
	FactorDemand    = "demand"
	FactorRarity    = "rarity"
	FactorScore     = "score"
	FactorGeography = "geography"
	FactorIndustry  = "industry"
)

// FactorOrder is the order factors are applied and reported in.
var FactorOrder = []string{
	FactorSeniority,
	FactorDemand,
	FactorRarity,
	FactorScore,
	FactorGeography,
	FactorIndustry,
}

// Quote is a priced, time-bounded result for one subject. A quote is never
// mutated; a recomputation produces a new one that replaces it in the cache.
type Quote struct {
	SubjectID  id.SubjectID
	Amount     decimal.Decimal
	Currency   string
	Base       decimal.Decimal
	Raw        decimal.Decimal
	Factors    map[string]float64
	ComputedAt time.Time
	ValidUntil time.Time
}

// IsFresh reports whether the quote may still be served at now. The boundary
// instant itself is still fresh.
func (q *Quote) IsFresh(now time.Time) bool {
	return q != nil && !now.After(q.ValidUntil)
}

// Clamped reports whether the bounds changed the raw price.
func (q *Quote) Clamped() bool {
	return !q.Raw.Round(2).Equal(q.Amount)
}
