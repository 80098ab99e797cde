// Package store persists quotes keyed by subject id and provides the short
// advisory lock that keeps concurrent instances from computing the same quote.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"refaccess/internal/pricing/models"
	id "refaccess/pkg/domain"
)

const (
	quoteKeyPrefix = "pricing:quote:"
	lockKeyPrefix  = "pricing:lock:"
)

// quoteRecord is the serialized form of a quote. Amounts travel as decimal
// strings so they round-trip without float error.
type quoteRecord struct {
	SubjectID  string             `json:"subject_id"`
	Amount     decimal.Decimal    `json:"amount"`
	Currency   string             `json:"currency"`
	Base       decimal.Decimal    `json:"base"`
	Raw        decimal.Decimal    `json:"raw"`
	Factors    map[string]float64 `json:"factors"`
	ComputedAt time.Time          `json:"computed_at"`
	ValidUntil time.Time          `json:"valid_until"`
}

func encodeQuote(q *models.Quote) ([]byte, error) {
	return json.Marshal(quoteRecord{
		SubjectID:  q.SubjectID.String(),
		Amount:     q.Amount,
		Currency:   q.Currency,
		Base:       q.Base,
		Raw:        q.Raw,
		Factors:    q.Factors,
		ComputedAt: q.ComputedAt,
		ValidUntil: q.ValidUntil,
	})
}

func decodeQuote(data []byte) (*models.Quote, error) {
	var rec quoteRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	subjectID, err := id.ParseSubjectID(rec.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("decode quote subject: %w", err)
	}
	return &models.Quote{
		SubjectID:  subjectID,
		Amount:     rec.Amount,
		Currency:   rec.Currency,
		Base:       rec.Base,
		Raw:        rec.Raw,
		Factors:    rec.Factors,
		ComputedAt: rec.ComputedAt,
		ValidUntil: rec.ValidUntil,
	}, nil
}

// entryTTL is how long the storage layer keeps a quote. Freshness is still
// checked by the caller against ValidUntil; the TTL only bounds storage.
func entryTTL(q *models.Quote) time.Duration {
	ttl := q.ValidUntil.Sub(q.ComputedAt)
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}

func quoteKey(subjectID id.SubjectID) string {
	return quoteKeyPrefix + subjectID.String()
}

func lockKey(subjectID id.SubjectID) string {
	return lockKeyPrefix + subjectID.String()
}
