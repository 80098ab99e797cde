package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"refaccess/internal/pricing/models"
	id "refaccess/pkg/domain"
	"refaccess/pkg/platform/sentinel"
)

// PostgresStore reads profiles and market tables with plain SQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FetchSnapshot(ctx context.Context, subjectID id.SubjectID) (*models.CandidateSnapshot, error) {
	query := `
		SELECT years_experience, location, industry, hr_score, skill_percentile, query_count_30d
		FROM subject_profiles
		WHERE subject_id = $1
	`
	var (
		years, score, pct  sql.NullFloat64
		location, industry sql.NullString
		queries            sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, subjectID.String()).Scan(
		&years, &location, &industry, &score, &pct, &queries,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	return &models.CandidateSnapshot{
		SubjectID:       subjectID,
		YearsExperience: nullFloat(years),
		Location:        location.String,
		Industry:        industry.String,
		HRScore:         nullFloat(score),
		SkillPercentile: nullFloat(pct),
		QueryCount30d:   nullInt(queries),
	}, nil
}

// FetchMarket loads the market average and both lookup tables. A missing
// stats row yields a zero average, which the demand factor floors.
func (s *PostgresStore) FetchMarket(ctx context.Context) (*models.MarketContext, error) {
	market := &models.MarketContext{
		GeographyIndex:   make(map[string]float64),
		IndustryTurnover: make(map[string]float64),
	}

	err := s.db.QueryRowContext(ctx, `SELECT avg_queries_30d FROM market_stats WHERE id = 1`).Scan(&market.AvgQueries30d)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fetch market stats: %w", err)
	}
	if err := s.loadTable(ctx, `SELECT location, idx FROM market_geography`, market.GeographyIndex); err != nil {
		return nil, fmt.Errorf("fetch geography index: %w", err)
	}
	if err := s.loadTable(ctx, `SELECT industry, turnover_rate FROM market_industry`, market.IndustryTurnover); err != nil {
		return nil, fmt.Errorf("fetch industry turnover: %w", err)
	}
	return market, nil
}

func (s *PostgresStore) loadTable(ctx context.Context, query string, into map[string]float64) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var value float64
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		into[key] = value
	}
	return rows.Err()
}

func (s *PostgresStore) FetchSubjectData(ctx context.Context, subjectID id.SubjectID, scope Scope) (*SubjectData, error) {
	query := `
		SELECT display_name, headline, profile, references_data
		FROM subject_profiles
		WHERE subject_id = $1
	`
	data := &SubjectData{SubjectID: subjectID}
	var profileRaw, refsRaw []byte
	err := s.db.QueryRowContext(ctx, query, subjectID.String()).Scan(
		&data.DisplayName, &data.Headline, &profileRaw, &refsRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("fetch subject data: %w", err)
	}
	if scope.Profile && len(profileRaw) > 0 {
		if err := json.Unmarshal(profileRaw, &data.Profile); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
	}
	if scope.References && len(refsRaw) > 0 {
		if err := json.Unmarshal(refsRaw, &data.References); err != nil {
			return nil, fmt.Errorf("decode references: %w", err)
		}
	}
	return applyScope(data, scope), nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
