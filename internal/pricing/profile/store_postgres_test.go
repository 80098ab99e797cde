package profile

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "refaccess/pkg/domain"
	"refaccess/pkg/platform/sentinel"
)

type PostgresStoreSuite struct {
	suite.Suite
	mock  sqlmock.Sqlmock
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = db.Close() })
	s.mock = mock
	s.store = NewPostgres(db)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *PostgresStoreSuite) TestFetchSnapshot() {
	subjectID := id.SubjectID(uuid.New())

	s.Run("maps nullable columns to optional fields", func() {
		rows := sqlmock.NewRows([]string{"years_experience", "location", "industry", "hr_score", "skill_percentile", "query_count_30d"}).
			AddRow(10.0, "us-ny", nil, nil, 0.8, int64(20))
		s.mock.ExpectQuery(regexp.QuoteMeta("FROM subject_profiles")).
			WithArgs(subjectID.String()).
			WillReturnRows(rows)

		snapshot, err := s.store.FetchSnapshot(s.ctx, subjectID)

		s.Require().NoError(err)
		s.Equal(subjectID, snapshot.SubjectID)
		s.Require().NotNil(snapshot.YearsExperience)
		s.Equal(10.0, *snapshot.YearsExperience)
		s.Equal("us-ny", snapshot.Location)
		s.Empty(snapshot.Industry)
		s.Nil(snapshot.HRScore)
		s.Equal(0.8, *snapshot.SkillPercentile)
		s.Equal(int64(20), *snapshot.QueryCount30d)
	})

	s.Run("unknown subject is not found", func() {
		s.mock.ExpectQuery(regexp.QuoteMeta("FROM subject_profiles")).
			WithArgs(subjectID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"years_experience"}))

		_, err := s.store.FetchSnapshot(s.ctx, subjectID)

		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("driver failure is wrapped", func() {
		s.mock.ExpectQuery(regexp.QuoteMeta("FROM subject_profiles")).
			WithArgs(subjectID.String()).
			WillReturnError(errors.New("connection reset"))

		_, err := s.store.FetchSnapshot(s.ctx, subjectID)

		s.Error(err)
		s.NotErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestFetchMarket() {
	s.Run("loads stats and both tables", func() {
		s.mock.ExpectQuery(regexp.QuoteMeta("SELECT avg_queries_30d FROM market_stats")).
			WillReturnRows(sqlmock.NewRows([]string{"avg_queries_30d"}).AddRow(5.0))
		s.mock.ExpectQuery(regexp.QuoteMeta("SELECT location, idx FROM market_geography")).
			WillReturnRows(sqlmock.NewRows([]string{"location", "idx"}).AddRow("us-ny", 100.0).AddRow("de-be", 90.0))
		s.mock.ExpectQuery(regexp.QuoteMeta("SELECT industry, turnover_rate FROM market_industry")).
			WillReturnRows(sqlmock.NewRows([]string{"industry", "turnover_rate"}).AddRow("fintech", 25.0))

		market, err := s.store.FetchMarket(s.ctx)

		s.Require().NoError(err)
		s.Equal(5.0, market.AvgQueries30d)
		s.Equal(map[string]float64{"us-ny": 100, "de-be": 90}, market.GeographyIndex)
		s.Equal(map[string]float64{"fintech": 25}, market.IndustryTurnover)
	})

	s.Run("missing stats row leaves a zero average", func() {
		s.mock.ExpectQuery(regexp.QuoteMeta("SELECT avg_queries_30d FROM market_stats")).
			WillReturnRows(sqlmock.NewRows([]string{"avg_queries_30d"}))
		s.mock.ExpectQuery(regexp.QuoteMeta("FROM market_geography")).
			WillReturnRows(sqlmock.NewRows([]string{"location", "idx"}))
		s.mock.ExpectQuery(regexp.QuoteMeta("FROM market_industry")).
			WillReturnRows(sqlmock.NewRows([]string{"industry", "turnover_rate"}))

		market, err := s.store.FetchMarket(s.ctx)

		s.Require().NoError(err)
		s.Zero(market.AvgQueries30d)
		s.Empty(market.GeographyIndex)
	})

	s.Run("table failure is surfaced", func() {
		s.mock.ExpectQuery(regexp.QuoteMeta("SELECT avg_queries_30d FROM market_stats")).
			WillReturnRows(sqlmock.NewRows([]string{"avg_queries_30d"}).AddRow(5.0))
		s.mock.ExpectQuery(regexp.QuoteMeta("FROM market_geography")).
			WillReturnError(errors.New("relation does not exist"))

		_, err := s.store.FetchMarket(s.ctx)

		s.ErrorContains(err, "fetch geography index")
	})
}

func (s *PostgresStoreSuite) TestFetchSubjectData() {
	subjectID := id.SubjectID(uuid.New())
	profileJSON := []byte(`{"skills":["go","sql"]}`)
	refsJSON := []byte(`[{"author":"A. Lee","relationship":"manager","body":"Dependable","given_at":"2025-05-01T00:00:00Z"}]`)

	expect := func() {
		s.mock.ExpectQuery(regexp.QuoteMeta("SELECT display_name, headline, profile, references_data")).
			WithArgs(subjectID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"display_name", "headline", "profile", "references_data"}).
				AddRow("Dana", "Backend engineer", profileJSON, refsJSON))
	}

	s.Run("full scope returns both sections", func() {
		expect()

		data, err := s.store.FetchSubjectData(s.ctx, subjectID, Scope{Profile: true, References: true})

		s.Require().NoError(err)
		s.Equal("Dana", data.DisplayName)
		s.Equal("Backend engineer", data.Headline)
		s.Contains(data.Profile, "skills")
		s.Require().Len(data.References, 1)
		s.Equal("manager", data.References[0].Relationship)
	})

	s.Run("reference scope omits profile", func() {
		expect()

		data, err := s.store.FetchSubjectData(s.ctx, subjectID, Scope{References: true})

		s.Require().NoError(err)
		s.Nil(data.Profile)
		s.Empty(data.Headline)
		s.Len(data.References, 1)
	})

	s.Run("profile scope omits references", func() {
		expect()

		data, err := s.store.FetchSubjectData(s.ctx, subjectID, Scope{Profile: true})

		s.Require().NoError(err)
		s.NotNil(data.Profile)
		s.Nil(data.References)
	})
}
