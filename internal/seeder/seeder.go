// Package seeder fills the in-memory profile store with demo subjects so a
// local server without a database can quote and disclose data.
package seeder

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"refaccess/internal/pricing/models"
	"refaccess/internal/pricing/profile"
	id "refaccess/pkg/domain"
)

// ProfileStore is the write side of the in-memory profile store.
type ProfileStore interface {
	PutSubject(snapshot models.CandidateSnapshot, data profile.SubjectData)
	SetMarket(market models.MarketContext)
}

// Seeder populates in-memory stores with demo data
type Seeder struct {
	profiles ProfileStore
	logger   *slog.Logger
	now      func() time.Time
}

func New(profiles ProfileStore, logger *slog.Logger) *Seeder {
	return &Seeder{
		profiles: profiles,
		logger:   logger,
		now:      time.Now,
	}
}

// demoNamespace derives stable subject ids, so the same ids work across
// restarts.
var demoNamespace = uuid.MustParse("5b0c4a7e-2f61-4d6a-9a3e-7f1d2c8b4e90")

// DemoSubjectID returns the id seeded for name.
func DemoSubjectID(name string) id.SubjectID {
	return id.SubjectID(uuid.NewSHA1(demoNamespace, []byte(name)))
}

type demoSubject struct {
	name       string
	headline   string
	years      *float64
	location   string
	industry   string
	hrScore    *float64
	percentile *float64
	queries    *int64
	references int
}

func f(v float64) *float64 { return &v }
func n(v int64) *int64     { return &v }

var demoSubjects = []demoSubject{
	{"alice", "Staff platform engineer", f(12), "berlin", "software", f(88), f(0.92), n(140), 3},
	{"bob", "Data analyst", f(3), "lisbon", "finance", f(71), f(0.55), n(20), 1},
	{"charlie", "Engineering manager", f(9), "london", "software", f(80), f(0.8), n(75), 2},
	// Sparse profile: every missing factor falls back to its default.
	{"diana", "Product designer", nil, "", "", nil, nil, nil, 0},
}

// SeedAll writes the market tables and the demo subjects.
func (s *Seeder) SeedAll() {
	s.logger.Info("seeding demo data...")

	s.profiles.SetMarket(models.MarketContext{
		AvgQueries30d: 60,
		GeographyIndex: map[string]float64{
			"berlin": 105,
			"lisbon": 85,
			"london": 125,
		},
		IndustryTurnover: map[string]float64{
			"software": 18,
			"finance":  12,
		},
	})

	now := s.now()
	for _, d := range demoSubjects {
		subjectID := DemoSubjectID(d.name)
		s.profiles.PutSubject(models.CandidateSnapshot{
			SubjectID:       subjectID,
			YearsExperience: d.years,
			Location:        d.location,
			Industry:        d.industry,
			HRScore:         d.hrScore,
			SkillPercentile: d.percentile,
			QueryCount30d:   d.queries,
		}, profile.SubjectData{
			DisplayName: d.name,
			Headline:    d.headline,
			Profile: map[string]any{
				"location": d.location,
				"industry": d.industry,
			},
			References: demoReferences(d.name, d.references, now),
		})
		s.logger.Info("seeded demo subject", "name", d.name, "subject_id", subjectID.String())
	}

	s.logger.Info("demo data seeded successfully", "subjects", len(demoSubjects))
}

func demoReferences(name string, count int, now time.Time) []profile.Reference {
	refs := make([]profile.Reference, 0, count)
	for i := range count {
		refs = append(refs, profile.Reference{
			Author:       fmt.Sprintf("colleague-%d", i+1),
			Relationship: "former manager",
			Body:         fmt.Sprintf("%s delivered consistently.", name),
			GivenAt:      now.AddDate(0, -(i+1)*6, 0),
		})
	}
	return refs
}
