// Package profile reads subject profiles and market tables from the profile
// store. The store itself is external; this package holds its Postgres and
// in-memory readers and the client the rest of the service calls through.
package profile

import (
	"context"
	"time"

	"refaccess/internal/pricing/models"
	id "refaccess/pkg/domain"
)

// Reference is one reference given for a subject.
type Reference struct {
	Author       string    `json:"author"`
	Relationship string    `json:"relationship"`
	Body         string    `json:"body"`
	GivenAt      time.Time `json:"given_at"`
}

// SubjectData is what a requester receives on disclosure. Sections outside the
// requested scope are left empty.
type SubjectData struct {
	SubjectID   id.SubjectID
	DisplayName string
	Headline    string
	Profile     map[string]any
	References  []Reference
}

// Scope selects which sections of a subject's data are disclosed.
type Scope struct {
	Profile    bool
	References bool
}

// Store is the read side of the profile store. Implementations return
// sentinel.ErrNotFound for unknown subjects and plain errors for
// infrastructure failure.
type Store interface {
	FetchSnapshot(ctx context.Context, subjectID id.SubjectID) (*models.CandidateSnapshot, error)
	FetchMarket(ctx context.Context) (*models.MarketContext, error)
	FetchSubjectData(ctx context.Context, subjectID id.SubjectID, scope Scope) (*SubjectData, error)
}

// applyScope clears the sections scope excludes.
func applyScope(data *SubjectData, scope Scope) *SubjectData {
	if !scope.Profile {
		data.Profile = nil
		data.Headline = ""
	}
	if !scope.References {
		data.References = nil
	}
	return data
}
