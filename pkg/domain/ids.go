// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "refaccess/pkg/domain-errors"
)

// Distinct ID types. A requester organisation, the subject whose data is
// disclosed and the generic authenticated actor are never interchangeable
// without an explicit conversion at the boundary that knows the actor's role.
type (
	RequestID uuid.UUID
	OrgID     uuid.UUID
	SubjectID uuid.UUID
	ActorID   uuid.UUID
	EventID   uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseRequestID(s string) (RequestID, error) {
	id, err := parseUUID(s, "request ID")
	return RequestID(id), err
}

func ParseOrgID(s string) (OrgID, error) {
	id, err := parseUUID(s, "requester ID")
	return OrgID(id), err
}

func ParseSubjectID(s string) (SubjectID, error) {
	id, err := parseUUID(s, "subject ID")
	return SubjectID(id), err
}

func ParseActorID(s string) (ActorID, error) {
	id, err := parseUUID(s, "actor ID")
	return ActorID(id), err
}

// New* constructors for server-assigned identifiers.

func NewRequestID() RequestID { return RequestID(uuid.New()) }
func NewEventID() EventID     { return EventID(uuid.New()) }

func (id RequestID) String() string { return uuid.UUID(id).String() }
func (id OrgID) String() string     { return uuid.UUID(id).String() }
func (id SubjectID) String() string { return uuid.UUID(id).String() }
func (id ActorID) String() string   { return uuid.UUID(id).String() }
func (id EventID) String() string   { return uuid.UUID(id).String() }

func (id RequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OrgID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// AsOrg treats the actor as a requester organisation.
func (id ActorID) AsOrg() OrgID { return OrgID(id) }

// AsSubject treats the actor as a data subject.
func (id ActorID) AsSubject() SubjectID { return SubjectID(id) }

// parseUUID is the shared validation logic. The nil UUID is rejected since no
// stored entity ever carries it.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return id, nil
}
