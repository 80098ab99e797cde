package models

import (
	"time"

	id "refaccess/pkg/domain"
)

// EventType names a domain event handed to notification dispatch.
type EventType string

const (
	EventCreated  EventType = "access_request.created"
	EventApproved EventType = "access_request.approved"
	EventRejected EventType = "access_request.rejected"
	EventExpired  EventType = "access_request.expired"
)

// Event is a fire-and-forget notification about a request.
type Event struct {
	Type         EventType
	RequestID    id.RequestID
	RequesterID  id.OrgID
	TargetUserID id.SubjectID
	Status       Status
	OccurredAt   time.Time
}

// EventFor builds the event announcing r's current status.
func EventFor(t EventType, r *Request, at time.Time) Event {
	return Event{
		Type:         t,
		RequestID:    r.ID,
		RequesterID:  r.RequesterID,
		TargetUserID: r.TargetUserID,
		Status:       r.Status,
		OccurredAt:   at,
	}
}

// StatusEvent maps a terminal status to its event type.
func StatusEvent(s Status) (EventType, bool) {
	switch s {
	case StatusApproved:
		return EventApproved, true
	case StatusRejected:
		return EventRejected, true
	case StatusExpired:
		return EventExpired, true
	}
	return "", false
}
