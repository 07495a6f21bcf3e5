package domain

import "time"

type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventCancelled EventStatus = "CANCELLED"
)

// Event is a concert as seen by the notification pipeline. It is maintained
// by the event management API and read-only here.
type Event struct {
	EventID   string      `json:"id" dynamodbav:"event_id"`
	Title     string      `json:"title" dynamodbav:"title"`
	Venue     string      `json:"venue" dynamodbav:"venue"`
	StartTime time.Time   `json:"start_time" dynamodbav:"start_time"`
	Status    EventStatus `json:"status" dynamodbav:"status"`
}
