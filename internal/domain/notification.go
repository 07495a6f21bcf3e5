package domain

import "time"

// NotificationKind tags what a notification is about.
type NotificationKind string

const (
	KindNewConcert      NotificationKind = "new_concert"
	KindConcertChanged  NotificationKind = "concert_changed"
	KindConcertReminder NotificationKind = "concert_reminder"
	KindCustom          NotificationKind = "custom"
)

// NotificationKinds lists every kind the dispatcher understands.
var NotificationKinds = []NotificationKind{KindNewConcert, KindConcertChanged, KindConcertReminder, KindCustom}

func (k NotificationKind) Valid() bool {
	for _, known := range NotificationKinds {
		if k == known {
			return true
		}
	}
	return false
}

// NotificationIntent is one logical notification placed on the queue.
// It is never persisted.
type NotificationIntent struct {
	Kind    NotificationKind `json:"kind,omitempty" validate:"required,notification_kind"`
	EventID string           `json:"event_id,omitempty" validate:"omitempty,max=128"`
	UserID  string           `json:"user_id,omitempty" validate:"omitempty,max=128"`
	Title   string           `json:"title,omitempty" validate:"omitempty,max=256"`
	Body    string           `json:"body,omitempty" validate:"omitempty,max=2048"`
}

// NotificationHistoryRecord proves that a notification of Kind was sent for EventID.
type NotificationHistoryRecord struct {
	EventID string           `json:"event_id" dynamodbav:"event_id"`
	SentAt  time.Time        `json:"sent_at" dynamodbav:"sent_at"`
	Kind    NotificationKind `json:"kind" dynamodbav:"kind"`
}

// PushMessage is the vendor-neutral content of one push notification.
// ThreadID groups notifications about the same event so newer ones replace older ones.
type PushMessage struct {
	Title    string
	Body     string
	ThreadID string
}
