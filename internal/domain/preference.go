package domain

import (
	"slices"
	"time"
)

// BookmarkState is a user's relationship to an event.
type BookmarkState string

const (
	BookmarkNone       BookmarkState = "none"
	BookmarkInterested BookmarkState = "interested"
	BookmarkAttending  BookmarkState = "attending"
)

var AllBookmarkStates = []BookmarkState{BookmarkNone, BookmarkInterested, BookmarkAttending}

type Bookmark struct {
	UserID    string        `json:"user_id" dynamodbav:"user_id"`
	ConcertID string        `json:"concert_id" dynamodbav:"concert_id"`
	State     BookmarkState `json:"state" dynamodbav:"state"`
}

// KindPreference is the opt-in state for one notification kind.
type KindPreference struct {
	Enabled               bool            `json:"enabled" dynamodbav:"enabled"`
	AllowedBookmarkStates []BookmarkState `json:"allowed_bookmark_states" dynamodbav:"allowed_bookmark_states"`
}

// Allows reports whether state passes this preference.
func (p KindPreference) Allows(state BookmarkState) bool {
	return p.Enabled && slices.Contains(p.AllowedBookmarkStates, state)
}

// NotificationPreferences is a user's opt-in state per notification kind.
type NotificationPreferences struct {
	UserID          string         `json:"user_id" dynamodbav:"user_id"`
	LastUpdated     time.Time      `json:"last_updated" dynamodbav:"last_updated"`
	NewConcert      KindPreference `json:"new_concert" dynamodbav:"new_concert"`
	ConcertChanged  KindPreference `json:"concert_changed" dynamodbav:"concert_changed"`
	ConcertReminder KindPreference `json:"concert_reminder" dynamodbav:"concert_reminder"`
}

func receiveAll() KindPreference {
	return KindPreference{Enabled: true, AllowedBookmarkStates: slices.Clone(AllBookmarkStates)}
}

// DefaultPreferences is what a user without a stored row gets: everything.
func DefaultPreferences(userID string) NotificationPreferences {
	return NotificationPreferences{
		UserID:          userID,
		NewConcert:      receiveAll(),
		ConcertChanged:  receiveAll(),
		ConcertReminder: receiveAll(),
	}
}

// For returns the preference governing kind. Kinds without a user-facing
// switch are always allowed.
func (p NotificationPreferences) For(kind NotificationKind) KindPreference {
	switch kind {
	case KindNewConcert:
		return p.NewConcert
	case KindConcertChanged:
		return p.ConcertChanged
	case KindConcertReminder:
		return p.ConcertReminder
	default:
		return receiveAll()
	}
}
