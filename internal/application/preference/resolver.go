// Package preference decides whether a user wants a given notification.
package preference

import (
	"context"
	"errors"
	"fmt"

	"github.com/concert-notifier/internal/domain"
)

type preferenceStore interface {
	Get(ctx context.Context, userID string) (*domain.NotificationPreferences, error)
}

type bookmarkStore interface {
	State(ctx context.Context, userID, concertID string) (domain.BookmarkState, error)
}

// Resolver applies a user's stored preferences to their bookmark state.
type Resolver struct {
	prefs     preferenceStore
	bookmarks bookmarkStore
}

func NewResolver(prefs preferenceStore, bookmarks bookmarkStore) *Resolver {
	return &Resolver{prefs: prefs, bookmarks: bookmarks}
}

// CanReceive reports whether userID should get a notification of kind about
// concertID. Users without stored preferences receive everything; a missing
// bookmark counts as BookmarkNone.
func (r *Resolver) CanReceive(ctx context.Context, userID, concertID string, kind domain.NotificationKind) (bool, error) {
	prefs, err := r.preferences(ctx, userID)
	if err != nil {
		return false, err
	}
	rule := prefs.For(kind)
	if !rule.Enabled {
		return false, nil
	}
	state, err := r.bookmarkState(ctx, userID, concertID)
	if err != nil {
		return false, err
	}
	return rule.Allows(state), nil
}

func (r *Resolver) preferences(ctx context.Context, userID string) (domain.NotificationPreferences, error) {
	p, err := r.prefs.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultPreferences(userID), nil
	}
	if err != nil {
		return domain.NotificationPreferences{}, fmt.Errorf("preferences for %s: %w", userID, err)
	}
	return *p, nil
}

func (r *Resolver) bookmarkState(ctx context.Context, userID, concertID string) (domain.BookmarkState, error) {
	if concertID == "" {
		return domain.BookmarkNone, nil
	}
	state, err := r.bookmarks.State(ctx, userID, concertID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && state == "") {
		return domain.BookmarkNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("bookmark %s/%s: %w", userID, concertID, err)
	}
	return state, nil
}
