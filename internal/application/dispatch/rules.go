package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/concert-notifier/internal/domain"
)

// expandFunc turns an intent into the users it is addressed to.
type expandFunc func(d *Dispatcher, ctx context.Context, r *run, intent domain.NotificationIntent) ([]string, error)

// templateFunc renders the default title and body for an event.
type templateFunc func(ev *domain.Event, loc *time.Location) (title, body string)

type rule struct {
	expand expandFunc
	// gated kinds are filtered through the user's preferences.
	gated    bool
	template templateFunc
}

var rules = map[domain.NotificationKind]rule{
	domain.KindNewConcert: {
		expand: broadcast,
		gated:  true,
		template: func(ev *domain.Event, loc *time.Location) (string, string) {
			return "New concert: " + ev.Title,
				fmt.Sprintf("%s at %s on %s", ev.Title, ev.Venue, ev.StartTime.In(loc).Format("Mon 2 Jan, 15:04"))
		},
	},
	domain.KindConcertChanged: {
		expand: broadcast,
		gated:  true,
		template: func(ev *domain.Event, loc *time.Location) (string, string) {
			return "Concert updated: " + ev.Title,
				fmt.Sprintf("%s now takes place at %s on %s", ev.Title, ev.Venue, ev.StartTime.In(loc).Format("Mon 2 Jan, 15:04"))
		},
	},
	domain.KindConcertReminder: {
		expand: targetedOrBroadcast,
		gated:  true,
		template: func(ev *domain.Event, loc *time.Location) (string, string) {
			return "Starting soon: " + ev.Title,
				fmt.Sprintf("%s starts at %s at %s", ev.Title, ev.StartTime.In(loc).Format("15:04"), ev.Venue)
		},
	},
	domain.KindCustom: {
		expand: targetedOrBroadcast,
		template: func(ev *domain.Event, loc *time.Location) (string, string) {
			return ev.Title, fmt.Sprintf("%s, %s", ev.Venue, ev.StartTime.In(loc).Format("Mon 2 Jan, 15:04"))
		},
	},
}

// broadcast addresses every user owning at least one enabled endpoint.
func broadcast(d *Dispatcher, ctx context.Context, r *run, _ domain.NotificationIntent) ([]string, error) {
	return d.enabledOwners(ctx, r)
}

// targetedOrBroadcast addresses the intent's user when the producer resolved
// one, everyone otherwise.
func targetedOrBroadcast(d *Dispatcher, ctx context.Context, r *run, intent domain.NotificationIntent) ([]string, error) {
	if intent.UserID != "" {
		return []string{intent.UserID}, nil
	}
	return d.enabledOwners(ctx, r)
}
