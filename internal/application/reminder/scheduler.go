// Package reminder emits one reminder intent per upcoming concert.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/concert-notifier/internal/domain"
	"github.com/concert-notifier/internal/metrics"
)

// DefaultLeadTime is how long before the start a reminder becomes due.
const DefaultLeadTime = time.Hour

type Outcome string

const (
	NoEvent     Outcome = "no_event"
	NotDue      Outcome = "not_due"
	AlreadySent Outcome = "already_sent"
	Emitted     Outcome = "emitted"
	Failed      Outcome = "failed"
)

type eventStore interface {
	NextPublished(ctx context.Context, now time.Time) (*domain.Event, error)
}

type historyStore interface {
	ListByEventAndKind(ctx context.Context, eventID string, kind domain.NotificationKind) ([]domain.NotificationHistoryRecord, error)
	Put(ctx context.Context, rec *domain.NotificationHistoryRecord) error
}

type intentPublisher interface {
	Send(ctx context.Context, intent domain.NotificationIntent) error
}

type Deps struct {
	Events   eventStore
	History  historyStore
	Queue    intentPublisher
	LeadTime time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Scheduler struct {
	events   eventStore
	history  historyStore
	queue    intentPublisher
	leadTime time.Duration
	now      func() time.Time
}

func NewScheduler(deps Deps) *Scheduler {
	s := &Scheduler{
		events:   deps.Events,
		history:  deps.History,
		queue:    deps.Queue,
		leadTime: deps.LeadTime,
		now:      deps.Now,
	}
	if s.leadTime <= 0 {
		s.leadTime = DefaultLeadTime
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run checks the next published concert once. A due reminder is queued first
// and recorded afterwards, so a crash in between sends it twice rather than
// never.
func (s *Scheduler) Run(ctx context.Context) (Outcome, error) {
	outcome, err := s.run(ctx)
	metrics.ReminderRuns.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (s *Scheduler) run(ctx context.Context) (Outcome, error) {
	now := s.now().UTC()

	ev, err := s.events.NextPublished(ctx, now)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Debug("no upcoming event")
		return NoEvent, nil
	}
	if err != nil {
		return Failed, fmt.Errorf("find next event: %w", err)
	}
	log := slog.With("event_id", ev.EventID, "start_time", ev.StartTime)

	remindAfter := ev.StartTime.Add(-s.leadTime)
	if now.Before(remindAfter) {
		log.Debug("reminder not due yet", "remind_after", remindAfter)
		return NotDue, nil
	}

	sent, err := s.alreadySent(ctx, ev.EventID)
	if err != nil {
		return Failed, err
	}
	if sent {
		log.Debug("reminder already sent")
		return AlreadySent, nil
	}

	intent := domain.NotificationIntent{Kind: domain.KindConcertReminder, EventID: ev.EventID}
	if err := s.queue.Send(ctx, intent); err != nil {
		return Failed, fmt.Errorf("queue reminder for %s: %w", ev.EventID, err)
	}
	rec := &domain.NotificationHistoryRecord{EventID: ev.EventID, SentAt: now, Kind: domain.KindConcertReminder}
	if err := s.history.Put(ctx, rec); err != nil {
		log.Error("reminder queued but not recorded; it may be sent again", "err", err)
		return Emitted, fmt.Errorf("record reminder for %s: %w", ev.EventID, err)
	}
	log.Info("reminder queued")
	return Emitted, nil
}

func (s *Scheduler) alreadySent(ctx context.Context, eventID string) (bool, error) {
	recs, err := s.history.ListByEventAndKind(ctx, eventID, domain.KindConcertReminder)
	if err != nil {
		return false, fmt.Errorf("reminder history for %s: %w", eventID, err)
	}
	for _, rec := range recs {
		if !rec.SentAt.IsZero() {
			return true, nil
		}
	}
	return false, nil
}
