// Package dispatch fans notification intents out to device endpoints.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/concert-notifier/internal/application/endpoint"
	"github.com/concert-notifier/internal/domain"
	"github.com/concert-notifier/internal/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ownerLookups bounds concurrent registry queries during broadcast expansion.
const ownerLookups = 16

// Gateway is the push gateway as seen by the dispatcher.
type Gateway interface {
	endpoint.Gateway
	Publish(ctx context.Context, endpointArn string, msg domain.PushMessage) error
}

type endpointStore interface {
	endpoint.OwnerStore
	ListByUser(ctx context.Context, userID string) ([]domain.DeviceEndpoint, error)
}

type eligibility interface {
	CanReceive(ctx context.Context, userID, concertID string, kind domain.NotificationKind) (bool, error)
}

type eventStore interface {
	Get(ctx context.Context, eventID string) (*domain.Event, error)
}

type Deps struct {
	Gateway     Gateway
	Endpoints   endpointStore
	Preferences eligibility
	Events      eventStore
	// Limiter throttles publish calls across all goroutines. Nil disables throttling.
	Limiter *rate.Limiter
	// Location renders event times in templates. Defaults to UTC.
	Location *time.Location
}

// Result counts what happened to one intent. Skipped users were filtered
// out by preferences; Disabled endpoints were never published to. Every
// other endpoint counts as Attempted and ends up Delivered or Failed.
type Result struct {
	Recipients int
	Skipped    int
	Attempted  int
	Delivered  int
	Failed     int
	Disabled   int
}

type tally struct {
	recipients, skipped, attempted, delivered, failed, disabled atomic.Int64
}

func (t *tally) result() Result {
	return Result{
		Recipients: int(t.recipients.Load()),
		Skipped:    int(t.skipped.Load()),
		Attempted:  int(t.attempted.Load()),
		Delivered:  int(t.delivered.Load()),
		Failed:     int(t.failed.Load()),
		Disabled:   int(t.disabled.Load()),
	}
}

// run holds the caches of a single dispatch.
type run struct {
	dir    *endpoint.Directory
	owners *endpoint.OwnerIndex
}

type Dispatcher struct {
	gateway   Gateway
	endpoints endpointStore
	prefs     eligibility
	events    eventStore
	limiter   *rate.Limiter
	loc       *time.Location
}

func New(deps Deps) *Dispatcher {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		gateway:   deps.Gateway,
		endpoints: deps.Endpoints,
		prefs:     deps.Preferences,
		events:    deps.Events,
		limiter:   deps.Limiter,
		loc:       loc,
	}
}

// HandleMessage parses one queue message and dispatches it. Malformed
// messages return an error wrapping domain.ErrMalformedIntent.
func (d *Dispatcher) HandleMessage(ctx context.Context, body, kindAttr string) error {
	intent, err := ParseIntent(body, kindAttr)
	if err != nil {
		return err
	}
	_, err = d.Dispatch(ctx, intent)
	return err
}

// Dispatch delivers intent to every eligible endpoint. Failures on single
// users or endpoints are logged and counted in the Result; an error is
// returned only when the intent cannot be expanded at all.
func (d *Dispatcher) Dispatch(ctx context.Context, intent domain.NotificationIntent) (Result, error) {
	start := time.Now()
	rl, ok := rules[intent.Kind]
	if !ok {
		return Result{}, fmt.Errorf("unknown kind %q: %w", intent.Kind, domain.ErrMalformedIntent)
	}
	log := slog.With("kind", intent.Kind, "event_id", intent.EventID)

	msg, err := d.compose(ctx, rl, intent)
	if err != nil {
		return Result{}, err
	}

	r := &run{
		dir:    endpoint.NewDirectory(d.gateway, endpoint.NewStatusCache()),
		owners: endpoint.NewOwnerIndex(d.endpoints),
	}
	users, err := rl.expand(d, ctx, r, intent)
	if err != nil {
		return Result{}, fmt.Errorf("expand recipients: %w", err)
	}

	var t tally
	var wg sync.WaitGroup
	for _, userID := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			d.deliverToUser(ctx, r, rl, intent, userID, msg, &t, log)
		}(userID)
	}
	wg.Wait()

	res := t.result()
	metrics.DispatchDuration.WithLabelValues(string(intent.Kind)).Observe(time.Since(start).Seconds())
	log.Info("notification dispatched",
		"users", len(users),
		"recipients", res.Recipients,
		"skipped", res.Skipped,
		"attempted", res.Attempted,
		"delivered", res.Delivered,
		"failed", res.Failed,
		"disabled", res.Disabled,
	)
	return res, nil
}

// compose fills in title and body from the event when the intent leaves them empty.
func (d *Dispatcher) compose(ctx context.Context, rl rule, intent domain.NotificationIntent) (domain.PushMessage, error) {
	msg := domain.PushMessage{Title: intent.Title, Body: intent.Body, ThreadID: intent.EventID}
	if (msg.Title != "" && msg.Body != "") || intent.EventID == "" {
		return msg, nil
	}
	ev, err := d.events.Get(ctx, intent.EventID)
	if errors.Is(err, domain.ErrNotFound) {
		return msg, fmt.Errorf("event %s: %v: %w", intent.EventID, err, domain.ErrMalformedIntent)
	}
	if err != nil {
		return msg, fmt.Errorf("load event %s: %w", intent.EventID, err)
	}
	title, body := rl.template(ev, d.loc)
	if msg.Title == "" {
		msg.Title = title
	}
	if msg.Body == "" {
		msg.Body = body
	}
	return msg, nil
}

// enabledOwners lists every enabled endpoint and maps it to its owner. Orphan
// endpoints and failed lookups are skipped. The returned users are unique and sorted.
func (d *Dispatcher) enabledOwners(ctx context.Context, r *run) ([]string, error) {
	var (
		mu    sync.Mutex
		users = make(map[string]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ownerLookups)
	for status, err := range r.dir.ListAll(ctx) {
		if err != nil {
			_ = g.Wait()
			return nil, err
		}
		if !status.Enabled {
			continue
		}
		arn := status.Arn
		g.Go(func() error {
			userID, err := r.owners.UserFor(gctx, arn)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				slog.Warn("owner lookup failed", "endpoint_arn", arn, "err", err)
				return nil
			}
			mu.Lock()
			users[userID] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	slices.Sort(out)
	return out, nil
}

func (d *Dispatcher) deliverToUser(ctx context.Context, r *run, rl rule, intent domain.NotificationIntent, userID string, msg domain.PushMessage, t *tally, log *slog.Logger) {
	kind := string(intent.Kind)
	if rl.gated {
		ok, err := d.prefs.CanReceive(ctx, userID, intent.EventID, intent.Kind)
		if err != nil {
			log.Error("preference check failed", "user_id", userID, "err", err)
			t.skipped.Add(1)
			return
		}
		metrics.Recipients.WithLabelValues(kind, strconv.FormatBool(ok)).Inc()
		if !ok {
			t.skipped.Add(1)
			return
		}
	} else {
		metrics.Recipients.WithLabelValues(kind, "true").Inc()
	}
	t.recipients.Add(1)

	endpoints, err := d.endpoints.ListByUser(ctx, userID)
	if err != nil {
		log.Error("list user endpoints failed", "user_id", userID, "err", err)
		return
	}

	var wg sync.WaitGroup
	for _, ep := range endpoints {
		wg.Add(1)
		go func(arn string) {
			defer wg.Done()
			d.deliverToEndpoint(ctx, r, kind, arn, msg, t, log.With("user_id", userID, "endpoint_arn", arn))
		}(ep.EndpointArn)
	}
	wg.Wait()
}

func (d *Dispatcher) deliverToEndpoint(ctx context.Context, r *run, kind, arn string, msg domain.PushMessage, t *tally, log *slog.Logger) {
	enabled, err := r.dir.IsEnabled(ctx, arn)
	if err != nil {
		log.Error("endpoint status lookup failed", "err", err)
		t.attempted.Add(1)
		t.failed.Add(1)
		metrics.Deliveries.WithLabelValues(kind, "failed").Inc()
		return
	}
	if !enabled {
		t.disabled.Add(1)
		metrics.Deliveries.WithLabelValues(kind, "disabled").Inc()
		return
	}

	t.attempted.Add(1)
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			log.Error("publish throttle aborted", "err", err)
			t.failed.Add(1)
			metrics.Deliveries.WithLabelValues(kind, "failed").Inc()
			return
		}
	}
	if err := d.gateway.Publish(ctx, arn, msg); err != nil {
		log.Error("publish failed", "err", err)
		t.failed.Add(1)
		metrics.Deliveries.WithLabelValues(kind, "failed").Inc()
		return
	}
	t.delivered.Add(1)
	metrics.Deliveries.WithLabelValues(kind, "delivered").Inc()
}
