package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/concert-notifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockGateway struct{ mock.Mock }

func (m *mockGateway) ListEndpoints(ctx context.Context, nextToken string) ([]domain.EndpointStatus, string, error) {
	args := m.Called(ctx, nextToken)
	page, _ := args.Get(0).([]domain.EndpointStatus)
	return page, args.String(1), args.Error(2)
}
func (m *mockGateway) EndpointEnabled(ctx context.Context, endpointArn string) (bool, error) {
	args := m.Called(ctx, endpointArn)
	return args.Bool(0), args.Error(1)
}
func (m *mockGateway) Publish(ctx context.Context, endpointArn string, msg domain.PushMessage) error {
	return m.Called(ctx, endpointArn, msg).Error(0)
}

type mockEndpointStore struct{ mock.Mock }

func (m *mockEndpointStore) UserForEndpoint(ctx context.Context, endpointArn string) (string, error) {
	args := m.Called(ctx, endpointArn)
	return args.String(0), args.Error(1)
}
func (m *mockEndpointStore) ListByUser(ctx context.Context, userID string) ([]domain.DeviceEndpoint, error) {
	args := m.Called(ctx, userID)
	eps, _ := args.Get(0).([]domain.DeviceEndpoint)
	return eps, args.Error(1)
}

type mockEligibility struct{ mock.Mock }

func (m *mockEligibility) CanReceive(ctx context.Context, userID, concertID string, kind domain.NotificationKind) (bool, error) {
	args := m.Called(ctx, userID, concertID, kind)
	return args.Bool(0), args.Error(1)
}

type mockEventStore struct{ mock.Mock }

func (m *mockEventStore) Get(ctx context.Context, eventID string) (*domain.Event, error) {
	args := m.Called(ctx, eventID)
	if e, _ := args.Get(0).(*domain.Event); e != nil {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}

// --- helpers ---

type fixture struct {
	gw     *mockGateway
	eps    *mockEndpointStore
	prefs  *mockEligibility
	events *mockEventStore
}

func newFixture() *fixture {
	return &fixture{gw: &mockGateway{}, eps: &mockEndpointStore{}, prefs: &mockEligibility{}, events: &mockEventStore{}}
}

func (f *fixture) dispatcher() *Dispatcher {
	return New(Deps{Gateway: f.gw, Endpoints: f.eps, Preferences: f.prefs, Events: f.events})
}

func endpoints(userID string, arns ...string) []domain.DeviceEndpoint {
	out := make([]domain.DeviceEndpoint, 0, len(arns))
	for _, arn := range arns {
		out = append(out, domain.DeviceEndpoint{UserID: userID, EndpointArn: arn})
	}
	return out
}

var concert = &domain.Event{
	EventID:   "e1",
	Title:     "Night Shift",
	Venue:     "Paradiso",
	StartTime: time.Date(2026, 10, 15, 19, 30, 0, 0, time.UTC),
	Status:    domain.EventPublished,
}

// --- Dispatch ---

func TestDispatch_PartialFailureIsolation(t *testing.T) {
	f := newFixture()
	f.eps.On("ListByUser", mock.Anything, "u1").Return(endpoints("u1", "arn:1", "arn:2", "arn:3"), nil)
	f.gw.On("EndpointEnabled", mock.Anything, mock.Anything).Return(true, nil)
	f.gw.On("Publish", mock.Anything, "arn:1", mock.Anything).Return(nil)
	f.gw.On("Publish", mock.Anything, "arn:2", mock.Anything).Return(errors.New("endpoint throttled"))
	f.gw.On("Publish", mock.Anything, "arn:3", mock.Anything).Return(nil)

	res, err := f.dispatcher().Dispatch(context.Background(), domain.NotificationIntent{
		Kind: domain.KindCustom, UserID: "u1", Title: "Hello", Body: "World",
	})

	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	f.gw.AssertNumberOfCalls(t, "Publish", 3)
	f.prefs.AssertNotCalled(t, "CanReceive", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_BroadcastDedupesAndFiltersByPreference(t *testing.T) {
	f := newFixture()
	f.events.On("Get", mock.Anything, "e1").Return(concert, nil)
	f.gw.On("ListEndpoints", mock.Anything, "").Return([]domain.EndpointStatus{
		{Arn: "arn:a", Enabled: true},
		{Arn: "arn:b", Enabled: true},
		{Arn: "arn:c", Enabled: true},
		{Arn: "arn:d", Enabled: false},
		{Arn: "arn:orphan", Enabled: true},
	}, "", nil)
	f.eps.On("UserForEndpoint", mock.Anything, "arn:a").Return("u1", nil)
	f.eps.On("UserForEndpoint", mock.Anything, "arn:b").Return("u1", nil)
	f.eps.On("UserForEndpoint", mock.Anything, "arn:c").Return("u2", nil)
	f.eps.On("UserForEndpoint", mock.Anything, "arn:orphan").Return("", fmt.Errorf("x: %w", domain.ErrNotFound))
	f.prefs.On("CanReceive", mock.Anything, "u1", "e1", domain.KindNewConcert).Return(true, nil)
	f.prefs.On("CanReceive", mock.Anything, "u2", "e1", domain.KindNewConcert).Return(false, nil)
	f.eps.On("ListByUser", mock.Anything, "u1").Return(endpoints("u1", "arn:a", "arn:b"), nil)
	f.gw.On("Publish", mock.Anything, mock.Anything, mock.MatchedBy(func(msg domain.PushMessage) bool {
		return msg.Title == "New concert: Night Shift" && msg.ThreadID == "e1"
	})).Return(nil)

	res, err := f.dispatcher().Dispatch(context.Background(), domain.NotificationIntent{
		Kind: domain.KindNewConcert, EventID: "e1",
	})

	require.NoError(t, err)
	assert.Equal(t, Result{Recipients: 1, Skipped: 1, Attempted: 2, Delivered: 2}, res)
	f.prefs.AssertNumberOfCalls(t, "CanReceive", 2)
	f.eps.AssertNotCalled(t, "UserForEndpoint", mock.Anything, "arn:d")
	f.eps.AssertNotCalled(t, "ListByUser", mock.Anything, "u2")
	f.gw.AssertNotCalled(t, "EndpointEnabled", mock.Anything, mock.Anything)
}

func TestDispatch_DisabledEndpointNotPublished(t *testing.T) {
	f := newFixture()
	f.prefs.On("CanReceive", mock.Anything, "u1", "e1", domain.KindConcertReminder).Return(true, nil)
	f.eps.On("ListByUser", mock.Anything, "u1").Return(endpoints("u1", "arn:on", "arn:gone"), nil)
	f.gw.On("EndpointEnabled", mock.Anything, "arn:on").Return(true, nil)
	f.gw.On("EndpointEnabled", mock.Anything, "arn:gone").Return(false, fmt.Errorf("x: %w", domain.ErrNotFound))
	f.gw.On("Publish", mock.Anything, "arn:on", mock.Anything).Return(nil)

	res, err := f.dispatcher().Dispatch(context.Background(), domain.NotificationIntent{
		Kind: domain.KindConcertReminder, EventID: "e1", UserID: "u1", Title: "t", Body: "b",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Disabled)
	f.gw.AssertNotCalled(t, "Publish", mock.Anything, "arn:gone", mock.Anything)
}

func TestDispatch_PreferenceErrorIsolatedToUser(t *testing.T) {
	f := newFixture()
	f.events.On("Get", mock.Anything, "e1").Return(concert, nil)
	f.gw.On("ListEndpoints", mock.Anything, "").Return([]domain.EndpointStatus{
		{Arn: "arn:a", Enabled: true}, {Arn: "arn:b", Enabled: true},
	}, "", nil)
	f.eps.On("UserForEndpoint", mock.Anything, "arn:a").Return("u1", nil)
	f.eps.On("UserForEndpoint", mock.Anything, "arn:b").Return("u2", nil)
	f.prefs.On("CanReceive", mock.Anything, "u1", "e1", domain.KindConcertChanged).Return(false, errors.New("timeout"))
	f.prefs.On("CanReceive", mock.Anything, "u2", "e1", domain.KindConcertChanged).Return(true, nil)
	f.eps.On("ListByUser", mock.Anything, "u2").Return(endpoints("u2", "arn:b"), nil)
	f.gw.On("Publish", mock.Anything, "arn:b", mock.Anything).Return(nil)

	res, err := f.dispatcher().Dispatch(context.Background(), domain.NotificationIntent{
		Kind: domain.KindConcertChanged, EventID: "e1",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Skipped)
}

func TestDispatch_ListingFailureReturnsError(t *testing.T) {
	f := newFixture()
	f.events.On("Get", mock.Anything, "e1").Return(concert, nil)
	f.gw.On("ListEndpoints", mock.Anything, "").Return(nil, "", errors.New("throttled"))

	_, err := f.dispatcher().Dispatch(context.Background(), domain.NotificationIntent{
		Kind: domain.KindNewConcert, EventID: "e1",
	})

	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrMalformedIntent))
	f.gw.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_UnknownEventIsMalformed(t *testing.T) {
	f := newFixture()
	f.events.On("Get", mock.Anything, "missing").Return(nil, fmt.Errorf("event: %w", domain.ErrNotFound))

	_, err := f.dispatcher().Dispatch(context.Background(), domain.NotificationIntent{
		Kind: domain.KindConcertReminder, EventID: "missing",
	})
	assert.True(t, errors.Is(err, domain.ErrMalformedIntent))
}

func TestDispatch_ReminderTemplateUsesLocation(t *testing.T) {
	f := newFixture()
	f.events.On("Get", mock.Anything, "e1").Return(concert, nil)
	f.prefs.On("CanReceive", mock.Anything, "u1", "e1", domain.KindConcertReminder).Return(true, nil)
	f.eps.On("ListByUser", mock.Anything, "u1").Return(endpoints("u1", "arn:a"), nil)
	f.gw.On("EndpointEnabled", mock.Anything, "arn:a").Return(true, nil)
	var sent domain.PushMessage
	f.gw.On("Publish", mock.Anything, "arn:a", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(2).(domain.PushMessage) }).
		Return(nil)

	d := New(Deps{
		Gateway: f.gw, Endpoints: f.eps, Preferences: f.prefs, Events: f.events,
		Location: time.FixedZone("CEST", 2*60*60),
	})
	_, err := d.Dispatch(context.Background(), domain.NotificationIntent{
		Kind: domain.KindConcertReminder, EventID: "e1", UserID: "u1",
	})

	require.NoError(t, err)
	assert.Equal(t, "Starting soon: Night Shift", sent.Title)
	assert.Equal(t, "Night Shift starts at 21:30 at Paradiso", sent.Body)
}

// --- HandleMessage / ParseIntent ---

func TestHandleMessage_MalformedBody(t *testing.T) {
	err := newFixture().dispatcher().HandleMessage(context.Background(), "{not json", "")
	assert.True(t, errors.Is(err, domain.ErrMalformedIntent))
}

func TestParseIntent_KindResolution(t *testing.T) {
	intent, err := ParseIntent(`{"kind":"new_concert","event_id":"e1"}`, "concert_changed")
	require.NoError(t, err)
	assert.Equal(t, domain.KindConcertChanged, intent.Kind)

	intent, err = ParseIntent(`{"kind":"new_concert","event_id":"e1"}`, "")
	require.NoError(t, err)
	assert.Equal(t, domain.KindNewConcert, intent.Kind)

	intent, err = ParseIntent(`{"user_id":"u1","body":"hi"}`, "")
	require.NoError(t, err)
	assert.Equal(t, domain.KindCustom, intent.Kind)
}

func TestParseIntent_Rejects(t *testing.T) {
	cases := map[string]struct{ body, attr string }{
		"unknown kind":            {`{"event_id":"e1"}`, "birthday"},
		"broadcast without event": {`{}`, "new_concert"},
		"empty custom":            {`{"user_id":"u1"}`, ""},
		"not an object":           {`[1,2]`, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseIntent(tc.body, tc.attr)
			assert.True(t, errors.Is(err, domain.ErrMalformedIntent))
		})
	}
}
