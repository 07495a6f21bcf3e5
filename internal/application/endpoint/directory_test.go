package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
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

type mockOwnerStore struct{ mock.Mock }

func (m *mockOwnerStore) UserForEndpoint(ctx context.Context, endpointArn string) (string, error) {
	args := m.Called(ctx, endpointArn)
	return args.String(0), args.Error(1)
}

func collect(t *testing.T, d *Directory) []domain.EndpointStatus {
	t.Helper()
	var out []domain.EndpointStatus
	for s, err := range d.ListAll(context.Background()) {
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

// --- ListAll ---

func TestListAll_FollowsTokensUntilEmptyToken(t *testing.T) {
	gw := &mockGateway{}
	gw.On("ListEndpoints", mock.Anything, "").Return([]domain.EndpointStatus{{Arn: "a", Enabled: true}}, "t1", nil)
	gw.On("ListEndpoints", mock.Anything, "t1").Return([]domain.EndpointStatus{{Arn: "b", Enabled: false}}, "", nil)

	got := collect(t, NewDirectory(gw, NewStatusCache()))

	assert.Equal(t, []domain.EndpointStatus{{Arn: "a", Enabled: true}, {Arn: "b", Enabled: false}}, got)
	gw.AssertNumberOfCalls(t, "ListEndpoints", 2)
}

func TestListAll_StopsOnEmptyPageEvenWithToken(t *testing.T) {
	gw := &mockGateway{}
	gw.On("ListEndpoints", mock.Anything, "").Return([]domain.EndpointStatus{{Arn: "a", Enabled: true}}, "t1", nil)
	gw.On("ListEndpoints", mock.Anything, "t1").Return([]domain.EndpointStatus{}, "t2", nil)

	got := collect(t, NewDirectory(gw, NewStatusCache()))

	assert.Len(t, got, 1)
	gw.AssertNotCalled(t, "ListEndpoints", mock.Anything, "t2")
}

func TestListAll_PopulatesCache(t *testing.T) {
	gw := &mockGateway{}
	gw.On("ListEndpoints", mock.Anything, "").Return([]domain.EndpointStatus{{Arn: "a", Enabled: true}, {Arn: "b", Enabled: false}}, "", nil)
	cache := NewStatusCache()

	collect(t, NewDirectory(gw, cache))

	enabled, ok := cache.Get("b")
	assert.True(t, ok)
	assert.False(t, enabled)
	assert.Equal(t, 2, cache.Len())
}

func TestListAll_YieldsListingError(t *testing.T) {
	gw := &mockGateway{}
	gw.On("ListEndpoints", mock.Anything, "").Return(nil, "", errors.New("throttled"))

	var errs int
	for _, err := range NewDirectory(gw, NewStatusCache()).ListAll(context.Background()) {
		if err != nil {
			errs++
		}
	}
	assert.Equal(t, 1, errs)
}

func TestListAll_RestartableFromEmpty(t *testing.T) {
	gw := &mockGateway{}
	gw.On("ListEndpoints", mock.Anything, "").Return([]domain.EndpointStatus{{Arn: "a", Enabled: true}}, "", nil)
	d := NewDirectory(gw, NewStatusCache())

	assert.Len(t, collect(t, d), 1)
	assert.Len(t, collect(t, d), 1)
	gw.AssertNumberOfCalls(t, "ListEndpoints", 2)
}

// --- IsEnabled ---

func TestIsEnabled_CachesLookups(t *testing.T) {
	gw := &mockGateway{}
	gw.On("EndpointEnabled", mock.Anything, "a").Return(true, nil).Once()
	d := NewDirectory(gw, NewStatusCache())

	for range 3 {
		enabled, err := d.IsEnabled(context.Background(), "a")
		require.NoError(t, err)
		assert.True(t, enabled)
	}
	gw.AssertNumberOfCalls(t, "EndpointEnabled", 1)
}

func TestIsEnabled_NotFoundMeansDisabled(t *testing.T) {
	gw := &mockGateway{}
	gw.On("EndpointEnabled", mock.Anything, "gone").Return(false, fmt.Errorf("endpoint gone: %w", domain.ErrNotFound))
	d := NewDirectory(gw, NewStatusCache())

	enabled, err := d.IsEnabled(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestIsEnabled_TransientErrorNotCached(t *testing.T) {
	gw := &mockGateway{}
	gw.On("EndpointEnabled", mock.Anything, "a").Return(false, errors.New("throttled")).Once()
	gw.On("EndpointEnabled", mock.Anything, "a").Return(true, nil).Once()
	d := NewDirectory(gw, NewStatusCache())

	_, err := d.IsEnabled(context.Background(), "a")
	require.Error(t, err)
	enabled, err := d.IsEnabled(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestIsEnabled_UsesListingResult(t *testing.T) {
	gw := &mockGateway{}
	gw.On("ListEndpoints", mock.Anything, "").Return([]domain.EndpointStatus{{Arn: "b", Enabled: false}}, "", nil)
	d := NewDirectory(gw, NewStatusCache())
	collect(t, d)

	enabled, err := d.IsEnabled(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, enabled)
	gw.AssertNotCalled(t, "EndpointEnabled", mock.Anything, mock.Anything)
}

func TestIsEnabled_ConcurrentSameArnSingleLookup(t *testing.T) {
	gw := &mockGateway{}
	release := make(chan struct{})
	gw.On("EndpointEnabled", mock.Anything, "a").
		Run(func(mock.Arguments) { <-release }).
		Return(true, nil)
	d := NewDirectory(gw, NewStatusCache())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enabled, err := d.IsEnabled(context.Background(), "a")
			assert.NoError(t, err)
			assert.True(t, enabled)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	gw.AssertNumberOfCalls(t, "EndpointEnabled", 1)
}

// --- OwnerIndex ---

func TestOwnerIndex_CachesHitsAndMisses(t *testing.T) {
	store := &mockOwnerStore{}
	store.On("UserForEndpoint", mock.Anything, "a").Return("u1", nil).Once()
	store.On("UserForEndpoint", mock.Anything, "orphan").Return("", fmt.Errorf("x: %w", domain.ErrNotFound)).Once()
	idx := NewOwnerIndex(store)

	for range 2 {
		uid, err := idx.UserFor(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "u1", uid)

		_, err = idx.UserFor(context.Background(), "orphan")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	}
	store.AssertNumberOfCalls(t, "UserForEndpoint", 2)
}

func TestOwnerIndex_StoreErrorNotCached(t *testing.T) {
	store := &mockOwnerStore{}
	store.On("UserForEndpoint", mock.Anything, "a").Return("", errors.New("timeout")).Once()
	store.On("UserForEndpoint", mock.Anything, "a").Return("u1", nil).Once()
	idx := NewOwnerIndex(store)

	_, err := idx.UserFor(context.Background(), "a")
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotFound))

	uid, err := idx.UserFor(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
}
