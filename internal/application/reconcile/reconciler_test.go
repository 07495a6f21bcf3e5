package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/concert-notifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

// fakeGateway serves endpoints two per page and counts calls per ARN.
type fakeGateway struct {
	mu         sync.Mutex
	endpoints  map[string]bool
	listCalls  int
	describes  map[string]int
	deleteErrs map[string]error
}

func newFakeGateway(endpoints map[string]bool) *fakeGateway {
	return &fakeGateway{endpoints: endpoints, describes: map[string]int{}, deleteErrs: map[string]error{}}
}

func (g *fakeGateway) ListEndpoints(_ context.Context, nextToken string) ([]domain.EndpointStatus, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	arns := make([]string, 0, len(g.endpoints))
	for arn := range g.endpoints {
		arns = append(arns, arn)
	}
	sort.Strings(arns)
	start := 0
	if nextToken != "" {
		start, _ = strconv.Atoi(nextToken)
	}
	end := min(start+2, len(arns))
	var page []domain.EndpointStatus
	for _, arn := range arns[start:end] {
		page = append(page, domain.EndpointStatus{Arn: arn, Enabled: g.endpoints[arn]})
	}
	next := ""
	if end < len(arns) {
		next = strconv.Itoa(end)
	}
	return page, next, nil
}

func (g *fakeGateway) EndpointEnabled(_ context.Context, arn string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.describes[arn]++
	enabled, ok := g.endpoints[arn]
	if !ok {
		return false, fmt.Errorf("endpoint %s: %w", arn, domain.ErrNotFound)
	}
	return enabled, nil
}

func (g *fakeGateway) DeleteEndpoint(_ context.Context, arn string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.deleteErrs[arn]; err != nil {
		return err
	}
	delete(g.endpoints, arn)
	return nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	rows    []domain.DeviceEndpoint
	scanErr error
}

func (r *fakeRegistry) All(context.Context) iter.Seq2[domain.DeviceEndpoint, error] {
	return func(yield func(domain.DeviceEndpoint, error) bool) {
		r.mu.Lock()
		rows := slices.Clone(r.rows)
		r.mu.Unlock()
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
		if r.scanErr != nil {
			yield(domain.DeviceEndpoint{}, r.scanErr)
		}
	}
}

func (r *fakeRegistry) Delete(_ context.Context, userID, arn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = slices.DeleteFunc(r.rows, func(row domain.DeviceEndpoint) bool {
		return row.UserID == userID && row.EndpointArn == arn
	})
	return nil
}

func (r *fakeRegistry) arns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, row := range r.rows {
		out = append(out, row.EndpointArn)
	}
	return out
}

type mockArchive struct{ mock.Mock }

func (m *mockArchive) Key(t time.Time, id string) string {
	return m.Called(t, id).String(0)
}
func (m *mockArchive) PutJSON(ctx context.Context, key string, v any) (string, error) {
	args := m.Called(ctx, key, v)
	return args.String(0), args.Error(1)
}

func registryOf(arns ...string) *fakeRegistry {
	r := &fakeRegistry{}
	for i, arn := range arns {
		r.rows = append(r.rows, domain.DeviceEndpoint{UserID: "u" + strconv.Itoa(i), EndpointArn: arn})
	}
	return r
}

// --- tests ---

func TestRun_Converges(t *testing.T) {
	gw := newFakeGateway(map[string]bool{"A": true, "B": false})
	reg := registryOf("A", "B", "C")

	rep, err := New(Deps{Gateway: gw, Registry: reg}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, reg.arns())
	page, _, _ := gw.ListEndpoints(context.Background(), "")
	assert.Equal(t, []domain.EndpointStatus{{Arn: "A", Enabled: true}}, page)
	assert.Equal(t, 1, rep.GatewayDeleted)
	assert.Equal(t, 2, rep.RegistryDeleted)
	assert.Equal(t, 3, rep.RegistryScanned)
	assert.NotEmpty(t, rep.RunID)
}

func TestRun_ReusesStatusFromGatewayPass(t *testing.T) {
	gw := newFakeGateway(map[string]bool{"A": true, "B": false})
	reg := registryOf("A", "B", "C")

	_, err := New(Deps{Gateway: gw, Registry: reg}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, gw.listCalls)
	assert.Zero(t, gw.describes["A"])
	assert.Zero(t, gw.describes["B"])
	assert.Equal(t, 1, gw.describes["C"])
}

func TestRun_FollowsGatewayPages(t *testing.T) {
	gw := newFakeGateway(map[string]bool{"A": true, "B": false, "C": true, "D": false, "E": false})

	rep, err := New(Deps{Gateway: gw, Registry: &fakeRegistry{}}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5, rep.GatewayListed)
	assert.Equal(t, 3, rep.GatewayDeleted)
	assert.Len(t, gw.endpoints, 2)
}

func TestRun_DeleteFailureDoesNotStopPass(t *testing.T) {
	gw := newFakeGateway(map[string]bool{"B": false, "D": false})
	gw.deleteErrs["B"] = errors.New("throttled")

	rep, err := New(Deps{Gateway: gw, Registry: &fakeRegistry{}}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, rep.GatewayDeleteFailed)
	assert.Equal(t, 1, rep.GatewayDeleted)
	assert.Contains(t, gw.endpoints, "B")
	assert.NotContains(t, gw.endpoints, "D")
}

func TestRun_ScanFailureReportedAfterPartialPass(t *testing.T) {
	gw := newFakeGateway(map[string]bool{"A": true})
	reg := registryOf("A", "Z")
	reg.scanErr = errors.New("provisioned throughput exceeded")

	rep, err := New(Deps{Gateway: gw, Registry: reg}).Run(context.Background())

	require.Error(t, err)
	assert.ErrorContains(t, err, "scan registry")
	assert.Equal(t, 1, rep.RegistryDeleted)
	assert.NotEmpty(t, rep.RegistryError)
}

func TestRun_ArchivesReport(t *testing.T) {
	gw := newFakeGateway(map[string]bool{})
	started := time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC)
	archive := &mockArchive{}
	archive.On("Key", started, mock.Anything).Return("reconcile/2026/10/15/run.json")
	archive.On("PutJSON", mock.Anything, "reconcile/2026/10/15/run.json", mock.AnythingOfType("reconcile.Report")).
		Return("s3://reports/reconcile/2026/10/15/run.json", nil)

	rep, err := New(Deps{
		Gateway:  gw,
		Registry: &fakeRegistry{},
		Archive:  archive,
		Now:      func() time.Time { return started },
	}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "s3://reports/reconcile/2026/10/15/run.json", rep.ArchivedAt)
	archive.AssertExpectations(t)
}

func TestRun_ArchiveFailureIsNotFatal(t *testing.T) {
	archive := &mockArchive{}
	archive.On("Key", mock.Anything, mock.Anything).Return("k")
	archive.On("PutJSON", mock.Anything, "k", mock.Anything).Return("", errors.New("denied"))

	rep, err := New(Deps{Gateway: newFakeGateway(map[string]bool{}), Registry: &fakeRegistry{}, Archive: archive}).
		Run(context.Background())

	require.NoError(t, err)
	assert.Empty(t, rep.ArchivedAt)
}
