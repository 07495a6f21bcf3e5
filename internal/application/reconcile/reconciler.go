// Package reconcile brings the endpoint registry and the push gateway back
// in line: disabled endpoints are removed from both.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/concert-notifier/internal/application/endpoint"
	"github.com/concert-notifier/internal/domain"
	"github.com/concert-notifier/internal/metrics"
	"github.com/concert-notifier/internal/pkg/id"
)

type Gateway interface {
	endpoint.Gateway
	DeleteEndpoint(ctx context.Context, endpointArn string) error
}

type registry interface {
	All(ctx context.Context) iter.Seq2[domain.DeviceEndpoint, error]
	Delete(ctx context.Context, userID, endpointArn string) error
}

type reportArchive interface {
	Key(t time.Time, id string) string
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

// Report summarises one reconciliation run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	GatewayListed       int    `json:"gateway_listed"`
	GatewayDeleted      int    `json:"gateway_deleted"`
	GatewayDeleteFailed int    `json:"gateway_delete_failed"`
	GatewayError        string `json:"gateway_error,omitempty"`

	RegistryScanned      int    `json:"registry_scanned"`
	RegistryDeleted      int    `json:"registry_deleted"`
	RegistryDeleteFailed int    `json:"registry_delete_failed"`
	StatusLookupFailed   int    `json:"status_lookup_failed"`
	RegistryError        string `json:"registry_error,omitempty"`

	ArchivedAt string `json:"-"`
}

type Deps struct {
	Gateway  Gateway
	Registry registry
	// Archive is optional; when set every report is stored there.
	Archive reportArchive
	Now     func() time.Time
}

type Reconciler struct {
	gateway  Gateway
	registry registry
	archive  reportArchive
	now      func() time.Time
}

func New(deps Deps) *Reconciler {
	r := &Reconciler{gateway: deps.Gateway, registry: deps.Registry, archive: deps.Archive, now: deps.Now}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Run performs the gateway pass then the registry pass, sharing one status
// cache so endpoints seen while listing are not described again. Single
// delete failures are counted and skipped; a listing or scan failure ends its
// own pass and is returned after both passes ran.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	started := r.now().UTC()
	rep := Report{RunID: id.NewAt(started), StartedAt: started}
	log := slog.With("run_id", rep.RunID)
	dir := endpoint.NewDirectory(r.gateway, endpoint.NewStatusCache())

	gwErr := r.gatewayPass(ctx, dir, &rep, log)
	if gwErr != nil {
		rep.GatewayError = gwErr.Error()
		log.Error("gateway pass stopped", "err", gwErr)
	}
	regErr := r.registryPass(ctx, dir, &rep, log)
	if regErr != nil {
		rep.RegistryError = regErr.Error()
		log.Error("registry pass stopped", "err", regErr)
	}
	rep.FinishedAt = r.now().UTC()

	log.Info("reconciliation finished",
		"gateway_listed", rep.GatewayListed,
		"gateway_deleted", rep.GatewayDeleted,
		"registry_scanned", rep.RegistryScanned,
		"registry_deleted", rep.RegistryDeleted,
	)
	if r.archive != nil {
		uri, err := r.archive.PutJSON(ctx, r.archive.Key(rep.StartedAt, rep.RunID), rep)
		if err != nil {
			log.Warn("archive reconcile report failed", "err", err)
		} else {
			rep.ArchivedAt = uri
		}
	}
	return rep, errors.Join(gwErr, regErr)
}

// gatewayPass deletes every endpoint the gateway lists as disabled. Deletes
// run after the listing so they cannot disturb its continuation token.
func (r *Reconciler) gatewayPass(ctx context.Context, dir *endpoint.Directory, rep *Report, log *slog.Logger) error {
	var disabled []string
	for status, err := range dir.ListAll(ctx) {
		if err != nil {
			return fmt.Errorf("list endpoints: %w", err)
		}
		rep.GatewayListed++
		if !status.Enabled {
			disabled = append(disabled, status.Arn)
		}
	}
	for _, arn := range disabled {
		if err := r.gateway.DeleteEndpoint(ctx, arn); err != nil {
			log.Warn("delete gateway endpoint failed", "endpoint_arn", arn, "err", err)
			rep.GatewayDeleteFailed++
			metrics.ReconcileDeletions.WithLabelValues("gateway", "failed").Inc()
			continue
		}
		rep.GatewayDeleted++
		metrics.ReconcileDeletions.WithLabelValues("gateway", "deleted").Inc()
	}
	return nil
}

// registryPass drops registry rows whose endpoint is disabled or gone.
func (r *Reconciler) registryPass(ctx context.Context, dir *endpoint.Directory, rep *Report, log *slog.Logger) error {
	for row, err := range r.registry.All(ctx) {
		if err != nil {
			return fmt.Errorf("scan registry: %w", err)
		}
		rep.RegistryScanned++
		enabled, err := dir.IsEnabled(ctx, row.EndpointArn)
		if err != nil {
			log.Warn("endpoint status lookup failed", "endpoint_arn", row.EndpointArn, "err", err)
			rep.StatusLookupFailed++
			continue
		}
		if enabled {
			continue
		}
		if err := r.registry.Delete(ctx, row.UserID, row.EndpointArn); err != nil {
			log.Warn("delete registry row failed", "user_id", row.UserID, "endpoint_arn", row.EndpointArn, "err", err)
			rep.RegistryDeleteFailed++
			metrics.ReconcileDeletions.WithLabelValues("registry", "failed").Inc()
			continue
		}
		rep.RegistryDeleted++
		metrics.ReconcileDeletions.WithLabelValues("registry", "deleted").Inc()
	}
	return nil
}
