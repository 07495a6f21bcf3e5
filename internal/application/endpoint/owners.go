package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/concert-notifier/internal/domain"
	"golang.org/x/sync/singleflight"
)

// OwnerStore maps an endpoint back to the user who registered it.
type OwnerStore interface {
	UserForEndpoint(ctx context.Context, endpointArn string) (string, error)
}

// OwnerIndex caches endpointArn -> userID lookups for one run. Unknown
// endpoints are cached too, as the registry will not learn about them mid-run.
type OwnerIndex struct {
	store    OwnerStore
	mu       sync.RWMutex
	owners   map[string]string
	inflight singleflight.Group
}

func NewOwnerIndex(store OwnerStore) *OwnerIndex {
	return &OwnerIndex{store: store, owners: make(map[string]string)}
}

// UserFor returns the owner of endpointArn, or an error wrapping
// domain.ErrNotFound when no registry row references it.
func (o *OwnerIndex) UserFor(ctx context.Context, endpointArn string) (string, error) {
	if userID, ok := o.cached(endpointArn); ok {
		return orNotFound(endpointArn, userID)
	}
	v, err, _ := o.inflight.Do(endpointArn, func() (any, error) {
		if userID, ok := o.cached(endpointArn); ok {
			return userID, nil
		}
		userID, err := o.store.UserForEndpoint(ctx, endpointArn)
		if errors.Is(err, domain.ErrNotFound) {
			userID, err = "", nil
		}
		if err != nil {
			return "", err
		}
		o.mu.Lock()
		o.owners[endpointArn] = userID
		o.mu.Unlock()
		return userID, nil
	})
	if err != nil {
		return "", err
	}
	return orNotFound(endpointArn, v.(string))
}

func (o *OwnerIndex) cached(endpointArn string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	userID, ok := o.owners[endpointArn]
	return userID, ok
}

func orNotFound(endpointArn, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("owner of %s: %w", endpointArn, domain.ErrNotFound)
	}
	return userID, nil
}
