// Package endpoint resolves which push endpoints exist and whether they can
// still receive notifications. All caches here live for a single invocation:
// callers build them at the start of a run and drop them afterwards.
package endpoint

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/concert-notifier/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Gateway is the push gateway's endpoint listing surface.
type Gateway interface {
	ListEndpoints(ctx context.Context, nextToken string) ([]domain.EndpointStatus, string, error)
	// EndpointEnabled returns an error wrapping domain.ErrNotFound for deleted endpoints.
	EndpointEnabled(ctx context.Context, endpointArn string) (bool, error)
}

// StatusCache remembers endpoint enabled flags for one run.
type StatusCache struct {
	mu       sync.RWMutex
	statuses map[string]bool
	inflight singleflight.Group
}

func NewStatusCache() *StatusCache {
	return &StatusCache{statuses: make(map[string]bool)}
}

func (c *StatusCache) Get(endpointArn string) (enabled, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	enabled, ok = c.statuses[endpointArn]
	return enabled, ok
}

func (c *StatusCache) Set(endpointArn string, enabled bool) {
	c.mu.Lock()
	c.statuses[endpointArn] = enabled
	c.mu.Unlock()
}

func (c *StatusCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.statuses)
}

// Directory answers endpoint status questions through a StatusCache.
type Directory struct {
	gateway Gateway
	cache   *StatusCache
}

func NewDirectory(gateway Gateway, cache *StatusCache) *Directory {
	return &Directory{gateway: gateway, cache: cache}
}

// ListAll walks every endpoint of the platform application, recording each
// status in the cache. The walk ends on an empty page or an empty
// continuation token; a gateway that never empties its token keeps it going.
// A listing error is yielded once and ends the sequence.
func (d *Directory) ListAll(ctx context.Context) iter.Seq2[domain.EndpointStatus, error] {
	return func(yield func(domain.EndpointStatus, error) bool) {
		token := ""
		for {
			page, next, err := d.gateway.ListEndpoints(ctx, token)
			if err != nil {
				yield(domain.EndpointStatus{}, err)
				return
			}
			if len(page) == 0 {
				return
			}
			for _, status := range page {
				d.cache.Set(status.Arn, status.Enabled)
				if !yield(status, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			token = next
		}
	}
}

// IsEnabled reports whether endpointArn can receive pushes. A cache miss costs
// one gateway lookup, shared by concurrent callers asking for the same ARN.
// Deleted endpoints are reported as disabled.
func (d *Directory) IsEnabled(ctx context.Context, endpointArn string) (bool, error) {
	if enabled, ok := d.cache.Get(endpointArn); ok {
		return enabled, nil
	}
	v, err, _ := d.cache.inflight.Do(endpointArn, func() (any, error) {
		if enabled, ok := d.cache.Get(endpointArn); ok {
			return enabled, nil
		}
		enabled, err := d.gateway.EndpointEnabled(ctx, endpointArn)
		if errors.Is(err, domain.ErrNotFound) {
			enabled, err = false, nil
		}
		if err != nil {
			return false, err
		}
		d.cache.Set(endpointArn, enabled)
		return enabled, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
