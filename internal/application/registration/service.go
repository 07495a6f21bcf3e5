package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/concert-notifier/internal/domain"
	"github.com/concert-notifier/internal/pkg/validate"
)

type Service interface {
	// Register creates or re-enables the push endpoint for a device token and
	// records it under the user.
	Register(ctx context.Context, req domain.RegisterEndpointRequest) (*domain.DeviceEndpoint, error)
	// Unregister removes an endpoint from the gateway and the registry.
	Unregister(ctx context.Context, req domain.UnregisterEndpointRequest) error
}

type gateway interface {
	CreateEndpoint(ctx context.Context, deviceToken, userID string) (string, error)
	DeleteEndpoint(ctx context.Context, endpointArn string) error
}

type endpointStore interface {
	Put(ctx context.Context, e *domain.DeviceEndpoint) error
	Delete(ctx context.Context, userID, endpointArn string) error
	UserForEndpoint(ctx context.Context, endpointArn string) (string, error)
}

type service struct {
	gateway gateway
	repo    endpointStore
	now     func() time.Time
}

func NewService(gw gateway, repo endpointStore) Service {
	return &service{gateway: gw, repo: repo, now: time.Now}
}

func (s *service) Register(ctx context.Context, req domain.RegisterEndpointRequest) (*domain.DeviceEndpoint, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrBadRequest)
	}
	arn, err := s.gateway.CreateEndpoint(ctx, req.DeviceToken, req.UserID)
	if err != nil {
		return nil, err
	}

	// A token registered by someone else means the device changed hands.
	previous, err := s.repo.UserForEndpoint(ctx, arn)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, err
	case previous != req.UserID:
		if err := s.repo.Delete(ctx, previous, arn); err != nil {
			return nil, err
		}
		slog.Info("endpoint moved to new user", "endpoint_arn", arn, "from", previous, "to", req.UserID)
	}

	ep := &domain.DeviceEndpoint{UserID: req.UserID, EndpointArn: arn, LastChange: s.now().UTC()}
	if err := s.repo.Put(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *service) Unregister(ctx context.Context, req domain.UnregisterEndpointRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrBadRequest)
	}
	owner, err := s.repo.UserForEndpoint(ctx, req.EndpointArn)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != req.UserID {
		// Someone else's endpoint: nothing of this user's to remove.
		return nil
	}
	if err := s.gateway.DeleteEndpoint(ctx, req.EndpointArn); err != nil {
		return err
	}
	return s.repo.Delete(ctx, req.UserID, req.EndpointArn)
}
