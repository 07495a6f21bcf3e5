package sns

import (
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/concert-notifier/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

// PublishBreaker guards Publish against a failing push platform.
type PublishBreaker = gobreaker.CircuitBreaker[*sns.PublishOutput]

// ErrBreakerOpen is returned by Publish while the breaker rejects calls.
var ErrBreakerOpen = errors.New("push platform circuit open")

// NewPublishBreaker opens after a 60% failure rate over at least 10 publishes
// and probes again once timeout has elapsed. Errors tied to a single endpoint
// (disabled, bad parameters) count as successes: they say nothing about the
// platform's health.
func NewPublishBreaker(timeout time.Duration) *PublishBreaker {
	metrics.PublishBreakerState.Set(0)
	return gobreaker.NewCircuitBreaker[*sns.PublishOutput](gobreaker.Settings{
		Name:        "sns-publish",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isEndpointScoped(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("publish breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.PublishBreakerState.Set(stateValue(to))
			metrics.PublishBreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
		},
	})
}

func isEndpointScoped(err error) bool {
	var disabled *types.EndpointDisabledException
	var invalid *types.InvalidParameterException
	var notFound *types.NotFoundException
	return errors.As(err, &disabled) || errors.As(err, &invalid) || errors.As(err, &notFound)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
