package supervisor

import (
	"context"
	"errors"
)

// Runner is a blocking loop that returns once ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// ConsumerService adapts the queue consumer to suture.Service.
type ConsumerService struct {
	name   string
	runner Runner
}

func NewConsumerService(name string, runner Runner) *ConsumerService {
	return &ConsumerService{name: name, runner: runner}
}

// Serve implements suture.Service. A loop that exits while the tree is still
// running is reported as a failure so the supervisor restarts it.
func (c *ConsumerService) Serve(ctx context.Context) error {
	err := c.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New(c.name + " stopped unexpectedly")
	}
	return err
}

func (c *ConsumerService) String() string { return c.name }
