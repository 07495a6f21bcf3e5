package supervisor

import (
	"context"
	"log/slog"
	"time"
)

// Job is one run of a periodic task.
type Job func(ctx context.Context) error

// JobService runs a Job at a fixed interval, starting with an immediate run.
// Job errors are logged and the next tick retries; they do not count against
// the supervisor's restart budget.
type JobService struct {
	name     string
	interval time.Duration
	job      Job
}

func NewJobService(name string, interval time.Duration, job Job) *JobService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &JobService{name: name, interval: interval, job: job}
}

// Serve implements suture.Service.
func (j *JobService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.runOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (j *JobService) runOnce(ctx context.Context) {
	start := time.Now()
	if err := j.job(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("scheduled job failed", "job", j.name, "err", err, "duration", time.Since(start))
		return
	}
	slog.Debug("scheduled job finished", "job", j.name, "duration", time.Since(start))
}

func (j *JobService) String() string { return j.name }
