// Package poll drives asynchronous vendor tasks from submission to a
// terminal state with a fixed interval and attempt budget.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cheahjs/img-router/internal/metrics"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a Task.
type Status int

const (
	StatusSubmitted Status = iota
	StatusPolling
	StatusSucceeded
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusPolling:
		return "polling"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further polls will happen.
func (s Status) Terminal() bool {
	return s >= StatusSucceeded
}

// State is what a single poll observed, already mapped from the vendor's
// own status vocabulary.
type State int

const (
	Pending State = iota
	Done
	Failed
)

// Observation is the result of one successful status call.
type Observation[T any] struct {
	State State
	// Result is set when State is Done.
	Result T
	// Detail carries vendor error detail when State is Failed.
	Detail string
	// VendorStatus is the raw vendor status, for logging.
	VendorStatus string
}

// CheckFunc performs one status call. A returned error is a transport
// failure; it is counted against the budget but does not end the task.
type CheckFunc[T any] func(ctx context.Context, taskID string) (Observation[T], error)

// Task is the in-flight handle of one asynchronous vendor job.
type Task[T any] struct {
	ID       string
	Status   Status
	Attempts int
	Result   T
	Detail   string
}

// ErrTimedOut is returned when the attempt budget runs out before the
// vendor reports a terminal status.
var ErrTimedOut = errors.New("task timed out")

// FailedError carries the vendor's failure detail.
type FailedError struct {
	TaskID string
	Detail string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Detail)
}

// Poller holds the fixed parameters of a poll loop.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
}

// New returns a Poller. The worst case wall-clock is interval*maxAttempts.
func New(interval time.Duration, maxAttempts int) Poller {
	return Poller{Interval: interval, MaxAttempts: maxAttempts}
}

// Run waits Interval before each poll and stops at the first terminal
// observation or after MaxAttempts polls. The returned task is always
// non-nil; the error is nil only when the task succeeded.
func Run[T any](ctx context.Context, p Poller, taskID string, check CheckFunc[T]) (*Task[T], error) {
	logger := zerolog.Ctx(ctx)
	task := &Task[T]{ID: taskID, Status: StatusSubmitted}

	for task.Attempts < p.MaxAttempts {
		if err := sleep(ctx, p.Interval); err != nil {
			return task, err
		}
		task.Status = StatusPolling
		task.Attempts++

		obs, err := check(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return task, ctx.Err()
			}
			metrics.PollAttemptsTotal.WithLabelValues("error").Inc()
			logger.Warn().Err(err).Str("task_id", taskID).Int("attempt", task.Attempts).Msg("Poll failed")
			continue
		}

		switch obs.State {
		case Done:
			metrics.PollAttemptsTotal.WithLabelValues("succeeded").Inc()
			task.Status = StatusSucceeded
			task.Result = obs.Result
			logger.Info().Str("task_id", taskID).Int("attempts", task.Attempts).Msg("Task succeeded")
			return task, nil
		case Failed:
			metrics.PollAttemptsTotal.WithLabelValues("failed").Inc()
			task.Status = StatusFailed
			task.Detail = obs.Detail
			return task, &FailedError{TaskID: taskID, Detail: obs.Detail}
		default:
			metrics.PollAttemptsTotal.WithLabelValues("pending").Inc()
			logger.Debug().Str("task_id", taskID).Str("status", obs.VendorStatus).Int("attempt", task.Attempts).Msg("Task pending")
		}
	}

	task.Status = StatusTimedOut
	return task, fmt.Errorf("task %s after %d attempts: %w", taskID, task.Attempts, ErrTimedOut)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
