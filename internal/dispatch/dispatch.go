// Package dispatch runs independent jobs on a fixed-size pool and stops the
// batch at the first failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reportsdb/internal/logging"
)

// Status is the outcome of one job.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// Job is one unit of work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result describes one finished, cancelled or skipped job.
type Result struct {
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	err        error
}

func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r Result) Err() error { return r.err }

// Summary is the outcome of a batch, in submission order.
type Summary struct {
	Results    []Result  `json:"results"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Count returns the number of jobs with status.
func (s Summary) Count(status Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Names returns the job names with status.
func (s Summary) Names(status Status) []string {
	var out []string
	for _, r := range s.Results {
		if r.Status == status {
			out = append(out, r.Name)
		}
	}
	return out
}

// BatchError names the job that stopped the batch.
type BatchError struct {
	Job       string
	Err       error
	Cancelled []string
	Skipped   []string
}

func (e *BatchError) Error() string {
	msg := fmt.Sprintf("job %s failed: %v", e.Job, e.Err)
	if len(e.Cancelled) > 0 {
		msg += fmt.Sprintf("; cancelled %s", strings.Join(e.Cancelled, ", "))
	}
	if len(e.Skipped) > 0 {
		msg += fmt.Sprintf("; skipped %d", len(e.Skipped))
	}
	return msg
}

func (e *BatchError) Unwrap() error { return e.Err }

// Observer receives one call per job that started.
type Observer interface {
	ObserveJob(job, status string, elapsed time.Duration)
}

// Dispatcher runs jobs with at most Size in flight.
type Dispatcher struct {
	size     int
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.logger = logging.OrNop(l) } }

func WithObserver(o Observer) Option { return func(d *Dispatcher) { d.observer = o } }

// New returns a dispatcher with a pool of size workers.
func New(size int, opts ...Option) *Dispatcher {
	if size < 1 {
		size = 1
	}
	d := &Dispatcher{size: size, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Size() int { return d.size }

// Run executes jobs and returns once all started jobs have returned. On the
// first failure the shared context is cancelled and unstarted jobs are
// skipped; the error is a *BatchError. Cancellation of ctx itself returns
// ctx.Err().
func (d *Dispatcher) Run(ctx context.Context, jobs []Job) (Summary, error) {
	summary := Summary{Results: make([]Result, len(jobs)), StartedAt: d.now()}
	for i, job := range jobs {
		summary.Results[i] = Result{Name: job.Name, Status: StatusSkipped}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.size)

	var (
		mu     sync.Mutex
		failed = -1
	)
	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := &summary.Results[i]
			res.StartedAt = d.now()
			d.logger.Info("job started", zap.String("job", job.Name))
			err := runJob(gctx, job)
			res.FinishedAt = d.now()
			switch {
			case err == nil:
				res.Status = StatusSucceeded
			default:
				res.err = err
				res.Error = err.Error()
				mu.Lock()
				if failed < 0 && ctx.Err() == nil {
					failed = i
					res.Status = StatusFailed
				} else {
					res.Status = StatusCancelled
				}
				mu.Unlock()
			}
			d.finish(*res)
			if res.Status == StatusSucceeded {
				return nil
			}
			return err
		})
	}
	_ = g.Wait()
	summary.FinishedAt = d.now()

	if failed >= 0 {
		first := summary.Results[failed]
		return summary, &BatchError{
			Job:       first.Name,
			Err:       first.err,
			Cancelled: summary.Names(StatusCancelled),
			Skipped:   summary.Names(StatusSkipped),
		}
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func runJob(ctx context.Context, job Job) (err error) {
	if job.Run == nil {
		return errors.New("job has no run function")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

func (d *Dispatcher) finish(res Result) {
	fields := []zap.Field{
		zap.String("job", res.Name),
		zap.String("status", string(res.Status)),
		zap.Duration("elapsed", res.Duration()),
	}
	switch res.Status {
	case StatusSucceeded:
		d.logger.Info("job finished", fields...)
	case StatusFailed:
		d.logger.Error("job failed", append(fields, zap.String("error", res.Error))...)
	default:
		d.logger.Warn("job cancelled", fields...)
	}
	if d.observer != nil {
		d.observer.ObserveJob(res.Name, string(res.Status), res.Duration())
	}
}
