package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/logger"
	"market-pulse/internal/retry"

	"go.opentelemetry.io/otel/trace"
)

// CycleRunner runs one pipeline pass.
type CycleRunner interface {
	RunCycle(ctx context.Context) domain.CycleReport
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// NextCycleRecorder is told when the loop will wake up.
type NextCycleRecorder interface {
	SetNextCycle(at time.Time)
}

// Options configures a CycleJob. Notifier and Status may be nil.
type Options struct {
	Interval     time.Duration
	PenaltySleep time.Duration
	Notifier     Notifier
	Status       NextCycleRecorder
	Sleep        retry.SleepFunc
	Now          func() time.Time
}

// CycleJob runs a cycle immediately and then once per interval until the
// context is cancelled.
type CycleJob struct {
	tracer trace.Tracer
	runner CycleRunner
	opts   Options
	log    *logger.Entry

	consecutiveFailures int
}

func NewCycleJob(tracer trace.Tracer, runner CycleRunner, opts Options, log *logger.Entry) *CycleJob {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.PenaltySleep <= 0 {
		opts.PenaltySleep = 5 * time.Minute
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CycleJob{tracer: tracer, runner: runner, opts: opts, log: log}
}

// Start blocks until ctx is cancelled. The wait after a cycle is the
// interval minus the time the cycle took; after a panic it is the penalty
// sleep instead.
func (j *CycleJob) Start(ctx context.Context) {
	j.log.WithField("interval", j.opts.Interval.String()).Info("Cycle job started")

	for {
		started := j.opts.Now()
		report, panicked := j.runOnce(ctx)
		j.handleResult(ctx, report)

		if ctx.Err() != nil {
			j.log.Info("Cycle job stopped")
			return
		}

		wait := j.opts.Interval - j.opts.Now().Sub(started)
		if panicked {
			wait = j.opts.PenaltySleep
		}
		if wait < 0 {
			wait = 0
		}
		if j.opts.Status != nil {
			j.opts.Status.SetNextCycle(j.opts.Now().Add(wait))
		}
		j.log.WithField("wait", wait.String()).Debug("sleeping until next cycle")

		if err := j.opts.Sleep(ctx, wait); err != nil {
			j.log.Info("Cycle job stopped")
			return
		}
	}
}

func (j *CycleJob) runOnce(ctx context.Context) (report domain.CycleReport, panicked bool) {
	ctx, span := j.tracer.Start(ctx, "cycle-job.run-once")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("cycle panicked: %v", r)
			j.log.WithError(err).WithField("stack", string(debug.Stack())).Error("Correlation cycle crashed")
			span.RecordError(err)
			report = domain.CycleReport{
				StartedAt:  j.opts.Now(),
				FinishedAt: j.opts.Now(),
				Outcome:    domain.OutcomePanicked,
				Err:        err,
			}
			panicked = true
		}
	}()

	return j.runner.RunCycle(ctx), false
}

// handleResult alerts on the first failure of a streak and on recovery.
func (j *CycleJob) handleResult(ctx context.Context, report domain.CycleReport) {
	if report.Outcome.Failed() {
		j.consecutiveFailures++
		if j.consecutiveFailures == 1 {
			j.notify(ctx, fmt.Sprintf("Market pulse cycle failed (%s): %v", report.Outcome, report.Err))
		}
		return
	}
	if report.Outcome == domain.OutcomeCompleted && j.consecutiveFailures > 0 {
		j.notify(ctx, fmt.Sprintf("Market pulse recovered after %d consecutive failure(s)", j.consecutiveFailures))
		j.consecutiveFailures = 0
	}
}

func (j *CycleJob) notify(ctx context.Context, message string) {
	if j.opts.Notifier == nil {
		return
	}
	if err := j.opts.Notifier.Notify(ctx, message); err != nil {
		j.log.WithError(err).Warn("Failed to send notification")
	}
}
