package service

import (
	"context"
	"fmt"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MarketFetcher returns the current snapshots keyed by symbol.
type MarketFetcher interface {
	FetchSnapshots(ctx context.Context) (map[string]domain.AssetSnapshot, error)
}

// Analyzer turns snapshots into a ready-to-post message.
type Analyzer interface {
	Analyze(ctx context.Context, snapshots map[string]domain.AssetSnapshot) (string, error)
}

// Publisher posts a message.
type Publisher interface {
	Publish(ctx context.Context, message string) error
}

// CycleLock coordinates instances sharing one account.
type CycleLock interface {
	Acquire(ctx context.Context) (token string, acquired bool, err error)
	Release(ctx context.Context, token string) error
}

// CycleService runs one fetch -> analyze -> publish pass. Steps run strictly
// in order and nothing is carried between cycles.
type CycleService struct {
	tracer    trace.Tracer
	fetcher   MarketFetcher
	analyzer  Analyzer
	publisher Publisher
	lock      CycleLock
	status    *StatusTracker
	log       *logger.Entry
	now       func() time.Time
}

// NewCycleService wires the pipeline. lock and status may be nil.
func NewCycleService(
	tracer trace.Tracer,
	fetcher MarketFetcher,
	analyzer Analyzer,
	publisher Publisher,
	lock CycleLock,
	status *StatusTracker,
	log *logger.Entry,
) *CycleService {
	return &CycleService{
		tracer:    tracer,
		fetcher:   fetcher,
		analyzer:  analyzer,
		publisher: publisher,
		lock:      lock,
		status:    status,
		log:       log,
		now:       time.Now,
	}
}

// RunCycle never panics on a handled failure: every step error ends the
// cycle early with the matching outcome.
func (s *CycleService) RunCycle(ctx context.Context) domain.CycleReport {
	report := domain.CycleReport{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
	}

	ctx, span := s.tracer.Start(ctx, "cycle.run")
	defer span.End()
	span.SetAttributes(attribute.String("cycle.id", report.ID))

	log := s.log.WithField("cycle_id", report.ID)
	log.Info("Starting correlation cycle")

	report = s.run(ctx, log, report)
	report.FinishedAt = s.now()

	span.SetAttributes(attribute.String("cycle.outcome", string(report.Outcome)))
	if report.Err != nil {
		span.RecordError(report.Err)
		span.SetStatus(codes.Error, report.Err.Error())
	}

	entry := log.WithFields(logger.Fields{"outcome": report.Outcome, "duration": report.Duration().String()})
	if report.Outcome.Failed() {
		entry.WithError(report.Err).Error("Correlation cycle aborted")
	} else {
		entry.Info("Correlation cycle finished")
	}

	if s.status != nil {
		s.status.Record(report)
	}
	return report
}

func (s *CycleService) run(ctx context.Context, log *logger.Entry, report domain.CycleReport) domain.CycleReport {
	if s.lock != nil {
		token, acquired, err := s.lock.Acquire(ctx)
		switch {
		case err != nil:
			log.WithError(err).Warn("cycle lock unavailable, continuing without it")
		case !acquired:
			report.Outcome = domain.OutcomeSkippedLocked
			report.Message = "another instance holds the cycle lock"
			return report
		default:
			defer func() {
				// The cycle context may already be cancelled on shutdown.
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := s.lock.Release(releaseCtx, token); err != nil {
					log.WithError(err).Warn("failed to release cycle lock")
				}
			}()
		}
	}

	snapshots, err := s.fetcher.FetchSnapshots(ctx)
	if err != nil {
		return fail(report, domain.OutcomeFetchFailed, fmt.Errorf("fetch: %w", err))
	}

	message, err := s.analyzer.Analyze(ctx, snapshots)
	if err != nil {
		return fail(report, domain.OutcomeAnalysisFailed, fmt.Errorf("analyze: %w", err))
	}
	report.Message = message

	if err := s.publisher.Publish(ctx, message); err != nil {
		return fail(report, domain.OutcomePublishFailed, fmt.Errorf("publish: %w", err))
	}

	report.Outcome = domain.OutcomeCompleted
	return report
}

func fail(report domain.CycleReport, outcome domain.CycleOutcome, err error) domain.CycleReport {
	report.Outcome = outcome
	report.Err = err
	return report
}
