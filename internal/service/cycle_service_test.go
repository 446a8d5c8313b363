package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/logger"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

type mockFetcher struct {
	snapshots map[string]domain.AssetSnapshot
	err       error
	calls     int
}

func (m *mockFetcher) FetchSnapshots(ctx context.Context) (map[string]domain.AssetSnapshot, error) {
	m.calls++
	return m.snapshots, m.err
}

type mockAnalyzer struct {
	message string
	err     error
	calls   int
}

func (m *mockAnalyzer) Analyze(ctx context.Context, snapshots map[string]domain.AssetSnapshot) (string, error) {
	m.calls++
	return m.message, m.err
}

type mockPublisher struct {
	published []string
	err       error
}

func (m *mockPublisher) Publish(ctx context.Context, message string) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, message)
	return nil
}

type mockLock struct {
	held       bool
	acquireErr error
	released   []string
}

func (m *mockLock) Acquire(ctx context.Context) (string, bool, error) {
	if m.acquireErr != nil {
		return "", false, m.acquireErr
	}
	if m.held {
		return "", false, nil
	}
	return "token-1", true, nil
}

func (m *mockLock) Release(ctx context.Context, token string) error {
	m.released = append(m.released, token)
	return nil
}

func testSnapshots() map[string]domain.AssetSnapshot {
	return map[string]domain.AssetSnapshot{
		domain.SymbolBTC: {Symbol: "BTC", CurrentPrice: 50000},
		domain.SymbolETH: {Symbol: "ETH", CurrentPrice: 3000},
	}
}

func newTestCycleService(f MarketFetcher, a Analyzer, p Publisher, lock CycleLock, status *StatusTracker) *CycleService {
	return NewCycleService(testTracer, f, a, p, lock, status, logger.Discard().App.WithComponent("cycle"))
}

func TestRunCycleCompletes(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{snapshots: testSnapshots()}
	analyzer := &mockAnalyzer{message: "ETH/BTC Market Pulse"}
	publisher := &mockPublisher{}
	status := NewStatusTracker(time.Now())
	svc := newTestCycleService(fetcher, analyzer, publisher, nil, status)

	report := svc.RunCycle(context.Background())

	if report.Outcome != domain.OutcomeCompleted || report.Err != nil {
		t.Fatalf("expected completed cycle, got %+v", report)
	}
	if report.ID == "" || report.FinishedAt.Before(report.StartedAt) {
		t.Fatalf("unexpected report metadata: %+v", report)
	}
	if len(publisher.published) != 1 || publisher.published[0] != "ETH/BTC Market Pulse" {
		t.Fatalf("unexpected published messages: %v", publisher.published)
	}
	if got := status.Snapshot(); got.Cycles != 1 || got.Failures != 0 {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestRunCycleAbortsEarly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		fetchErr      error
		analyzeErr    error
		publishErr    error
		want          domain.CycleOutcome
		wantAnalyzed  int
		wantPublished int
	}{
		{name: "fetch", fetchErr: errors.New("timeout"), want: domain.OutcomeFetchFailed},
		{name: "analyze", analyzeErr: errors.New("rate limited"), want: domain.OutcomeAnalysisFailed, wantAnalyzed: 1},
		{name: "publish", publishErr: errors.New("no button"), want: domain.OutcomePublishFailed, wantAnalyzed: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fetcher := &mockFetcher{snapshots: testSnapshots(), err: tt.fetchErr}
			analyzer := &mockAnalyzer{message: "msg", err: tt.analyzeErr}
			publisher := &mockPublisher{err: tt.publishErr}
			svc := newTestCycleService(fetcher, analyzer, publisher, nil, nil)

			report := svc.RunCycle(context.Background())

			if report.Outcome != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, report.Outcome)
			}
			if report.Err == nil {
				t.Fatal("expected error on report")
			}
			if analyzer.calls != tt.wantAnalyzed {
				t.Fatalf("expected %d analyze calls, got %d", tt.wantAnalyzed, analyzer.calls)
			}
			if len(publisher.published) != 0 {
				t.Fatalf("nothing should be published, got %v", publisher.published)
			}
		})
	}
}

func TestRunCycleSkipsWhenLocked(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{snapshots: testSnapshots()}
	lock := &mockLock{held: true}
	svc := newTestCycleService(fetcher, &mockAnalyzer{}, &mockPublisher{}, lock, nil)

	report := svc.RunCycle(context.Background())

	if report.Outcome != domain.OutcomeSkippedLocked {
		t.Fatalf("expected skipped cycle, got %s", report.Outcome)
	}
	if report.Outcome.Failed() {
		t.Fatal("a locked-out cycle is not a failure")
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected no fetch, got %d", fetcher.calls)
	}
}

func TestRunCycleReleasesLock(t *testing.T) {
	t.Parallel()

	lock := &mockLock{}
	svc := newTestCycleService(&mockFetcher{err: errors.New("down")}, &mockAnalyzer{}, &mockPublisher{}, lock, nil)

	svc.RunCycle(context.Background())

	if len(lock.released) != 1 || lock.released[0] != "token-1" {
		t.Fatalf("expected lock release, got %v", lock.released)
	}
}

func TestRunCycleProceedsWhenLockUnavailable(t *testing.T) {
	t.Parallel()

	lock := &mockLock{acquireErr: errors.New("redis down")}
	publisher := &mockPublisher{}
	svc := newTestCycleService(&mockFetcher{snapshots: testSnapshots()}, &mockAnalyzer{message: "m"}, publisher, lock, nil)

	report := svc.RunCycle(context.Background())

	if report.Outcome != domain.OutcomeCompleted || len(publisher.published) != 1 {
		t.Fatalf("expected cycle to run without the lock, got %+v", report)
	}
	if len(lock.released) != 0 {
		t.Fatal("nothing to release when the lock was never taken")
	}
}
