package domain

import (
	"testing"
	"time"
)

func TestMissingSymbols(t *testing.T) {
	got := MissingSymbols(map[string]AssetSnapshot{"BTC": {Symbol: "BTC"}})
	if len(got) != 1 || got[0] != SymbolETH {
		t.Fatalf("expected [ETH], got %v", got)
	}
	if got := MissingSymbols(map[string]AssetSnapshot{"BTC": {}, "ETH": {}}); len(got) != 0 {
		t.Fatalf("expected none missing, got %v", got)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	if got := NormalizeSymbol(" eth "); got != "ETH" {
		t.Fatalf("expected ETH, got %q", got)
	}
}

func TestCycleOutcomeFailed(t *testing.T) {
	if OutcomeCompleted.Failed() || OutcomeSkippedLocked.Failed() {
		t.Fatal("completed and locked outcomes are not failures")
	}
	for _, o := range []CycleOutcome{OutcomeFetchFailed, OutcomeAnalysisFailed, OutcomePublishFailed, OutcomePanicked} {
		if !o.Failed() {
			t.Errorf("%s should be a failure", o)
		}
	}
}

func TestCycleReportDuration(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := CycleReport{StartedAt: start, FinishedAt: start.Add(3 * time.Second)}
	if r.Duration() != 3*time.Second {
		t.Fatalf("expected 3s, got %v", r.Duration())
	}
	if (CycleReport{StartedAt: start}).Duration() != 0 {
		t.Fatal("unfinished cycle should report zero duration")
	}
}
