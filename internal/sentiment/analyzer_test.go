package sentiment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/retry"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/trace"
)

type stubLLMClient struct {
	responses []*openai.ChatCompletion
	errs      []error
	calls     int
	params    []openai.ChatCompletionNewParams
}

func (s *stubLLMClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	i := s.calls
	s.calls++
	s.params = append(s.params, params)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return s.responses[len(s.responses)-1], nil
}

type stubFormatter struct {
	analysis string
	btc, eth domain.AssetSnapshot
}

func (f *stubFormatter) Format(analysis string, btc, eth domain.AssetSnapshot) string {
	f.analysis, f.btc, f.eth = analysis, btc, eth
	return "formatted: " + analysis
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func completion(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func snapshots() map[string]domain.AssetSnapshot {
	return map[string]domain.AssetSnapshot{
		domain.SymbolBTC: {Symbol: "BTC", CurrentPrice: 50000, PriceChangePercentage24h: 2.34, TotalVolume: 1e10},
		domain.SymbolETH: {Symbol: "ETH", CurrentPrice: 3000, PriceChangePercentage24h: -1.12, TotalVolume: 5e9},
	}
}

func newTestAnalyzer(llm LLMClient, f MessageFormatter, sleeper *sleepRecorder) *Analyzer {
	return NewAnalyzer(trace.NewNoopTracerProvider().Tracer("test"), llm, f, Options{
		Model: "test-model",
		Sleep: sleeper.sleep,
	})
}

func TestAnalyzeHappyPath(t *testing.T) {
	llm := &stubLLMClient{responses: []*openai.ChatCompletion{completion("  ETH lags BTC today.  ")}}
	f := &stubFormatter{}
	sleeper := &sleepRecorder{}

	msg, err := newTestAnalyzer(llm, f, sleeper).Analyze(context.Background(), snapshots())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "formatted: ETH lags BTC today." {
		t.Fatalf("unexpected message %q", msg)
	}
	if f.btc.CurrentPrice != 50000 || f.eth.CurrentPrice != 3000 {
		t.Fatalf("formatter received wrong snapshots: %+v %+v", f.btc, f.eth)
	}
	if len(sleeper.waits) != 0 {
		t.Fatalf("expected no sleeps, got %v", sleeper.waits)
	}

	params := llm.params[0]
	if params.Model != "test-model" {
		t.Fatalf("unexpected model %q", params.Model)
	}
	if len(params.Messages) != 1 || params.Messages[0].OfUser == nil {
		t.Fatalf("expected a single user message, got %+v", params.Messages)
	}
	if params.MaxTokens.Value != 250 {
		t.Fatalf("expected max tokens 250, got %d", params.MaxTokens.Value)
	}
}

func TestAnalyzeRetriesThenSucceeds(t *testing.T) {
	llm := &stubLLMClient{
		errs:      []error{errors.New("rate limited"), errors.New("overloaded")},
		responses: []*openai.ChatCompletion{nil, nil, completion("ok")},
	}
	sleeper := &sleepRecorder{}

	msg, err := newTestAnalyzer(llm, &stubFormatter{}, sleeper).Analyze(context.Background(), snapshots())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "formatted: ok" || llm.calls != 3 {
		t.Fatalf("expected success on third call, got %q after %d calls", msg, llm.calls)
	}
	if len(sleeper.waits) != 2 || sleeper.waits[0] != 10*time.Second || sleeper.waits[1] != 20*time.Second {
		t.Fatalf("unexpected waits %v", sleeper.waits)
	}
}

func TestAnalyzeExhausted(t *testing.T) {
	llm := &stubLLMClient{
		errs:      []error{errors.New("down"), errors.New("down"), errors.New("down")},
		responses: []*openai.ChatCompletion{nil},
	}
	sleeper := &sleepRecorder{}

	_, err := newTestAnalyzer(llm, &stubFormatter{}, sleeper).Analyze(context.Background(), snapshots())
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if llm.calls != 3 || len(sleeper.waits) != 3 {
		t.Fatalf("expected 3 calls and 3 sleeps, got %d calls, waits %v", llm.calls, sleeper.waits)
	}
}

func TestAnalyzeEmptyChoicesIsRetried(t *testing.T) {
	llm := &stubLLMClient{responses: []*openai.ChatCompletion{{}, completion("second try")}}
	sleeper := &sleepRecorder{}

	msg, err := newTestAnalyzer(llm, &stubFormatter{}, sleeper).Analyze(context.Background(), snapshots())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "formatted: second try" || llm.calls != 2 {
		t.Fatalf("unexpected result %q after %d calls", msg, llm.calls)
	}
}

func TestAnalyzeMissingSymbol(t *testing.T) {
	llm := &stubLLMClient{responses: []*openai.ChatCompletion{completion("unused")}}
	sleeper := &sleepRecorder{}
	input := snapshots()
	delete(input, domain.SymbolETH)

	_, err := newTestAnalyzer(llm, &stubFormatter{}, sleeper).Analyze(context.Background(), input)
	if err == nil || !strings.Contains(err.Error(), "ETH") {
		t.Fatalf("expected missing ETH error, got %v", err)
	}
	if llm.calls != 0 {
		t.Fatalf("LLM must not be called without both assets, got %d calls", llm.calls)
	}
}

func TestBuildPromptIncludesBothAssets(t *testing.T) {
	s := snapshots()
	prompt := BuildPrompt(s[domain.SymbolBTC], s[domain.SymbolETH])
	for _, want := range []string{"BTC: price $50000.00, change +2.34%", "ETH: price $3000.00, change -1.12%", "volume $5000000000"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
