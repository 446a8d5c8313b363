package publisher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"market-pulse/internal/browser"
	"market-pulse/internal/logger"

	"go.opentelemetry.io/otel/trace"
)

// fakeDriver simulates a page. Locators listed in present/clickable satisfy
// the matching waits; everything else times out.
type fakeDriver struct {
	mu sync.Mutex

	present   map[browser.Locator]bool
	clickable map[browser.Locator]bool
	url       string

	startErrs []error
	startN    int

	navigations []string
	reloads     int
	clicks      []browser.Locator
	typed       map[browser.Locator]string
	screenshots []string
	closed      int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		present:   map[browser.Locator]bool{},
		clickable: map[browser.Locator]bool{},
		typed:     map[browser.Locator]string{},
	}
}

// loginPage makes every login form element available.
func (d *fakeDriver) loginPage(sel Selectors) *fakeDriver {
	for _, loc := range []browser.Locator{sel.UsernameInput, sel.NextButton, sel.PasswordInput, sel.LoginButton} {
		d.clickable[loc] = true
	}
	return d
}

func (d *fakeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.startN
	d.startN++
	if i < len(d.startErrs) {
		return d.startErrs[i]
	}
	return nil
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigations = append(d.navigations, url)
	return nil
}

func (d *fakeDriver) WaitClickable(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clickable[loc] {
		return nil
	}
	return browser.ErrElementTimeout
}

func (d *fakeDriver) WaitPresent(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.present[loc] || d.clickable[loc] {
		return nil
	}
	return browser.ErrElementTimeout
}

func (d *fakeDriver) Click(ctx context.Context, loc browser.Locator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, loc)
	return nil
}

func (d *fakeDriver) SendKeys(ctx context.Context, loc browser.Locator, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed[loc] += text
	return nil
}

func (d *fakeDriver) ScrollIntoView(ctx context.Context, loc browser.Locator) error { return nil }

func (d *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *fakeDriver) Reload(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reloads++
	return nil
}

func (d *fakeDriver) Screenshot(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screenshots = append(d.screenshots, path)
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

// waitsOver returns recorded sleeps at or above min, filtering out the
// human-paced pauses between UI steps.
func (s *sleepRecorder) waitsOver(min time.Duration) []time.Duration {
	var out []time.Duration
	for _, w := range s.waits {
		if w >= min {
			out = append(out, w)
		}
	}
	return out
}

type stubNotifier struct {
	messages []string
}

func (n *stubNotifier) Notify(ctx context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

func newTestPublisher(d browser.Driver, sleeper *sleepRecorder, mutate func(*Options)) *Publisher {
	opts := Options{
		Credentials: Credentials{Username: "pulsebot", Password: "hunter2"},
		Sleep:       sleeper.sleep,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(trace.NewNoopTracerProvider().Tracer("test"), d, opts, logger.Discard().App.WithComponent("publisher"))
}

func TestLoginSucceedsWhenOnlyURLCheckPasses(t *testing.T) {
	sel := DefaultSelectors()
	d := newFakeDriver().loginPage(sel)
	d.url = "https://x.com/home"
	sleeper := &sleepRecorder{}
	p := newTestPublisher(d, sleeper, nil)

	if err := p.Login(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.State() != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", p.State())
	}
	if d.typed[sel.UsernameInput] != "pulsebot" || d.typed[sel.PasswordInput] != "hunter2" {
		t.Fatalf("credentials not typed: %v", d.typed)
	}
	if d.reloads != 0 {
		t.Fatalf("expected no reloads, got %d", d.reloads)
	}
}

func TestLoginSucceedsOnFirstPresentCheck(t *testing.T) {
	sel := DefaultSelectors()
	d := newFakeDriver().loginPage(sel)
	d.present[sel.LoginChecks[1]] = true
	p := newTestPublisher(d, &sleepRecorder{}, nil)

	if err := p.Login(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.State().LoggedIn() {
		t.Fatalf("expected logged in, got %s", p.State())
	}
}

func TestVerificationExhaustedStopsWithoutNavigation(t *testing.T) {
	sel := DefaultSelectors()
	d := newFakeDriver().loginPage(sel)
	d.url = "https://x.com/i/flow/login"
	sleeper := &sleepRecorder{}
	p := newTestPublisher(d, sleeper, func(o *Options) { o.MaxRetries = 3 })

	err := p.Login(context.Background())
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	if p.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", p.State())
	}
	if len(d.navigations) != 1 {
		t.Fatalf("expected only the login navigation, got %v", d.navigations)
	}
	if d.reloads != 2 {
		t.Fatalf("expected reloads between attempts only, got %d", d.reloads)
	}
	backoff := sleeper.waitsOver(8 * time.Second)
	if len(backoff) != 2 || backoff[0] != 8*time.Second || backoff[1] != 16*time.Second {
		t.Fatalf("expected 8s and 16s waits between attempts, got %v", backoff)
	}
}

func TestLoginFailsWhenUsernameFieldMissing(t *testing.T) {
	d := newFakeDriver()
	p := newTestPublisher(d, &sleepRecorder{}, nil)

	err := p.Login(context.Background())
	if err == nil || !strings.Contains(err.Error(), "enter username") {
		t.Fatalf("expected username error, got %v", err)
	}
	if !errors.Is(err, browser.ErrElementTimeout) {
		t.Fatalf("expected wrapped timeout, got %v", err)
	}
	if p.State() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", p.State())
	}
}

func TestSecondFactorIsSurfaced(t *testing.T) {
	sel := DefaultSelectors()
	d := newFakeDriver().loginPage(sel)
	d.present[sel.SecondFactorInput] = true
	d.url = "https://x.com/home"
	notifier := &stubNotifier{}

	var seen []SessionState
	p := newTestPublisher(d, &sleepRecorder{}, func(o *Options) { o.Notifier = notifier })
	// Record the state the moment verification starts.
	d2 := &stateSpyDriver{fakeDriver: d, p: &p, seen: &seen}
	p.driver = d2

	if err := p.Login(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.messages) != 1 || !strings.Contains(notifier.messages[0], "@pulsebot") {
		t.Fatalf("expected one operator alert, got %v", notifier.messages)
	}
	found := false
	for _, s := range seen {
		if s == StateAwaitingSecondFactor {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected awaiting_second_factor during verification, saw %v", seen)
	}
	if p.State() != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", p.State())
	}
}

// stateSpyDriver records the publisher state whenever the URL is read.
type stateSpyDriver struct {
	*fakeDriver
	p    **Publisher
	seen *[]SessionState
}

func (s *stateSpyDriver) CurrentURL(ctx context.Context) (string, error) {
	*s.seen = append(*s.seen, (*s.p).State())
	return s.fakeDriver.CurrentURL(ctx)
}

func TestDebugScreenshotSaved(t *testing.T) {
	sel := DefaultSelectors()
	d := newFakeDriver().loginPage(sel)
	d.url = "https://x.com/home"
	p := newTestPublisher(d, &sleepRecorder{}, func(o *Options) { o.DebugScreenshotDir = "/tmp/pulse" })

	if err := p.Login(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.screenshots) != 1 || d.screenshots[0] != "/tmp/pulse/login_page_debug.png" {
		t.Fatalf("unexpected screenshots %v", d.screenshots)
	}
}

func TestSetupRetriesBrowserAndLogin(t *testing.T) {
	sel := DefaultSelectors()
	d := newFakeDriver().loginPage(sel)
	d.url = "https://x.com/home"
	d.startErrs = []error{errors.New("chrome not found")}
	sleeper := &sleepRecorder{}
	p := newTestPublisher(d, sleeper, nil)

	if err := p.Setup(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.startN != 2 {
		t.Fatalf("expected browser started twice, got %d", d.startN)
	}
	if sleeper.waits[0] != 10*time.Second {
		t.Fatalf("expected 10s wait after browser failure, got %v", sleeper.waits)
	}
}

func TestSetupExhausted(t *testing.T) {
	d := newFakeDriver()
	sleeper := &sleepRecorder{}
	p := newTestPublisher(d, sleeper, nil)

	err := p.Setup(context.Background())
	if !errors.Is(err, ErrSetupFailed) {
		t.Fatalf("expected ErrSetupFailed, got %v", err)
	}
	if d.startN != 3 {
		t.Fatalf("expected 3 setup attempts, got %d", d.startN)
	}
	if got := sleeper.waitsOver(15 * time.Second); len(got) != 3 {
		t.Fatalf("expected a 15s wait after each failed login, got %v", got)
	}
}

func TestSetupStopsOnCancel(t *testing.T) {
	d := newFakeDriver()
	d.startErrs = []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newTestPublisher(d, &sleepRecorder{}, nil)

	err := p.Setup(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if d.startN != 1 {
		t.Fatalf("expected a single attempt, got %d", d.startN)
	}
}

func TestPublishUsesThirdSubmitLocator(t *testing.T) {
	sel := DefaultSelectors()
	d := newFakeDriver()
	d.present[sel.ComposeTextArea] = true
	d.clickable[sel.SubmitButtons[2]] = true
	sleeper := &sleepRecorder{}
	p := newTestPublisher(d, sleeper, nil)

	if err := p.Publish(context.Background(), "hello market"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.typed[sel.ComposeTextArea] != "hello market" {
		t.Fatalf("message not typed: %v", d.typed)
	}
	last := d.clicks[len(d.clicks)-1]
	if last != sel.SubmitButtons[2] {
		t.Fatalf("expected click on third locator, got %s", last)
	}
	if len(d.navigations) != 1 || d.navigations[0] != "https://twitter.com/compose/tweet" {
		t.Fatalf("unexpected navigations %v", d.navigations)
	}
	if p.State() != StateIdle {
		t.Fatalf("expected idle, got %s", p.State())
	}
}

func TestPublishRetriesAndFails(t *testing.T) {
	sel := DefaultSelectors()
	d := newFakeDriver()
	d.present[sel.ComposeTextArea] = true
	sleeper := &sleepRecorder{}
	p := newTestPublisher(d, sleeper, nil)

	err := p.Publish(context.Background(), "hello")
	if !errors.Is(err, ErrSubmitNotFound) {
		t.Fatalf("expected ErrSubmitNotFound, got %v", err)
	}
	if len(d.navigations) != 3 {
		t.Fatalf("expected 3 compose attempts, got %d", len(d.navigations))
	}
	backoff := sleeper.waitsOver(10 * time.Second)
	want := []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}
	if len(backoff) != len(want) {
		t.Fatalf("expected backoff %v, got %v", want, backoff)
	}
	for i := range want {
		if backoff[i] != want[i] {
			t.Fatalf("expected backoff %v, got %v", want, backoff)
		}
	}
}

func TestCloseResetsState(t *testing.T) {
	sel := DefaultSelectors()
	d := newFakeDriver().loginPage(sel)
	d.url = "https://x.com/home"
	p := newTestPublisher(d, &sleepRecorder{}, nil)
	if err := p.Login(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.State() != StateUnauthenticated || d.closed != 1 {
		t.Fatalf("expected closed unauthenticated session, got %s closed=%d", p.State(), d.closed)
	}
}

func TestSessionStateString(t *testing.T) {
	if StateAwaitingSecondFactor.String() != "awaiting_second_factor" {
		t.Fatalf("unexpected name %q", StateAwaitingSecondFactor.String())
	}
	if SessionState(99).String() != "unknown" {
		t.Fatal("expected unknown for out of range state")
	}
}
