// Package publisher posts messages to X/Twitter by driving a browser
// through the login and compose pages.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"market-pulse/internal/browser"
	"market-pulse/internal/logger"
	"market-pulse/internal/retry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrSetupFailed        = errors.New("publisher setup failed")
	ErrVerificationFailed = errors.New("login verification failed")
	ErrSubmitNotFound     = errors.New("could not find post button")
)

const debugScreenshotName = "login_page_debug.png"

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Credentials for the posting account.
type Credentials struct {
	Username string
	Password string
}

// Timeouts bound every wait for a page element.
type Timeouts struct {
	UsernameInput time.Duration
	NextButton    time.Duration
	PasswordInput time.Duration
	LoginButton   time.Duration
	SecondFactor  time.Duration
	LoginCheck    time.Duration
	TextArea      time.Duration
	SubmitButton  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		UsernameInput: 20 * time.Second,
		NextButton:    10 * time.Second,
		PasswordInput: 20 * time.Second,
		LoginButton:   10 * time.Second,
		SecondFactor:  10 * time.Second,
		LoginCheck:    30 * time.Second,
		TextArea:      10 * time.Second,
		SubmitButton:  5 * time.Second,
	}
}

// Options configures a Publisher. Zero values fall back to defaults.
type Options struct {
	LoginURL           string
	ComposeURL         string
	Credentials        Credentials
	Selectors          Selectors
	Timeouts           Timeouts
	MaxRetries         int
	SetupAttempts      int
	PublishAttempts    int
	VerifyBackoff      time.Duration
	PublishBackoff     time.Duration
	BrowserRetryWait   time.Duration
	LoginRetryWait     time.Duration
	DebugScreenshotDir string
	Notifier           Notifier
	Sleep              retry.SleepFunc
}

func (o *Options) applyDefaults() {
	if o.LoginURL == "" {
		o.LoginURL = "https://twitter.com/i/flow/login"
	}
	if o.ComposeURL == "" {
		o.ComposeURL = "https://twitter.com/compose/tweet"
	}
	if o.Selectors.SubmitButtons == nil {
		o.Selectors = DefaultSelectors()
	}
	if o.Timeouts == (Timeouts{}) {
		o.Timeouts = DefaultTimeouts()
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.SetupAttempts <= 0 {
		o.SetupAttempts = 3
	}
	if o.PublishAttempts <= 0 {
		o.PublishAttempts = 3
	}
	if o.VerifyBackoff <= 0 {
		o.VerifyBackoff = 8 * time.Second
	}
	if o.PublishBackoff <= 0 {
		o.PublishBackoff = 10 * time.Second
	}
	if o.BrowserRetryWait <= 0 {
		o.BrowserRetryWait = 10 * time.Second
	}
	if o.LoginRetryWait <= 0 {
		o.LoginRetryWait = 15 * time.Second
	}
	if o.Sleep == nil {
		o.Sleep = retry.Sleep
	}
}

// Publisher owns the browser session for the life of the process. It is
// not safe for concurrent use, except State which may be read anywhere.
type Publisher struct {
	tracer trace.Tracer
	driver browser.Driver
	opts   Options
	log    *logger.Entry
	state  atomic.Int32
}

func New(tracer trace.Tracer, driver browser.Driver, opts Options, log *logger.Entry) *Publisher {
	opts.applyDefaults()
	return &Publisher{
		tracer: tracer,
		driver: driver,
		opts:   opts,
		log:    log,
	}
}

// State returns the current session state.
func (p *Publisher) State() SessionState {
	return SessionState(p.state.Load())
}

func (p *Publisher) setState(s SessionState) {
	if old := SessionState(p.state.Swap(int32(s))); old != s {
		p.log.WithFields(logger.Fields{"from": old.String(), "to": s.String()}).Debug("session state changed")
	}
}

// Setup starts the browser and logs in, retrying the pair. A browser that
// fails to start is retried after BrowserRetryWait, a failed login after
// LoginRetryWait.
func (p *Publisher) Setup(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "publisher.setup")
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= p.opts.SetupAttempts; attempt++ {
		span.SetAttributes(attribute.Int("setup.attempt", attempt))

		if err := p.driver.Start(ctx); err != nil {
			lastErr = err
			p.log.WithError(err).Warnf("Browser initialization attempt %d failed, retrying...", attempt)
			if err := p.opts.Sleep(ctx, p.opts.BrowserRetryWait); err != nil {
				return fmt.Errorf("setup interrupted: %w", err)
			}
			continue
		}

		if err := p.Login(ctx); err != nil {
			lastErr = err
			p.log.WithError(err).Warnf("Twitter login attempt %d failed, retrying...", attempt)
			if err := p.opts.Sleep(ctx, p.opts.LoginRetryWait); err != nil {
				return fmt.Errorf("setup interrupted: %w", err)
			}
			continue
		}

		p.log.Info("Bot initialized successfully")
		return nil
	}

	err := fmt.Errorf("%w after %d attempts: %w", ErrSetupFailed, p.opts.SetupAttempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Login walks the login form and then verifies the session.
func (p *Publisher) Login(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "publisher.login")
	defer span.End()

	err := p.login(ctx)
	if err != nil {
		if p.State() != StateFailed {
			p.setState(StateUnauthenticated)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.WithError(err).Error("Twitter login failed")
	}
	return err
}

func (p *Publisher) login(ctx context.Context) error {
	sel := p.opts.Selectors
	t := p.opts.Timeouts

	p.setState(StateUnauthenticated)
	p.log.Info("Starting Twitter login sequence")
	if err := p.driver.Navigate(ctx, p.opts.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	p.log.Info("Navigated to Twitter login page")
	if err := p.pause(ctx, 5*time.Second); err != nil {
		return err
	}

	p.setState(StateEnteringUsername)
	if err := p.fill(ctx, sel.UsernameInput, t.UsernameInput, p.opts.Credentials.Username); err != nil {
		return fmt.Errorf("enter username: %w", err)
	}
	p.log.Info("Username entered successfully")
	if err := p.pause(ctx, 2*time.Second); err != nil {
		return err
	}

	if err := p.clickWhenReady(ctx, sel.NextButton, t.NextButton); err != nil {
		return fmt.Errorf("click next: %w", err)
	}
	if err := p.pause(ctx, 3*time.Second); err != nil {
		return err
	}

	p.setState(StateEnteringPassword)
	if err := p.fill(ctx, sel.PasswordInput, t.PasswordInput, p.opts.Credentials.Password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}
	p.log.Info("Password entered successfully")
	if err := p.pause(ctx, 2*time.Second); err != nil {
		return err
	}

	p.debugScreenshot(ctx)

	p.setState(StateSubmittingLogin)
	if err := p.clickWhenReady(ctx, sel.LoginButton, t.LoginButton); err != nil {
		return fmt.Errorf("click login: %w", err)
	}
	p.log.Info("Login button clicked successfully")

	p.awaitSecondFactor(ctx)

	return p.verifyLogin(ctx)
}

// awaitSecondFactor gives a second-factor challenge the chance to appear.
// Entry stays manual; the publisher only surfaces that it is waiting.
func (p *Publisher) awaitSecondFactor(ctx context.Context) {
	err := p.driver.WaitPresent(ctx, p.opts.Selectors.SecondFactorInput, p.opts.Timeouts.SecondFactor)
	if err != nil {
		if !errors.Is(err, browser.ErrElementTimeout) {
			p.log.WithError(err).Debug("second factor check failed")
		}
		return
	}

	p.setState(StateAwaitingSecondFactor)
	p.log.Warn("Second factor challenge shown, waiting for manual entry")
	if p.opts.Notifier != nil {
		msg := fmt.Sprintf("Market pulse login for @%s is waiting for a second factor code.", p.opts.Credentials.Username)
		if err := p.opts.Notifier.Notify(ctx, msg); err != nil {
			p.log.WithError(err).Warn("failed to notify operator")
		}
	}
}

type loginCheck struct {
	name  string
	check func(ctx context.Context) (bool, error)
}

func (p *Publisher) loginChecks() []loginCheck {
	checks := make([]loginCheck, 0, len(p.opts.Selectors.LoginChecks)+1)
	for _, loc := range p.opts.Selectors.LoginChecks {
		checks = append(checks, loginCheck{
			name: loc.String(),
			check: func(ctx context.Context) (bool, error) {
				if err := p.driver.WaitPresent(ctx, loc, p.opts.Timeouts.LoginCheck); err != nil {
					return false, err
				}
				return true, nil
			},
		})
	}
	if fragment := p.opts.Selectors.HomeURLFragment; fragment != "" {
		checks = append(checks, loginCheck{
			name: "url contains " + fragment,
			check: func(ctx context.Context) (bool, error) {
				url, err := p.driver.CurrentURL(ctx)
				if err != nil {
					return false, err
				}
				return strings.Contains(url, fragment), nil
			},
		})
	}
	return checks
}

// verifyLogin runs every check in order on each attempt and succeeds on the
// first that holds. Between attempts it waits VerifyBackoff x attempt and
// reloads; after the last failed attempt it does nothing further.
func (p *Publisher) verifyLogin(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "publisher.verify-login")
	defer span.End()

	if p.State() != StateAwaitingSecondFactor {
		p.setState(StateVerifying)
	}
	p.log.Info("Starting login verification")

	checks := p.loginChecks()
	maxRetries := p.opts.MaxRetries
	for attempt := 1; attempt <= maxRetries; attempt++ {
		p.log.Infof("Verification attempt %d/%d", attempt, maxRetries)

		for i, c := range checks {
			ok, err := c.check(ctx)
			if err != nil {
				p.log.WithError(err).Debugf("verification method %d (%s) failed", i+1, c.name)
			}
			if ok {
				span.SetAttributes(attribute.Int("verify.attempt", attempt), attribute.String("verify.method", c.name))
				p.log.Infof("Login verified successfully using method %d (%s)", i+1, c.name)
				p.setState(StateAuthenticated)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		if attempt < maxRetries {
			wait := p.opts.VerifyBackoff * time.Duration(attempt)
			p.log.Infof("Verification attempt failed, waiting %s...", wait)
			if err := p.opts.Sleep(ctx, wait); err != nil {
				return err
			}
			if err := p.driver.Reload(ctx); err != nil {
				p.log.WithError(err).Warn("page reload failed")
			}
		}
	}

	p.setState(StateFailed)
	return fmt.Errorf("%w after %d attempts", ErrVerificationFailed, maxRetries)
}

// Publish posts message, retrying the whole compose flow with linear
// backoff. The session is assumed to still be logged in.
func (p *Publisher) Publish(ctx context.Context, message string) error {
	ctx, span := p.tracer.Start(ctx, "publisher.publish")
	defer span.End()
	span.SetAttributes(attribute.Int("tweet.length", len([]rune(message))))

	policy := retry.Linear{
		Attempts: p.opts.PublishAttempts,
		Step:     p.opts.PublishBackoff,
		Sleep:    p.opts.Sleep,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			p.log.WithError(err).Warnf("Tweet posting error, attempt %d, waiting %s...", attempt, wait)
		},
	}
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		return p.compose(ctx, message)
	})
	if err != nil {
		if p.State().LoggedIn() {
			p.setState(StateIdle)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.WithError(err).Error("Tweet creation failed")
		return fmt.Errorf("publish: %w", err)
	}
	p.log.Info("Tweet posted successfully")
	return nil
}

func (p *Publisher) compose(ctx context.Context, message string) error {
	sel := p.opts.Selectors

	p.setState(StateComposing)
	if err := p.driver.Navigate(ctx, p.opts.ComposeURL); err != nil {
		return fmt.Errorf("open compose page: %w", err)
	}
	if err := p.pause(ctx, 3*time.Second); err != nil {
		return err
	}

	if err := p.driver.WaitPresent(ctx, sel.ComposeTextArea, p.opts.Timeouts.TextArea); err != nil {
		return fmt.Errorf("find text area: %w", err)
	}
	if err := p.driver.Click(ctx, sel.ComposeTextArea); err != nil {
		return fmt.Errorf("focus text area: %w", err)
	}
	if err := p.pause(ctx, time.Second); err != nil {
		return err
	}
	if err := p.driver.SendKeys(ctx, sel.ComposeTextArea, message); err != nil {
		return fmt.Errorf("type message: %w", err)
	}
	if err := p.pause(ctx, 2*time.Second); err != nil {
		return err
	}

	p.setState(StateSubmitting)
	button, err := p.findSubmit(ctx)
	if err != nil {
		return err
	}
	if err := p.driver.ScrollIntoView(ctx, button); err != nil {
		return fmt.Errorf("scroll to post button: %w", err)
	}
	if err := p.pause(ctx, time.Second); err != nil {
		return err
	}
	if err := p.driver.Click(ctx, button); err != nil {
		return fmt.Errorf("click post button: %w", err)
	}
	if err := p.pause(ctx, 5*time.Second); err != nil {
		return err
	}

	p.setState(StateIdle)
	return nil
}

// findSubmit tries each submit locator in order and returns the first
// that becomes clickable.
func (p *Publisher) findSubmit(ctx context.Context) (browser.Locator, error) {
	for _, loc := range p.opts.Selectors.SubmitButtons {
		err := p.driver.WaitClickable(ctx, loc, p.opts.Timeouts.SubmitButton)
		if err == nil {
			return loc, nil
		}
		if ctx.Err() != nil {
			return browser.Locator{}, ctx.Err()
		}
		p.log.WithError(err).Debugf("post button not found via %s", loc)
	}
	return browser.Locator{}, ErrSubmitNotFound
}

// Close shuts the browser down. The next Setup starts from scratch.
func (p *Publisher) Close() error {
	p.setState(StateUnauthenticated)
	return p.driver.Close()
}

func (p *Publisher) fill(ctx context.Context, loc browser.Locator, timeout time.Duration, text string) error {
	if err := p.clickWhenReady(ctx, loc, timeout); err != nil {
		return err
	}
	if err := p.pause(ctx, time.Second); err != nil {
		return err
	}
	return p.driver.SendKeys(ctx, loc, text)
}

func (p *Publisher) clickWhenReady(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	if err := p.driver.WaitClickable(ctx, loc, timeout); err != nil {
		return err
	}
	return p.driver.Click(ctx, loc)
}

func (p *Publisher) debugScreenshot(ctx context.Context) {
	dir := p.opts.DebugScreenshotDir
	if dir == "" {
		return
	}
	path := filepath.Join(dir, debugScreenshotName)
	if err := p.driver.Screenshot(ctx, path); err != nil {
		p.log.WithError(err).Warn("failed to save debug screenshot")
		return
	}
	p.log.WithField("path", path).Info("Saved debug screenshot before login attempt")
}

// pause is the human-paced delay between UI steps.
func (p *Publisher) pause(ctx context.Context, d time.Duration) error {
	return p.opts.Sleep(ctx, d)
}
