package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"market-pulse/internal/logger"

	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the Chrome session.
type ChromeOptions struct {
	Headless        bool
	ExecPath        string
	UserAgent       string
	PageLoadTimeout time.Duration
	// ActionTimeout bounds single clicks and key presses.
	ActionTimeout time.Duration
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// ChromeDriver implements Driver on top of chromedp.
type ChromeDriver struct {
	opts ChromeOptions
	log  *logger.Entry

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewChromeDriver(opts ChromeOptions, log *logger.Entry) *ChromeDriver {
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = 45 * time.Second
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &ChromeDriver{opts: opts, log: log}
}

// Start launches a fresh browser. A previous session is closed first.
func (d *ChromeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(d.opts.UserAgent),
	)
	if d.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(d.opts.ExecPath))
	}

	// The session outlives the call that starts it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(d.log.Debugf))

	// The first Run allocates the browser and ties its lifetime to the
	// context it is given, so it must run on browserCtx itself.
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}

	d.allocCancel = allocCancel
	d.browserCtx = browserCtx
	d.browserCancel = browserCancel
	d.log.Info("Browser initialized")
	return nil
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, d.opts.PageLoadTimeout, chromedp.Navigate(url))
}

func (d *ChromeDriver) WaitClickable(ctx context.Context, loc Locator, timeout time.Duration) error {
	err := d.run(ctx, timeout,
		chromedp.WaitVisible(loc.Value, queryOption(loc)),
		chromedp.WaitEnabled(loc.Value, queryOption(loc)),
	)
	return waitError(err, loc)
}

func (d *ChromeDriver) WaitPresent(ctx context.Context, loc Locator, timeout time.Duration) error {
	err := d.run(ctx, timeout, chromedp.WaitReady(loc.Value, queryOption(loc)))
	return waitError(err, loc)
}

func (d *ChromeDriver) Click(ctx context.Context, loc Locator) error {
	return d.run(ctx, d.opts.ActionTimeout, chromedp.Click(loc.Value, queryOption(loc), chromedp.NodeVisible))
}

func (d *ChromeDriver) SendKeys(ctx context.Context, loc Locator, text string) error {
	return d.run(ctx, d.opts.ActionTimeout, chromedp.SendKeys(loc.Value, text, queryOption(loc)))
}

func (d *ChromeDriver) ScrollIntoView(ctx context.Context, loc Locator) error {
	return d.run(ctx, d.opts.ActionTimeout, chromedp.ScrollIntoView(loc.Value, queryOption(loc)))
}

func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, d.opts.ActionTimeout, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (d *ChromeDriver) Reload(ctx context.Context) error {
	return d.run(ctx, d.opts.PageLoadTimeout, chromedp.Reload())
}

// Screenshot writes a full-page PNG to path, creating its directory.
func (d *ChromeDriver) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := d.run(ctx, d.opts.ActionTimeout, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	return os.WriteFile(path, buf, 0o644)
}

// Close shuts the browser down. Safe to call more than once.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	return nil
}

func (d *ChromeDriver) closeLocked() {
	if d.browserCtx == nil {
		return
	}
	if err := chromedp.Cancel(d.browserCtx); err != nil {
		d.log.WithError(err).Debug("browser cancel")
	}
	d.browserCancel()
	d.allocCancel()
	d.browserCtx, d.browserCancel, d.allocCancel = nil, nil, nil
	d.log.Info("Browser closed")
}

func (d *ChromeDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	d.mu.Lock()
	browserCtx := d.browserCtx
	d.mu.Unlock()
	if browserCtx == nil {
		return ErrNotStarted
	}

	runCtx, cancel := d.bound(ctx, browserCtx, timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// bound derives a context from the browser session that expires after
// timeout or when the caller's ctx is done, whichever comes first.
func (d *ChromeDriver) bound(caller, browserCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(browserCtx, timeout)
	stop := context.AfterFunc(caller, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func queryOption(loc Locator) chromedp.QueryOption {
	if loc.Strategy == XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func waitError(err error, loc Locator) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrElementTimeout, loc)
	}
	return fmt.Errorf("wait for %s: %w", loc, err)
}
