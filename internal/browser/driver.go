// Package browser abstracts the headless browser the publisher drives.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotStarted is returned by every operation before Start succeeds.
	ErrNotStarted = errors.New("browser session not started")
	// ErrElementTimeout is returned when a bounded wait expires.
	ErrElementTimeout = errors.New("timed out waiting for element")
)

// Strategy selects how a Locator's Value is interpreted.
type Strategy string

const (
	CSS   Strategy = "css"
	XPath Strategy = "xpath"
)

// Locator identifies an element on the page.
type Locator struct {
	Strategy Strategy `yaml:"strategy"`
	Value    string   `yaml:"value"`
}

// ByCSS builds a CSS selector locator.
func ByCSS(selector string) Locator { return Locator{Strategy: CSS, Value: selector} }

// ByXPath builds an XPath locator.
func ByXPath(expr string) Locator { return Locator{Strategy: XPath, Value: expr} }

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.Strategy, l.Value)
}

// Validate rejects empty values and unknown strategies.
func (l Locator) Validate() error {
	if l.Value == "" {
		return fmt.Errorf("locator value is empty")
	}
	switch l.Strategy {
	case CSS, XPath:
		return nil
	default:
		return fmt.Errorf("unknown locator strategy %q", l.Strategy)
	}
}

// Driver is the set of page operations the login and compose flows need.
// Wait operations block for at most timeout and return ErrElementTimeout
// when the condition never holds.
type Driver interface {
	Start(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	WaitClickable(ctx context.Context, loc Locator, timeout time.Duration) error
	WaitPresent(ctx context.Context, loc Locator, timeout time.Duration) error
	Click(ctx context.Context, loc Locator) error
	SendKeys(ctx context.Context, loc Locator, text string) error
	ScrollIntoView(ctx context.Context, loc Locator) error
	CurrentURL(ctx context.Context) (string, error)
	Reload(ctx context.Context) error
	Screenshot(ctx context.Context, path string) error
	Close() error
}
