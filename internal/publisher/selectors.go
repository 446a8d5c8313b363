package publisher

import (
	"fmt"
	"os"

	"market-pulse/internal/browser"

	"gopkg.in/yaml.v3"
)

// Selectors is the catalog of page elements the flows rely on. The site
// changes its markup often, so every entry can be overridden from YAML.
type Selectors struct {
	UsernameInput     browser.Locator   `yaml:"username_input"`
	NextButton        browser.Locator   `yaml:"next_button"`
	PasswordInput     browser.Locator   `yaml:"password_input"`
	LoginButton       browser.Locator   `yaml:"login_button"`
	SecondFactorInput browser.Locator   `yaml:"second_factor_input"`
	LoginChecks       []browser.Locator `yaml:"login_checks"`
	HomeURLFragment   string            `yaml:"home_url_fragment"`
	ComposeTextArea   browser.Locator   `yaml:"compose_text_area"`
	SubmitButtons     []browser.Locator `yaml:"submit_buttons"`
}

// DefaultSelectors returns the catalog for the current X/Twitter web app.
func DefaultSelectors() Selectors {
	return Selectors{
		UsernameInput:     browser.ByCSS(`input[autocomplete='username']`),
		NextButton:        browser.ByXPath(`//span[text()='Next']`),
		PasswordInput:     browser.ByCSS(`input[type='password']`),
		LoginButton:       browser.ByXPath(`//span[text()='Log in']`),
		SecondFactorInput: browser.ByCSS(`input[data-testid="ocfEnterTextTextInput"]`),
		LoginChecks: []browser.Locator{
			browser.ByCSS(`[data-testid="SideNav_NewTweet_Button"]`),
			browser.ByCSS(`[data-testid="AppTabBar_Profile_Link"]`),
			browser.ByCSS(`[data-testid="primaryColumn"]`),
		},
		HomeURLFragment: "home",
		ComposeTextArea: browser.ByCSS(`[data-testid="tweetTextarea_0"]`),
		SubmitButtons: []browser.Locator{
			browser.ByCSS(`[data-testid="tweetButton"]`),
			browser.ByXPath(`//div[@role='button'][contains(., 'Post')]`),
			browser.ByXPath(`//span[text()='Post']`),
		},
	}
}

// LoadSelectors reads overrides from path on top of DefaultSelectors.
// Keys missing from the file keep their default.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Selectors{}, fmt.Errorf("read selectors file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return Selectors{}, fmt.Errorf("parse selectors file: %w", err)
	}
	if err := sel.Validate(); err != nil {
		return Selectors{}, fmt.Errorf("selectors file %s: %w", path, err)
	}
	return sel, nil
}

// Validate checks every locator in the catalog.
func (s Selectors) Validate() error {
	single := map[string]browser.Locator{
		"username_input":      s.UsernameInput,
		"next_button":         s.NextButton,
		"password_input":      s.PasswordInput,
		"login_button":        s.LoginButton,
		"second_factor_input": s.SecondFactorInput,
		"compose_text_area":   s.ComposeTextArea,
	}
	for name, loc := range single {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for i, loc := range s.LoginChecks {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("login_checks[%d]: %w", i, err)
		}
	}
	if len(s.SubmitButtons) == 0 {
		return fmt.Errorf("submit_buttons must list at least one locator")
	}
	for i, loc := range s.SubmitButtons {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("submit_buttons[%d]: %w", i, err)
		}
	}
	if len(s.LoginChecks) == 0 && s.HomeURLFragment == "" {
		return fmt.Errorf("at least one login check or home_url_fragment is required")
	}
	return nil
}
