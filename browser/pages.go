package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/flanksource/commons/logger"
	"github.com/flanksource/harness/config"
	"github.com/flanksource/harness/credential"
)

// Login form selectors.
const (
	UsernameSelector = "#username"
	PasswordSelector = "#password"
	LoginSelector    = "#login-button"
)

// BasePage is embedded by page objects.
type BasePage struct {
	Page     *Page
	BaseURL  string
	Timeouts config.Timeouts
}

func NewBasePage(page *Page, cfg config.Config) BasePage {
	return BasePage{Page: page, BaseURL: cfg.Target.Frontend, Timeouts: cfg.Timeout}
}

// Resolve makes target absolute against BaseURL. Absolute targets are
// returned unchanged.
func (p BasePage) Resolve(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	if u.IsAbs() || p.BaseURL == "" {
		return target, nil
	}
	base, err := url.Parse(strings.TrimSuffix(p.BaseURL, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("invalid frontend url %q: %w", p.BaseURL, err)
	}
	return base.ResolveReference(u).String(), nil
}

// Navigate opens target and waits for the document body.
func (p BasePage) Navigate(ctx context.Context, target string) error {
	address, err := p.Resolve(target)
	if err != nil {
		return err
	}
	logger.V(3).Infof("Navigating to %s", address)

	ctx, cancel := context.WithTimeout(ctx, p.Timeouts.NavigationResourceLoaded.Std())
	defer cancel()
	if err := p.Page.Run(ctx, chromedp.Navigate(address), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", address, err)
	}
	return nil
}

// WaitForURL polls the tab location until match accepts it.
func (p BasePage) WaitForURL(ctx context.Context, match func(string) bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeouts.NavigationWaitForURL.Std())
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		current, err := p.Page.URL(ctx)
		if err == nil && match(current) {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return current, fmt.Errorf("timed out waiting for url (last %q): %w", current, ctx.Err())
		case <-ticker.C:
		}
	}
}

// LoginPage fills and submits the username/password form.
type LoginPage struct {
	BasePage
}

func NewLoginPage(page *Page, cfg config.Config) *LoginPage {
	return &LoginPage{BasePage: NewBasePage(page, cfg)}
}

func (p *LoginPage) Login(ctx context.Context, username, password string) error {
	fill, cancel := context.WithTimeout(ctx, p.Timeouts.LoginPasswordInput.Std())
	defer cancel()
	err := p.Page.Run(fill,
		chromedp.WaitVisible(UsernameSelector, chromedp.ByQuery),
		chromedp.SetValue(UsernameSelector, "", chromedp.ByQuery),
		chromedp.SendKeys(UsernameSelector, username, chromedp.ByQuery),
		chromedp.WaitVisible(PasswordSelector, chromedp.ByQuery),
		chromedp.SendKeys(PasswordSelector, password, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to fill login form for %s: %w", username, err)
	}

	submit, cancel := context.WithTimeout(ctx, p.Timeouts.LoginEmailFormDetached.Std())
	defer cancel()
	if err := p.Page.Run(submit, chromedp.Click(LoginSelector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	logger.Infof("🔑 Signed in as %s", username)
	return nil
}

// LoginAs signs in with a stored credential. Certificate credentials are
// negotiated by the browser and cannot be typed into the form.
func (p *LoginPage) LoginAs(ctx context.Context, cred credential.Credential) error {
	if cred.IsCertificate() {
		return fmt.Errorf("credential %s uses a certificate, not a password", cred.Username)
	}
	if cred.Password == "" {
		return fmt.Errorf("credential %s has no password", cred.Username)
	}
	return p.Login(ctx, cred.Username, cred.Password)
}
