package browser

import (
	"context"
	"fmt"

	"github.com/flanksource/harness/config"
	"github.com/flanksource/harness/fixture"
)

const (
	BrowserFixture   = "browser"
	PageFixture      = "page"
	LoginPageFixture = "loginPage"
)

var (
	BrowserKey   = fixture.KeyOf[*Browser](BrowserFixture)
	PageKey      = fixture.KeyOf[*Page](PageFixture)
	LoginPageKey = fixture.KeyOf[*LoginPage](LoginPageFixture)
)

// Fixtures registers one browser per suite, a fresh page per test and a
// login page object on top of it. Pages are closed before the browser
// because they are released in reverse order.
func Fixtures(cfg config.Config) *fixture.Registry {
	reg := fixture.NewRegistry()

	fixture.Define(reg, BrowserFixture, func(ctx context.Context, _ *fixture.Context) (*Browser, error) {
		return Launch(ctx, cfg.Browser)
	}, fixture.WithScope(fixture.PerSuite), fixture.WithTimeout(cfg.Timeout.NavigationResourceLoaded.Std()))

	fixture.Define(reg, PageFixture, func(ctx context.Context, c *fixture.Context) (*Page, error) {
		return BrowserKey.Must(c).NewPage(ctx)
	}, fixture.WithTimeout(cfg.Timeout.NavigationResourceLoaded.Std()))

	reg.Page(LoginPageFixture, PageFixture, func(page any) (any, error) {
		p, ok := page.(*Page)
		if !ok {
			return nil, fmt.Errorf("fixture %q is a %T, not a page", PageFixture, page)
		}
		return NewLoginPage(p, cfg), nil
	})

	return reg
}
