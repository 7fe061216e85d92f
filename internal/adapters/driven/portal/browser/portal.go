package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/logger"
)

// Ensure Portal implements the interface.
var _ driven.Portal = (*Portal)(nil)

// Page selectors for the sign-in flow.
const (
	selectorEmail      = "#email-address"
	selectorPassword   = "#password"
	selectorSignIn     = "#sign-in-btn"
	selectorCode       = "#secure-verification-code"
	selectorCodeSubmit = "#2fa-submit-btn"
	selectorAlert      = ".usa-alert--error"

	dashboardMarker = "dashboard"
	pollInterval    = 250 * time.Millisecond
)

// Portal reaches the case-tracking portal through a headless Chrome driven
// by Rod. Each login runs in its own incognito context so accounts never
// share cookies.
type Portal struct {
	browserCfg domain.BrowserConfig
	portalCfg  domain.PortalConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewPortal creates a portal. Chrome is launched, or the remote instance
// connected, on the first login.
func NewPortal(browserCfg domain.BrowserConfig, portalCfg domain.PortalConfig) *Portal {
	return &Portal{browserCfg: browserCfg, portalCfg: portalCfg}
}

// BeginLogin opens the sign-in page and submits the account credentials.
func (p *Portal) BeginLogin(ctx context.Context, account domain.Account) (driven.LoginChallenge, error) {
	b, err := p.ensureBrowser()
	if err != nil {
		return nil, err
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, transportError("open incognito context", err)
	}
	page, err := stealth.Page(incognito)
	if err != nil {
		_ = incognito.Close()
		return nil, transportError("create tab", err)
	}

	tab := &tab{portal: p, browser: incognito, page: page, account: account.DisplayName(false)}
	if err := tab.signIn(ctx, account); err != nil {
		_ = tab.Close()
		return nil, err
	}
	return &challenge{tab: tab}, nil
}

// Close shuts down Chrome.
func (p *Portal) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.browser != nil {
		err = p.browser.Close()
		p.browser = nil
	}
	if p.lnch != nil {
		p.lnch.Cleanup()
		p.lnch = nil
	}
	return err
}

func (p *Portal) ensureBrowser() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil {
		return p.browser, nil
	}

	wsURL := p.browserCfg.RemoteURL
	if wsURL != "" {
		logger.Debug("connecting to remote browser at %s", wsURL)
	} else {
		l := launcher.New().
			Headless(p.browserCfg.Headless).
			Set("disable-blink-features", "AutomationControlled").
			Set("window-size", "1400,900")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		p.lnch = l
		logger.Debug("launched local chrome at %s", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if p.lnch != nil {
			p.lnch.Cleanup()
			p.lnch = nil
		}
		return nil, transportError("connect", err)
	}
	p.browser = b
	return b, nil
}

// tab is one account's isolated browser context.
type tab struct {
	portal  *Portal
	browser *rod.Browser
	page    *rod.Page
	account string
}

func (t *tab) logf(format string, args ...any) {
	logger.Debug("[%s] "+format, append([]any{t.account}, args...)...)
}

func (t *tab) withTimeout(ctx context.Context) (*rod.Page, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(ctx, t.portal.browserCfg.Timeout)
	return t.page.Context(tctx), cancel
}

func (t *tab) signIn(ctx context.Context, account domain.Account) error {
	page, cancel := t.withTimeout(ctx)
	defer cancel()

	t.logf("navigating to login page")
	if err := page.Navigate(t.portal.portalCfg.SignInURL); err != nil {
		return transportError("navigate to sign-in", err)
	}
	if err := page.WaitLoad(); err != nil {
		return transportError("load sign-in", err)
	}

	t.logf("entering credentials")
	if err := fill(page, selectorEmail, account.Username); err != nil {
		return err
	}
	if err := fill(page, selectorPassword, account.Password); err != nil {
		return err
	}
	if err := click(page, selectorSignIn); err != nil {
		return err
	}

	t.logf("waiting for one-time code prompt")
	outcome, err := waitFor(page, hasElement(selectorCode), hasElement(selectorAlert))
	if err != nil {
		return transportError("wait for code prompt", err)
	}
	if outcome == 1 {
		return domain.ErrCredentialsRejected
	}
	return nil
}

func (t *tab) submitCode(ctx context.Context, code string) error {
	page, cancel := t.withTimeout(ctx)
	defer cancel()

	el, err := page.Element(selectorCode)
	if err != nil {
		return transportError("find code field", err)
	}
	if err := el.SelectAllText(); err != nil {
		return transportError("clear code field", err)
	}
	if err := el.Input(code); err != nil {
		return transportError("enter code", err)
	}
	if err := click(page, selectorCodeSubmit); err != nil {
		return err
	}

	t.logf("waiting for login to complete")
	outcome, err := waitFor(page, urlContains(dashboardMarker), hasElement(selectorAlert))
	if err != nil {
		return transportError("wait for dashboard", err)
	}
	if outcome == 1 {
		return domain.ErrCodeRejected
	}

	// Case requests need the portal origin's session cookies.
	t.logf("navigating to case portal")
	if err := page.Navigate(t.portal.portalCfg.BaseURL + "/account"); err != nil {
		return transportError("navigate to portal", err)
	}
	if err := page.WaitLoad(); err != nil {
		return transportError("load portal", err)
	}
	t.logf("login successful")
	return nil
}

// Close releases the tab and its incognito context.
func (t *tab) Close() error {
	return errors.Join(t.page.Close(), t.browser.Close())
}

// challenge is a login waiting for its one-time code.
type challenge struct {
	tab *tab
}

func (c *challenge) SubmitCode(ctx context.Context, code string) (driven.PortalSession, error) {
	if err := c.tab.submitCode(ctx, code); err != nil {
		return nil, err
	}
	return &session{tab: c.tab}, nil
}

func (c *challenge) Abandon() error {
	return c.tab.Close()
}

func fill(page *rod.Page, selector, value string) error {
	el, err := page.Element(selector)
	if err != nil {
		return transportError("find "+selector, err)
	}
	if err := el.Input(value); err != nil {
		return transportError("fill "+selector, err)
	}
	return nil
}

func click(page *rod.Page, selector string) error {
	el, err := page.Element(selector)
	if err != nil {
		return transportError("find "+selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return transportError("click "+selector, err)
	}
	return nil
}

// condition reports whether a page reached an expected state.
type condition func(page *rod.Page) (bool, error)

func hasElement(selector string) condition {
	return func(page *rod.Page) (bool, error) {
		has, _, err := page.Has(selector)
		return has, err
	}
}

func urlContains(marker string) condition {
	return func(page *rod.Page) (bool, error) {
		info, err := page.Info()
		if err != nil {
			return false, err
		}
		return strings.Contains(info.URL, marker), nil
	}
}

// waitFor polls the conditions in order until one holds and returns its
// index. The page's context bounds the wait.
func waitFor(page *rod.Page, conditions ...condition) (int, error) {
	ctx := page.GetContext()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for i, cond := range conditions {
			ok, err := cond(page)
			if err != nil && ctx.Err() == nil {
				return -1, err
			}
			if ok {
				return i, nil
			}
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-ticker.C:
		}
	}
}

// transportError marks a browser failure as worth retrying.
func transportError(op string, err error) error {
	return fmt.Errorf("%w: browser: %s: %w", domain.ErrTransient, op, err)
}
