package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout = 30 * time.Second

	// Noisy sites (analytics, trackers) never truly idle, so the
	// networkidle wait is a strict upper bound, not a goal.
	domReadyTimeout = 3 * time.Second
	networkIdleCap  = 1500 * time.Millisecond
)

// Launcher owns the playwright lifecycle and the shared Chromium process.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

func NewLauncher(ctx context.Context, headless bool) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, headless: headless}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

// NewSession opens an isolated browser context for one agent session.
func (l *Launcher) NewSession(ctx context.Context, width, height int) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if width > 0 && height > 0 {
		opts.Viewport = &playwright.Size{Width: width, Height: height}
	}
	bctx, err := l.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &Session{context: bctx, page: page}, nil
}

// LaunchVisible starts a separate, headed browser for the scout preflight.
// The user must be able to see it to solve CAPTCHAs by hand, and it must
// never share the main session's cookies.
func (l *Launcher) LaunchVisible(ctx context.Context) (*AuxBrowser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	browser, err := l.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(false),
		Args:     []string{"--disable-dev-shm-usage", "--no-sandbox"},
	})
	if err != nil {
		return nil, fmt.Errorf("launch visible chromium: %w", err)
	}
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("aux context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		return nil, fmt.Errorf("aux page: %w", err)
	}
	return &AuxBrowser{browser: browser, context: bctx, page: page}, nil
}

// AuxBrowser is the scout's throwaway headed browser.
type AuxBrowser struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func (a *AuxBrowser) Page() playwright.Page { return a.page }

func (a *AuxBrowser) Close() {
	if a.context != nil {
		_ = a.context.Close()
	}
	if a.browser != nil {
		_ = a.browser.Close()
	}
}

// Session wraps one browser context and tracks its active page. Clicks with
// target=_blank open new tabs; the newest page is the one the agent is
// actually looking at, so callers rebind before every traversal iteration.
type Session struct {
	context playwright.BrowserContext
	page    playwright.Page
}

// ActivePage returns the most recently bound page.
func (s *Session) ActivePage() playwright.Page { return s.page }

// RebindNewestPage switches the active page to the newest open tab and
// returns it. The abandoned tab is left alone; closing it can race with
// in-flight navigations.
func (s *Session) RebindNewestPage() playwright.Page {
	pages := s.context.Pages()
	for i := len(pages) - 1; i >= 0; i-- {
		if !pages[i].IsClosed() {
			s.page = pages[i]
			break
		}
	}
	return s.page
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

// WaitStable waits for the page to settle after a navigation or action:
// domcontentloaded bounded at 3s, then networkidle bounded at 1.5s. Both
// waits failing is not an error, the caller re-observes either way.
func (s *Session) WaitStable(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_ = s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(float64(domReadyTimeout.Milliseconds())),
	})
	_ = s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(networkIdleCap.Milliseconds())),
	})
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, wrap(err)
	}
	return data, nil
}

func (s *Session) Close() error {
	if s.context != nil {
		return s.context.Close()
	}
	return nil
}

// IsRealPage reports whether a URL points at actual content rather than an
// empty tab.
func IsRealPage(url string) bool {
	url = strings.TrimSpace(url)
	return url != "" && url != "about:blank" && !strings.HasPrefix(url, "chrome-error://")
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
