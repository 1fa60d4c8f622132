package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ErrSession indicates the browser session could not be established.
type ErrSession struct {
	Err error
}

func (e ErrSession) Error() string {
	return fmt.Errorf("establish browser session: %w", e.Err).Error()
}

func (e ErrSession) Unwrap() error {
	return e.Err
}

// Session is one logical browser connection. It is not safe for
// concurrent navigation; callers serialize access themselves.
type Session struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

// NewHeadlessSession starts a headless browser.
func NewHeadlessSession(ctx context.Context, userAgent string) (*Session, error) {
	return newSession(ctx, userAgent, true)
}

// NewVisibleSession starts a browser with a visible window, useful
// when debugging a site's rendering behavior.
func NewVisibleSession(ctx context.Context, userAgent string) (*Session, error) {
	return newSession(ctx, userAgent, false)
}

func newSession(ctx context.Context, userAgent string, headless bool) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("headless", headless),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Launch the browser process now so connection failures surface at
	// construction instead of on the first navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, ErrSession{Err: err}
	}

	return &Session{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
	}, nil
}

// Navigate loads url in the session's tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(s.tabCtx, chromedp.Navigate(url))
}

// WaitVisible blocks until a node matching selector is visible, or the
// timeout elapses.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	return chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Markup returns the current rendered document.
func (s *Session) Markup(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var markup string
	if err := chromedp.Run(s.tabCtx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return markup, nil
}

// ScrollBottom scrolls the page to the bottom of its current content.
func (s *Session) ScrollBottom(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(s.tabCtx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
	)
}

// ContentHeight reads the scrollable content height.
func (s *Session) ContentHeight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var height int64
	if err := chromedp.Run(s.tabCtx,
		chromedp.Evaluate(`document.body.scrollHeight`, &height),
	); err != nil {
		return 0, err
	}
	return height, nil
}

// Close tears down the tab and the browser process.
func (s *Session) Close() {
	s.tabCancel()
	s.allocCancel()
}
