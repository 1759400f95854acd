package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"productsync/pkg/config"
	"productsync/pkg/logger"
)

// Options controls how a Session launches Chromium
type Options struct {
	Headless          bool
	UserDataDir       string
	ProfileName       string
	Channel           string
	UserAgent         string
	Locale            string
	NavigationTimeout time.Duration
}

// OptionsFromConfig maps the browser config section onto launch options
func OptionsFromConfig(cfg config.BrowserConfig) Options {
	return Options{
		Headless:          cfg.Headless,
		UserDataDir:       cfg.UserDataDir,
		ProfileName:       cfg.ProfileName,
		Channel:           cfg.Channel,
		UserAgent:         cfg.UserAgent,
		Locale:            "en-US",
		NavigationTimeout: cfg.NavigationTimeout,
	}
}

var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-dev-shm-usage",
	"--window-size=1920,1080",
}

// Session owns one playwright driver, one browser context and the single page
// every caller shares. Pages are handed out through Borrow, one caller at a time.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	mu     sync.Mutex
	closed bool
	logger logger.Logger
}

// Open starts playwright and launches Chromium. With a user data dir the
// persistent profile is used; if it cannot be opened (usually because another
// browser holds the profile lock) a fresh browser is launched instead.
func Open(opts Options, log logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "browser")

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	s := &Session{pw: pw, logger: log}

	if opts.UserDataDir != "" {
		bctx, err := launchPersistent(pw, opts)
		if err == nil {
			s.context = bctx
		} else {
			log.WithError(err).Warn("persistent profile unavailable, launching a fresh browser")
		}
	}

	if s.context == nil {
		if err := s.launchFresh(opts); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	page, err := s.firstPage()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if opts.NavigationTimeout > 0 {
		page.SetDefaultNavigationTimeout(float64(opts.NavigationTimeout.Milliseconds()))
	}
	s.page = page

	log.InfoWithFields("browser session opened", map[string]interface{}{
		"headless":   opts.Headless,
		"persistent": s.browser == nil,
	})
	return s, nil
}

func launchPersistent(pw *playwright.Playwright, opts Options) (playwright.BrowserContext, error) {
	args := append([]string{}, launchArgs...)
	if opts.ProfileName != "" {
		args = append(args, "--profile-directory="+opts.ProfileName)
	}

	launch := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     args,
		Viewport: &playwright.Size{Width: 1920, Height: 1080},
	}
	if opts.Channel != "" {
		launch.Channel = playwright.String(opts.Channel)
	}
	if opts.UserAgent != "" {
		launch.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		launch.Locale = playwright.String(opts.Locale)
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(opts.UserDataDir, launch)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile %s: %w", opts.UserDataDir, err)
	}
	return bctx, nil
}

func (s *Session) launchFresh(opts Options) error {
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     launchArgs,
	}
	if opts.Channel != "" {
		launch.Channel = playwright.String(opts.Channel)
	}

	b, err := s.pw.Chromium.Launch(launch)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	s.browser = b

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1920, Height: 1080},
	}
	if opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		ctxOpts.Locale = playwright.String(opts.Locale)
	}

	bctx, err := b.NewContext(ctxOpts)
	if err != nil {
		return fmt.Errorf("failed to create browser context: %w", err)
	}
	s.context = bctx
	return nil
}

// persistent contexts start with a blank page already open
func (s *Session) firstPage() (playwright.Page, error) {
	if pages := s.context.Pages(); len(pages) > 0 {
		return pages[0], nil
	}
	page, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	return page, nil
}

// Borrow runs fn with exclusive use of the session's page
func (s *Session) Borrow(ctx context.Context, fn func(page playwright.Page) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.page == nil {
		return errors.New("browser session is closed")
	}
	return fn(s.page)
}

// Close releases the context, the browser and the driver. Every step runs
// even when an earlier one fails; the failures are joined.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	s.logger.Debug("browser session closed")
	return errors.Join(errs...)
}
