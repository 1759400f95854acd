package browser

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/errgroup"
	errs "productsync/pkg/errors"
	"productsync/pkg/logger"
	"productsync/pkg/retry"
)

// ItemListFilter matches the responses carrying product item lists
const ItemListFilter = "item_list"

const captureWait = 5 * time.Second

// ResponseHandler consumes one matching response body
type ResponseHandler func(ctx context.Context, url string, body []byte) error

// Listener watches a page's network responses and hands the bodies of those
// whose URL contains the filter to a handler. Bodies are read on background
// goroutines; Settle waits for all of them. Responses arriving after Settle
// started are ignored until the next Capture.
type Listener struct {
	ctx     context.Context
	filter  string
	handler ResponseHandler
	logger  logger.Logger

	group    errgroup.Group
	attached sync.Once

	mu       sync.Mutex
	matched  int
	failed   int
	settling bool

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewListener creates a listener whose handlers run with ctx
func NewListener(ctx context.Context, filter string, handler ResponseHandler, log logger.Logger) *Listener {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Listener{
		ctx:     ctx,
		filter:  filter,
		handler: handler,
		logger:  log.WithField("component", "listener"),
		sleep:   retry.Wait,
		jitter:  scrollJitter,
	}
}

func scrollJitter() time.Duration {
	return 2*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
}

// Attach registers the listener on page. Repeated calls are no-ops.
func (l *Listener) Attach(page playwright.Page) {
	l.attached.Do(func() {
		page.OnResponse(func(resp playwright.Response) {
			l.observe(resp.URL(), resp.Body)
		})
	})
}

func (l *Listener) observe(url string, body func() ([]byte, error)) {
	if !strings.Contains(url, l.filter) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.settling {
		l.logger.WithField("url", url).Debug("ignoring response after settle")
		return
	}
	l.matched++

	l.group.Go(func() error {
		data, err := body()
		if err != nil {
			l.fail(url, err)
			return errs.NewTransportError(fmt.Sprintf("failed to read response body of %s", url), err)
		}
		if err := l.handler(l.ctx, url, data); err != nil {
			l.fail(url, err)
			return fmt.Errorf("response %s: %w", url, err)
		}
		return nil
	})
}

func (l *Listener) fail(url string, err error) {
	l.mu.Lock()
	l.failed++
	l.mu.Unlock()
	l.logger.WithError(err).WithField("url", url).Warn("failed to handle response")
}

// Settle blocks until every in-flight handler returned and reports the
// first failure
func (l *Listener) Settle() error {
	l.mu.Lock()
	l.settling = true
	l.mu.Unlock()
	return l.group.Wait()
}

// Stats returns how many responses matched and how many failed
func (l *Listener) Stats() (matched, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.matched, l.failed
}

// Capture opens target in a borrowed page, waits for the first responses,
// scrolls scrolls times to trigger more and settles the handlers
func (l *Listener) Capture(ctx context.Context, pages Borrower, target string, scrolls int, timeout time.Duration) error {
	l.mu.Lock()
	l.settling = false
	l.mu.Unlock()

	err := pages.Borrow(ctx, func(page playwright.Page) error {
		l.Attach(page)

		opts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateDomcontentloaded}
		if timeout > 0 {
			opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
		}
		if _, err := page.Goto(target, opts); err != nil {
			return errs.NewTransportError(fmt.Sprintf("failed to open %s", target), err)
		}

		if err := l.sleep(ctx, captureWait); err != nil {
			return err
		}
		for i := 0; i < scrolls; i++ {
			if _, err := page.Evaluate("window.scrollBy(0, window.innerHeight)"); err != nil {
				return fmt.Errorf("scroll %d: %w", i+1, err)
			}
			l.logger.DebugWithFields("scrolled", map[string]interface{}{"scroll": i + 1})
			if err := l.sleep(ctx, l.jitter()); err != nil {
				return err
			}
		}
		return nil
	})

	// handlers already started must finish even when navigation failed
	settleErr := l.Settle()
	if err != nil {
		return err
	}
	return settleErr
}
