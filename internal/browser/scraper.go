package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"productsync/pkg/config"
	errs "productsync/pkg/errors"
	"productsync/pkg/extract"
	"productsync/pkg/logger"
	"productsync/pkg/pipeline"
	"productsync/pkg/retry"
)

// Borrower hands out exclusive use of a browser page
type Borrower interface {
	Borrow(ctx context.Context, fn func(page playwright.Page) error) error
}

// ProductScraper loads product pages in a borrowed browser page and parses
// them. It implements pipeline.Scraper.
type ProductScraper struct {
	pages  Borrower
	cfg    config.BrowserConfig
	logger logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ pipeline.Scraper = (*ProductScraper)(nil)

// NewProductScraper creates a scraper over pages
func NewProductScraper(pages Borrower, cfg config.BrowserConfig, log logger.Logger) *ProductScraper {
	if log == nil {
		log = logger.GetLogger()
	}
	return &ProductScraper{
		pages:  pages,
		cfg:    cfg,
		logger: log.WithField("component", "product_scraper"),
		sleep:  retry.Wait,
	}
}

// ProductURL fills the {id} placeholder of template
func ProductURL(template, externalID string) string {
	return strings.ReplaceAll(template, "{id}", url.PathEscape(externalID))
}

// Scrape loads one product page. Navigation failures are returned as
// transport errors; a page without any product content yields
// pipeline.ErrNoData.
func (s *ProductScraper) Scrape(ctx context.Context, externalID string) (*extract.RawProduct, error) {
	target := ProductURL(s.cfg.ProductURLTemplate, externalID)
	log := s.logger.WithFields(map[string]interface{}{
		"product_id": externalID,
		"url":        target,
	})

	var raw *extract.RawProduct
	err := s.pages.Borrow(ctx, func(page playwright.Page) error {
		var err error
		raw, err = s.scrapePage(ctx, page, target, log)
		return err
	})
	if err != nil {
		return nil, err
	}

	raw.ExternalID = externalID
	if IsEmpty(raw) {
		return nil, fmt.Errorf("product %s: %w", externalID, pipeline.ErrNoData)
	}

	log.DebugWithFields("product page parsed", map[string]interface{}{
		"images": len(raw.Images),
	})
	return raw, nil
}

func (s *ProductScraper) scrapePage(ctx context.Context, page playwright.Page, target string, log logger.Logger) (*extract.RawProduct, error) {
	if _, err := page.Goto(target, s.gotoOptions()); err != nil {
		return nil, errs.NewTransportError(fmt.Sprintf("failed to open %s", target), err)
	}

	if err := s.passSecurityCheck(ctx, page, log); err != nil {
		return nil, err
	}

	if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
		return nil, err
	}

	html, err := page.Content()
	if err != nil {
		return nil, errs.NewTransportError("failed to read page content", err)
	}
	return ParseProductPage(target, html)
}

// passSecurityCheck waits once for a bot check to clear (manually or on its
// own) and reloads the page. A check still present after the reload is left
// for the parser to come up empty on.
func (s *ProductScraper) passSecurityCheck(ctx context.Context, page playwright.Page, log logger.Logger) error {
	if !s.securityCheckShown(page) {
		return nil
	}

	log.WarnWithFields("security check detected, waiting", map[string]interface{}{
		"wait": s.cfg.SecurityCheckWait.String(),
	})
	if err := s.sleep(ctx, s.cfg.SecurityCheckWait); err != nil {
		return err
	}

	if _, err := page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   s.timeoutMillis(),
	}); err != nil {
		return errs.NewTransportError("failed to reload after security check", err)
	}

	if s.securityCheckShown(page) {
		log.Warn("security check still present after reload")
	}
	return nil
}

func (s *ProductScraper) securityCheckShown(page playwright.Page) bool {
	title, err := page.Title()
	if err != nil {
		return false
	}
	html, err := page.Content()
	if err != nil {
		return strings.Contains(title, securityCheckTitle)
	}
	return IsSecurityCheck(title, html)
}

func (s *ProductScraper) gotoOptions() playwright.PageGotoOptions {
	return playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   s.timeoutMillis(),
	}
}

func (s *ProductScraper) timeoutMillis() *float64 {
	if s.cfg.NavigationTimeout <= 0 {
		return nil
	}
	return playwright.Float(float64(s.cfg.NavigationTimeout.Milliseconds()))
}
