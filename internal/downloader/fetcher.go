package downloader

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	errs "productsync/pkg/errors"
	"productsync/pkg/logger"
	"productsync/pkg/retry"
)

const defaultFetchTimeout = 30 * time.Second

// HTTPFetcher downloads image bytes, retrying transient failures
type HTTPFetcher struct {
	http   *resty.Client
	retry  *retry.Config
	logger logger.Logger
}

// NewHTTPFetcher creates a fetcher. A nil retry policy means one attempt.
func NewHTTPFetcher(timeout time.Duration, userAgent string, policy *retry.Config, log logger.Logger) *HTTPFetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	hc := resty.New().SetTimeout(timeout)
	if userAgent != "" {
		hc.SetHeader("User-Agent", userAgent)
	}
	return &HTTPFetcher{http: hc, retry: policy, logger: log}
}

// Fetch GETs url and returns the body. 404s fail at once; 429, 5xx and
// network errors are retried per the policy.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return retry.DoWithResult(ctx, f.retry, func() ([]byte, error) {
		resp, err := f.http.R().SetContext(ctx).Get(url)
		if err != nil {
			return nil, errs.NewTransportError("image request failed", err)
		}
		if !resp.IsSuccess() {
			return nil, errs.FromStatus(resp.StatusCode(), "image download failed")
		}
		body := resp.Body()
		if len(body) == 0 {
			return nil, errs.NewTransportError("empty image body", nil)
		}
		return body, nil
	})
}
