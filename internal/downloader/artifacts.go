package downloader

import (
	"context"
	"errors"
	"fmt"

	"productsync/pkg/config"
	"productsync/pkg/logger"
	"productsync/pkg/models"
	"productsync/pkg/ratelimit"
	"productsync/pkg/retry"
	"productsync/pkg/storage"
)

// Artifacts writes a product's text, image index and images to disk
type Artifacts struct {
	store      *storage.Manager
	fetcher    ImageFetcher
	limiter    ratelimit.Limiter
	concurrent int
	logger     logger.Logger
}

// NewArtifacts combines a storage manager with a download pool
func NewArtifacts(store *storage.Manager, fetcher ImageFetcher, limiter ratelimit.Limiter, concurrent int, log logger.Logger) *Artifacts {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Artifacts{
		store:      store,
		fetcher:    fetcher,
		limiter:    limiter,
		concurrent: concurrent,
		logger:     log,
	}
}

// FromConfig builds the artifact store described by cfg.Download
func FromConfig(cfg *config.Config, log logger.Logger) (*Artifacts, error) {
	store, err := storage.NewManager(cfg.Download.Folder)
	if err != nil {
		return nil, err
	}
	fetcher := NewHTTPFetcher(cfg.Download.Timeout, cfg.Browser.UserAgent, retry.FromConfig(cfg.Retry, log), log)

	var limiter ratelimit.Limiter
	if cfg.Download.RequestsPerMinute > 0 {
		limiter = ratelimit.PerMinute(cfg.Download.RequestsPerMinute)
	}
	return NewArtifacts(store, fetcher, limiter, cfg.Download.Concurrent, log), nil
}

// Save stores everything known about product. Every image is attempted;
// the returned error joins the failures.
func (a *Artifacts) Save(ctx context.Context, product *models.ExtractedProduct) error {
	if product == nil {
		return fmt.Errorf("nil product")
	}
	id := product.ExternalID
	log := a.logger.WithField("external_id", id)

	var failures []error
	if err := a.store.SaveText(id, storage.TitleFile, product.Title); err != nil {
		failures = append(failures, err)
	}
	if err := a.store.SaveText(id, storage.DescriptionFile, product.Description); err != nil {
		failures = append(failures, err)
	}
	if err := a.store.SaveImageIndex(id, product.Images); err != nil {
		failures = append(failures, err)
	}

	jobs := make([]ImageJob, len(product.Images))
	for i, img := range product.Images {
		jobs[i] = ImageJob{
			ExternalID: id,
			URL:        img.URL,
			Filename:   storage.ImageFilename(i, img),
		}
	}

	downloaded := 0
	for _, res := range Download(ctx, a.concurrent, a.fetcher, a.store, a.limiter, log, jobs) {
		if res.Success {
			downloaded++
			continue
		}
		failures = append(failures, fmt.Errorf("%s: %w", res.Job.Filename, res.Error))
	}

	log.InfoWithFields("Artifacts saved", map[string]interface{}{
		"images":     len(jobs),
		"downloaded": downloaded,
		"failed":     len(jobs) - downloaded,
	})
	return errors.Join(failures...)
}
