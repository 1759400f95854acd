package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"productsync/pkg/bitable"
	"productsync/pkg/config"
	"productsync/pkg/extract"
	"productsync/pkg/logger"
	"productsync/pkg/models"
	"productsync/pkg/retry"
)

// ErrNoData is returned by a Scraper when the page loaded but held no product
var ErrNoData = errors.New("no product data found")

// Scraper fetches the raw payload for one product. It must return ErrNoData
// (possibly wrapped) when the target loaded but had nothing usable, and any
// other error when the target could not be loaded at all.
type Scraper interface {
	Scrape(ctx context.Context, externalID string) (*extract.RawProduct, error)
}

// TableWriter applies partial updates to table records
type TableWriter interface {
	Update(ctx context.Context, table bitable.TableRef, recordID string, fields map[string]interface{}) (bool, error)
}

// ArtifactStore persists a product's images and text locally
type ArtifactStore interface {
	Save(ctx context.Context, product *models.ExtractedProduct) error
}

// Recorder receives every result as soon as its item finishes
type Recorder interface {
	Record(result models.SyncResult) error
}

// State is a work item's position in the per-item state machine
type State string

const (
	StatePending   State = "pending"
	StateScraping  State = "scraping"
	StateExtracted State = "extracted"
	StateSyncing   State = "syncing"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateError     State = "error"
)

// Pipeline drives work items through scrape, extraction and sync. Items are
// processed one at a time in input order; a Pipeline serves a single run.
type Pipeline struct {
	cfg       config.PipelineConfig
	scraper   Scraper
	writer    TableWriter
	table     bitable.TableRef
	artifacts ArtifactStore
	recorder  Recorder
	observer  func(item models.WorkItem, state State)
	sleep     func(ctx context.Context, d time.Duration) error
	logger    logger.Logger
	runID     string
}

// New creates a pipeline. Sync is disabled until SetSyncTarget is called.
func New(cfg config.PipelineConfig, scraper Scraper, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetLogger()
	}
	cfg = withDefaults(cfg)
	runID := uuid.NewString()
	return &Pipeline{
		cfg:     cfg,
		scraper: scraper,
		sleep:   retry.Wait,
		logger:  log.WithField("run_id", runID),
		runID:   runID,
	}
}

// withDefaults fills unset values from the default configuration so a zero
// config never writes to a blank field name
func withDefaults(cfg config.PipelineConfig) config.PipelineConfig {
	def := config.DefaultConfig().Pipeline
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PacingInterval <= 0 {
		cfg.PacingInterval = def.PacingInterval
	}
	if cfg.ProductIDField == "" {
		cfg.ProductIDField = def.ProductIDField
	}
	if cfg.DescriptionField == "" {
		cfg.DescriptionField = def.DescriptionField
	}
	if cfg.ImagesField == "" {
		cfg.ImagesField = def.ImagesField
	}
	return cfg
}

// SetSyncTarget enables writing results back to table
func (p *Pipeline) SetSyncTarget(w TableWriter, table bitable.TableRef) {
	p.writer = w
	p.table = table
}

// SetArtifactStore enables local persistence of scraped products
func (p *Pipeline) SetArtifactStore(s ArtifactStore) {
	p.artifacts = s
}

// SetRecorder registers a sink that sees each result as it is produced
func (p *Pipeline) SetRecorder(r Recorder) {
	p.recorder = r
}

// SetObserver registers a callback for every state transition
func (p *Pipeline) SetObserver(fn func(item models.WorkItem, state State)) {
	p.observer = fn
}

// RunID identifies this run in logs and reports
func (p *Pipeline) RunID() string {
	return p.runID
}

func (p *Pipeline) syncEnabled() bool {
	return p.writer != nil && p.table.Validate() == nil
}

// Run processes items in batches. The report always covers every item that
// was started, in input order. When ctx is cancelled the item in flight is
// allowed to finish, no further item starts, and ctx.Err() is returned with
// the partial report.
func (p *Pipeline) Run(ctx context.Context, items []models.WorkItem) (*models.Report, error) {
	valid, dropped := p.validate(items)
	report := &models.Report{
		RunID:   p.runID,
		Results: make([]models.SyncResult, 0, len(valid)),
		Dropped: dropped,
	}

	size := p.cfg.BatchSize
	batches := (len(valid) + size - 1) / size
	p.logger.InfoWithFields("starting run", map[string]interface{}{
		"items":      len(valid),
		"dropped":    dropped,
		"batches":    batches,
		"batch_size": size,
		"sync":       p.syncEnabled(),
	})

	for start := 0; start < len(valid); start += size {
		end := start + size
		if end > len(valid) {
			end = len(valid)
		}
		batch := start/size + 1
		p.logger.InfoWithFields("processing batch", map[string]interface{}{
			"batch": batch,
			"of":    batches,
			"items": end - start,
		})

		for _, item := range valid[start:end] {
			if err := ctx.Err(); err != nil {
				p.logger.WarnWithFields("run cancelled", map[string]interface{}{
					"processed": len(report.Results),
					"remaining": len(valid) - len(report.Results),
				})
				return report, err
			}

			res := p.processItem(context.WithoutCancel(ctx), item)
			report.Add(res)
			if p.recorder != nil {
				if err := p.recorder.Record(res); err != nil {
					p.logger.WithError(err).Warn("failed to record result")
				}
			}

			// a cancelled pause is reported by the check before the next item
			_ = p.sleep(ctx, p.cfg.PacingInterval)
		}
	}

	p.logger.InfoWithFields("run complete", map[string]interface{}{
		"success":       report.Success,
		"failed":        report.Failed,
		"errored":       report.Errored,
		"sync_failures": report.SyncFailures,
		"dropped":       report.Dropped,
	})
	return report, nil
}

// validate drops items missing either identifier
func (p *Pipeline) validate(items []models.WorkItem) ([]models.WorkItem, int) {
	valid := make([]models.WorkItem, 0, len(items))
	dropped := 0
	for i, item := range items {
		item.ExternalID = strings.TrimSpace(item.ExternalID)
		item.RecordID = strings.TrimSpace(item.RecordID)
		if !item.Valid() {
			dropped++
			p.logger.WarnWithFields("dropping invalid work item", map[string]interface{}{
				"index":       i,
				"external_id": item.ExternalID,
				"record_id":   item.RecordID,
			})
			continue
		}
		valid = append(valid, item)
	}
	return valid, dropped
}

func (p *Pipeline) transition(item models.WorkItem, state State) {
	p.logger.DebugWithFields("item state", map[string]interface{}{
		"external_id": item.ExternalID,
		"state":       string(state),
	})
	if p.observer != nil {
		p.observer(item, state)
	}
}

func (p *Pipeline) processItem(ctx context.Context, item models.WorkItem) models.SyncResult {
	res := models.SyncResult{ExternalID: item.ExternalID, RecordID: item.RecordID}
	log := p.logger.WithFields(map[string]interface{}{
		"external_id": item.ExternalID,
		"record_id":   item.RecordID,
	})

	p.transition(item, StatePending)
	p.transition(item, StateScraping)

	raw, err := p.scraper.Scrape(ctx, item.ExternalID)
	if err == nil && raw == nil {
		err = ErrNoData
	}
	if err != nil {
		res.ErrorDetail = err.Error()
		if errors.Is(err, ErrNoData) {
			res.Status = models.StatusFailed
			log.Warn("no product data found")
			p.transition(item, StateFailed)
		} else {
			res.Status = models.StatusError
			log.WithError(err).Error("scrape failed")
			p.transition(item, StateError)
		}
		return res
	}

	payload := *raw
	if strings.TrimSpace(payload.ExternalID) == "" {
		payload.ExternalID = item.ExternalID
	}
	product, err := extract.Product(&payload)
	if err != nil {
		res.Status = models.StatusError
		res.ErrorDetail = err.Error()
		log.WithError(err).Error("extraction failed")
		p.transition(item, StateError)
		return res
	}

	res.Extracted = product
	res.ImageCount = len(product.Images)
	if res.ImageCount == 0 {
		res.Status = models.StatusFailed
		res.ErrorDetail = "no images found"
		log.Warn("no images found")
		p.transition(item, StateFailed)
		return res
	}

	res.Status = models.StatusSuccess
	p.transition(item, StateExtracted)
	log.InfoWithFields("product extracted", map[string]interface{}{
		"title":  product.Title,
		"images": res.ImageCount,
	})

	if p.artifacts != nil {
		if err := p.artifacts.Save(ctx, product); err != nil {
			log.WithError(err).Warn("failed to save artifacts")
		}
	}

	if p.syncEnabled() {
		p.transition(item, StateSyncing)
		p.sync(ctx, &res, product, log)
	}

	p.transition(item, StateDone)
	return res
}

// sync is best effort: the outcome is recorded but never changes Status
func (p *Pipeline) sync(ctx context.Context, res *models.SyncResult, product *models.ExtractedProduct, log logger.Logger) {
	fields := map[string]interface{}{
		p.cfg.DescriptionField: product.Description,
		p.cfg.ImagesField:      strings.Join(product.ImageURLs(), ";"),
	}

	ok, err := p.writer.Update(ctx, p.table, res.RecordID, fields)
	if err != nil {
		res.SyncError = err.Error()
		log.WithError(err).Warn("table update failed")
		return
	}
	res.Synced = ok
	log.Debug("table record updated")
}
