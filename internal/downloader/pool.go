package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"productsync/pkg/logger"
	"productsync/pkg/ratelimit"
)

// ImageJob is one image of one product
type ImageJob struct {
	ExternalID string
	Index      int
	URL        string
	Filename   string
}

// ImageResult represents the result of a download job
type ImageResult struct {
	Job      ImageJob
	Success  bool
	Error    error
	Duration time.Duration
	Size     int
}

// ImageFetcher retrieves image bytes
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ImageStorage persists downloaded images
type ImageStorage interface {
	SaveImage(externalID, filename string, r io.Reader) error
}

// WorkerPool manages concurrent download workers. A pool is started once,
// fed jobs, and stopped; Stop waits for every submitted job.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan ImageJob
	resultQueue chan ImageResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     ImageFetcher
	storage     ImageStorage
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// NewWorkerPool creates a new download worker pool bound to ctx
func NewWorkerPool(
	ctx context.Context,
	numWorkers int,
	fetcher ImageFetcher,
	storage ImageStorage,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	if log == nil {
		log = logger.GetLogger()
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan ImageJob, numWorkers*2),
		resultQueue: make(chan ImageResult, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		storage:     storage,
		rateLimiter: rateLimiter,
		logger:      log,
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for workers to drain it, then closes Results
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Debug("Worker pool stopped")
}

// Submit adds a new download job to the queue
func (wp *WorkerPool) Submit(job ImageJob) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel for consuming download results
func (wp *WorkerPool) Results() <-chan ImageResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			return
		default:
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) processJob(job ImageJob, workerID int) ImageResult {
	start := time.Now()
	result := ImageResult{Job: job}
	log := wp.logger.WithFields(map[string]interface{}{
		"worker_id":   workerID,
		"external_id": job.ExternalID,
		"file":        job.Filename,
	})

	if wp.rateLimiter != nil {
		if err := wp.rateLimiter.Wait(wp.ctx); err != nil {
			result.Error = fmt.Errorf("rate limit wait: %w", err)
			result.Duration = time.Since(start)
			return result
		}
	}

	data, err := wp.fetcher.Fetch(wp.ctx, job.URL)
	if err != nil {
		result.Error = fmt.Errorf("download failed: %w", err)
		result.Duration = time.Since(start)
		log.WithError(err).Warn("Worker failed to download image")
		return result
	}
	result.Size = len(data)

	if err := wp.storage.SaveImage(job.ExternalID, job.Filename, bytes.NewReader(data)); err != nil {
		result.Error = fmt.Errorf("save failed: %w", err)
		result.Duration = time.Since(start)
		log.WithError(err).Error("Worker failed to save image")
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)
	log.DebugWithFields("Image downloaded", map[string]interface{}{
		"size":     result.Size,
		"duration": result.Duration,
	})
	return result
}

// Download runs jobs through a fresh pool and returns one result per job in
// job order. It returns once every job has finished.
func Download(
	ctx context.Context,
	numWorkers int,
	fetcher ImageFetcher,
	storage ImageStorage,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
	jobs []ImageJob,
) []ImageResult {
	queued := make([]ImageJob, len(jobs))
	results := make([]ImageResult, len(jobs))
	for i, job := range jobs {
		job.Index = i
		queued[i] = job
		results[i] = ImageResult{Job: job, Error: fmt.Errorf("download not attempted")}
	}

	pool := NewWorkerPool(ctx, numWorkers, fetcher, storage, rateLimiter, log)
	pool.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range pool.Results() {
			results[res.Job.Index] = res
		}
	}()

	for _, job := range queued {
		if err := pool.Submit(job); err != nil {
			results[job.Index].Error = err
			break
		}
	}

	pool.Stop()
	<-done
	return results
}
