package models

import "strings"

// WorkItem pairs a product to scrape with the table record it syncs into
type WorkItem struct {
	ExternalID string `json:"product_id"`
	RecordID   string `json:"record_id"`
}

// Valid reports whether both identifiers are present
func (w WorkItem) Valid() bool {
	return strings.TrimSpace(w.ExternalID) != "" && strings.TrimSpace(w.RecordID) != ""
}

type ImageKind string

const (
	ImageMain    ImageKind = "main"
	ImageVariant ImageKind = "variant"
)

type Image struct {
	URL   string    `json:"url"`
	Label string    `json:"label,omitempty"`
	Kind  ImageKind `json:"kind"`
}

// ExtractedProduct is the normalized result of one scrape
type ExtractedProduct struct {
	ExternalID  string  `json:"external_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Images      []Image `json:"images"`
}

// ImageURLs returns the image URLs in order
func (p *ExtractedProduct) ImageURLs() []string {
	if p == nil {
		return nil
	}
	urls := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		urls = append(urls, img.URL)
	}
	return urls
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
)

// SyncResult is the outcome for one WorkItem. Synced and SyncError describe
// the best-effort table write and never change Status.
type SyncResult struct {
	ExternalID  string            `json:"external_id"`
	RecordID    string            `json:"record_id"`
	Status      Status            `json:"status"`
	Extracted   *ExtractedProduct `json:"extracted,omitempty"`
	ErrorDetail string            `json:"error_detail,omitempty"`
	ImageCount  int               `json:"image_count"`
	Synced      bool              `json:"synced"`
	SyncError   string            `json:"sync_error,omitempty"`
}

// Report is the ordered output of a pipeline run
type Report struct {
	RunID        string       `json:"run_id"`
	Results      []SyncResult `json:"results"`
	Success      int          `json:"success"`
	Failed       int          `json:"failed"`
	Errored      int          `json:"errored"`
	SyncFailures int          `json:"sync_failures"`
	Dropped      int          `json:"dropped"`
}

// Add appends a result and updates the tallies
func (r *Report) Add(res SyncResult) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case StatusSuccess:
		r.Success++
	case StatusFailed:
		r.Failed++
	case StatusError:
		r.Errored++
	}
	if res.SyncError != "" {
		r.SyncFailures++
	}
}
