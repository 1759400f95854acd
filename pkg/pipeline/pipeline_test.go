package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"productsync/pkg/bitable"
	"productsync/pkg/config"
	errs "productsync/pkg/errors"
	"productsync/pkg/extract"
	"productsync/pkg/logger"
	"productsync/pkg/models"
)

type scrapeOutcome struct {
	raw *extract.RawProduct
	err error
}

type fakeScraper struct {
	mu       sync.Mutex
	outcomes map[string]scrapeOutcome
	calls    []string
	hook     func(id string)
}

func (f *fakeScraper) Scrape(ctx context.Context, id string) (*extract.RawProduct, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	out, ok := f.outcomes[id]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return productWithImages(id, 1), nil
	}
	return out.raw, out.err
}

type updateCall struct {
	Table    bitable.TableRef
	RecordID string
	Fields   map[string]interface{}
}

type fakeWriter struct {
	mu    sync.Mutex
	calls []updateCall
	fail  map[string]error
}

func (w *fakeWriter) Update(ctx context.Context, table bitable.TableRef, recordID string, fields map[string]interface{}) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, updateCall{Table: table, RecordID: recordID, Fields: fields})
	if err := w.fail[recordID]; err != nil {
		return false, err
	}
	return true, nil
}

type fakeArtifacts struct {
	saved []string
	err   error
}

func (a *fakeArtifacts) Save(ctx context.Context, p *models.ExtractedProduct) error {
	a.saved = append(a.saved, p.ExternalID)
	return a.err
}

type sliceRecorder struct {
	results []models.SyncResult
}

func (r *sliceRecorder) Record(res models.SyncResult) error {
	r.results = append(r.results, res)
	return nil
}

func productWithImages(id string, n int) *extract.RawProduct {
	raw := &extract.RawProduct{
		ExternalID:  id,
		PageURL:     "https://shop.example.com/product/" + id,
		Title:       "Product " + id,
		Description: "Description of " + id,
	}
	for i := 0; i < n; i++ {
		raw.Images = append(raw.Images, extract.RawImage{URL: fmt.Sprintf("https://cdn.example.com/%s/%d.jpg", id, i)})
	}
	return raw
}

var testTable = bitable.TableRef{AppToken: "bascnApp", TableID: "tblItems"}

func testConfig() config.PipelineConfig {
	return config.DefaultConfig().Pipeline
}

// newTestPipeline returns a pipeline whose pacing is recorded instead of slept
func newTestPipeline(t *testing.T, s Scraper, log logger.Logger) (*Pipeline, *[]time.Duration) {
	t.Helper()
	if log == nil {
		log = logger.NewNopLogger()
	}
	p := New(testConfig(), s, log)
	var pauses []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return ctx.Err()
	}
	return p, &pauses
}

func TestScenarioSuccessWithSync(t *testing.T) {
	raw := &extract.RawProduct{
		ExternalID:  "PID1",
		PageURL:     "https://shop.example.com/product/PID1",
		Title:       "Ceramic Mug",
		Description: "Hand glazed mug",
		Images: []extract.RawImage{
			{URL: "https://cdn.example.com/m1.jpg", Kind: models.ImageMain},
			{URL: "https://cdn.example.com/m2.jpg", Kind: models.ImageMain},
			{URL: "https://cdn.example.com/s1~200:200.jpg", Label: "Blue", Kind: models.ImageVariant},
		},
	}
	scraper := &fakeScraper{outcomes: map[string]scrapeOutcome{"PID1": {raw: raw}}}
	writer := &fakeWriter{}
	p, _ := newTestPipeline(t, scraper, nil)
	p.SetSyncTarget(writer, testTable)

	report, err := p.Run(context.Background(), []models.WorkItem{{ExternalID: "PID1", RecordID: "RID1"}})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	assert.Equal(t, models.StatusSuccess, res.Status)
	require.NotNil(t, res.Extracted)
	assert.Len(t, res.Extracted.Images, 3)
	assert.Equal(t, "Ceramic Mug", res.Extracted.Title)
	assert.True(t, res.Synced)
	assert.Equal(t, 1, report.Success)

	require.Len(t, writer.calls, 1)
	call := writer.calls[0]
	assert.Equal(t, testTable, call.Table)
	assert.Equal(t, "RID1", call.RecordID)
	assert.Equal(t, map[string]interface{}{
		"product_desc":        "Hand glazed mug",
		"product_source_imgs": "https://cdn.example.com/m1.jpg;https://cdn.example.com/m2.jpg;https://cdn.example.com/s1~800:800.jpg",
	}, call.Fields)
}

func TestZeroConfigUsesDefaultFields(t *testing.T) {
	writer := &fakeWriter{}
	p := New(config.PipelineConfig{}, &fakeScraper{}, logger.NewNopLogger())
	var pauses []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	p.SetSyncTarget(writer, testTable)

	report, err := p.Run(context.Background(), []models.WorkItem{{ExternalID: "A", RecordID: "recA"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Success)

	require.Len(t, writer.calls, 1)
	assert.Equal(t, map[string]interface{}{
		"product_desc":        "Description of A",
		"product_source_imgs": "https://cdn.example.com/A/0.jpg",
	}, writer.calls[0].Fields)
	assert.Equal(t, []time.Duration{3 * time.Second}, pauses)
}

func TestScenarioZeroImagesSkipsUpdate(t *testing.T) {
	scraper := &fakeScraper{outcomes: map[string]scrapeOutcome{"PID2": {raw: productWithImages("PID2", 0)}}}
	writer := &fakeWriter{}
	p, _ := newTestPipeline(t, scraper, nil)
	p.SetSyncTarget(writer, testTable)

	report, err := p.Run(context.Background(), []models.WorkItem{{ExternalID: "PID2", RecordID: "RID2"}})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, 0, res.ImageCount)
	assert.False(t, res.Synced)
	assert.Empty(t, writer.calls)
	assert.Equal(t, 1, report.Failed)
}

func TestNoDataIsFailed(t *testing.T) {
	scraper := &fakeScraper{outcomes: map[string]scrapeOutcome{
		"a": {err: fmt.Errorf("page empty: %w", ErrNoData)},
		"b": {raw: nil, err: nil},
	}}
	p, _ := newTestPipeline(t, scraper, nil)

	report, err := p.Run(context.Background(), []models.WorkItem{
		{ExternalID: "a", RecordID: "r"},
		{ExternalID: "b", RecordID: "r"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, report.Results[0].Status)
	assert.Equal(t, models.StatusFailed, report.Results[1].Status)
	assert.Equal(t, 2, report.Failed)
}

func TestErrorIsolation(t *testing.T) {
	scraper := &fakeScraper{outcomes: map[string]scrapeOutcome{
		"1": {raw: productWithImages("1", 2)},
		"2": {err: errors.New("navigation timeout")},
		"3": {raw: productWithImages("3", 0)},
	}}
	writer := &fakeWriter{}
	p, _ := newTestPipeline(t, scraper, nil)
	p.SetSyncTarget(writer, testTable)

	report, err := p.Run(context.Background(), []models.WorkItem{
		{ExternalID: "1", RecordID: "r1"},
		{ExternalID: "2", RecordID: "r2"},
		{ExternalID: "3", RecordID: "r3"},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	assert.Equal(t, models.StatusSuccess, report.Results[0].Status)
	assert.Equal(t, models.StatusError, report.Results[1].Status)
	assert.Equal(t, "navigation timeout", report.Results[1].ErrorDetail)
	assert.Nil(t, report.Results[1].Extracted)
	assert.Equal(t, models.StatusFailed, report.Results[2].Status)
	assert.Equal(t, []string{"1", "2", "3"}, scraper.calls)
	assert.Len(t, writer.calls, 1)
	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Errored)
}

func TestExtractionErrorIsError(t *testing.T) {
	scraper := &fakeScraper{outcomes: map[string]scrapeOutcome{
		"x": {err: errs.NewExtractionError("bad payload", nil)},
	}}
	p, _ := newTestPipeline(t, scraper, nil)

	report, err := p.Run(context.Background(), []models.WorkItem{{ExternalID: "x", RecordID: "r"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, report.Results[0].Status)
	assert.Contains(t, report.Results[0].ErrorDetail, "bad payload")
}

func TestOrderPreservedAcrossBatches(t *testing.T) {
	outcomes := map[string]scrapeOutcome{}
	var items []models.WorkItem
	for i := 0; i < 23; i++ {
		id := "p" + strconv.Itoa(i)
		switch i % 3 {
		case 0:
			outcomes[id] = scrapeOutcome{raw: productWithImages(id, 2)}
		case 1:
			outcomes[id] = scrapeOutcome{err: errors.New("boom")}
		case 2:
			outcomes[id] = scrapeOutcome{err: ErrNoData}
		}
		items = append(items, models.WorkItem{ExternalID: id, RecordID: "r" + strconv.Itoa(i)})
	}
	p, pauses := newTestPipeline(t, &fakeScraper{outcomes: outcomes}, nil)

	report, err := p.Run(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, report.Results, len(items))
	for i, res := range report.Results {
		assert.Equal(t, items[i].ExternalID, res.ExternalID)
		assert.Equal(t, items[i].RecordID, res.RecordID)
	}
	assert.Equal(t, 8, report.Success)
	assert.Equal(t, 8, report.Errored)
	assert.Equal(t, 7, report.Failed)
	assert.Len(t, *pauses, 23)
	for _, d := range *pauses {
		assert.Equal(t, 3*time.Second, d)
	}
}

func TestValidationGate(t *testing.T) {
	tl := logger.NewTestLogger()
	scraper := &fakeScraper{}
	p, pauses := newTestPipeline(t, scraper, tl)

	report, err := p.Run(context.Background(), []models.WorkItem{
		{ExternalID: "", RecordID: "r0"},
		{ExternalID: " ok ", RecordID: " r1 "},
		{ExternalID: "no-record", RecordID: "  "},
	})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, "ok", report.Results[0].ExternalID)
	assert.Equal(t, "r1", report.Results[0].RecordID)
	assert.Equal(t, 2, report.Dropped)
	assert.Equal(t, 1, report.Success+report.Failed+report.Errored)
	assert.Equal(t, []string{"ok"}, scraper.calls)
	assert.Len(t, *pauses, 1)
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 2)
}

func TestEmptyRun(t *testing.T) {
	p, pauses := newTestPipeline(t, &fakeScraper{}, nil)
	report, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.NotNil(t, report.Results)
	assert.Empty(t, *pauses)
}

func TestSyncFailureDoesNotChangeStatus(t *testing.T) {
	writer := &fakeWriter{fail: map[string]error{"r1": errs.NewAPIError(1254043, "RecordIdNotFound")}}
	p, _ := newTestPipeline(t, &fakeScraper{}, nil)
	p.SetSyncTarget(writer, testTable)

	report, err := p.Run(context.Background(), []models.WorkItem{
		{ExternalID: "a", RecordID: "r1"},
		{ExternalID: "b", RecordID: "r2"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, report.Results[0].Status)
	assert.False(t, report.Results[0].Synced)
	assert.Contains(t, report.Results[0].SyncError, "RecordIdNotFound")
	assert.True(t, report.Results[1].Synced)
	assert.Equal(t, 2, report.Success)
	assert.Equal(t, 1, report.SyncFailures)
	assert.Len(t, writer.calls, 2)
}

func TestNoSyncTarget(t *testing.T) {
	var states []State
	p, _ := newTestPipeline(t, &fakeScraper{}, nil)
	p.SetObserver(func(item models.WorkItem, s State) { states = append(states, s) })

	report, err := p.Run(context.Background(), []models.WorkItem{{ExternalID: "a", RecordID: NoRecord}})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, report.Results[0].Status)
	assert.False(t, report.Results[0].Synced)
	assert.NotNil(t, report.Results[0].Extracted)
	assert.Equal(t, []State{StatePending, StateScraping, StateExtracted, StateDone}, states)
}

func TestIncompleteSyncTargetDisablesSync(t *testing.T) {
	writer := &fakeWriter{}
	p, _ := newTestPipeline(t, &fakeScraper{}, nil)
	p.SetSyncTarget(writer, bitable.TableRef{AppToken: "app"})

	_, err := p.Run(context.Background(), []models.WorkItem{{ExternalID: "a", RecordID: "r"}})
	require.NoError(t, err)
	assert.Empty(t, writer.calls)
}

func TestStateTransitions(t *testing.T) {
	scraper := &fakeScraper{outcomes: map[string]scrapeOutcome{
		"bad":  {err: errors.New("down")},
		"none": {err: ErrNoData},
	}}
	got := map[string][]State{}
	p, _ := newTestPipeline(t, scraper, nil)
	p.SetSyncTarget(&fakeWriter{}, testTable)
	p.SetObserver(func(item models.WorkItem, s State) {
		got[item.ExternalID] = append(got[item.ExternalID], s)
	})

	_, err := p.Run(context.Background(), []models.WorkItem{
		{ExternalID: "good", RecordID: "r"},
		{ExternalID: "bad", RecordID: "r"},
		{ExternalID: "none", RecordID: "r"},
	})
	require.NoError(t, err)

	assert.Equal(t, []State{StatePending, StateScraping, StateExtracted, StateSyncing, StateDone}, got["good"])
	assert.Equal(t, []State{StatePending, StateScraping, StateError}, got["bad"])
	assert.Equal(t, []State{StatePending, StateScraping, StateFailed}, got["none"])
}

func TestCancellationFinishesInFlightItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scraper := &fakeScraper{}
	scraper.hook = func(id string) {
		if id == "2" {
			cancel()
		}
	}
	writer := &fakeWriter{}
	p, _ := newTestPipeline(t, scraper, nil)
	p.SetSyncTarget(writer, testTable)

	report, err := p.Run(ctx, []models.WorkItem{
		{ExternalID: "1", RecordID: "r1"},
		{ExternalID: "2", RecordID: "r2"},
		{ExternalID: "3", RecordID: "r3"},
	})

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Results, 2)
	assert.Equal(t, models.StatusSuccess, report.Results[1].Status)
	assert.True(t, report.Results[1].Synced)
	assert.Equal(t, []string{"1", "2"}, scraper.calls)
	assert.Len(t, writer.calls, 2)
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scraper := &fakeScraper{}
	p, _ := newTestPipeline(t, scraper, nil)
	report, err := p.Run(ctx, []models.WorkItem{{ExternalID: "1", RecordID: "r1"}})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Results)
	assert.Empty(t, scraper.calls)
}

func TestArtifactsAndRecorder(t *testing.T) {
	scraper := &fakeScraper{outcomes: map[string]scrapeOutcome{"empty": {raw: productWithImages("empty", 0)}}}
	artifacts := &fakeArtifacts{err: errors.New("disk full")}
	rec := &sliceRecorder{}
	tl := logger.NewTestLogger()
	p, _ := newTestPipeline(t, scraper, tl)
	p.SetArtifactStore(artifacts)
	p.SetRecorder(rec)

	report, err := p.Run(context.Background(), []models.WorkItem{
		{ExternalID: "full", RecordID: "r1"},
		{ExternalID: "empty", RecordID: "r2"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"full"}, artifacts.saved)
	assert.Equal(t, models.StatusSuccess, report.Results[0].Status)
	assert.True(t, tl.HasMessage("failed to save artifacts"))
	assert.Equal(t, report.Results, rec.results)
}

func TestRunIDOnReport(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeScraper{}, nil)
	report, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, p.RunID())
	assert.Equal(t, p.RunID(), report.RunID)
}
