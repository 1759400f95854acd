package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"productsync/pkg/models"
	"productsync/pkg/pipeline"
)

func newTestProgress(total int) (*RunProgress, *bytes.Buffer, *time.Time) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	r := NewRunProgress(p, total)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	r.startTime = start
	r.now = func() time.Time { return now }
	return r, &buf, &now
}

func TestRunProgressObserve(t *testing.T) {
	r, buf, now := newTestProgress(4)

	r.Observe(models.WorkItem{ExternalID: "101"}, pipeline.StateScraping)
	assert.Contains(t, buf.String(), "[────────────────────] 0/4")
	assert.Contains(t, buf.String(), "calculating...")
	assert.Contains(t, buf.String(), "101")

	*now = now.Add(10 * time.Second)
	r.Observe(models.WorkItem{ExternalID: "101"}, pipeline.StateExtracted)
	r.Observe(models.WorkItem{ExternalID: "101"}, pipeline.StateDone)
	r.Observe(models.WorkItem{ExternalID: "102"}, pipeline.StateFailed)

	last := buf.String()[strings.LastIndex(buf.String(), "\r")+1:]
	assert.Equal(t, "[━━━━━━━━━━──────────] 2/4 • ok 1 • failed 1 • 10s", last)
	assert.Equal(t, 2, r.Finished())
}

func TestRunProgressQuiet(t *testing.T) {
	r, buf, _ := newTestProgress(1)
	r.printer.SetQuiet(true)

	r.Observe(models.WorkItem{ExternalID: "1"}, pipeline.StateError)
	r.Complete(&models.Report{Errored: 1})
	assert.Empty(t, buf.String())
	assert.Equal(t, 1, r.Finished())
}

func TestRunProgressComplete(t *testing.T) {
	r, buf, now := newTestProgress(3)
	*now = now.Add(90 * time.Second)

	r.Complete(&models.Report{
		Results:      make([]models.SyncResult, 3),
		Success:      1,
		Failed:       1,
		Errored:      1,
		SyncFailures: 1,
	})

	out := buf.String()
	assert.Contains(t, out, "Processed 3 products in 1m30s")
	assert.Contains(t, out, "success 1, failed 1, error 1")
	assert.Contains(t, out, "1 table updates failed")
	assert.NotContains(t, out, "invalid items")
}

func TestPrinterColor(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	assert.Equal(t, "x", p.Red("x"), "buffers are not terminals")

	p.SetColor(true)
	assert.Equal(t, "\033[31mx\033[0m", p.Red("x"))

	p.PrintInfo("Table", "tbl1")
	assert.Contains(t, buf.String(), "Table")

	buf.Reset()
	p.SetQuiet(true)
	p.PrintInfo("Table", "tbl1")
	p.PrintError("boom")
	assert.Equal(t, "\033[31mboom\033[0m\n", buf.String())
}
