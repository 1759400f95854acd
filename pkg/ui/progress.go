package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"productsync/pkg/models"
	"productsync/pkg/pipeline"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"
	barWidth      = 20
)

// RunProgress renders a one-line progress display from pipeline state
// transitions. Observe is safe to pass to Pipeline.SetObserver.
type RunProgress struct {
	mu      sync.Mutex
	printer *Printer
	total   int
	current string

	success int
	failed  int
	errored int

	startTime time.Time
	now       func() time.Time
}

// NewRunProgress creates a display for a run of total items
func NewRunProgress(p *Printer, total int) *RunProgress {
	return &RunProgress{
		printer:   p,
		total:     total,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Observe records one state transition and redraws the line
func (r *RunProgress) Observe(item models.WorkItem, state pipeline.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch state {
	case pipeline.StateScraping:
		r.current = item.ExternalID
	case pipeline.StateDone:
		r.success++
		r.current = ""
	case pipeline.StateFailed:
		r.failed++
		r.current = ""
	case pipeline.StateError:
		r.errored++
		r.current = ""
	default:
		return
	}

	if !r.printer.quiet {
		fmt.Fprintf(r.printer.out, "\r%s\r%s", strings.Repeat(" ", 100), r.line())
	}
}

// Finished returns the number of items that reached a terminal state
func (r *RunProgress) Finished() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished()
}

func (r *RunProgress) finished() int {
	return r.success + r.failed + r.errored
}

func (r *RunProgress) line() string {
	done := r.finished()
	filled := 0
	if r.total > 0 {
		filled = done * barWidth / r.total
	}
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)

	line := fmt.Sprintf("[%s] %d/%d • %s %d",
		bar, done, r.total, r.printer.Green("ok"), r.success)
	if r.failed > 0 {
		line += fmt.Sprintf(" • %s %d", r.printer.Yellow("failed"), r.failed)
	}
	if r.errored > 0 {
		line += fmt.Sprintf(" • %s %d", r.printer.Red("error"), r.errored)
	}
	line += " • " + r.eta()
	if r.current != "" {
		line += " • " + r.printer.Cyan(r.current)
	}
	return line
}

func (r *RunProgress) eta() string {
	done := r.finished()
	if done == 0 {
		return "calculating..."
	}
	elapsed := r.now().Sub(r.startTime)
	perItem := elapsed / time.Duration(done)
	return formatDuration(perItem * time.Duration(r.total-done))
}

// Complete prints the run summary
func (r *RunProgress) Complete(report *models.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if report == nil || r.printer.quiet {
		return
	}
	out := r.printer.out
	elapsed := r.now().Sub(r.startTime)

	fmt.Fprintf(out, "\n\n%s Processed %d products in %s\n",
		r.printer.Green("✓"), len(report.Results), formatDuration(elapsed))
	fmt.Fprintf(out, "  %s success %d, failed %d, error %d\n",
		r.printer.Dim("•"), report.Success, report.Failed, report.Errored)
	if report.SyncFailures > 0 {
		fmt.Fprintf(out, "  %s %d table updates failed\n", r.printer.Dim("•"), report.SyncFailures)
	}
	if report.Dropped > 0 {
		fmt.Fprintf(out, "  %s %d invalid items skipped\n", r.printer.Dim("•"), report.Dropped)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
