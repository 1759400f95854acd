package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"time"

	"productsync/pkg/logger"
	"productsync/pkg/models"
)

const journalVersion = 1

// Entry is the last known outcome for one product
type Entry struct {
	RecordID   string        `json:"record_id"`
	Status     models.Status `json:"status"`
	ImageCount int           `json:"image_count"`
	Synced     bool          `json:"synced"`
	Error      string        `json:"error,omitempty"`
	SyncError  string        `json:"sync_error,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Totals summarizes the entries of a journal
type Totals struct {
	Success      int `json:"success"`
	Failed       int `json:"failed"`
	Errored      int `json:"errored"`
	SyncFailures int `json:"sync_failures"`
}

// Journal records the outcome of every item a run touched. Results are keyed
// by product id so a resumed run overwrites earlier attempts.
type Journal struct {
	RunID     string           `json:"run_id"`
	Table     string           `json:"table"`
	Results   map[string]Entry `json:"results"`
	Totals    Totals           `json:"totals"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Version   int              `json:"version"`
}

// Succeeded reports whether a product already finished successfully. A
// success whose table write failed still needs another run.
func (j *Journal) Succeeded(externalID string) bool {
	e, ok := j.Results[externalID]
	return ok && e.Status == models.StatusSuccess && e.SyncError == ""
}

func (j *Journal) recount() {
	var t Totals
	for _, e := range j.Results {
		switch e.Status {
		case models.StatusSuccess:
			t.Success++
		case models.StatusFailed:
			t.Failed++
		case models.StatusError:
			t.Errored++
		}
		if e.SyncError != "" {
			t.SyncFailures++
		}
	}
	j.Totals = t
}

// Manager owns one journal file. It is safe for concurrent use.
type Manager struct {
	path    string
	logger  logger.Logger
	now     func() time.Time
	mu      sync.Mutex
	journal *Journal
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewManager places the journal for name under the platform data directory
func NewManager(name string, log logger.Logger) (*Manager, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}

	journalsDir := filepath.Join(dataDir, "journals")
	if err := os.MkdirAll(journalsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journals directory: %w", err)
	}

	file := unsafeName.ReplaceAllString(name, "_") + ".journal.json"
	return NewManagerAt(filepath.Join(journalsDir, file), log), nil
}

// NewManagerAt uses an explicit journal path
func NewManagerAt(path string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{path: path, logger: log, now: time.Now}
}

// Path returns the journal file location
func (m *Manager) Path() string {
	return m.path
}

// Start begins journaling a run. With resume set an existing journal is
// continued under the new run id; otherwise it is replaced.
func (m *Manager) Start(runID, table string, resume bool) (*Journal, error) {
	var j *Journal
	if resume {
		existing, err := m.Load()
		if err != nil {
			return nil, err
		}
		j = existing
	}
	if j == nil {
		j = &Journal{
			Results:   make(map[string]Entry),
			CreatedAt: m.now(),
			Version:   journalVersion,
		}
	}
	j.RunID = runID
	j.Table = table

	m.mu.Lock()
	m.journal = j
	m.mu.Unlock()

	if err := m.Save(j); err != nil {
		return nil, fmt.Errorf("failed to save initial journal: %w", err)
	}

	m.logger.InfoWithFields("Journal started", map[string]interface{}{
		"run_id":  runID,
		"path":    m.path,
		"resumed": len(j.Results),
	})
	return j, nil
}

// Load reads the journal from disk. It returns nil, nil when none exists.
func (m *Manager) Load() (*Journal, error) {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	defer file.Close()

	var j Journal
	if err := json.NewDecoder(file).Decode(&j); err != nil {
		return nil, fmt.Errorf("failed to decode journal: %w", err)
	}
	if j.Results == nil {
		j.Results = make(map[string]Entry)
	}

	m.logger.DebugWithFields("Journal loaded", map[string]interface{}{
		"run_id":     j.RunID,
		"entries":    len(j.Results),
		"updated_at": j.UpdatedAt,
	})
	return &j, nil
}

// Record stores a finished item and saves the journal
func (m *Manager) Record(res models.SyncResult) error {
	m.mu.Lock()
	j := m.journal
	if j == nil {
		m.mu.Unlock()
		return fmt.Errorf("journal not started")
	}
	j.Results[res.ExternalID] = Entry{
		RecordID:   res.RecordID,
		Status:     res.Status,
		ImageCount: res.ImageCount,
		Synced:     res.Synced,
		Error:      res.ErrorDetail,
		SyncError:  res.SyncError,
		FinishedAt: m.now(),
	}
	m.mu.Unlock()

	return m.Save(j)
}

// Save writes the journal atomically
func (m *Manager) Save(j *Journal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j.recount()
	j.UpdatedAt = m.now()

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary journal file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(j); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode journal: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync journal file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close journal file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace journal file: %w", err)
	}

	m.logger.DebugWithFields("Journal saved", map[string]interface{}{
		"run_id":  j.RunID,
		"entries": len(j.Results),
	})
	return nil
}

// Delete removes the journal file
func (m *Manager) Delete() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete journal: %w", err)
	}
	m.logger.Info("Journal deleted")
	return nil
}

// Exists checks if a journal file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Pending drops items that already succeeded in j and returns how many were
// skipped. A nil journal keeps every item.
func Pending(j *Journal, items []models.WorkItem) ([]models.WorkItem, int) {
	if j == nil {
		return items, 0
	}
	out := make([]models.WorkItem, 0, len(items))
	for _, item := range items {
		if j.Succeeded(item.ExternalID) {
			continue
		}
		out = append(out, item)
	}
	return out, len(items) - len(out)
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "productsync")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "productsync")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "productsync")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "productsync")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
