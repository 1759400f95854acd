package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"productsync/pkg/config"
)

// AppCredential is the app identity used for the tenant token exchange
type AppCredential struct {
	AppID        string    `json:"app_id"`
	AppSecret    string    `json:"app_secret"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves the credential for its app id
	Store(cred *AppCredential) error

	// Retrieve gets the credential for a specific app id
	Retrieve(appID string) (*AppCredential, error)

	// List returns all stored credentials
	List() ([]*AppCredential, error)

	// Delete removes the credential for a specific app id
	Delete(appID string) error

	// Exists checks if a credential exists for an app id
	Exists(appID string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager trying the system keyring, then
// an encrypted file, then the environment
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over explicit stores, tried in order
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the credential using the first store that accepts it
func (m *Manager) Store(cred *AppCredential) error {
	if cred == nil || cred.AppID == "" {
		return errors.New("app id is required")
	}
	if cred.AppSecret == "" {
		return errors.New("app secret is required")
	}

	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(cred)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets the credential from the first store that has it
func (m *Manager) Retrieve(appID string) (*AppCredential, error) {
	for _, store := range m.stores {
		if cred, err := store.Retrieve(appID); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("%w for app: %s", ErrCredentialsNotFound, appID)
}

// RetrieveDefault returns the most recently modified stored credential
func (m *Manager) RetrieveDefault() (*AppCredential, error) {
	creds, err := m.List()
	if err == nil && len(creds) > 0 {
		return creds[0], nil
	}
	return nil, ErrCredentialsNotFound
}

// List returns credentials from all stores, newest first, one per app id
func (m *Manager) List() ([]*AppCredential, error) {
	byApp := make(map[string]*AppCredential)

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			if existing, ok := byApp[cred.AppID]; !ok || cred.LastModified.After(existing.LastModified) {
				byApp[cred.AppID] = cred
			}
		}
	}

	result := make([]*AppCredential, 0, len(byApp))
	for _, cred := range byApp {
		result = append(result, cred)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastModified.Equal(result[j].LastModified) {
			return result[i].LastModified.After(result[j].LastModified)
		}
		return result[i].AppID < result[j].AppID
	})
	return result, nil
}

// Delete removes the credential from all stores
func (m *Manager) Delete(appID string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(appID); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for app: %s", ErrCredentialsNotFound, appID)
	}
	return nil
}

// Fill completes cfg's app identity from stored credentials. An app id in
// cfg selects that credential; otherwise the newest one is used. Values
// already present in cfg win.
func (m *Manager) Fill(cfg *config.BitableConfig) error {
	if cfg.AppID != "" && cfg.AppSecret != "" {
		return nil
	}

	var cred *AppCredential
	var err error
	if cfg.AppID != "" {
		cred, err = m.Retrieve(cfg.AppID)
	} else {
		cred, err = m.RetrieveDefault()
	}
	if err != nil {
		return err
	}

	if cfg.AppID == "" {
		cfg.AppID = cred.AppID
	}
	cfg.AppSecret = cred.AppSecret
	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "productsync")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "productsync")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "productsync")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "productsync")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// Sanitize returns a copy with the secret masked
func Sanitize(cred *AppCredential) *AppCredential {
	if cred == nil {
		return nil
	}
	return &AppCredential{
		AppID:        cred.AppID,
		AppSecret:    maskString(cred.AppSecret),
		LastModified: cred.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
