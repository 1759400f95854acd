package auth

import (
	"os"
	"time"
)

const (
	EnvAppID     = "PRODUCTSYNC_APP_ID"
	EnvAppSecret = "PRODUCTSYNC_APP_SECRET"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *AppCredential) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment credential. An empty appID matches
// whatever app id the environment holds.
func (e *EnvironmentStore) Retrieve(appID string) (*AppCredential, error) {
	envID := os.Getenv(EnvAppID)
	secret := os.Getenv(EnvAppSecret)
	if envID == "" || secret == "" {
		return nil, ErrCredentialsNotFound
	}
	if appID != "" && appID != envID {
		return nil, ErrCredentialsNotFound
	}

	return &AppCredential{
		AppID:        envID,
		AppSecret:    secret,
		LastModified: time.Time{},
	}, nil
}

// List returns a single credential if the environment variables are set
func (e *EnvironmentStore) List() ([]*AppCredential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*AppCredential{}, nil
	}
	return []*AppCredential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(appID string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist for appID
func (e *EnvironmentStore) Exists(appID string) bool {
	_, err := e.Retrieve(appID)
	return err == nil
}
