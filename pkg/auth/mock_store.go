package auth

import (
	"sync"
)

// MockStore is an in-memory CredentialStore with error injection
type MockStore struct {
	creds map[string]*AppCredential
	mu    sync.RWMutex

	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

// NewMockStore creates a new mock credential store
func NewMockStore() *MockStore {
	return &MockStore{creds: make(map[string]*AppCredential)}
}

func (m *MockStore) Store(cred *AppCredential) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if cred == nil || cred.AppID == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	m.creds[cred.AppID] = &c
	return nil
}

func (m *MockStore) Retrieve(appID string) (*AppCredential, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}
	if appID == "" {
		return nil, ErrInvalidCredentials
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, exists := m.creds[appID]
	if !exists {
		return nil, ErrCredentialsNotFound
	}
	c := *cred
	return &c, nil
}

func (m *MockStore) List() ([]*AppCredential, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	creds := make([]*AppCredential, 0, len(m.creds))
	for _, cred := range m.creds {
		c := *cred
		creds = append(creds, &c)
	}
	return creds, nil
}

func (m *MockStore) Delete(appID string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	if appID == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.creds[appID]; !exists {
		return ErrCredentialsNotFound
	}
	delete(m.creds, appID)
	return nil
}

func (m *MockStore) Exists(appID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.creds[appID]
	return exists
}

// Count returns the number of stored credentials
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.creds)
}

// NewMockManager creates a Manager over a single mock store
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores(store), store
}
