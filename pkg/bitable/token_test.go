package bitable

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "productsync/pkg/errors"
)

func TestCredentialValid(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cred := &Credential{Token: "t", IssuedAt: issued, TTL: 2 * time.Hour}

	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"fresh", 0, true},
		{"just inside margin", 2*time.Hour - SafetyMargin - time.Second, true},
		{"at margin", 2*time.Hour - SafetyMargin, false},
		{"expired", 3 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cred.Valid(issued.Add(tt.elapsed)))
		})
	}

	var nilCred *Credential
	assert.False(t, nilCred.Valid(issued))
	assert.False(t, (&Credential{IssuedAt: issued, TTL: time.Hour}).Valid(issued))
}

func TestTokenReuseWithinWindow(t *testing.T) {
	f := newFakeServer(t)
	c := f.client(t)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.Tokens().SetClock(func() time.Time { return now })

	table := TableRef{AppToken: "app", TableID: "tbl"}
	_, err := c.List(context.Background(), table, 10, "")
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	_, err = c.Update(context.Background(), table, "rec1", map[string]interface{}{"a": "b"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.exchanges.Load())
	for _, req := range f.recorded() {
		assert.Equal(t, "Bearer t-1", req.Auth)
	}
}

func TestTokenRefreshAfterExpiry(t *testing.T) {
	f := newFakeServer(t)
	c := f.client(t)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.Tokens().SetClock(func() time.Time { return now })

	table := TableRef{AppToken: "app", TableID: "tbl"}
	_, err := c.List(context.Background(), table, 10, "")
	require.NoError(t, err)

	// 7200s TTL minus the 60s margin
	now = now.Add(7140 * time.Second)
	_, err = c.List(context.Background(), table, 10, "")
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.exchanges.Load())
	reqs := f.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer t-1", reqs[0].Auth)
	assert.Equal(t, "Bearer t-2", reqs[1].Auth)
}

func TestTokenFailureNotCached(t *testing.T) {
	f := newFakeServer(t)
	f.setTokenCode(10014)
	c := f.client(t)

	_, err := c.Tokens().EnsureValid(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
	assert.Nil(t, c.Tokens().Current())

	f.setTokenCode(0)
	token, err := c.Tokens().EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t-2", token)
	assert.Equal(t, int32(2), f.exchanges.Load())
}

func TestTokenUnreachable(t *testing.T) {
	f := newFakeServer(t)
	c := f.client(t)
	f.server.Close()

	_, err := c.Tokens().EnsureValid(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
}

func TestTokenConcurrentCallersShareExchange(t *testing.T) {
	f := newFakeServer(t)
	c := f.client(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Tokens().EnsureValid(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.exchanges.Load())
}

func TestTokenMissingCredentials(t *testing.T) {
	f := newFakeServer(t)
	cache := NewTokenCache(f.client(t).http, "", "", nil)

	_, err := cache.EnsureValid(context.Background())
	assert.True(t, errs.IsAuth(err))
	assert.Equal(t, int32(0), f.exchanges.Load())
}
