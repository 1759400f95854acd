package bitable

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	errs "productsync/pkg/errors"
	"productsync/pkg/logger"
)

// SafetyMargin is how long before expiry a credential stops being used
const SafetyMargin = 60 * time.Second

// Credential is a tenant access token and its lifetime. It is replaced on
// refresh, never mutated.
type Credential struct {
	Token    string
	IssuedAt time.Time
	TTL      time.Duration
}

// Valid reports whether the credential can still be used at now
func (c *Credential) Valid(now time.Time) bool {
	if c == nil || c.Token == "" {
		return false
	}
	return now.Sub(c.IssuedAt) < c.TTL-SafetyMargin
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// TokenCache lazily exchanges app credentials for a tenant access token.
// There is no background refresh: the next caller that finds the credential
// stale performs the exchange while holding the lock.
type TokenCache struct {
	http      *resty.Client
	appID     string
	appSecret string
	logger    logger.Logger
	now       func() time.Time

	mu   sync.Mutex
	cred *Credential
}

// NewTokenCache creates a cache that exchanges through http
func NewTokenCache(http *resty.Client, appID, appSecret string, log logger.Logger) *TokenCache {
	if log == nil {
		log = logger.GetLogger()
	}
	return &TokenCache{
		http:      http,
		appID:     appID,
		appSecret: appSecret,
		logger:    log,
		now:       time.Now,
	}
}

// SetClock replaces the time source
func (t *TokenCache) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// EnsureValid returns a usable token, exchanging for a new one if needed
func (t *TokenCache) EnsureValid(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cred.Valid(t.now()) {
		return t.cred.Token, nil
	}

	cred, err := t.exchange(ctx)
	if err != nil {
		return "", err
	}
	t.cred = cred
	return cred.Token, nil
}

// Invalidate drops the cached credential so the next call exchanges again
func (t *TokenCache) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cred = nil
}

// Current returns the cached credential, or nil
func (t *TokenCache) Current() *Credential {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cred
}

func (t *TokenCache) exchange(ctx context.Context) (*Credential, error) {
	if t.appID == "" || t.appSecret == "" {
		return nil, errs.NewAuthError(0, "app id and app secret are required", nil)
	}

	issued := t.now()
	res, err := t.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"app_id":     t.appID,
			"app_secret": t.appSecret,
		}).
		Post(TokenEndpoint)
	if err != nil {
		t.logger.WithError(err).Warn("token exchange request failed")
		return nil, errs.NewAuthError(0, "token exchange request failed", err)
	}

	var out tokenResponse
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return nil, errs.NewAuthError(res.StatusCode(), "undecodable token response", err)
	}
	if out.Code != 0 {
		t.logger.WarnWithFields("token exchange rejected", map[string]interface{}{
			"code": out.Code,
			"msg":  out.Msg,
		})
		return nil, errs.NewAuthError(out.Code, out.Msg, nil)
	}
	if out.TenantAccessToken == "" {
		return nil, errs.NewAuthError(0, "token response missing tenant_access_token", nil)
	}

	t.logger.DebugWithFields("tenant access token refreshed", map[string]interface{}{
		"expire_seconds": out.Expire,
	})

	return &Credential{
		Token:    out.TenantAccessToken,
		IssuedAt: issued,
		TTL:      time.Duration(out.Expire) * time.Second,
	}, nil
}
