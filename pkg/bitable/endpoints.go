package bitable

import (
	"errors"
	"fmt"
	"net/url"
)

const (
	// DefaultBaseURL is the open platform API root
	DefaultBaseURL = "https://open.feishu.cn/open-apis"

	// TokenEndpoint exchanges app credentials for a tenant access token
	TokenEndpoint = "/auth/v3/tenant_access_token/internal"

	// DefaultPageSize is used when a caller passes a non-positive page size
	DefaultPageSize = 100

	// MaxPageSize is the largest page the records endpoints accept
	MaxPageSize = 500
)

// Codes the API returns when the bearer token is missing, expired or revoked
var invalidTokenCodes = map[int]bool{
	99991661: true,
	99991663: true,
	99991668: true,
}

// TableRef addresses one table inside a base
type TableRef struct {
	AppToken string
	TableID  string
}

// Validate checks that both identifiers are present
func (t TableRef) Validate() error {
	if t.AppToken == "" || t.TableID == "" {
		return errors.New("table reference requires app token and table id")
	}
	return nil
}

func (t TableRef) String() string {
	return t.AppToken + "/" + t.TableID
}

func recordsPath(t TableRef) string {
	return fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records",
		url.PathEscape(t.AppToken), url.PathEscape(t.TableID))
}

func recordPath(t TableRef, recordID string) string {
	return recordsPath(t) + "/" + url.PathEscape(recordID)
}

func searchPath(t TableRef) string {
	return recordsPath(t) + "/search"
}

func clampPageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}
