package bitable

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"productsync/pkg/config"
	errs "productsync/pkg/errors"
	"productsync/pkg/logger"
)

// Client performs record operations against the table API. Every call
// obtains a token from the TokenCache first. Failures are returned as
// *errors.Error values and are never retried here.
type Client struct {
	http     *resty.Client
	tokens   *TokenCache
	pageSize int
	logger   logger.Logger
}

// Page is one page of records
type Page struct {
	Items     []Record
	PageToken string
	HasMore   bool
	Total     int
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type pageData struct {
	Items     []Record `json:"items"`
	PageToken string   `json:"page_token"`
	HasMore   bool     `json:"has_more"`
	Total     int      `json:"total"`
}

type recordData struct {
	Record   *Record `json:"record"`
	RecordID string  `json:"record_id"`
}

// NewClient creates a table API client from cfg
func NewClient(cfg config.BitableConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json; charset=utf-8")

	return &Client{
		http:     hc,
		tokens:   NewTokenCache(hc, cfg.AppID, cfg.AppSecret, log),
		pageSize: clampPageSize(cfg.PageSize),
		logger:   log,
	}
}

// Tokens exposes the client's token cache
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

// do sends one request and unwraps the {code,msg,data} envelope
func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body interface{}) (json.RawMessage, error) {
	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	res, err := req.Execute(method, path)
	duration := time.Since(start)
	if err != nil {
		c.logger.ErrorWithFields("table API request failed", map[string]interface{}{
			"method":   method,
			"path":     path,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.NewTransportError(fmt.Sprintf("%s %s", method, path), err)
	}

	c.logger.DebugWithFields("table API request completed", map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   res.StatusCode(),
		"duration": duration,
	})

	var env envelope
	if err := json.Unmarshal(res.Body(), &env); err != nil {
		cause := error(errs.FromStatus(res.StatusCode(), res.Status()))
		if !res.IsError() {
			cause = err
		}
		return nil, errs.NewTransportError(fmt.Sprintf("%s %s: undecodable response", method, path), cause)
	}
	if env.Code != 0 {
		if invalidTokenCodes[env.Code] {
			c.tokens.Invalidate()
		}
		return nil, errs.NewAPIError(env.Code, env.Msg)
	}
	return env.Data, nil
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.NewTransportError("undecodable data payload", err)
	}
	return nil
}

func pageQuery(pageSize int, pageToken, viewID string) map[string]string {
	q := map[string]string{"page_size": strconv.Itoa(clampPageSize(pageSize))}
	if pageToken != "" {
		q["page_token"] = pageToken
	}
	if viewID != "" {
		q["view_id"] = viewID
	}
	return q
}

func (c *Client) listPage(ctx context.Context, table TableRef, viewID string, pageSize int, pageToken string) (*Page, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	data, err := c.do(ctx, http.MethodGet, recordsPath(table), pageQuery(pageSize, pageToken, viewID), nil)
	if err != nil {
		return nil, err
	}
	var pd pageData
	if err := decodeData(data, &pd); err != nil {
		return nil, err
	}
	return &Page{Items: pd.Items, PageToken: pd.PageToken, HasMore: pd.HasMore, Total: pd.Total}, nil
}

// List fetches a single page of records
func (c *Client) List(ctx context.Context, table TableRef, pageSize int, pageToken string) (*Page, error) {
	return c.listPage(ctx, table, "", pageSize, pageToken)
}

// ListView fetches a single page of the records visible in a view
func (c *Client) ListView(ctx context.Context, table TableRef, viewID string, pageSize int, pageToken string) (*Page, error) {
	return c.listPage(ctx, table, viewID, pageSize, pageToken)
}

// ListAll follows page tokens until the table is exhausted. On a page
// failure the records gathered so far are returned along with the error.
func (c *Client) ListAll(ctx context.Context, table TableRef, pageSize int) ([]Record, error) {
	return paginate(func(token string) (*Page, error) {
		return c.List(ctx, table, pageSize, token)
	}, true)
}

// Query searches records matching filter. With getAll it paginates to
// exhaustion; a page with items:null counts as an empty page.
func (c *Client) Query(ctx context.Context, table TableRef, filter Filter, getAll bool) ([]Record, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	body := map[string]interface{}{"filter": filter}
	return paginate(func(token string) (*Page, error) {
		data, err := c.do(ctx, http.MethodPost, searchPath(table), pageQuery(c.pageSize, token, ""), body)
		if err != nil {
			return nil, err
		}
		var pd pageData
		if err := decodeData(data, &pd); err != nil {
			return nil, err
		}
		return &Page{Items: pd.Items, PageToken: pd.PageToken, HasMore: pd.HasMore, Total: pd.Total}, nil
	}, getAll)
}

// paginate stops on an empty page token, an empty page, or a token the
// server hands back unchanged
func paginate(fetch func(token string) (*Page, error), all bool) ([]Record, error) {
	var (
		records []Record
		token   string
	)
	for {
		page, err := fetch(token)
		if err != nil {
			return records, err
		}
		records = append(records, page.Items...)
		if !all || page.PageToken == "" || len(page.Items) == 0 || page.PageToken == token {
			return records, nil
		}
		token = page.PageToken
	}
}

// Create inserts a record and returns its id. Field names are not checked
// against the table schema.
func (c *Client) Create(ctx context.Context, table TableRef, fields map[string]interface{}) (string, error) {
	if err := table.Validate(); err != nil {
		return "", err
	}
	data, err := c.do(ctx, http.MethodPost, recordsPath(table), nil, map[string]interface{}{"fields": fields})
	if err != nil {
		return "", err
	}
	var rd recordData
	if err := decodeData(data, &rd); err != nil {
		return "", err
	}
	if rd.Record != nil && rd.Record.ID() != "" {
		return rd.Record.ID(), nil
	}
	if rd.RecordID != "" {
		return rd.RecordID, nil
	}
	return "", &errs.Error{Type: errs.ErrorTypeUnknown, Message: "create response missing record id"}
}

// Update writes only the given fields; fields not present are left untouched
func (c *Client) Update(ctx context.Context, table TableRef, recordID string, fields map[string]interface{}) (bool, error) {
	if err := table.Validate(); err != nil {
		return false, err
	}
	if recordID == "" {
		return false, fmt.Errorf("record id is required")
	}
	if _, err := c.do(ctx, http.MethodPut, recordPath(table, recordID), nil, map[string]interface{}{"fields": fields}); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a record
func (c *Client) Delete(ctx context.Context, table TableRef, recordID string) (bool, error) {
	if err := table.Validate(); err != nil {
		return false, err
	}
	if recordID == "" {
		return false, fmt.Errorf("record id is required")
	}
	if _, err := c.do(ctx, http.MethodDelete, recordPath(table, recordID), nil, nil); err != nil {
		return false, err
	}
	return true, nil
}
