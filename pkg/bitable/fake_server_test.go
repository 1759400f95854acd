package bitable

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"productsync/pkg/config"
	"productsync/pkg/logger"
)

// fakeServer simulates the token and records endpoints
type fakeServer struct {
	t         *testing.T
	server    *httptest.Server
	exchanges atomic.Int32
	expire    int
	tokenCode int

	mu       sync.Mutex
	token    string
	records  []Record
	pages    [][]interface{} // raw search pages; nil entry means items:null
	requests []recordedRequest
	failWith map[string]int // path suffix -> API code
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]interface{}
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{t: t, expire: 7200, token: "t-1", failWith: map[string]int{}}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeServer) client(t *testing.T) *Client {
	return NewClient(config.BitableConfig{
		BaseURL:   f.server.URL,
		AppID:     "cli_app",
		AppSecret: "secret",
		PageSize:  100,
		Timeout:   5 * time.Second,
	}, logger.NewNopLogger())
}

func (f *fakeServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == TokenEndpoint {
		n := f.exchanges.Add(1)
		f.mu.Lock()
		if f.tokenCode != 0 {
			code := f.tokenCode
			f.mu.Unlock()
			f.writeJSON(w, map[string]interface{}{"code": code, "msg": "app secret invalid"})
			return
		}
		f.token = "t-" + strconv.Itoa(int(n))
		token := f.token
		f.mu.Unlock()
		f.writeJSON(w, map[string]interface{}{
			"code":                0,
			"msg":                 "ok",
			"tenant_access_token": token,
			"expire":              f.expire,
		})
		return
	}

	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
	for suffix, code := range f.failWith {
		if strings.HasSuffix(r.URL.Path, suffix) {
			f.mu.Unlock()
			f.writeJSON(w, map[string]interface{}{"code": code, "msg": "rejected"})
			return
		}
	}
	f.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/records/search") && r.Method == http.MethodPost:
		f.handleSearch(w, r)
	case strings.HasSuffix(r.URL.Path, "/records") && r.Method == http.MethodGet:
		f.handleList(w, r)
	case strings.HasSuffix(r.URL.Path, "/records") && r.Method == http.MethodPost:
		f.writeJSON(w, map[string]interface{}{
			"code": 0,
			"data": map[string]interface{}{"record": map[string]interface{}{"record_id": "recNew", "fields": body["fields"]}},
		})
	case r.Method == http.MethodPut || r.Method == http.MethodDelete:
		f.writeJSON(w, map[string]interface{}{"code": 0, "msg": "success", "data": map[string]interface{}{}})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) handleList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	start, _ := strconv.Atoi(r.URL.Query().Get("page_token"))
	end := start + size
	if end > len(f.records) {
		end = len(f.records)
	}
	next := ""
	if end < len(f.records) {
		next = strconv.Itoa(end)
	}
	f.writeJSON(w, map[string]interface{}{
		"code": 0,
		"data": map[string]interface{}{
			"items":      f.records[start:end],
			"page_token": next,
			"has_more":   next != "",
			"total":      len(f.records),
		},
	})
}

func (f *fakeServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx, _ := strconv.Atoi(r.URL.Query().Get("page_token"))
	if idx >= len(f.pages) {
		f.writeJSON(w, map[string]interface{}{"code": 0, "data": map[string]interface{}{"items": []interface{}{}, "page_token": ""}})
		return
	}
	next := ""
	if idx+1 < len(f.pages) {
		next = strconv.Itoa(idx + 1)
	}
	var items interface{}
	if f.pages[idx] != nil {
		items = f.pages[idx]
	}
	f.writeJSON(w, map[string]interface{}{
		"code": 0,
		"data": map[string]interface{}{"items": items, "page_token": next, "has_more": next != ""},
	})
}

func (f *fakeServer) fail(suffix string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code == 0 {
		delete(f.failWith, suffix)
		return
	}
	f.failWith[suffix] = code
}

func (f *fakeServer) setTokenCode(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCode = code
}

func (f *fakeServer) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func makeItems(prefix string, n int) []interface{} {
	items := make([]interface{}, n)
	for i := range items {
		items[i] = map[string]interface{}{
			"record_id": prefix + strconv.Itoa(i),
			"fields":    map[string]interface{}{"product_id": strconv.Itoa(i)},
		}
	}
	return items
}
