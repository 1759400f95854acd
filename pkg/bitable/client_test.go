package bitable

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "productsync/pkg/errors"
)

var testTable = TableRef{AppToken: "bascnApp", TableID: "tblItems"}

func TestQueryPaginatesToExhaustion(t *testing.T) {
	f := newFakeServer(t)
	f.pages = [][]interface{}{makeItems("a", 100), makeItems("b", 100), makeItems("c", 37)}
	c := f.client(t)

	records, err := c.Query(context.Background(), testTable, And(IsEmpty("product_source_imgs")), true)
	require.NoError(t, err)
	assert.Len(t, records, 237)
	assert.Equal(t, "a0", records[0].ID())
	assert.Equal(t, "c36", records[236].ID())

	reqs := f.recorded()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[0].Path, "/bitable/v1/apps/bascnApp/tables/tblItems/records/search")
	assert.NotContains(t, reqs[0].Query, "page_token")
	assert.Contains(t, reqs[2].Query, "page_token=2")
}

func TestQuerySinglePageWithoutGetAll(t *testing.T) {
	f := newFakeServer(t)
	f.pages = [][]interface{}{makeItems("a", 100), makeItems("b", 100)}
	c := f.client(t)

	records, err := c.Query(context.Background(), testTable, And(), false)
	require.NoError(t, err)
	assert.Len(t, records, 100)
	assert.Len(t, f.recorded(), 1)
}

func TestQueryNullItems(t *testing.T) {
	f := newFakeServer(t)
	f.pages = [][]interface{}{nil}
	c := f.client(t)

	records, err := c.Query(context.Background(), testTable, And(IsEmpty("x")), true)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQueryNullItemsMidway(t *testing.T) {
	f := newFakeServer(t)
	f.pages = [][]interface{}{makeItems("a", 3), nil, makeItems("c", 2)}
	c := f.client(t)

	records, err := c.Query(context.Background(), testTable, And(), true)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Len(t, f.recorded(), 2)
}

func TestQueryFilterBody(t *testing.T) {
	f := newFakeServer(t)
	f.pages = [][]interface{}{makeItems("a", 1)}
	c := f.client(t)

	_, err := c.Query(context.Background(), testTable, And(IsEmpty("product_source_imgs"), Is("status", "new")), true)
	require.NoError(t, err)

	body := f.recorded()[0].Body
	filter := body["filter"].(map[string]interface{})
	assert.Equal(t, "and", filter["conjunction"])
	conds := filter["conditions"].([]interface{})
	require.Len(t, conds, 2)
	first := conds[0].(map[string]interface{})
	assert.Equal(t, "product_source_imgs", first["field_name"])
	assert.Equal(t, "isEmpty", first["operator"])
	assert.Equal(t, []interface{}{}, first["value"])
}

func TestListAllFollowsPageTokens(t *testing.T) {
	f := newFakeServer(t)
	for i := 0; i < 25; i++ {
		f.records = append(f.records, Record{RecordID: "rec" + strconv.Itoa(i)})
	}
	c := f.client(t)

	records, err := c.ListAll(context.Background(), testTable, 10)
	require.NoError(t, err)
	assert.Len(t, records, 25)
	assert.Len(t, f.recorded(), 3)
}

func TestListViewSendsViewID(t *testing.T) {
	f := newFakeServer(t)
	f.records = []Record{{RecordID: "rec1"}}
	c := f.client(t)

	page, err := c.ListView(context.Background(), testTable, "vewMain", 20, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Empty(t, page.PageToken)
	assert.Contains(t, f.recorded()[0].Query, "view_id=vewMain")
}

func TestListAllFirstPageFailure(t *testing.T) {
	f := newFakeServer(t)
	for i := 0; i < 15; i++ {
		f.records = append(f.records, Record{RecordID: "rec" + strconv.Itoa(i)})
	}
	c := f.client(t)

	records, err := c.ListAll(context.Background(), testTable, 10)
	require.NoError(t, err)
	require.Len(t, records, 15)

	f.fail("/records", 1254000)
	records, err = c.ListAll(context.Background(), testTable, 10)
	assert.Empty(t, records)
	assert.True(t, errs.IsAPI(err))
}

func TestPaginateReturnsPartialOnFailure(t *testing.T) {
	calls := 0
	records, err := paginate(func(token string) (*Page, error) {
		calls++
		if token == "p2" {
			return nil, errs.NewTransportError("page 2", nil)
		}
		return &Page{Items: []Record{{RecordID: "r1"}, {RecordID: "r2"}}, PageToken: "p2"}, nil
	}, true)

	assert.True(t, errs.IsTransport(err))
	assert.Len(t, records, 2)
	assert.Equal(t, 2, calls)
}

func TestPaginateStopsOnRepeatedToken(t *testing.T) {
	calls := 0
	records, err := paginate(func(token string) (*Page, error) {
		calls++
		return &Page{Items: []Record{{RecordID: "r"}}, PageToken: "same"}, nil
	}, true)

	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 2, calls)
}

func TestCreateUpdateDelete(t *testing.T) {
	f := newFakeServer(t)
	c := f.client(t)
	ctx := context.Background()

	id, err := c.Create(ctx, testTable, map[string]interface{}{"product_id": "1729", "unknown_col": 3})
	require.NoError(t, err)
	assert.Equal(t, "recNew", id)

	ok, err := c.Update(ctx, testTable, "recNew", map[string]interface{}{"product_desc": "desc"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Delete(ctx, testTable, "recNew")
	require.NoError(t, err)
	assert.True(t, ok)

	reqs := f.recorded()
	require.Len(t, reqs, 3)
	assert.Equal(t, "POST", reqs[0].Method)
	assert.Equal(t, map[string]interface{}{"product_id": "1729", "unknown_col": float64(3)}, reqs[0].Body["fields"])
	assert.Equal(t, "PUT", reqs[1].Method)
	assert.Equal(t, "/bitable/v1/apps/bascnApp/tables/tblItems/records/recNew", reqs[1].Path)
	assert.Equal(t, map[string]interface{}{"product_desc": "desc"}, reqs[1].Body["fields"])
	assert.Equal(t, "DELETE", reqs[2].Method)
}

func TestCreateLegacyRecordIDShape(t *testing.T) {
	var rd recordData
	require.NoError(t, json.Unmarshal([]byte(`{"record_id":"recFlat"}`), &rd))
	assert.Nil(t, rd.Record)
	assert.Equal(t, "recFlat", rd.RecordID)
}

func TestAPIErrorSurfaced(t *testing.T) {
	f := newFakeServer(t)
	f.fail("/records/recBad", 1254043)
	c := f.client(t)

	ok, err := c.Update(context.Background(), testTable, "recBad", map[string]interface{}{"a": 1})
	assert.False(t, ok)
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeAPI, apiErr.Type)
	assert.Equal(t, 1254043, apiErr.Code)
	assert.Equal(t, "rejected", apiErr.Message)
}

func TestInvalidTokenCodeInvalidatesCache(t *testing.T) {
	f := newFakeServer(t)
	f.fail("/records/recX", 99991663)
	c := f.client(t)

	_, err := c.Delete(context.Background(), testTable, "recX")
	assert.True(t, errs.IsAPI(err))
	assert.Nil(t, c.Tokens().Current())

	f.fail("/records/recX", 0)
	_, err = c.Delete(context.Background(), testTable, "recX")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.exchanges.Load())
}

func TestTransportError(t *testing.T) {
	f := newFakeServer(t)
	c := f.client(t)
	_, err := c.Tokens().EnsureValid(context.Background())
	require.NoError(t, err)

	f.server.Close()
	_, err = c.List(context.Background(), testTable, 10, "")
	require.Error(t, err)
	assert.True(t, errs.IsTransport(err))
}

func TestInvalidTableRef(t *testing.T) {
	f := newFakeServer(t)
	c := f.client(t)

	_, err := c.Query(context.Background(), TableRef{AppToken: "app"}, And(), true)
	assert.Error(t, err)
	_, err = c.Update(context.Background(), testTable, "", nil)
	assert.Error(t, err)
	assert.Equal(t, int32(0), f.exchanges.Load())
}
