package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	errs "productsync/pkg/errors"
	"productsync/pkg/models"
)

// noiseFields are dropped from exposed objects
var noiseFields = []string{"log_pb", "extra", "statusCode", "status_code", "status_msg", "hasMorePrevious"}

// Item is one decoded entry of an item_list response
type Item struct {
	// Index is the 1-based position in itemList
	Index int
	// Anchor is the first anchor with noise fields removed
	Anchor map[string]interface{}
	// Extra is the decoded extra payload of that anchor
	Extra map[string]interface{}
	// Raw is the extra object as sent, nested JSON strings left encoded
	Raw map[string]interface{}
}

// ItemListResult holds everything salvaged from one item_list response
type ItemListResult struct {
	// Meta is the top-level object without itemList and noise fields
	Meta    map[string]interface{}
	Items   []Item
	Skipped int
	Errors  []error
}

// ItemList decodes an item_list response body. Items without an anchor
// extra are skipped; items whose extra fails to decode are reported in
// Errors. Only a body that is not a JSON object fails the whole call.
func ItemList(body []byte) (*ItemListResult, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, errs.NewExtractionError("item_list body is not a JSON object", err)
	}

	res := &ItemListResult{Meta: make(map[string]interface{})}
	for k, raw := range top {
		if k == "itemList" || isNoise(k) {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err == nil {
			res.Meta[k] = v
		}
	}

	var list []json.RawMessage
	if raw, ok := top["itemList"]; ok {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, errs.NewExtractionError("itemList is not an array", err)
		}
	}

	for i, raw := range list {
		item, skip, err := decodeItem(i+1, raw)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, err)
		case skip:
			res.Skipped++
		default:
			res.Items = append(res.Items, item)
		}
	}
	return res, nil
}

func decodeItem(index int, raw json.RawMessage) (Item, bool, error) {
	var entry struct {
		Anchors []map[string]interface{} `json:"anchors"`
	}
	if err := unmarshalNumbers(raw, &entry); err != nil {
		return Item{}, false, itemError(index, "item is not an object", err)
	}
	if len(entry.Anchors) == 0 || entry.Anchors[0] == nil {
		return Item{}, true, nil
	}

	anchor := entry.Anchors[0]
	var decoded Decoded
	switch extra := anchor["extra"].(type) {
	case string:
		decoded = DecodeExtra(extra)
	case map[string]interface{}:
		decoded = decodeInner(extra)
	default:
		return Item{}, true, nil
	}
	if decoded.Kind != DecodeOK {
		return Item{}, false, itemError(index, "anchor extra "+decoded.Kind.String(), decoded.Err)
	}

	return Item{Index: index, Anchor: stripNoise(anchor), Extra: decoded.Value, Raw: decoded.Raw}, false, nil
}

func itemError(index int, msg string, cause error) error {
	return errs.NewExtractionError(fmt.Sprintf("item %d: %s", index, msg), cause)
}

func isNoise(key string) bool {
	for _, n := range noiseFields {
		if key == n {
			return true
		}
	}
	return false
}

func stripNoise(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if !isNoise(k) {
			out[k] = v
		}
	}
	return out
}

// AnchorProduct maps a decoded anchor extra onto an ExtractedProduct
func AnchorProduct(item Item) (*models.ExtractedProduct, error) {
	src := item.Extra
	// some anchors nest the product under product_info
	if info, ok := src["product_info"].(map[string]interface{}); ok {
		src = info
	}

	id := scalarString(src["product_id"])
	if id == "" {
		return nil, itemError(item.Index, "anchor has no product_id", nil)
	}
	title, _ := src["title"].(string)

	return Product(&RawProduct{
		ExternalID: id,
		Title:      title,
		Images:     ImagesFromValue(src["img"], models.ImageMain),
	})
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}
