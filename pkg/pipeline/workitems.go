package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"productsync/pkg/bitable"
	"productsync/pkg/config"
	"productsync/pkg/models"
)

// NoRecord stands in for a record id when running without a table
const NoRecord = "-"

// TableQuerier searches table records
type TableQuerier interface {
	Query(ctx context.Context, table bitable.TableRef, filter bitable.Filter, getAll bool) ([]bitable.Record, error)
}

// LoadWorkItems reads a JSON array of {"product_id","record_id"} objects.
// Anything other than an array is an error. Elements that are not objects
// or lack either key are skipped and counted.
func LoadWorkItems(r io.Reader) ([]models.WorkItem, int, error) {
	var elems []json.RawMessage
	if err := json.NewDecoder(r).Decode(&elems); err != nil {
		return nil, 0, fmt.Errorf("work items must be a JSON array: %w", err)
	}

	items := make([]models.WorkItem, 0, len(elems))
	skipped := 0
	for _, raw := range elems {
		var obj map[string]interface{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil || obj == nil {
			skipped++
			continue
		}
		pid, okP := idValue(obj["product_id"])
		rid, okR := idValue(obj["record_id"])
		if !okP || !okR {
			skipped++
			continue
		}
		items = append(items, models.WorkItem{ExternalID: pid, RecordID: rid})
	}
	return items, skipped, nil
}

func idValue(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}

// ReadIDList reads one product id per line, ignoring blank lines. Record ids
// come from recordIDs; with a nil map every item gets NoRecord.
func ReadIDList(r io.Reader, recordIDs map[string]string) ([]models.WorkItem, error) {
	var items []models.WorkItem
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		rid := NoRecord
		if recordIDs != nil {
			rid = recordIDs[id]
		}
		items = append(items, models.WorkItem{ExternalID: id, RecordID: rid})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read id list: %w", err)
	}
	return items, nil
}

// PendingWorkItems finds records whose images field is still empty and
// turns them into work items. Records missing either id are skipped. On a
// query failure the items gathered so far are returned with the error.
func PendingWorkItems(ctx context.Context, q TableQuerier, table bitable.TableRef, cfg config.PipelineConfig) ([]models.WorkItem, error) {
	cfg = withDefaults(cfg)
	records, err := q.Query(ctx, table, bitable.And(bitable.IsEmpty(cfg.ImagesField)), true)
	return recordsToItems(records, cfg.ProductIDField), err
}

// RecordIndex maps product ids to record ids
func RecordIndex(records []bitable.Record, productIDField string) map[string]string {
	index := make(map[string]string, len(records))
	for _, item := range recordsToItems(records, productIDField) {
		if _, exists := index[item.ExternalID]; !exists {
			index[item.ExternalID] = item.RecordID
		}
	}
	return index
}

func recordsToItems(records []bitable.Record, productIDField string) []models.WorkItem {
	items := make([]models.WorkItem, 0, len(records))
	for _, rec := range records {
		pid := rec.Text(productIDField)
		rid := rec.ID()
		if pid == "" || rid == "" {
			continue
		}
		items = append(items, models.WorkItem{ExternalID: pid, RecordID: rid})
	}
	return items
}
