package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"productsync/pkg/bitable"
	"productsync/pkg/extract"
	"productsync/pkg/logger"
	"productsync/pkg/models"
)

// Field names written for every captured item
const (
	FieldExtraJSON = "extra_json"
	FieldItemIndex = "item_index"
	FieldTimestamp = "timestamp"
)

// RecordCreator appends records to a table
type RecordCreator interface {
	Create(ctx context.Context, table bitable.TableRef, fields map[string]interface{}) (string, error)
}

// ItemSink turns captured item_list responses into table records, one per
// decoded anchor. With no creator it only logs what it would write. Consume
// may be called from several goroutines.
type ItemSink struct {
	creator RecordCreator
	table   bitable.TableRef
	logger  logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	items    []extract.Item
	products []*models.ExtractedProduct
	created  int
	skipped  int
}

// NewItemSink creates a sink writing into table
func NewItemSink(creator RecordCreator, table bitable.TableRef, log logger.Logger) *ItemSink {
	if log == nil {
		log = logger.GetLogger()
	}
	return &ItemSink{
		creator: creator,
		table:   table,
		logger:  log.WithField("component", "item_sink"),
		now:     time.Now,
	}
}

// Consume decodes one response body and writes its items. Per-item failures
// are joined into the returned error; the remaining items are still written.
func (s *ItemSink) Consume(ctx context.Context, body []byte) error {
	res, err := extract.ItemList(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.items = append(s.items, res.Items...)
	s.skipped += res.Skipped
	s.mu.Unlock()

	for _, itemErr := range res.Errors {
		s.logger.WithError(itemErr).Warn("item could not be decoded")
	}

	var errs []error
	for _, item := range res.Items {
		s.addProduct(item)

		fields, err := s.itemFields(item)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if s.creator == nil {
			s.logger.InfoWithFields("captured item", map[string]interface{}{
				"item_index": item.Index,
				"extra":      fields[FieldExtraJSON],
			})
			continue
		}

		recordID, err := s.creator.Create(ctx, s.table, fields)
		if err != nil {
			s.logger.WithError(err).WithField("item_index", item.Index).Error("failed to create record")
			errs = append(errs, err)
			continue
		}

		s.mu.Lock()
		s.created++
		s.mu.Unlock()
		s.logger.DebugWithFields("record created", map[string]interface{}{
			"item_index": item.Index,
			"record_id":  recordID,
		})
	}
	return errors.Join(errs...)
}

// addProduct keeps the product an anchor describes. Anchors without a
// product id are still written as records.
func (s *ItemSink) addProduct(item extract.Item) {
	product, err := extract.AnchorProduct(item)
	if err != nil {
		s.logger.WithError(err).Debug("anchor does not describe a product")
		return
	}
	s.logger.DebugWithFields("anchor product", map[string]interface{}{
		"item_index": item.Index,
		"product_id": product.ExternalID,
		"title":      product.Title,
		"images":     len(product.Images),
	})

	s.mu.Lock()
	s.products = append(s.products, product)
	s.mu.Unlock()
}

func (s *ItemSink) itemFields(item extract.Item) (map[string]interface{}, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(item.Raw); err != nil {
		return nil, err
	}

	ts := float64(s.now().UnixMilli()) / 1000
	return map[string]interface{}{
		FieldExtraJSON: string(bytes.TrimSpace(buf.Bytes())),
		FieldItemIndex: strconv.Itoa(item.Index),
		FieldTimestamp: strconv.FormatFloat(ts, 'f', 3, 64),
	}, nil
}

// Items returns every decoded item seen so far
func (s *ItemSink) Items() []extract.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]extract.Item(nil), s.items...)
}

// Products returns the products described by the decoded anchors
func (s *ItemSink) Products() []*models.ExtractedProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.ExtractedProduct(nil), s.products...)
}

// Created returns the number of records written
func (s *ItemSink) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// Skipped returns the number of items that carried no anchor extra
func (s *ItemSink) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}
