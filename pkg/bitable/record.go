package bitable

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Record is one row of a table. Fields are whatever the server sent; no
// field is assumed to be present.
type Record struct {
	RecordID string                 `json:"record_id,omitempty"`
	LegacyID string                 `json:"id,omitempty"`
	Fields   map[string]interface{} `json:"fields"`
}

// ID returns record_id, falling back to id
func (r Record) ID() string {
	if r.RecordID != "" {
		return r.RecordID
	}
	return r.LegacyID
}

// Text returns the flattened text value of a field
func (r Record) Text(name string) string {
	return FieldText(r.Fields, name)
}

// FieldText flattens a field value into a string. Text fields may arrive as
// a plain string or as a list of rich-text segments like [{"text":"123"}].
func FieldText(fields map[string]interface{}, name string) string {
	if fields == nil {
		return ""
	}
	v, ok := fields[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(flatten(v))
}

func flatten(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case map[string]interface{}:
		if text, ok := val["text"]; ok {
			return flatten(text)
		}
		if link, ok := val["link"]; ok {
			return flatten(link)
		}
		return ""
	case []interface{}:
		var sb strings.Builder
		plain := make([]string, 0, len(val))
		for _, elem := range val {
			if m, ok := elem.(map[string]interface{}); ok {
				sb.WriteString(flatten(m))
				continue
			}
			if s := flatten(elem); s != "" {
				plain = append(plain, s)
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
		return strings.Join(plain, ",")
	default:
		return ""
	}
}
