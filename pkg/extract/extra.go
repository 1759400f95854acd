package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DecodeKind tags the outcome of DecodeExtra
type DecodeKind int

const (
	DecodeOK DecodeKind = iota
	// MalformedOuter means the extra string itself is not a JSON object
	MalformedOuter
	// MalformedInner means a nested string field looked like JSON but did not decode
	MalformedInner
)

func (k DecodeKind) String() string {
	switch k {
	case DecodeOK:
		return "ok"
	case MalformedOuter:
		return "malformed_outer"
	case MalformedInner:
		return "malformed_inner"
	default:
		return fmt.Sprintf("DecodeKind(%d)", int(k))
	}
}

// Decoded is the tagged result of DecodeExtra. Value is set only for
// DecodeOK. Raw is the outer object with nested strings untouched; it is set
// whenever the outer stage succeeded.
type Decoded struct {
	Kind  DecodeKind
	Value map[string]interface{}
	Raw   map[string]interface{}
	Err   error
}

// DecodeExtra decodes a double-encoded extra field. The outer stage parses
// the string into an object. The inner stage parses every string field that
// looks like a JSON object or array; plain strings are left alone.
func DecodeExtra(s string) Decoded {
	var outer map[string]interface{}
	if err := unmarshalNumbers([]byte(s), &outer); err != nil {
		return Decoded{Kind: MalformedOuter, Err: err}
	}
	if outer == nil {
		return Decoded{Kind: MalformedOuter, Err: fmt.Errorf("extra is null")}
	}
	return decodeInner(outer)
}

func decodeInner(outer map[string]interface{}) Decoded {
	// sorted so the reported field is stable
	keys := make([]string, 0, len(outer))
	for k := range outer {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	value := make(map[string]interface{}, len(outer))
	for _, k := range keys {
		v := outer[k]
		str, ok := v.(string)
		if !ok || !looksLikeJSON(str) {
			value[k] = v
			continue
		}
		var inner interface{}
		if err := unmarshalNumbers([]byte(str), &inner); err != nil {
			return Decoded{Kind: MalformedInner, Raw: outer, Err: fmt.Errorf("field %q: %w", k, err)}
		}
		value[k] = inner
	}
	return Decoded{Kind: DecodeOK, Value: value, Raw: outer}
}

// unmarshalNumbers keeps numbers as json.Number so long ids survive
func unmarshalNumbers(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	return (s[0] == '{' && s[len(s)-1] == '}') || (s[0] == '[' && s[len(s)-1] == ']')
}
