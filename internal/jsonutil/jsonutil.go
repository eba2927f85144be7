// Package jsonutil provides shared helpers for picking apart loosely shaped
// JSON: one-line object decoding, scalar extraction from raw values, and
// key order inspection.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrNotObject is returned when a JSON value was expected to be an object.
var ErrNotObject = errors.New("json value is not an object")

// UnmarshalWithContext unmarshals JSON data into v and wraps any error
// with the provided context message.
func UnmarshalWithContext(data []byte, v interface{}, context string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", context, err)
	}
	return nil
}

// UnmarshalObjectLine decodes a single line that must hold one JSON object.
// Scalars, arrays and empty lines are rejected so callers can fall back to
// treating the line as plain text.
func UnmarshalObjectLine(line []byte, v interface{}) error {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty JSON line")
	}
	if trimmed[0] != '{' {
		return ErrNotObject
	}
	return UnmarshalWithContext(trimmed, v, "decode JSON line")
}

// IsNull reports whether raw is absent or the JSON literal null.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// String returns raw as a Go string when it holds a JSON string.
func String(raw json.RawMessage) (string, bool) {
	if IsNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// StringOr returns raw as a string, or defaultValue when raw is not a string.
func StringOr(raw json.RawMessage, defaultValue string) string {
	if s, ok := String(raw); ok {
		return s
	}
	return defaultValue
}

// ScalarText renders a JSON scalar the way it would print: strings unquoted,
// numbers verbatim, booleans as true/false. Missing or null values and
// composite values yield defaultValue.
func ScalarText(raw json.RawMessage, defaultValue string) string {
	if IsNull(raw) {
		return defaultValue
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return defaultValue
	}
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return defaultValue
	}
}

// Truthy reports whether raw holds a value that is present and non-empty:
// null, false, 0, "", {} and [] are all falsy.
func Truthy(raw json.RawMessage) bool {
	if IsNull(raw) {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		return false
	}
}

// ObjectKeys returns the keys of a JSON object in document order.
func ObjectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrNotObject
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key token %v", tok)
		}
		keys = append(keys, key)

		// Skip the value without decoding it into anything.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
