// Package canonicaljson implements the Matrix canonical JSON encoding used as
// the signing input for signed JSON objects (device keys, one-time keys).
//
// This is a from-scratch implementation rather than a reach for an existing
// JSON library: the Matrix spec requires byte-wise key ordering, no
// whitespace, and UTF-8 passthrough, which standard library json.Marshal does
// not guarantee (map key order is alphabetic but whitespace and escaping
// differ, and neither golang.org/x/... nor anything in this module's
// dependency graph implements the Matrix canonicalization rules).
package canonicaljson

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Marshal produces the canonical JSON encoding of the given value, which must
// be JSON-decodable (map[string]interface{}, []interface{}, or a JSON
// primitive). Object members are sorted by key using a byte-wise comparison,
// all insignificant whitespace is removed, and UTF-8 strings are passed
// through without escaping beyond what JSON requires.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalFromJSON re-canonicalizes an already-encoded JSON document, which is
// the common case here: callers build up device-key/one-time-key objects with
// encoding/json or github.com/tidwall/sjson and only need the canonical form
// at signing time.
func MarshalFromJSON(raw []byte) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("canonicaljson: input is not valid JSON")
	}
	var v interface{}
	if err := unmarshalOrdered(gjson.ParseBytes(raw), &v); err != nil {
		return nil, err
	}
	return Marshal(v)
}

// StripSignatures returns raw with the top-level "signatures" member removed,
// used to reconstruct the exact bytes that were signed when verifying.
func StripSignatures(raw []byte) ([]byte, error) {
	out, err := sjson.DeleteBytes(raw, "signatures")
	if err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalOrdered(r gjson.Result, out *interface{}) error {
	switch r.Type {
	case gjson.Null:
		*out = nil
	case gjson.False:
		*out = false
	case gjson.True:
		*out = true
	case gjson.Number:
		*out = r.Num
	case gjson.String:
		*out = r.Str
	case gjson.JSON:
		if r.IsArray() {
			var arr []interface{}
			var outerErr error
			r.ForEach(func(_, v gjson.Result) bool {
				var elem interface{}
				if err := unmarshalOrdered(v, &elem); err != nil {
					outerErr = err
					return false
				}
				arr = append(arr, elem)
				return true
			})
			if outerErr != nil {
				return outerErr
			}
			*out = arr
		} else {
			obj := map[string]interface{}{}
			var outerErr error
			r.ForEach(func(k, v gjson.Result) bool {
				var elem interface{}
				if err := unmarshalOrdered(v, &elem); err != nil {
					outerErr = err
					return false
				}
				obj[k.Str] = elem
				return true
			})
			if outerErr != nil {
				return outerErr
			}
			*out = obj
		}
	}
	return nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case float64:
		buf.WriteString(formatNumber(val))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case string:
		encodeString(buf, val)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicaljson: unsupported type %T", v)
	}
	return nil
}

// formatNumber renders a float64 as a JSON number using the Matrix spec's
// integer-vs-float presentation rule: values with no fractional part are
// written without a decimal point so "1.0" canonicalizes to "1".
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// encodeString writes s as a minimal JSON string literal, escaping only the
// characters JSON requires (quote, backslash, and control characters) and
// passing UTF-8 bytes through unescaped.
func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}
