// Package canon produces RFC 8785 canonical JSON.
//
// Canonical output is what `threads events` prints and what scenario traces
// are compared on, so two stores holding the same history render it byte for
// byte identically. Compared with encoding/json:
//
//  1. Object keys are sorted by UTF-16 code units, not UTF-8 bytes.
//  2. Nothing is HTML escaped and U+2028/U+2029 are written literally.
//  3. Strings are NFC normalized.
//  4. Floats and null are rejected.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Marshal renders v as canonical JSON. v may be any value encoding/json
// accepts; it is first encoded with its usual JSON tags and then
// re-rendered canonically.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalJSON re-renders an encoded JSON document canonically.
func MarshalJSON(raw []byte) ([]byte, error) {
	generic, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	return Marshal(generic)
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("canon: null is forbidden")
	case string:
		writeString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case json.Number:
		n, err := strconv.ParseInt(string(val), 10, 64)
		if err != nil {
			return fmt.Errorf("canon: only integers are allowed, got %s", val)
		}
		buf.WriteString(strconv.FormatInt(n, 10))
	case float32, float64:
		return fmt.Errorf("canon: floats are forbidden: %v", val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		return writeObject(buf, val)
	default:
		generic, err := decodeGeneric(v)
		if err != nil {
			return err
		}
		return writeValue(buf, generic)
	}
	return nil
}

// decodeGeneric converts v into the values encoding/json decodes to.
func decodeGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: encode %T: %w", v, err)
	}
	return decodeJSON(raw)
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canon: trailing data after JSON value")
	}
	return generic, nil
}

func writeObject(buf *bytes.Buffer, obj map[string]any) error {
	// Keys are compared after normalization since that is what gets written.
	normalized := make(map[string]string, len(obj))
	keys := make([]string, 0, len(obj))
	for k := range obj {
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return fmt.Errorf("canon: duplicate key %q after normalization", nk)
		}
		normalized[nk] = k
		keys = append(keys, nk)
	}
	slices.SortFunc(keys, compareUTF16)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		if err := writeValue(buf, obj[normalized[k]]); err != nil {
			return fmt.Errorf("%q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeString escapes only the quote, the backslash and C0 controls.
func writeString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			fmt.Fprintf(buf, `\u%04x`, r)
		default:
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}

func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}
