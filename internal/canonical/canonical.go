// Package canonical renders values as deterministic JSON bytes.
//
// The output is the hashing substrate for the whole audit trail: the
// same logical value must always produce identical bytes, on every
// machine and in every release. Rules:
//
//   - object keys sorted lexicographically (byte order)
//   - separators "," and ":" with no whitespace
//   - strings as raw UTF-8; only quote, backslash and control
//     characters are escaped
//   - numbers emitted verbatim from their shortest decoded form
//   - null object members dropped (null and absent are equivalent;
//     empty strings and empty containers are significant)
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal renders v as canonical JSON bytes.
// Values that encoding/json cannot represent (NaN, Inf, channels,
// funcs, cycles) are rejected with an error; silently skipping them
// would change the hash.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize:\n%w", err)
	}

	// Reparse with number preservation so numeric text survives
	// verbatim instead of round-tripping through float64.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("reparse canonical input:\n%w", err)
	}

	var buf bytes.Buffer
	if err := appendValue(&buf, tree); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// appendValue writes the canonical form of v to buf.
func appendValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		appendString(buf, val)
	case []any:
		return appendArray(buf, val)
	case map[string]any:
		return appendObject(buf, val)
	default:
		return fmt.Errorf("unsupported canonical value type: %T", v)
	}

	return nil
}

// appendArray writes a JSON array. Null elements are kept: inside an
// array a null carries positional meaning, unlike an object member.
func appendArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}

		if err := appendValue(buf, elem); err != nil {
			return err
		}
	}

	buf.WriteByte(']')

	return nil
}

// appendObject writes a JSON object with sorted keys, dropping null
// members.
func appendObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')

	first := true
	for _, k := range keys {
		if obj[k] == nil {
			continue
		}

		if !first {
			buf.WriteByte(',')
		}
		first = false

		appendString(buf, k)
		buf.WriteByte(':')

		if err := appendValue(buf, obj[k]); err != nil {
			return err
		}
	}

	buf.WriteByte('}')

	return nil
}

// appendString writes a JSON string with minimal escaping.
// Multi-byte UTF-8 sequences pass through untouched; continuation
// bytes are >= 0x80, so byte-wise scanning is safe.
func appendString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, c)
			} else {
				buf.WriteByte(c)
			}
		}
	}

	buf.WriteByte('"')
}
