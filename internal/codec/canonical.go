// Package codec provides deterministic canonical serialization of structured
// values. Event hashes, signatures, and Merkle membership all depend on the
// canonical form being byte-identical for logically equal inputs, so the
// rules here are load-bearing for the entire audit pipeline:
//
//   - object keys are sorted lexicographically at every nesting level
//   - arrays preserve insertion order
//   - absent fields are omitted entirely
//   - explicit null is preserved as a literal
//   - primitives use their natural textual form
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/anvilchain/anvilchain/internal/errors"
)

// Canonicalize serializes v into its canonical byte form.
//
// The value is first reduced to the JSON data model (maps, slices, numbers,
// strings, booleans, null) honoring struct tags and omitempty, then re-emitted
// with sorted keys and no insignificant whitespace. Numbers pass through
// verbatim so no precision is lost in the round trip.
//
// Values that cannot be serialized (channels, functions, cycles) are
// programmer error and yield a CODEC error.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewCodecError("value is not canonicalizable", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, errors.NewCodecError("failed to reparse serialized value", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustCanonicalize is Canonicalize for values known to be serializable.
// It panics on failure, which per the error handling contract is the correct
// response to a malformed value reaching the hash path.
func MustCanonicalize(v interface{}) []byte {
	b, err := Canonicalize(v)
	if err != nil {
		panic(err)
	}
	return b
}

// writeCanonical emits one JSON value in canonical form.
func writeCanonical(buf *bytes.Buffer, v interface{}) error {
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
		return writeString(buf, val)

	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	default:
		return errors.NewCodecError(fmt.Sprintf("unsupported value type %T", v), nil)
	}

	return nil
}

// writeString emits a JSON-escaped string. encoding/json produces a stable
// escaping for any given input, which is all canonicalization requires.
func writeString(buf *bytes.Buffer, s string) error {
	escaped, err := json.Marshal(s)
	if err != nil {
		return errors.NewCodecError("failed to escape string", err)
	}
	buf.Write(escaped)
	return nil
}
