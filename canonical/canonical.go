package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Stringify renders v as deterministic JSON: object keys are sorted
// lexicographically at every depth and numbers keep their source
// representation. Two logically equivalent JSON documents therefore always
// produce the same bytes, which is what idempotency fingerprints and A2A
// signatures are computed over.
func Stringify(v any) (string, error) {
	normalized, err := normalize(v)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, normalized); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Fingerprint is the SHA-256 hex digest of the canonical rendering of v.
func Fingerprint(v any) (string, error) {
	s, err := Stringify(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}

// normalize round-trips v through encoding/json so that structs, maps and
// json.RawMessage all collapse to the same generic shape. UseNumber keeps
// numeric literals verbatim.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	return out, nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case nil:
		buf.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			if err := writeValue(buf, value[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(value.String())
	case string:
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case bool:
		if value {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	default:
		return fmt.Errorf("canonical: unsupported value %T", v)
	}
	return nil
}
