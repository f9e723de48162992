// Package canon is the single point of conversion between in-memory
// documents and their canonical wire bytes. Every hash and
// every signature in this repo is computed over bytes produced here.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal renders v (any JSON-marshalable value) into its canonical form:
// sorted object keys at every nesting level, no insignificant whitespace,
// UTF-8 bytes. encoding/json's own map-key ordering is not relied upon —
// the value tree is walked and re-emitted explicitly so the sort-at-every-
// level guarantee holds regardless of how v was constructed.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal input: %w", err)
	}
	var tree any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canon: decode input: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, fmt.Errorf("canon: encode canonical: %w", err)
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool, json.Number, string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canon: unsupported value type %T", v)
	}
}

// StripPrefixedFields returns a copy of v's canonical-form map with any
// top-level-or-nested object key starting with "_" removed, matching the
// leaf-hashing rule that internal-only fields never affect a document's
// hash. v must already be the result of unmarshaling canonical or ordinary
// JSON into a generic any tree (map[string]any / []any / scalars).
func StripPrefixedFields(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if len(k) > 0 && k[0] == '_' {
				continue
			}
			out[k] = StripPrefixedFields(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = StripPrefixedFields(elem)
		}
		return out
	default:
		return t
	}
}

// ToTree decodes v (a JSON-marshalable Go value) into the generic any tree
// StripPrefixedFields and writeCanonical operate on.
func ToTree(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// LeafHash computes a Merkle leaf: canonicalize v with any "_"-prefixed
// fields stripped, then SHA-256 the result.
func LeafHash(v any) ([]byte, error) {
	tree, err := ToTree(v)
	if err != nil {
		return nil, fmt.Errorf("canon: leaf hash tree: %w", err)
	}
	stripped := StripPrefixedFields(tree)
	var buf bytes.Buffer
	if err := writeCanonical(&buf, stripped); err != nil {
		return nil, fmt.Errorf("canon: leaf hash encode: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return sum[:], nil
}
