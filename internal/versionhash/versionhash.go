// Package versionhash computes deterministic content hashes for component
// settings and draft payloads.
//
// A payload is first canonicalized: it is normalized to plain JSON values and
// re-encoded compactly with every object's keys sorted. The canonical bytes
// are hashed with xxHash64 and rendered as 16 lowercase hex digits, short
// enough to embed in a component reference ("sdc.card@9f86d081884c7d65").
package versionhash

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/cespare/xxhash/v2"
	"github.com/ohler55/ojg/oj"
)

// Size is the length of a rendered hash.
const Size = 16

var hashPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

var canonicalOptions = &oj.Options{Sort: true}

// Canonicalize returns the canonical JSON encoding of v. v may be raw JSON
// ([]byte or json.RawMessage), a generic value, or any json-taggable struct.
func Canonicalize(v any) ([]byte, error) {
	var raw []byte
	switch x := v.(type) {
	case json.RawMessage:
		raw = x
	case []byte:
		raw = x
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	generic, err := oj.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return []byte(oj.JSON(generic, canonicalOptions)), nil
}

// Hash returns the content hash of v's canonical form.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes hashes bytes that are already canonical.
func HashBytes(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// Valid reports whether s has the shape of a rendered hash.
func Valid(s string) bool {
	return hashPattern.MatchString(s)
}
