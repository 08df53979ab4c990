package gopagecache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"github.com/Alp4ka/gopagecache/signal"
)

// DefaultKey is the signature of absent args.
const DefaultKey = "default"

// Signature maps args to a stable registry key.
//
// Observable wrappers are unwrapped first, both at the top level and nested
// inside the value (cells encode as the value they hold), so the key
// depends on the logical value only. The plain value is normalized through
// JSON, which sorts object keys, and hashed with SHA-256. Structurally equal
// values produce equal keys regardless of field order or wrapping; nil args
// produce DefaultKey.
func Signature(args any) (string, error) {
	plain, err := plainArgs(args)
	if err != nil {
		return "", err
	}

	if plain == nil {
		return DefaultKey, nil
	}

	canonical, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnhashableArgs, err)
	}

	sum := sha256.Sum256(canonical)

	return hex.EncodeToString(sum[:]), nil
}

// plainArgs deep-clones args into a tree of maps, slices and scalars.
// Returns nil for absent args.
func plainArgs(args any) (any, error) {
	args = signal.Unwrap(args)
	if lo.IsNil(args) {
		return nil, nil
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnhashableArgs, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var plain any
	if err = dec.Decode(&plain); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnhashableArgs, err)
	}

	return plain, nil
}
