// Package image stores message image blobs by key.
//
// Messages carry only keys. The blobs live behind a Store, either in the
// active database or in a directory on disk.
package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
)

// KeyPrefix marks content-addressed keys produced by Key.
const KeyPrefix = "sha256:"

// Store puts and gets image blobs.
//
// Content-addressed keys (KeyPrefix) must equal Key(data), so a second Put
// under one stores the same bytes. Any other key names a slot that a later
// Put overwrites.
type Store interface {
	// Put stores data under key and returns the key. An empty key is
	// replaced by Key(data). Empty data is rejected.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get returns the blob for key, or NotFound.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Key returns the content address of data.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// IsContentKey reports whether key is a content address.
func IsContentKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefix)
}

// resolveKey defaults an empty key, rejects keys that cannot be used as a
// single path element and content keys that do not match data.
func resolveKey(key string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", tkerrors.Validation("data", "image must not be empty")
	}
	if key == "" {
		return Key(data), nil
	}
	if err := validateKey(key); err != nil {
		return "", err
	}
	if IsContentKey(key) && key != Key(data) {
		return "", tkerrors.Validation("key", "content key does not match the image data")
	}
	return key, nil
}

func validateKey(key string) error {
	switch {
	case key == "":
		return tkerrors.Validation("key", "image key must not be empty")
	case key == "." || key == "..":
		return tkerrors.Validation("key", "image key must not be a relative path")
	case strings.ContainsAny(key, `/\`):
		return tkerrors.Validation("key", "image key must not contain path separators")
	}
	return nil
}
