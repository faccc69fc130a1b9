// Package blob stores audio payloads and issues time-limited URLs for them.
package blob

import (
	"context"
	"errors"
	"time"
)

// Errors returned by Store implementations.
var (
	ErrNotFound   = errors.New("blob: object not found")
	ErrInvalidKey = errors.New("blob: invalid key")
	ErrBadURL     = errors.New("blob: invalid or expired signature")
)

// DefaultContentType is used when Put is called without one.
const DefaultContentType = "application/octet-stream"

// Store persists opaque byte payloads under caller-chosen keys.
// Key construction and uniqueness are the caller's responsibility.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func validKey(key string) error {
	if key == "" || key[0] == '/' {
		return ErrInvalidKey
	}
	return nil
}
