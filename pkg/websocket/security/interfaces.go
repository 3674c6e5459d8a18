package security

import (
	"context"
)

// TokenProvider supplies the current auth token on demand. Implementations must not
// assume the caller caches the result: it is asked again on every connect.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// KeyValueStore is the local persistent storage the stored-token provider reads from
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}
