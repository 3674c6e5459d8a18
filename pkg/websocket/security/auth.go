package security

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
)

// DefaultTokenKey is the storage key the dashboard keeps its bearer token under
const DefaultTokenKey = "auth_token"

// DefaultTokenParam is the query parameter carrying the token on the push URL
const DefaultTokenParam = "token"

// BuildURL appends token to base as the param query parameter. An empty token leaves
// the URL without the parameter; the server is then expected to refuse the handshake.
func BuildURL(base, param, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	if token == "" {
		return u.String(), nil
	}

	if param == "" {
		param = DefaultTokenParam
	}

	q := u.Query()
	q.Set(param, token)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

type staticTokenProvider struct {
	token string
}

// NewStaticTokenProvider always returns the same token
func NewStaticTokenProvider(token string) TokenProvider {
	return &staticTokenProvider{token: token}
}

func (p *staticTokenProvider) Token(_ context.Context) (string, error) {
	return p.token, nil
}

type envTokenProvider struct {
	variable string
}

// NewEnvTokenProvider reads the token from an environment variable on every call
func NewEnvTokenProvider(variable string) TokenProvider {
	return &envTokenProvider{variable: variable}
}

func (p *envTokenProvider) Token(_ context.Context) (string, error) {
	return os.Getenv(p.variable), nil
}

type storedTokenProvider struct {
	store KeyValueStore
	key   string
}

// NewStoredTokenProvider reads the token from store under key. A missing key yields an
// empty token, not an error.
func NewStoredTokenProvider(store KeyValueStore, key string) TokenProvider {
	if key == "" {
		key = DefaultTokenKey
	}
	return &storedTokenProvider{store: store, key: key}
}

func (p *storedTokenProvider) Token(ctx context.Context) (string, error) {
	value, ok, err := p.store.Get(ctx, p.key)
	if err != nil {
		return "", fmt.Errorf("failed to read token %q: %w", p.key, err)
	}
	if !ok {
		return "", nil
	}
	return value, nil
}

// MemoryStore is an in-process KeyValueStore
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Delete removes key, used when the dashboard logs out
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
