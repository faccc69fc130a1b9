package blob

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Object is a stored payload with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Memory is an in-process Store. Signed URLs point at BaseURL + "/blobs/{key}"
// and carry an HMAC-SHA256 signature over the key and expiry, which Verify checks.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object

	baseURL string
	secret  []byte
	now     func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithSigningKey sets the HMAC secret. A random key is generated otherwise.
func WithSigningKey(key []byte) MemoryOption {
	return func(m *Memory) {
		if len(key) > 0 {
			m.secret = key
		}
	}
}

// WithMemoryClock overrides the time source used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an in-memory store whose URLs are rooted at baseURL.
func NewMemory(baseURL string, opts ...MemoryOption) *Memory {
	m := &Memory{
		objects: make(map[string]Object),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.secret == nil {
		m.secret = make([]byte, 32)
		_, _ = rand.Read(m.secret)
	}
	return m
}

// Put stores a copy of data.
func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.objects[key] = Object{Data: buf, ContentType: contentType}
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the payload stored under key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.Object(ctx, key)
	if err != nil {
		return nil, err
	}
	return obj.Data, nil
}

// Object returns the payload and its content type.
func (m *Memory) Object(ctx context.Context, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	buf := make([]byte, len(obj.Data))
	copy(buf, obj.Data)
	return Object{Data: buf, ContentType: obj.ContentType}, nil
}

// Exists reports whether key is stored.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	return ok, nil
}

// SignedURL returns a URL for key that Verify accepts until ttl elapses.
// The object does not need to exist yet.
func (m *Memory) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("blob: ttl must be positive, got %v", ttl)
	}
	expires := m.now().Add(ttl).Unix()

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", m.sign(key, expires))
	return fmt.Sprintf("%s/blobs/%s?%s", m.baseURL, escapeKey(key), q.Encode()), nil
}

// Verify checks a signature produced by SignedURL.
func (m *Memory) Verify(key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadURL
	}
	if m.now().Unix() > exp {
		return ErrBadURL
	}
	want := m.sign(key, exp)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadURL
	}
	return nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *Memory) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
