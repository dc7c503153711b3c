// Package storage keeps document contents in a REST object store
// (Supabase storage API) or, when none is configured, in memory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aethra/domus/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("storage: object not found")

// Client talks to the object store over HTTP
type Client struct {
	http   *resty.Client
	bucket string
	logger *zap.Logger
}

// NewClient creates a client for cfg. Transient failures (network errors,
// 429 and 5xx responses) are retried cfg.RetryCount times.
func NewClient(cfg config.StorageConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "documents"
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
		httpClient.SetHeader("apikey", cfg.APIKey)
	}

	return &Client{
		http:   httpClient,
		bucket: bucket,
		logger: logger.Named("storage"),
	}
}

// objectPath escapes each segment of key
func (c *Client) objectPath(key string) string {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/object/" + url.PathEscape(c.bucket) + "/" + strings.Join(parts, "/")
}

// Put uploads an object, replacing any previous version
func (c *Client) Put(ctx context.Context, key, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("x-upsert", "true").
		SetBody(data).
		Put(c.objectPath(key))
	if err != nil {
		return fmt.Errorf("storage put %s: %w", key, err)
	}
	if resp.IsError() {
		c.logger.Error("object upload rejected",
			zap.String("key", key),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 200)))
		return fmt.Errorf("storage put %s: status %d", key, resp.StatusCode())
	}
	c.logger.Debug("object uploaded", zap.String("key", key), zap.Int("size", len(data)))
	return nil
}

// Get downloads an object and its content type
func (c *Client) Get(ctx context.Context, key string) ([]byte, string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.objectPath(key))
	if err != nil {
		return nil, "", fmt.Errorf("storage get %s: %w", key, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, "", ErrNotFound
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("storage get %s: status %d", key, resp.StatusCode())
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}

// Delete removes an object. Missing objects are not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(c.objectPath(key))
	if err != nil {
		return fmt.Errorf("storage delete %s: %w", key, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("storage delete %s: status %d", key, resp.StatusCode())
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type memObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

// Put stores a copy of data
func (m *MemoryStore) Put(_ context.Context, key, contentType string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: buf, contentType: contentType}
	return nil
}

// Get returns a copy of an object
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, obj.contentType, nil
}

// Delete removes an object
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len returns the number of stored objects
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
