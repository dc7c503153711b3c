package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aethra/domus/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(config.StorageConfig{
		BaseURL:    srv.URL,
		APIKey:     "secret",
		Bucket:     "documents",
		RetryCount: retries,
	}, zap.NewNop())
	c.http.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)
	return c
}

func TestClientPut(t *testing.T) {
	var gotPath, gotAuth, gotType, gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}, 0)

	err := c.Put(context.Background(), "documents/abc/lease 1.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "/object/documents/documents/abc/lease%201.pdf", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "application/pdf", gotType)
	assert.Equal(t, "%PDF", gotBody)
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}, 3)

	data, ct, err := c.Get(context.Background(), "k/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "text/plain", ct)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientGetNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, 0)

	_, _, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientPutRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, 2)

	err := c.Put(context.Background(), "k", "", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestClientDeleteIgnoresMissing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}, 0)

	assert.NoError(t, c.Delete(context.Background(), "gone"))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	data := []byte("contents")
	require.NoError(t, m.Put(ctx, "a/b.txt", "text/plain", data))
	data[0] = 'X'

	got, ct, err := m.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "contents", string(got))
	assert.Equal(t, "text/plain", ct)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(ctx, "a/b.txt"))
	_, _, err = m.Get(ctx, "a/b.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}
