package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dial(t *testing.T, hub *Hub, subjectID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, subjectID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Connections(subjectID) > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestHubPublishReachesSubject(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	defer hub.Close()
	conn := dial(t, hub, "CLT-2026-0001")

	hub.Publish("CLT-2026-0001", "message.created", map[string]string{"conversation_id": "CNV-001"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "message.created", env.Event)
	assert.Equal(t, "CNV-001", env.Data["conversation_id"])
}

func TestHubPublishIgnoresOtherSubjects(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	defer hub.Close()
	conn := dial(t, hub, "ADM-001")

	hub.Publish("ADM-002", "message.created", nil)
	hub.Publish("ADM-001", "ping", nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event":"ping"`)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	conn := dial(t, hub, "CLT-2026-0002")

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Connections("CLT-2026-0002") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zap.NewNop(), []string{"http://localhost:3000"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "x")
	}))
	defer srv.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
