package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-widget-server/internal/metrics"
)

func newTestHub(t *testing.T) (*Hub, *metrics.Metrics, string) {
	t.Helper()
	m := metrics.New()
	authorize := func(ctx context.Context, conversationID, contactSessionID string) error {
		if contactSessionID != "cs_ok" {
			return errors.New("invalid contact session")
		}
		return nil
	}
	hub := NewHub(authorize, m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, topic, event, ref string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(IncomingMessage{Topic: topic, Event: event, Ref: ref, Payload: raw}))
}

type received struct {
	Topic   string         `json:"topic"`
	Event   string         `json:"event"`
	Ref     string         `json:"ref"`
	Payload map[string]any `json:"payload"`
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestJoinAndBroadcast(t *testing.T) {
	hub, m, url := newTestHub(t)
	conn := dial(t, url)

	send(t, conn, "conversation:c1", EventJoin, "1", map[string]string{"contact_session_id": "cs_ok"})
	msg := read(t, conn)
	assert.Equal(t, EventReply, msg.Event)
	assert.Equal(t, "1", msg.Ref)
	assert.Equal(t, "ok", msg.Payload["status"])
	assert.Equal(t, 1, hub.Subscribers("conversation:c1"))

	hub.Publish("conversation:c1", "message.created", map[string]string{"content": "hello"})
	msg = read(t, conn)
	assert.Equal(t, "conversation:c1", msg.Topic)
	assert.Equal(t, "message.created", msg.Event)
	assert.Equal(t, "hello", msg.Payload["content"])

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RealtimeClients))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.MessagesBroadcast) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestJoinRejected(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, url)

	send(t, conn, "conversation:c1", EventJoin, "1", map[string]string{"contact_session_id": "nope"})
	msg := read(t, conn)
	assert.Equal(t, "error", msg.Payload["status"])
	assert.Zero(t, hub.Subscribers("conversation:c1"))

	send(t, conn, "lobby", EventJoin, "2", map[string]string{"contact_session_id": "cs_ok"})
	msg = read(t, conn)
	assert.Equal(t, "error", msg.Payload["status"])
	resp, _ := msg.Payload["response"].(map[string]any)
	assert.Equal(t, ErrUnknownTopic.Error(), resp["reason"])
}

func TestLeaveAndHeartbeat(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, url)

	send(t, conn, "conversation:c1", EventJoin, "1", map[string]string{"contact_session_id": "cs_ok"})
	read(t, conn)

	send(t, conn, "phoenix", EventHeartbeat, "2", map[string]string{})
	msg := read(t, conn)
	assert.Equal(t, "2", msg.Ref)
	assert.Equal(t, "ok", msg.Payload["status"])

	send(t, conn, "conversation:c1", EventLeave, "3", map[string]string{})
	msg = read(t, conn)
	assert.Equal(t, "ok", msg.Payload["status"])
	assert.Zero(t, hub.Subscribers("conversation:c1"))
}

func TestDisconnectUnsubscribes(t *testing.T) {
	hub, m, url := newTestHub(t)
	conn := dial(t, url)

	send(t, conn, "conversation:c1", EventJoin, "1", map[string]string{"contact_session_id": "cs_ok"})
	read(t, conn)
	conn.Close()

	assert.Eventually(t, func() bool {
		return hub.Subscribers("conversation:c1") == 0 && testutil.ToFloat64(m.RealtimeClients) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	for i := 0; i < 300; i++ {
		hub.Publish("conversation:c1", "message.created", i)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://shop.example.com"})

	r := httptest.NewRequest("GET", "/realtime/v1/websocket", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://shop.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))

	assert.True(t, originChecker([]string{"*"})(r))
}
