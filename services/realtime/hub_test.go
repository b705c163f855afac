package realtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/atelier/testutil"
)

type received struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

func startHub(t *testing.T, authorize RoomAuthorizer) (*Hub, string) {
	t.Helper()
	hub := NewHub(authorize, testutil.NopLogger{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?user="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	msg := read(t, conn)
	require.Equal(t, EventConnected, msg.Event)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, room string) received {
	t.Helper()
	require.NoError(t, conn.WriteJSON(command{Action: "subscribe", Room: room}))
	return read(t, conn)
}

func TestHub_BroadcastToRoom(t *testing.T) {
	hub, url := startHub(t, nil)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")

	require.Equal(t, EventSubscribed, subscribe(t, alice, "session:1").Event)
	require.Equal(t, EventSubscribed, subscribe(t, bob, "session:2").Event)

	hub.BroadcastToRoom("session:1", "session:started", map[string]string{"status": "started"})
	msg := read(t, alice)
	assert.Equal(t, "session:started", msg.Event)
	assert.Equal(t, "started", msg.Data["status"])

	// bob only gets the event of his room
	hub.BroadcastToRoom("session:2", "session:finished", nil)
	assert.Equal(t, "session:finished", read(t, bob).Event)
}

func TestHub_SendToUser(t *testing.T) {
	hub, url := startHub(t, nil)
	first := dial(t, url, "alice")
	second := dial(t, url, "alice")
	assert.Equal(t, 2, hub.Connections("alice"))

	hub.SendToUser("alice", "forceLogout", map[string]string{"reason": "bye"})
	for _, conn := range []*websocket.Conn{first, second} {
		msg := read(t, conn)
		assert.Equal(t, "forceLogout", msg.Event)
		assert.Equal(t, "bye", msg.Data["reason"])
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url, "alice")
	require.Equal(t, EventSubscribed, subscribe(t, conn, "session:1").Event)

	require.NoError(t, conn.WriteJSON(command{Action: "unsubscribe", Room: "session:1"}))
	require.Equal(t, EventUnsubscribed, read(t, conn).Event)

	hub.BroadcastToRoom("session:1", "session:started", nil)
	hub.SendToUser("alice", "ping", nil)
	assert.Equal(t, "ping", read(t, conn).Event)
}

func TestHub_Authorize(t *testing.T) {
	_, url := startHub(t, func(userID, room string) error {
		if room == "session:private" {
			return errors.New("access denied")
		}
		return nil
	})
	conn := dial(t, url, "alice")

	msg := subscribe(t, conn, "session:private")
	assert.Equal(t, EventError, msg.Event)
	assert.Equal(t, "access denied", msg.Data["error"])

	assert.Equal(t, EventSubscribed, subscribe(t, conn, "session:public").Event)
}

func TestHub_Disconnect(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url, "alice")
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return hub.Connections("alice") == 0 }, 5*time.Second, 10*time.Millisecond)
}
