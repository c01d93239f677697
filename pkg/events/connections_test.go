package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/models"
)

func setupHub(t *testing.T) (*ConnectionManager, *httptest.Server) {
	t.Helper()

	hub := NewConnectionManager(5 * time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		hub.HandleConnection(r.Context(), conn)
	}))

	t.Cleanup(func() { server.Close() })
	return hub, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func sendAction(t *testing.T, conn *websocket.Conn, action, channel string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(ClientMessage{Action: action, Channel: channel})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// subscribeWS subscribes and waits until the hub has registered the
// subscription, so a following Broadcast cannot race past it.
func subscribeWS(t *testing.T, hub *ConnectionManager, conn *websocket.Conn, channel string) {
	t.Helper()
	sendAction(t, conn, "subscribe", channel)
	msg := readJSON(t, conn)
	require.Equal(t, "subscription.confirmed", msg["type"])
	require.Equal(t, channel, msg["channel"])
	require.Eventually(t, func() bool {
		return hub.connectionCount(channel) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionEstablishedOnConnect(t *testing.T) {
	_, server := setupHub(t)
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestSubscribedConnectionsReceiveBroadcasts(t *testing.T) {
	hub, server := setupHub(t)

	conn1 := connectWS(t, server)
	conn2 := connectWS(t, server)
	readJSON(t, conn1) // connection.established
	readJSON(t, conn2)

	channel := TaskChannel("broadcast-test")
	subscribeWS(t, hub, conn1, channel)
	subscribeWS(t, hub, conn2, channel)

	payload, _ := json.Marshal(Envelope{Type: EventTaskStarted, TaskID: "broadcast-test", Timestamp: time.Now().UTC()})
	hub.Broadcast(channel, payload)

	msg1 := readJSON(t, conn1)
	msg2 := readJSON(t, conn2)
	assert.Equal(t, EventTaskStarted, msg1["type"])
	assert.Equal(t, "broadcast-test", msg1["task_id"])
	assert.Equal(t, EventTaskStarted, msg2["type"])
}

func TestBroadcastsStayOnTheirChannel(t *testing.T) {
	hub, server := setupHub(t)

	conn1 := connectWS(t, server)
	conn2 := connectWS(t, server)
	readJSON(t, conn1)
	readJSON(t, conn2)

	subscribeWS(t, hub, conn1, TaskChannel("a"))
	subscribeWS(t, hub, conn2, TaskChannel("b"))

	payload, _ := json.Marshal(Envelope{Type: EventTaskCompleted, TaskID: "a"})
	hub.Broadcast(TaskChannel("a"), payload)

	msg := readJSON(t, conn1)
	assert.Equal(t, "a", msg["task_id"])

	readCtx, readCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer readCancel()
	_, _, err := conn2.Read(readCtx)
	assert.Error(t, err, "conn2 should not receive another task's broadcast")
}

func TestSubscribeRejectsUnknownChannels(t *testing.T) {
	_, server := setupHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	sendAction(t, conn, "subscribe", "session:legacy")
	msg := readJSON(t, conn)
	assert.Equal(t, "subscription.error", msg["type"])
	assert.Equal(t, "session:legacy", msg["channel"])
	assert.Contains(t, msg["message"], "unknown channel")

	sendAction(t, conn, "subscribe", "")
	msg = readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "channel is required")

	// Connection survives validation errors.
	sendAction(t, conn, "ping", "")
	assert.Equal(t, "pong", readJSON(t, conn)["type"])
}

func TestPingPong(t *testing.T) {
	_, server := setupHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	sendAction(t, conn, "ping", "")
	assert.Equal(t, "pong", readJSON(t, conn)["type"])
}

func TestUnsubscribeStopsBroadcasts(t *testing.T) {
	hub, server := setupHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	channel := TaskChannel("unsub-test")
	subscribeWS(t, hub, conn, channel)

	sendAction(t, conn, "unsubscribe", channel)
	require.Eventually(t, func() bool {
		return hub.connectionCount(channel) == 0
	}, 2*time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(Envelope{Type: EventTaskCompleted})
	hub.Broadcast(channel, payload)

	readCtx, readCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer readCancel()
	_, _, err := conn.Read(readCtx)
	assert.Error(t, err, "should not receive broadcasts after unsubscribe")
}

func TestDisconnectCleansUpSubscriptions(t *testing.T) {
	hub, server := setupHub(t)

	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	_, _, err = conn.Read(ctx) // connection.established
	require.NoError(t, err)

	channel := TaskChannel("cleanup-test")
	subscribeWS(t, hub, conn, channel)
	assert.Equal(t, 1, hub.ActiveConnections())

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		return hub.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, hub.connectionCount(channel))
	payload, _ := json.Marshal(Envelope{Type: EventTaskCompleted})
	assert.NotPanics(t, func() { hub.Broadcast(channel, payload) })
}

func TestBusEventsReachWebSocketClients(t *testing.T) {
	hub, server := setupHub(t)

	b := bus.New()
	mgr, err := NewManager(b, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	mgr.SetBroadcaster(hub)
	require.NoError(t, mgr.Start())
	t.Cleanup(mgr.Stop)

	conn := connectWS(t, server)
	readJSON(t, conn)
	subscribeWS(t, hub, conn, TaskChannel("e2e-42"))

	_, err = b.Publish(context.Background(), EventTaskStarted,
		map[string]any{"task_id": "e2e-42", "mode": "SPEED", "complexity": "simple"},
		bus.WithAggregate("e2e-42", models.AggregateTask))
	require.NoError(t, err)

	msg := readJSON(t, conn)
	assert.Equal(t, EventTaskStarted, msg["type"])
	assert.Equal(t, "e2e-42", msg["task_id"])
	assert.Equal(t, "SPEED", msg["data"].(map[string]any)["mode"])
	assert.Contains(t, msg, "timestamp")
}
