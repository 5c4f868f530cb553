package socketio

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	event   string
	payload string
}

type mockSink struct {
	mu     sync.Mutex
	events []received
}

func (m *mockSink) Dispatch(event string, payload json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, received{event: event, payload: string(payload)})
}

func (m *mockSink) getEvents() []received {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]received, len(m.events))
	copy(out, m.events)
	return out
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeServer speaks just enough Engine.IO to drive the client. script runs
// after the namespace connect has been acknowledged.
func fakeServer(t *testing.T, script func(ws *websocket.Conn)) (*httptest.Server, <-chan string) {
	t.Helper()
	fromClient := make(chan string, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/socket.io/", r.URL.Path)
		assert.Equal(t, "4", r.URL.Query().Get("EIO"))
		assert.Equal(t, "websocket", r.URL.Query().Get("transport"))

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()

		ws.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"s1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`))

		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		fromClient <- string(msg)
		ws.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"n1"}`))

		script(ws)

		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			fromClient <- string(msg)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, fromClient
}

func newTestClient(t *testing.T, srv *httptest.Server, sink *mockSink) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewClient(srv.URL, sink, logger)
	require.NoError(t, err)
	return c
}

func TestClient_DeliversEventsInOrder(t *testing.T) {
	srv, fromClient := fakeServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte(`42["weather_update",{"id":2,"city":"Pune","humidity":40,"cloud":10,"wind_speed":12}]`))
		ws.WriteMessage(websocket.TextMessage, []byte(`42["weather_delete",{"id":1}]`))
	})
	sink := &mockSink{}
	c := newTestClient(t, srv, sink)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	assert.Equal(t, "40", <-fromClient)
	require.Eventually(t, func() bool { return len(sink.getEvents()) == 2 }, time.Second, 5*time.Millisecond)

	events := sink.getEvents()
	assert.Equal(t, "weather_update", events[0].event)
	assert.JSONEq(t, `{"id":2,"city":"Pune","humidity":40,"cloud":10,"wind_speed":12}`, events[0].payload)
	assert.Equal(t, "weather_delete", events[1].event)
	assert.JSONEq(t, `{"id":1}`, events[1].payload)
	assert.True(t, c.IsConnected())
}

func TestClient_AnswersPing(t *testing.T) {
	srv, fromClient := fakeServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte(`2`))
	})
	c := newTestClient(t, srv, &mockSink{})

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	assert.Equal(t, "40", <-fromClient)
	select {
	case msg := <-fromClient:
		assert.Equal(t, "3", msg)
	case <-time.After(time.Second):
		t.Fatal("no pong")
	}
}

func TestClient_SkipsMalformedPackets(t *testing.T) {
	srv, _ := fakeServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte(`42not-json`))
		ws.WriteMessage(websocket.TextMessage, []byte(`x`))
		ws.WriteMessage(websocket.TextMessage, []byte(`42["weather_delete",{"id":3}]`))
	})
	sink := &mockSink{}
	c := newTestClient(t, srv, sink)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool { return len(sink.getEvents()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "weather_delete", sink.getEvents()[0].event)
}

func TestClient_ServerDisconnectClosesDone(t *testing.T) {
	srv, _ := fakeServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte(`41`))
	})
	c := newTestClient(t, srv, &mockSink{})

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop did not stop")
	}
	assert.False(t, c.IsConnected())
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	srv, fromClient := fakeServer(t, func(*websocket.Conn) {})
	c := newTestClient(t, srv, &mockSink{})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "40", <-fromClient)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
	assert.Error(t, c.Connect(context.Background()))
}

func TestClient_ConnectFailsWithoutServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := newTestClient(t, srv, &mockSink{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.Error(t, c.Connect(ctx))
}
