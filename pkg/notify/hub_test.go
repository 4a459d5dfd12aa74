package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestConn spins up a WebSocket endpoint, dials it, and returns both
// ends. The server side is what gets registered with the hub.
func dialTestConn(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-serverCh:
	case <-time.After(time.Second):
		t.Fatal("server side of test connection never arrived")
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}

func TestHub_RegisterAndSend(t *testing.T) {
	hub := NewHub(nil)
	serverConn, clientConn := dialTestConn(t)

	hub.Register("t1", serverConn)
	assert.Equal(t, 1, hub.Subscribers("t1"))
	assert.Equal(t, 0, hub.Subscribers("t2"))

	require.NoError(t, hub.Send(context.Background(), "t1", []byte(`{"hello":"world"}`)))

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(msg))
}

func TestHub_SendToUnknownThreadIsNoop(t *testing.T) {
	hub := NewHub(nil)
	require.NoError(t, hub.Send(context.Background(), "nobody", []byte("x")))
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub(nil)
	serverConn, _ := dialTestConn(t)

	hub.Register("t1", serverConn)
	hub.Unregister("t1", serverConn)
	assert.Equal(t, 0, hub.Subscribers("t1"))
}

func TestHub_DropsDeadSubscriber(t *testing.T) {
	hub := NewHub(nil)
	deadConn, deadClient := dialTestConn(t)
	liveConn, liveClient := dialTestConn(t)

	hub.Register("t1", deadConn)
	hub.Register("t1", liveConn)

	// Kill one subscriber's transport underneath the hub.
	deadConn.Close()
	deadClient.Close()

	err := hub.Send(context.Background(), "t1", []byte("payload"))
	assert.Error(t, err)

	// The live subscriber still got the message and stays registered.
	liveClient.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, readErr := liveClient.ReadMessage()
	require.NoError(t, readErr)
	assert.Equal(t, "payload", string(msg))
	assert.Equal(t, 1, hub.Subscribers("t1"))
}
