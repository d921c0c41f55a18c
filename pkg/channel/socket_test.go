package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/frame"
)

// echoServer accepts websocket clients, records what they send, and pushes
// whatever is written to push.
func echoServer(t *testing.T) (*httptest.Server, chan []byte, chan []byte) {
	t.Helper()
	push := make(chan []byte, 16)
	received := make(chan []byte, 16)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				received <- data
			}
		}()
		for data := range push {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		close(push)
		srv.Close()
	})
	return srv, push, received
}

func TestSocketURL(t *testing.T) {
	for in, want := range map[string]string{
		"localhost:8080":         "ws://localhost:8080/",
		"ws://host/chat":         "ws://host/chat",
		"wss://host/chat":        "wss://host/chat",
		"http://host:1/ws":       "ws://host:1/ws",
		"https://example.com/ws": "wss://example.com/ws",
	} {
		got, err := SocketURL(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
	_, err := SocketURL("redis://host:6379")
	require.Error(t, err)
	_, err = SocketURL("")
	require.Error(t, err)
}

func TestSocketDialer_ReceivesFramesOnImplicitStream(t *testing.T) {
	srv, push, _ := echoServer(t)
	conn, err := NewSocketDialer().Connect(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Equal(t, frame.KindStructuredChat, conn.Decoder().Kind())

	frames, err := conn.Subscribe(context.Background(), SocketChannel)
	require.NoError(t, err)

	push <- []byte(`{"side":"left","message":"hi"}`)
	select {
	case f := <-frames:
		require.Equal(t, SocketChannel, f.Topic)
		require.JSONEq(t, `{"side":"left","message":"hi"}`, string(f.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestSocketConn_RejectsNamedTopics(t *testing.T) {
	srv, _, _ := echoServer(t)
	conn, err := NewSocketDialer().Connect(context.Background(), srv.URL)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Subscribe(context.Background(), "time")
	var se *SubscriptionError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "time", se.Topic)
}

func TestSocketConn_SendAndClose(t *testing.T) {
	srv, _, received := echoServer(t)
	conn, err := NewSocketDialer().Connect(context.Background(), srv.URL)
	require.NoError(t, err)

	require.NoError(t, conn.Send(context.Background(), SocketChannel, []byte(`{"message":"out"}`)))
	select {
	case data := <-received:
		require.JSONEq(t, `{"message":"out"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server to receive")
	}

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
	require.NoError(t, conn.Err())

	err = conn.Send(context.Background(), SocketChannel, []byte(`{"message":"late"}`))
	var se *SendError
	require.True(t, errors.As(err, &se))
	require.True(t, errors.Is(err, ErrNotConnected))
}

func TestSocketDialer_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewSocketDialer().Connect(context.Background(), srv.URL)
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, srv.URL, ce.Endpoint)
}

func TestSocketConn_ServerDropEndsConnection(t *testing.T) {
	drop := make(chan struct{})
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-drop
		_ = conn.UnderlyingConn().Close()
	}))
	defer srv.Close()

	conn, err := NewSocketDialer().Connect(context.Background(), srv.URL)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	frames, err := conn.Subscribe(context.Background(), SocketChannel)
	require.NoError(t, err)

	close(drop)
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done not closed after server drop")
	}
	require.Error(t, conn.Err())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-frames:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
