package channel

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/frame"
)

const (
	socketFrameBuffer = 64
	socketWriteWait   = 5 * time.Second
)

// SocketDialer connects to a raw websocket endpoint. The connection carries a
// single implicit stream labelled SocketChannel whose frames are JSON chat
// objects.
type SocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

var _ Dialer = (*SocketDialer)(nil)

func NewSocketDialer() *SocketDialer {
	return &SocketDialer{Dialer: websocket.DefaultDialer}
}

// SocketURL normalizes host:port and http(s) URLs to a websocket URL.
func SocketURL(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errors.New("socket endpoint is empty")
	}
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return endpoint, nil
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://"), nil
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://"), nil
	case strings.Contains(endpoint, "://"):
		return "", errors.Errorf("unsupported socket scheme in %q", endpoint)
	}
	return "ws://" + endpoint + "/", nil
}

func (d *SocketDialer) Connect(ctx context.Context, endpoint string) (Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := SocketURL(endpoint)
	if err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "channel").Str("endpoint", u).Msg("websocket dial failed")
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}

	c := &socketConn{
		endpoint: endpoint,
		ws:       ws,
		frames:   make(chan Frame, socketFrameBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	log.Info().Str("component", "channel").Str("endpoint", u).Msg("websocket connected")
	return c, nil
}

type socketConn struct {
	endpoint string
	ws       *websocket.Conn
	frames   chan Frame

	writeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	err      error
	doneOnce sync.Once
	done     chan struct{}
}

func (c *socketConn) readLoop() {
	defer close(c.frames)
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		select {
		case c.frames <- Frame{Topic: SocketChannel, Data: data}:
		case <-c.done:
			return
		}
	}
}

// finish records why the connection ended. A read error after Close is the
// expected result of closing and is not reported.
func (c *socketConn) finish(err error) {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.err = err
			log.Warn().Err(err).Str("component", "channel").Str("endpoint", c.endpoint).Msg("websocket read failed")
		}
	}
	c.mu.Unlock()
	_ = c.ws.Close()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *socketConn) Subscribe(_ context.Context, topic string) (<-chan Frame, error) {
	if topic != SocketChannel {
		return nil, &SubscriptionError{Topic: topic, Err: errors.Errorf("socket transport only exposes %q", SocketChannel)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &SubscriptionError{Topic: topic, Err: ErrNotConnected}
	}
	return c.frames, nil
}

// Send writes one text frame. The topic is ignored because the socket has a
// single stream.
func (c *socketConn) Send(_ context.Context, topic string, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &SendError{Topic: topic, Err: ErrNotConnected}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &SendError{Topic: topic, Err: err}
	}
	return nil
}

func (c *socketConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.doneOnce.Do(func() { close(c.done) })
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.ws.Close()
	c.doneOnce.Do(func() { close(c.done) })
	return err
}

func (c *socketConn) Done() <-chan struct{} { return c.done }

func (c *socketConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *socketConn) Decoder() frame.Decoder { return frame.StructuredChatDecoder }

func (c *socketConn) Endpoint() string { return c.endpoint }
