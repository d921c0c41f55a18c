package outbound

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatsync/pkg/frame"
)

const (
	ModeHTTP    = "http"
	ModeChannel = "channel"
)

// Request is the body of one outbound message.
type Request struct {
	Side    string `json:"side,omitempty"`
	Message string `json:"message"`
}

func (r Request) encode() ([]byte, error) {
	return frame.EncodeStructuredChat(r.Side, r.Message)
}

// Dispatcher delivers one request to the remote end. It never retries.
type Dispatcher interface {
	Mode() string
	Dispatch(ctx context.Context, req Request) error
}

// HTTPDispatcher posts JSON requests to a fixed URL.
type HTTPDispatcher struct {
	url    string
	client *http.Client
}

var _ Dispatcher = (*HTTPDispatcher)(nil)

func NewHTTPDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	client := cleanhttp.DefaultPooledClient()
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &HTTPDispatcher{url: url, client: client}
}

func (h *HTTPDispatcher) Mode() string { return ModeHTTP }

func (h *HTTPDispatcher) URL() string { return h.url }

func (h *HTTPDispatcher) Dispatch(ctx context.Context, req Request) error {
	body, err := req.encode()
	if err != nil {
		return &DispatchError{Target: h.url, Err: err}
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{Target: h.url, Err: errors.Wrap(err, "build request")}
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(hreq)
	if err != nil {
		return &DispatchError{Target: h.url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DispatchError{
			Target: h.url,
			Status: resp.StatusCode,
			Err:    errors.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	return nil
}

// Sender is the write half of a channel.
type Sender interface {
	Send(ctx context.Context, topic string, data []byte) error
}

// ChannelDispatcher publishes requests on the live channel instead of going
// through HTTP. Raw sends the bare message text, which is what pub/sub
// subscribers decode; otherwise the JSON chat frame is sent.
type ChannelDispatcher struct {
	sender Sender
	topic  string
	raw    bool
}

var _ Dispatcher = (*ChannelDispatcher)(nil)

func NewChannelDispatcher(sender Sender, topic string, raw bool) *ChannelDispatcher {
	return &ChannelDispatcher{sender: sender, topic: topic, raw: raw}
}

func (c *ChannelDispatcher) Mode() string { return ModeChannel }

func (c *ChannelDispatcher) Dispatch(ctx context.Context, req Request) error {
	data := []byte(req.Message)
	if !c.raw {
		var err error
		if data, err = req.encode(); err != nil {
			return &DispatchError{Target: c.topic, Err: err}
		}
	}
	if err := c.sender.Send(ctx, c.topic, data); err != nil {
		return &DispatchError{Target: c.topic, Err: err}
	}
	return nil
}
