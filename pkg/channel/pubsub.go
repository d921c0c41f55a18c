package channel

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/frame"
	"github.com/go-go-golems/chatsync/pkg/logging"
	"github.com/go-go-golems/chatsync/pkg/redisstream"
)

// PubSubDialer connects to a publish/subscribe broker through watermill.
// Every topic is an independent stream of UTF-8 text payloads.
type PubSubDialer struct {
	settings redisstream.Settings
	logger   watermill.LoggerAdapter

	// shared is an in-process backend owned by the caller. When set, the
	// endpoint is informational only and Close leaves the backend open.
	shared *gochannel.GoChannel
}

var _ Dialer = (*PubSubDialer)(nil)

const (
	brokerPingInterval = 5 * time.Second
	brokerPingFailures = 2
)

func NewRedisDialer(s redisstream.Settings) *PubSubDialer {
	return &PubSubDialer{
		settings: s,
		logger:   logging.NewWatermill(log.Logger),
	}
}

func NewInProcessDialer(ps *gochannel.GoChannel) *PubSubDialer {
	return &PubSubDialer{
		shared: ps,
		logger: logging.NewWatermill(log.Logger),
	}
}

func (d *PubSubDialer) Connect(ctx context.Context, endpoint string) (Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.shared != nil {
		if err := ctx.Err(); err != nil {
			return nil, &ConnectionError{Endpoint: endpoint, Err: err}
		}
		return newPubSubConn(endpoint, d.shared, d.shared, nil, nil), nil
	}

	opts, err := redisstream.ClientOptions(endpoint)
	if err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Warn().Err(err).Str("component", "channel").Str("endpoint", endpoint).Msg("redis ping failed")
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}

	pub, err := redisstream.BuildPublisher(client, d.logger)
	if err != nil {
		_ = client.Close()
		return nil, &ConnectionError{Endpoint: endpoint, Err: errors.Wrap(err, "build publisher")}
	}
	sub, err := redisstream.BuildSubscriber(client, d.settings, d.logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, &ConnectionError{Endpoint: endpoint, Err: errors.Wrap(err, "build subscriber")}
	}

	group := d.settings.Group
	ensure := func(ctx context.Context, topic string) error {
		return redisstream.EnsureGroupAtTail(ctx, client, topic, group)
	}
	closeAll := func() error {
		var firstErr error
		for _, fn := range []func() error{sub.Close, pub.Close, client.Close} {
			if err := fn(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	log.Info().Str("component", "channel").Str("endpoint", endpoint).Msg("connected to redis broker")
	conn := newPubSubConn(endpoint, pub, sub, ensure, closeAll)
	conn.watchBroker(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, brokerPingInterval)
	return conn, nil
}

type pubsubConn struct {
	endpoint string
	pub      message.Publisher
	sub      message.Subscriber
	ensure   func(ctx context.Context, topic string) error
	closeFn  func() error

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
	finish sync.Once
	wg     sync.WaitGroup
}

func newPubSubConn(endpoint string, pub message.Publisher, sub message.Subscriber, ensure func(context.Context, string) error, closeFn func() error) *pubsubConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &pubsubConn{
		endpoint: endpoint,
		pub:      pub,
		sub:      sub,
		ensure:   ensure,
		closeFn:  closeFn,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (c *pubsubConn) Subscribe(ctx context.Context, topic string) (<-chan Frame, error) {
	if topic == "" {
		return nil, &SubscriptionError{Topic: topic, Err: errors.New("topic is empty")}
	}
	c.mu.Lock()
	if c.closed || c.err != nil {
		c.mu.Unlock()
		return nil, &SubscriptionError{Topic: topic, Err: ErrNotConnected}
	}
	c.wg.Add(1)
	c.mu.Unlock()

	subCtx, cancel := context.WithCancel(c.ctx)
	if ctx != nil {
		stop := context.AfterFunc(ctx, cancel)
		go func() {
			<-subCtx.Done()
			stop()
		}()
	}

	if c.ensure != nil {
		if err := c.ensure(subCtx, topic); err != nil {
			cancel()
			c.wg.Done()
			return nil, &SubscriptionError{Topic: topic, Err: err}
		}
	}
	msgs, err := c.sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		c.wg.Done()
		return nil, &SubscriptionError{Topic: topic, Err: err}
	}

	out := make(chan Frame)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					if subCtx.Err() == nil {
						// nobody asked for this: the backend went away
						c.fail(errors.Errorf("broker closed the %s stream", topic))
					}
					return
				}
				f := Frame{Topic: topic, ID: msg.UUID, Data: msg.Payload}
				select {
				case out <- f:
					msg.Ack()
				case <-subCtx.Done():
					msg.Nack()
					return
				}
			}
		}
	}()
	return out, nil
}

// watchBroker pings the broker every interval and fails the connection after
// brokerPingFailures misses in a row.
func (c *pubsubConn) watchBroker(ping func(context.Context) error, every time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		misses := 0
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-t.C:
			}
			ctx, cancel := context.WithTimeout(c.ctx, every)
			err := ping(ctx)
			cancel()
			if err == nil {
				misses = 0
				continue
			}
			if c.ctx.Err() != nil {
				return
			}
			misses++
			log.Debug().Err(err).Str("component", "channel").Str("endpoint", c.endpoint).Int("misses", misses).Msg("broker ping failed")
			if misses >= brokerPingFailures {
				c.fail(errors.Wrap(err, "broker unreachable"))
				return
			}
		}
	}()
}

// fail ends an open connection from below. Close still has to be called to
// release the backend.
func (c *pubsubConn) fail(cause error) {
	c.mu.Lock()
	if c.closed || c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = &ConnectionError{Endpoint: c.endpoint, Err: cause}
	c.mu.Unlock()

	log.Warn().Err(cause).Str("component", "channel").Str("endpoint", c.endpoint).Msg("pubsub connection lost")
	c.cancel()
	c.finish.Do(func() { close(c.done) })
}

func (c *pubsubConn) Send(ctx context.Context, topic string, data []byte) error {
	if topic == "" {
		return &SendError{Err: errors.New("topic is empty")}
	}
	c.mu.Lock()
	down := c.closed || c.err != nil
	c.mu.Unlock()
	if down {
		return &SendError{Topic: topic, Err: ErrNotConnected}
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if err := c.pub.Publish(topic, msg); err != nil {
		return &SendError{Topic: topic, Err: err}
	}
	return nil
}

func (c *pubsubConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	var err error
	if c.closeFn != nil {
		err = c.closeFn()
		if err != nil {
			log.Warn().Err(err).Str("component", "channel").Str("endpoint", c.endpoint).Msg("closing pubsub backend failed")
		}
	}
	c.finish.Do(func() { close(c.done) })
	return err
}

func (c *pubsubConn) Done() <-chan struct{} { return c.done }

// Err is nil after a plain Close and a ConnectionError when the broker went away.
func (c *pubsubConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *pubsubConn) Decoder() frame.Decoder { return frame.RawTextDecoder }

func (c *pubsubConn) Endpoint() string { return c.endpoint }
