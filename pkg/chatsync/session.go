package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/channel"
	"github.com/go-go-golems/chatsync/pkg/stream"
)

var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrConnectionLost    = errors.New("channel closed by peer")
)

// ReconnectSettings configures the optional reconnect loop. It is off unless
// Enabled is set; a dropped channel otherwise stays Disconnected.
type ReconnectSettings struct {
	Enabled         bool          `yaml:"enabled" envconfig:"ENABLED"`
	InitialInterval time.Duration `yaml:"initial-interval" envconfig:"INITIAL_INTERVAL" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"max-interval" envconfig:"MAX_INTERVAL" validate:"gte=0"`
	MaxAttempts     uint64        `yaml:"max-attempts" envconfig:"MAX_ATTEMPTS"`
}

func DefaultReconnectSettings() ReconnectSettings {
	return ReconnectSettings{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxAttempts:     10,
	}
}

func (r ReconnectSettings) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	b.MaxElapsedTime = 0
	var bo backoff.BackOff = b
	if r.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, r.MaxAttempts)
	}
	return backoff.WithContext(bo, ctx)
}

// Session drives one channel through its lifecycle: it dials through the
// Dialer, reports every state change to the Core and attaches the
// Multiplexer on each entry into Connected.
type Session struct {
	core      *Core
	mux       *stream.Multiplexer
	dialer    channel.Dialer
	endpoint  string
	reconnect ReconnectSettings

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu         sync.Mutex
	conn       channel.Conn
	connecting bool
	closed     bool
}

type SessionOption func(*Session)

func WithReconnect(r ReconnectSettings) SessionOption {
	return func(s *Session) {
		s.reconnect = r
	}
}

func NewSession(core *Core, dialer channel.Dialer, endpoint string, topics []string, opts ...SessionOption) *Session {
	ctx, stop := context.WithCancel(context.Background())
	s := &Session{
		core:     core,
		dialer:   dialer,
		endpoint: endpoint,
		ctx:      ctx,
		stop:     stop,
	}
	for _, o := range opts {
		o(s)
	}
	s.mux = stream.NewMultiplexer(core, topics...)
	core.AddConnectedHook(s.attach)
	return s
}

func (s *Session) Core() *Core {
	return s.core
}

func (s *Session) Multiplexer() *stream.Multiplexer {
	return s.mux
}

func (s *Session) Endpoint() string {
	return s.endpoint
}

func (s *Session) attach(context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return channel.ErrNotConnected
	}
	return s.mux.Attach(s.ctx, conn)
}

// Connect dials the endpoint and, on success, subscribes every configured
// topic. A Close that lands while the dial is in flight wins: the fresh
// connection is closed and ErrSessionClosed is returned. Subscription
// failures are returned but leave the session Connected.
func (s *Session) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.conn != nil:
		s.mu.Unlock()
		return nil
	case s.connecting:
		s.mu.Unlock()
		return ErrConnectInProgress
	}
	s.connecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	if err := s.core.OnConnecting(); err != nil {
		return err
	}

	dialCtx, cancel := context.WithCancel(ctx)
	stopDial := context.AfterFunc(s.ctx, cancel)
	conn, err := s.dialer.Connect(dialCtx, s.endpoint)
	stopDial()
	cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		// a Close that finished before OnConnecting leaves us in Connecting
		_ = s.core.OnClosed()
		log.Debug().Str("component", "session").Str("endpoint", s.endpoint).Msg("discarding connection established after close")
		return ErrSessionClosed
	}
	if err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Str("component", "session").Str("endpoint", s.endpoint).Msg("connect failed")
		_ = s.core.OnDisconnected(err)
		return err
	}
	s.conn = conn
	s.wg.Add(1)
	s.mu.Unlock()

	go s.watch(conn)

	if err := s.core.OnConnected(s.ctx); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// Close won the race after the connection was stored
			return ErrSessionClosed
		}
		return err
	}
	log.Info().Str("component", "session").Str("endpoint", s.endpoint).Strs("topics", s.mux.Topics()).Msg("session connected")
	return nil
}

func (s *Session) watch(conn channel.Conn) {
	defer s.wg.Done()
	select {
	case <-s.ctx.Done():
		return
	case <-conn.Done():
	}

	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()

	cause := conn.Err()
	if cause == nil {
		cause = ErrConnectionLost
	}
	s.mux.Detach()
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Str("component", "session").Msg("closing lost connection")
	}
	_ = s.core.OnDisconnected(cause)

	if s.reconnect.Enabled {
		s.reconnectLoop()
	}
}

func (s *Session) reconnectLoop() {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.Connect(s.ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrSessionClosed):
			return backoff.Permanent(err)
		case s.core.State() == Connected:
			// connected with some topics failing
			return nil
		}
		log.Warn().Err(err).Str("component", "session").Int("attempt", attempt).Msg("reconnect attempt failed")
		return err
	}, s.reconnect.backOff(s.ctx))
	if err != nil && !errors.Is(err, ErrSessionClosed) && s.ctx.Err() == nil {
		log.Error().Err(err).Str("component", "session").Int("attempts", attempt).Msg("giving up on reconnect")
	}
}

// Subscribe adds a topic, starting it immediately when connected.
func (s *Session) Subscribe(topic string) error {
	return s.mux.Subscribe(topic)
}

// Send writes data to topic on the current connection.
func (s *Session) Send(ctx context.Context, topic string, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &channel.SendError{Topic: topic, Err: channel.ErrNotConnected}
	}
	return conn.Send(ctx, topic, data)
}

// Run connects and blocks until ctx is cancelled, then closes the session.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		var se *channel.SubscriptionError
		if !errors.As(err, &se) {
			_ = s.Close()
			return err
		}
	}
	select {
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	return s.Close()
}

// Close stops all subscriptions, closes the channel and records Closed. The
// message log is kept. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.stop()
	if err := s.core.OnClosed(); err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("close transition rejected")
	}
	s.mux.Close()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	log.Info().Str("component", "session").Str("endpoint", s.endpoint).Msg("session closed")
	return err
}
