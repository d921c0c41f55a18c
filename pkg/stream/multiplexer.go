package stream

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/channel"
	"github.com/go-go-golems/chatsync/pkg/frame"
	"github.com/go-go-golems/chatsync/pkg/metrics"
)

// InboundMessage is one decoded frame stamped with where it came from.
// Seq increases strictly per provenance for the lifetime of the Multiplexer.
type InboundMessage struct {
	Provenance string
	Payload    frame.Payload
	Seq        uint64
	FrameID    string
}

// Sink receives decoded messages. It is called from one goroutine per
// subscription and must serialize its own state.
type Sink interface {
	OnInboundMessage(InboundMessage) bool
}

type SinkFunc func(InboundMessage) bool

func (f SinkFunc) OnInboundMessage(m InboundMessage) bool { return f(m) }

type subscription struct {
	topic  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Multiplexer owns the configured topic set and one consumption loop per
// active subscription. It forwards messages to the Sink in arrival order per
// topic; topics are not ordered relative to each other.
type Multiplexer struct {
	sink Sink

	mu     sync.Mutex
	topics []string
	known  map[string]struct{}
	subs   map[string]*subscription
	conn   channel.Conn
	runCtx context.Context
	cancel context.CancelFunc
	closed bool

	seqMu sync.Mutex
	seq   map[string]uint64
}

func NewMultiplexer(sink Sink, topics ...string) *Multiplexer {
	m := &Multiplexer{
		sink:  sink,
		known: map[string]struct{}{},
		subs:  map[string]*subscription{},
		seq:   map[string]uint64{},
	}
	for _, t := range topics {
		m.addTopicLocked(t)
	}
	return m
}

func (m *Multiplexer) addTopicLocked(topic string) bool {
	if topic == "" {
		return false
	}
	if _, ok := m.known[topic]; ok {
		return false
	}
	m.known[topic] = struct{}{}
	m.topics = append(m.topics, topic)
	return true
}

// Topics returns the configured topics in the order they were added.
func (m *Multiplexer) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.topics...)
}

// Active returns the topics with a running consumption loop.
func (m *Multiplexer) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]string, 0, len(m.subs))
	for _, t := range m.topics {
		if _, ok := m.subs[t]; ok {
			ret = append(ret, t)
		}
	}
	return ret
}

// Attach starts a consumption loop for every configured topic on conn. A
// topic that fails to subscribe is reported in the returned error and does
// not prevent the others from running. Any previous attachment is detached
// first.
func (m *Multiplexer) Attach(ctx context.Context, conn channel.Conn) error {
	if conn == nil {
		return errors.New("multiplexer: conn is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.Detach()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("multiplexer is closed")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.conn = conn
	m.runCtx = runCtx
	m.cancel = cancel
	topics := append([]string(nil), m.topics...)
	m.mu.Unlock()

	var result *multierror.Error
	for _, topic := range topics {
		if err := m.start(topic); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Subscribe adds topic to the configured set and, when attached, starts
// consuming it. Subscribing an already configured topic is a no-op.
func (m *Multiplexer) Subscribe(topic string) error {
	if topic == "" {
		return &channel.SubscriptionError{Topic: topic, Err: errors.New("topic is empty")}
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &channel.SubscriptionError{Topic: topic, Err: errors.New("multiplexer is closed")}
	}
	m.addTopicLocked(topic)
	_, active := m.subs[topic]
	attached := m.conn != nil
	m.mu.Unlock()

	if !attached || active {
		return nil
	}
	return m.start(topic)
}

func (m *Multiplexer) start(topic string) error {
	m.mu.Lock()
	if m.conn == nil || m.runCtx == nil {
		m.mu.Unlock()
		return &channel.SubscriptionError{Topic: topic, Err: channel.ErrNotConnected}
	}
	if _, ok := m.subs[topic]; ok {
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	subCtx, cancel := context.WithCancel(m.runCtx)
	sub := &subscription{topic: topic, cancel: cancel, done: make(chan struct{})}
	m.subs[topic] = sub
	m.mu.Unlock()

	frames, err := conn.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		close(sub.done)
		m.mu.Lock()
		if m.subs[topic] == sub {
			delete(m.subs, topic)
		}
		m.mu.Unlock()
		log.Error().Err(err).Str("component", "stream").Str("topic", topic).Msg("subscribe failed")
		var se *channel.SubscriptionError
		if errors.As(err, &se) {
			return err
		}
		return &channel.SubscriptionError{Topic: topic, Err: err}
	}

	log.Info().Str("component", "stream").Str("topic", topic).Msg("subscription started")
	go m.consume(subCtx, sub, frames, conn.Decoder())
	return nil
}

func (m *Multiplexer) consume(ctx context.Context, sub *subscription, frames <-chan channel.Frame, decoder frame.Decoder) {
	defer close(sub.done)
	defer func() {
		m.mu.Lock()
		if m.subs[sub.topic] == sub {
			delete(m.subs, sub.topic)
		}
		m.mu.Unlock()
		log.Info().Str("component", "stream").Str("topic", sub.topic).Msg("subscription stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			// a frame that raced with cancellation is discarded
			if ctx.Err() != nil {
				metrics.Metrics.FramesDropped.WithLabelValues(sub.topic, "closed").Inc()
				return
			}
			metrics.Metrics.FramesReceived.WithLabelValues(sub.topic).Inc()
			payload, err := decoder.Decode(f.Data)
			if err != nil {
				metrics.Metrics.FramesDropped.WithLabelValues(sub.topic, "decode").Inc()
				log.Warn().Err(err).Str("component", "stream").Str("topic", sub.topic).Str("frame_id", f.ID).Msg("dropping undecodable frame")
				continue
			}
			msg := InboundMessage{
				Provenance: sub.topic,
				Payload:    payload,
				Seq:        m.nextSeq(sub.topic),
				FrameID:    f.ID,
			}
			if m.sink != nil && !m.sink.OnInboundMessage(msg) {
				metrics.Metrics.FramesDropped.WithLabelValues(sub.topic, "rejected").Inc()
				log.Debug().Str("component", "stream").Str("topic", sub.topic).Uint64("seq", msg.Seq).Msg("sink rejected message")
			}
		}
	}
}

func (m *Multiplexer) nextSeq(provenance string) uint64 {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	m.seq[provenance]++
	return m.seq[provenance]
}

// Detach stops every consumption loop and waits for them to exit. The
// configured topic set is kept for the next Attach.
func (m *Multiplexer) Detach() {
	m.mu.Lock()
	cancel := m.cancel
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.conn = nil
	m.runCtx = nil
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, s := range subs {
		s.cancel()
		<-s.done
	}
}

// Close detaches and refuses further attachments.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Detach()
}
