package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/channel"
	"github.com/go-go-golems/chatsync/pkg/frame"
)

// stubConn hands out one Go channel per topic and records subscriptions.
type stubConn struct {
	mu         sync.Mutex
	streams    map[string]chan channel.Frame
	subscribes map[string]int
	failTopics map[string]error
	decoder    frame.Decoder
	done       chan struct{}
}

func newStubConn(decoder frame.Decoder) *stubConn {
	return &stubConn{
		streams:    map[string]chan channel.Frame{},
		subscribes: map[string]int{},
		failTopics: map[string]error{},
		decoder:    decoder,
		done:       make(chan struct{}),
	}
}

func (s *stubConn) stream(topic string) chan channel.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.streams[topic]
	if !ok {
		ch = make(chan channel.Frame)
		s.streams[topic] = ch
	}
	return ch
}

func (s *stubConn) Subscribe(_ context.Context, topic string) (<-chan channel.Frame, error) {
	s.mu.Lock()
	err := s.failTopics[topic]
	s.subscribes[topic]++
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.stream(topic), nil
}

func (s *stubConn) subscribeCount(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes[topic]
}

func (s *stubConn) Send(context.Context, string, []byte) error { return nil }
func (s *stubConn) Close() error                               { return nil }
func (s *stubConn) Done() <-chan struct{}                      { return s.done }
func (s *stubConn) Err() error                                 { return nil }
func (s *stubConn) Decoder() frame.Decoder                     { return s.decoder }
func (s *stubConn) Endpoint() string                           { return "stub://" }

type recordingSink struct {
	mu   sync.Mutex
	msgs []InboundMessage
}

func (r *recordingSink) OnInboundMessage(m InboundMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return true
}

func (r *recordingSink) snapshot() []InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InboundMessage(nil), r.msgs...)
}

func push(t *testing.T, ch chan channel.Frame, f channel.Frame) {
	t.Helper()
	select {
	case ch <- f:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout pushing frame on %s", f.Topic)
	}
}

func TestMultiplexer_TagsProvenanceAndKeepsPerTopicOrder(t *testing.T) {
	sink := &recordingSink{}
	m := NewMultiplexer(sink, "test", "time")
	conn := newStubConn(frame.RawTextDecoder)
	require.NoError(t, m.Attach(context.Background(), conn))
	defer m.Close()

	testCh, timeCh := conn.stream("test"), conn.stream("time")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, s := range []string{"a1", "a2", "a3", "a4"} {
			testCh <- channel.Frame{Topic: "test", Data: []byte(s)}
		}
	}()
	go func() {
		defer wg.Done()
		for _, s := range []string{"b1", "b2", "b3"} {
			timeCh <- channel.Frame{Topic: "time", Data: []byte(s)}
		}
	}()
	wg.Wait()

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 7 }, 2*time.Second, 5*time.Millisecond)

	perTopic := map[string][]string{}
	perSeq := map[string][]uint64{}
	for _, msg := range sink.snapshot() {
		perTopic[msg.Provenance] = append(perTopic[msg.Provenance], msg.Payload.Text)
		perSeq[msg.Provenance] = append(perSeq[msg.Provenance], msg.Seq)
	}
	require.Equal(t, []string{"a1", "a2", "a3", "a4"}, perTopic["test"])
	require.Equal(t, []string{"b1", "b2", "b3"}, perTopic["time"])
	require.Equal(t, []uint64{1, 2, 3, 4}, perSeq["test"])
	require.Equal(t, []uint64{1, 2, 3}, perSeq["time"])
}

func TestMultiplexer_DropsUndecodableFrames(t *testing.T) {
	sink := &recordingSink{}
	m := NewMultiplexer(sink, channel.SocketChannel)
	conn := newStubConn(frame.StructuredChatDecoder)
	require.NoError(t, m.Attach(context.Background(), conn))
	defer m.Close()

	ch := conn.stream(channel.SocketChannel)
	push(t, ch, channel.Frame{Topic: channel.SocketChannel, Data: []byte(`not json`)})
	push(t, ch, channel.Frame{Topic: channel.SocketChannel, Data: []byte(`{"side":"right","message":"ok"}`)})

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	got := sink.snapshot()[0]
	require.Equal(t, frame.StructuredChat("right", "ok"), got.Payload)
	require.Equal(t, uint64(1), got.Seq)
}

func TestMultiplexer_SubscribeIsIdempotent(t *testing.T) {
	m := NewMultiplexer(&recordingSink{}, "test")
	conn := newStubConn(frame.RawTextDecoder)
	require.NoError(t, m.Attach(context.Background(), conn))
	defer m.Close()

	require.NoError(t, m.Subscribe("test"))
	require.NoError(t, m.Subscribe("test"))
	require.Equal(t, 1, conn.subscribeCount("test"))
	require.Equal(t, []string{"test"}, m.Topics())

	require.NoError(t, m.Subscribe("time"))
	require.NoError(t, m.Subscribe("time"))
	require.Equal(t, 1, conn.subscribeCount("time"))
	require.Equal(t, []string{"test", "time"}, m.Active())
}

func TestMultiplexer_SubscribeBeforeAttachOnlyConfigures(t *testing.T) {
	m := NewMultiplexer(&recordingSink{})
	require.NoError(t, m.Subscribe("test"))
	require.Equal(t, []string{"test"}, m.Topics())
	require.Empty(t, m.Active())
}

func TestMultiplexer_FailedTopicDoesNotAffectOthers(t *testing.T) {
	sink := &recordingSink{}
	m := NewMultiplexer(sink, "bad", "test")
	conn := newStubConn(frame.RawTextDecoder)
	conn.failTopics["bad"] = errors.New("denied")

	err := m.Attach(context.Background(), conn)
	require.Error(t, err)
	var se *channel.SubscriptionError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "bad", se.Topic)
	defer m.Close()

	require.Equal(t, []string{"test"}, m.Active())
	push(t, conn.stream("test"), channel.Frame{Topic: "test", Data: []byte("still here")})
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestMultiplexer_DetachStopsLoopsAndReattachResubscribes(t *testing.T) {
	sink := &recordingSink{}
	m := NewMultiplexer(sink, "test")
	first := newStubConn(frame.RawTextDecoder)
	require.NoError(t, m.Attach(context.Background(), first))

	m.Detach()
	require.Empty(t, m.Active())
	select {
	case first.stream("test") <- channel.Frame{Topic: "test", Data: []byte("late")}:
		t.Fatal("detached loop still consuming")
	case <-time.After(50 * time.Millisecond):
	}

	second := newStubConn(frame.RawTextDecoder)
	require.NoError(t, m.Attach(context.Background(), second))
	defer m.Close()
	require.Equal(t, 1, second.subscribeCount("test"))

	push(t, second.stream("test"), channel.Frame{Topic: "test", Data: []byte("x")})
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(1), sink.snapshot()[0].Seq)
}

func TestMultiplexer_CloseRefusesAttach(t *testing.T) {
	m := NewMultiplexer(&recordingSink{}, "test")
	m.Close()
	require.Error(t, m.Attach(context.Background(), newStubConn(frame.RawTextDecoder)))
	require.Error(t, m.Subscribe("time"))
}

func TestMultiplexer_ClosedStreamEndsSubscription(t *testing.T) {
	m := NewMultiplexer(&recordingSink{}, "test")
	conn := newStubConn(frame.RawTextDecoder)
	require.NoError(t, m.Attach(context.Background(), conn))
	defer m.Close()

	close(conn.stream("test"))
	require.Eventually(t, func() bool { return len(m.Active()) == 0 }, 2*time.Second, 5*time.Millisecond)
}
