package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/metrics"
	"github.com/go-go-golems/chatsync/pkg/stream"
)

var ErrInvalidTransition = errors.New("invalid channel state transition")

// Entry is one line of the local message log. Entries are never mutated
// after they are appended.
type Entry struct {
	DisplayText    string
	Origin         string
	Provenance     string
	InsertionOrder uint64
	ReceivedAt     time.Time
}

// Snapshot is handed to listeners after every change. Revision increases by
// one per change, so a listener receiving snapshots out of order can discard
// the stale ones.
type Snapshot struct {
	Revision uint64
	State    State
	Entries  []Entry
	Err      error
}

type Listener func(Snapshot)

// ConnectedHook runs after the core has entered Connected.
type ConnectedHook func(ctx context.Context) error

// Core is the only owner of the channel state and the message log. All
// mutation goes through its methods, which serialize on one mutex.
type Core struct {
	formatter Formatter
	now       func() time.Time

	mu        sync.Mutex
	state     State
	lastErr   error
	entries   []Entry
	next      uint64
	revision  uint64
	listeners map[int]Listener
	nextLID   int
	hooks     []ConnectedHook
}

type CoreOption func(*Core)

func WithFormatter(f Formatter) CoreOption {
	return func(c *Core) {
		if f != nil {
			c.formatter = f
		}
	}
}

func WithClock(now func() time.Time) CoreOption {
	return func(c *Core) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCore(opts ...CoreOption) *Core {
	c := &Core{
		formatter: NewPrefixFormatter(DefaultPrefixes()),
		now:       time.Now,
		state:     Disconnected,
		listeners: map[int]Listener{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AddListener registers l and returns a function that removes it.
func (c *Core) AddListener(l Listener) func() {
	if l == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextLID
	c.nextLID++
	c.listeners[id] = l
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// AddConnectedHook registers a hook run on every entry into Connected.
func (c *Core) AddConnectedHook(h ConnectedHook) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.hooks = append(c.hooks, h)
	c.mu.Unlock()
}

func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Core) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of the log.
func (c *Core) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

func (c *Core) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Core) snapshotLocked() Snapshot {
	// entries are append-only, so a capped slice header is a safe snapshot
	return Snapshot{
		Revision: c.revision,
		State:    c.state,
		Entries:  c.entries[:len(c.entries):len(c.entries)],
		Err:      c.lastErr,
	}
}

func (c *Core) OnConnecting() error {
	return c.transition(Connecting, nil)
}

// OnConnected enters Connected and runs the connected hooks, which
// (re-)establish the subscriptions. Hook errors are returned but leave the
// state Connected: a failed topic does not invalidate the channel.
func (c *Core) OnConnected(ctx context.Context) error {
	if err := c.transition(Connected, nil); err != nil {
		return err
	}
	c.mu.Lock()
	hooks := append([]ConnectedHook(nil), c.hooks...)
	c.mu.Unlock()

	var firstErr error
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			log.Warn().Err(err).Str("component", "chatsync").Msg("connected hook failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// OnDisconnected records a dropped or failed channel. The log is kept.
func (c *Core) OnDisconnected(cause error) error {
	return c.transition(Disconnected, cause)
}

// OnClosed records a deliberate close. The log is kept.
func (c *Core) OnClosed() error {
	return c.transition(Closed, nil)
}

func (c *Core) transition(to State, cause error) error {
	c.mu.Lock()
	from := c.state
	if from == to && to != Connecting {
		c.mu.Unlock()
		return nil
	}
	if !canTransition(from, to) {
		c.mu.Unlock()
		log.Warn().Str("component", "chatsync").Str("from", from.String()).Str("to", to.String()).Msg("rejected state transition")
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	c.state = to
	c.lastErr = cause
	c.revision++
	snap := c.snapshotLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	metrics.Metrics.StateTransitions.WithLabelValues(to.String()).Inc()
	ev := log.Info()
	if cause != nil {
		ev = log.Warn().Err(cause)
	}
	ev.Str("component", "chatsync").Str("from", from.String()).Str("to", to.String()).Msg("channel state changed")
	notify(listeners, snap)
	return nil
}

// OnInboundMessage appends exactly one entry for msg. Messages arriving while
// the channel is not Connected are rejected, which guarantees nothing is
// appended after a close or disconnect has been recorded.
func (c *Core) OnInboundMessage(msg stream.InboundMessage) bool {
	display, origin := c.formatter.Format(msg)

	c.mu.Lock()
	if c.state != Connected {
		state := c.state
		c.mu.Unlock()
		log.Debug().Str("component", "chatsync").Str("state", state.String()).Str("provenance", msg.Provenance).Msg("discarding message outside connected state")
		return false
	}
	c.next++
	c.entries = append(c.entries, Entry{
		DisplayText:    display,
		Origin:         origin,
		Provenance:     msg.Provenance,
		InsertionOrder: c.next,
		ReceivedAt:     c.now(),
	})
	c.revision++
	snap := c.snapshotLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	metrics.Metrics.EntriesAppended.Inc()
	notify(listeners, snap)
	return true
}

func (c *Core) listenersLocked() []Listener {
	if len(c.listeners) == 0 {
		return nil
	}
	ret := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ret = append(ret, l)
	}
	return ret
}

func notify(listeners []Listener, snap Snapshot) {
	for _, l := range listeners {
		l(snap)
	}
}
