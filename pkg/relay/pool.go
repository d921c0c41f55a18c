package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/metrics"
)

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type poolClient struct {
	conn wsConn
	send chan []byte
	done chan struct{}
}

// ConnectionPool fans chat frames out to websocket clients. Every client has
// its own bounded send queue drained by a writer goroutine, so one slow
// client never delays the others; a client whose queue is full is dropped.
type ConnectionPool struct {
	mu           sync.Mutex
	clients      map[wsConn]*poolClient
	sendBuffer   int
	writeTimeout time.Duration
}

func NewConnectionPool() *ConnectionPool {
	return &ConnectionPool{
		clients:      map[wsConn]*poolClient{},
		sendBuffer:   64,
		writeTimeout: 5 * time.Second,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	c := &poolClient{
		conn: conn,
		send: make(chan []byte, max(cp.sendBuffer, 1)),
		done: make(chan struct{}),
	}
	cp.mu.Lock()
	if _, ok := cp.clients[conn]; ok {
		cp.mu.Unlock()
		return
	}
	cp.clients[conn] = c
	cp.mu.Unlock()

	metrics.Metrics.RelayConnections.Inc()
	go cp.writeLoop(c)
}

func (cp *ConnectionPool) writeLoop(c *poolClient) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if cp.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("component", "relay").Msg("ws write failed, dropping connection")
				cp.Remove(c.conn)
				return
			}
		}
	}
}

// Remove detaches conn and closes it. Removing an unknown conn still closes it.
func (cp *ConnectionPool) Remove(conn wsConn) {
	if conn == nil {
		return
	}
	if cp != nil {
		cp.mu.Lock()
		cp.dropLocked(conn)
		cp.mu.Unlock()
	}
	_ = conn.Close()
}

func (cp *ConnectionPool) dropLocked(conn wsConn) {
	c, ok := cp.clients[conn]
	if !ok {
		return
	}
	delete(cp.clients, conn)
	close(c.done)
	metrics.Metrics.RelayConnections.Dec()
}

func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	var dropped []wsConn
	cp.mu.Lock()
	for conn, c := range cp.clients {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("component", "relay").Msg("ws send queue full, dropping connection")
			cp.dropLocked(conn)
			dropped = append(dropped, conn)
		}
	}
	cp.mu.Unlock()
	for _, conn := range dropped {
		_ = conn.Close()
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.clients)
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	conns := make([]wsConn, 0, len(cp.clients))
	for conn := range cp.clients {
		cp.dropLocked(conn)
		conns = append(conns, conn)
	}
	cp.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
