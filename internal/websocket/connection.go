package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"studysync/pkg/types"
)

// Connection wraps one admitted socket. All socket writes go through a
// single writer goroutine fed by a buffered outbox, so room actors can hand
// off frames without ever touching the network.
type Connection struct {
	id           string
	identity     types.Identity
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	closeReq     chan closeFrame

	mu        sync.RWMutex
	sessionID string // joined room, "" when not joined
}

// NewConnection starts the writer goroutine for an authenticated socket.
func NewConnection(id string, identity types.Identity, conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           id,
		identity:     identity,
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		closeReq:     make(chan closeFrame, 1),
	}

	go c.writeLoop()

	return c
}

// writeLoop is the only goroutine that writes data frames. writeCh is never
// closed, so a late Enqueue after shutdown lands in the buffer and is dropped.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case req := <-c.closeReq:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(req.code, req.reason),
				time.Now().Add(c.writeTimeout))
			_ = c.Close()
			return

		case <-c.ctx.Done():
			return
		}
	}
}

// flush writes whatever is already queued, without waiting for more.
func (c *Connection) flush() {
	for {
		select {
		case data := <-c.writeCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Identity() types.Identity {
	return c.identity
}

// Enqueue never blocks. A full outbox means the peer is not keeping up; the
// connection is closed so the client reconnects and receives a fresh
// snapshot instead of silently missing events.
func (c *Connection) Enqueue(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		_ = c.Close()
		return ErrSendBufferFull
	}
}

// Close is idempotent and safe to call from any goroutine.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

type closeFrame struct {
	code   int
	reason string
}

// CloseWith sends a close frame with code after the frames already queued,
// then closes the socket. Later calls are ignored.
func (c *Connection) CloseWith(code int, reason string) {
	select {
	case c.closeReq <- closeFrame{code: code, reason: reason}:
	default:
	}
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Connection) SetSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}
