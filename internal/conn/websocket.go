package conn

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"taskbridge/internal/log"
)

// ErrSignalNotOpen is returned by Send when the signaling socket has not
// finished its handshake or has already closed.
var ErrSignalNotOpen = errors.New("signaling socket not open")

const wsHandshakeTimeout = 10 * time.Second

// WebSocketDialer opens signaling sockets over gorilla/websocket.
type WebSocketDialer struct{}

// Dial starts connecting to url. The returned handle is usable immediately;
// open/error/close outcomes arrive via the handlers on a reader goroutine.
func (WebSocketDialer) Dial(url string, h SignalHandlers) SignalConn {
	c := &wsConn{url: url, handlers: h}
	go c.run()
	return c
}

type wsConn struct {
	url      string
	handlers SignalHandlers

	mu     sync.Mutex
	conn   *websocket.Conn
	open   bool
	closed bool
}

func (c *wsConn) run() {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.Dial(c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.ErrorErr(log.CatConn, "signaling dial failed", err, "url", c.url)
		if c.handlers.OnError != nil {
			c.handlers.OnError(err)
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		// Close raced the handshake; release the socket quietly.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.open = true
	c.mu.Unlock()

	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.open = false
			c.mu.Unlock()

			graceful := websocket.IsCloseError(err, websocket.CloseNormalClosure)
			if c.handlers.OnClose != nil {
				c.handlers.OnClose(graceful)
			}
			return
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(data)
		}
	}
}

// Send marshals v as JSON and writes it. Writes are serialized; gorilla
// allows only one concurrent writer.
func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.conn == nil {
		return ErrSignalNotOpen
	}
	return c.conn.WriteJSON(v)
}

// Close tears the socket down, sending a normal close frame when the
// handshake already completed. Safe to call more than once.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.open = false
	if c.conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.conn.Close()
}
