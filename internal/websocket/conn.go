package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 5 * time.Minute
)

// Conn wraps a gorilla connection with a write lock. The read loop
// acks actions while session observers push events from other
// goroutines; gorilla permits only one concurrent writer.
type Conn struct {
	mu  sync.Mutex
	raw *websocket.Conn
}

// Wrap takes ownership of an upgraded connection.
func Wrap(raw *websocket.Conn) *Conn {
	return &Conn{raw: raw}
}

// Write sends a strongly-typed payload with a write deadline.
func (c *Conn) Write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.raw.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse.
func (c *Conn) WriteError(msg string) {
	_ = c.Write(ErrorResponse{Event: EventError, Error: msg})
}

// Read decodes the next message into v. It sets a read deadline so an
// abandoned client eventually drops instead of pinning the session.
func (c *Conn) Read(v interface{}) error {
	c.raw.SetReadDeadline(time.Now().Add(readTimeout))
	return c.raw.ReadJSON(v)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}
