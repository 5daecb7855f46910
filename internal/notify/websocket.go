package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds a single websocket write.
const DefaultWriteTimeout = 10 * time.Second

// WSListener delivers events over a websocket connection. Writes are
// serialized; gorilla connections allow one concurrent writer.
type WSListener struct {
	id      string
	conn    *websocket.Conn
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewWSListener wraps conn. A non-positive timeout uses DefaultWriteTimeout.
func NewWSListener(conn *websocket.Conn, timeout time.Duration) *WSListener {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &WSListener{id: uuid.NewString(), conn: conn, timeout: timeout}
}

func (w *WSListener) ID() string { return w.id }

// Send writes ev as a JSON text frame.
func (w *WSListener) Send(ev Event) error {
	return w.WriteJSON(ev)
}

// WriteJSON writes any value, sharing the write lock with Send.
func (w *WSListener) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return websocket.ErrCloseSent
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(v)
}

// Close sends a close frame and closes the connection. It is idempotent.
func (w *WSListener) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}
