package registry

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Wire is the subset of *websocket.Conn the hub writes through. Tests
// substitute a stub.
type Wire interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one live subscriber channel. It is owned by the Hub between
// Register and Unregister.
type Client struct {
	SessionSlug string
	UserID      string
	ConnectedAt time.Time

	wire    Wire
	writeMu sync.Mutex

	missedPongs atomic.Int32
	done        chan struct{}
	closeOnce   sync.Once
}

func NewClient(slug, userID string, w Wire) *Client {
	return &Client{
		SessionSlug: slug,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		wire:        w,
		done:        make(chan struct{}),
	}
}

// MarkPong resets the heartbeat miss counter. Wire owners should call this
// from the connection's pong handler.
func (c *Client) MarkPong() {
	c.missedPongs.Store(0)
}

// Send marshals and writes one frame directly, outside the hub's drain
// loop. Used for the initial connected frame before registration.
func (c *Client) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.send(data)
}

func (c *Client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.wire.SetWriteDeadline(time.Now().Add(writeWait))
	return c.wire.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) ping() error {
	return c.wire.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// CloseWithCode sends a close frame and tears the channel down. Safe to call
// more than once.
func (c *Client) CloseWithCode(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.wire.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.wire.Close()
		close(c.done)
	})
}
