// Package wsgateway implements the Client Channel: one message-oriented,
// full-duplex websocket connection per active browser tab, carrying
// control frames inbound and output/error/url_open frames outbound.
package wsgateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const pingInterval = 30 * time.Second

// queuedFrame pairs an encoded outbound frame with the byte weight it was
// credited against the budget under, so enqueue and dequeue accounting
// always match exactly.
type queuedFrame struct {
	data   []byte
	weight int
}

// Channel is bound to at most one session for its lifetime. It is created
// unbound; the Multiplexer binds it after a successful init frame.
type Channel struct {
	id   string
	conn *websocket.Conn

	inboundFrames chan ClientMessage
	inboundCap    int

	outMu        sync.Mutex
	outboundByte chan queuedFrame
	outstanding  int64 // atomic, bytes currently queued
	byteBudget   int64

	bindMu   sync.Mutex
	boundID  string
	isBound  bool
	closeErr atomic.Value // stores *ChannelError once closed

	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannel wraps an accepted websocket connection. outboundByteBudget
// bounds total bytes enqueued for send; inboundFrameCap bounds buffered
// unread inbound frames.
func NewChannel(conn *websocket.Conn, outboundByteBudget, inboundFrameCap int) *Channel {
	if outboundByteBudget <= 0 {
		outboundByteBudget = 4 * 1024 * 1024
	}
	if inboundFrameCap <= 0 {
		inboundFrameCap = 256
	}
	return &Channel{
		id:            generateChannelID(),
		conn:          conn,
		inboundFrames: make(chan ClientMessage, inboundFrameCap),
		inboundCap:    inboundFrameCap,
		outboundByte:  make(chan queuedFrame, inboundFrameCap),
		byteBudget:    int64(outboundByteBudget),
		closed:        make(chan struct{}),
	}
}

// ID returns the channel's own identifier (not the session id).
func (c *Channel) ID() string { return c.id }

// Bind associates the channel with a session id exactly once.
func (c *Channel) Bind(sessionID string) error {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	if c.isBound {
		return &ChannelError{Kind: KindBindError, Detail: "channel already bound to " + c.boundID}
	}
	c.boundID = sessionID
	c.isBound = true
	return nil
}

// BoundSessionID returns the bound session id, or "" if unbound.
func (c *Channel) BoundSessionID() string {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	return c.boundID
}

// Inbound returns the channel of parsed inbound frames for the
// Multiplexer's client->PTY pump to consume.
func (c *Channel) Inbound() <-chan ClientMessage { return c.inboundFrames }

// Done is closed once the channel has been torn down.
func (c *Channel) Done() <-chan struct{} { return c.closed }

// TryEnqueueOutput attempts to enqueue a PTY output chunk as an outbound
// output frame without blocking. It returns false if doing so would
// exceed the byte budget; the caller (the PTY->client pump) must then
// apply backpressure by pausing PTY reads rather than dropping bytes.
func (c *Channel) TryEnqueueOutput(data []byte) bool {
	return c.tryEnqueue(newOutputMessage(data), len(data))
}

// TryEnqueueURLOpen attempts to enqueue a url_open hint; best-effort, not
// subject to the byte-budget backpressure contract since it is rare and
// small.
func (c *Channel) TryEnqueueURLOpen(url string) {
	c.tryEnqueue(newURLOpenMessage(url), len(url))
}

func (c *Channel) tryEnqueue(frame []byte, weight int) bool {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	if atomic.LoadInt64(&c.outstanding)+int64(weight) > c.byteBudget {
		return false
	}
	select {
	case c.outboundByte <- queuedFrame{data: frame, weight: weight}:
		atomic.AddInt64(&c.outstanding, int64(weight))
		return true
	default:
		return false
	}
}

// CloseWithError sends a terminal error frame, then closes the underlying
// socket. Safe to call more than once; only the first call's error is
// recorded.
func (c *Channel) CloseWithError(kind ErrorKind, detail string) {
	c.closeOnce.Do(func() {
		c.closeErr.Store(&ChannelError{Kind: kind, Detail: detail})
		frame := newErrorMessage(kind, detail)
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.conn.Write(writeCtx, websocket.MessageText, frame)
		_ = c.conn.Close(websocket.StatusNormalClosure, kind.String())
		close(c.closed)
	})
}

// CloseNormally closes the channel without an error frame (orderly
// session end).
func (c *Channel) CloseNormally() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		close(c.closed)
	})
}

// Err returns the recorded close error, if the channel closed abnormally.
func (c *Channel) Err() *ChannelError {
	if v := c.closeErr.Load(); v != nil {
		return v.(*ChannelError)
	}
	return nil
}

// ReadPump parses inbound JSON frames and enqueues them. The first frame
// must be "init"; anything else triggers ProtocolError. Overflowing the
// inbound frame cap triggers OverflowError. Returns when the socket
// closes or an error frame is sent.
func (c *Channel) ReadPump(ctx context.Context) {
	defer close(c.inboundFrames)

	c.conn.SetReadLimit(1 << 20)

	sawInit := false
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if jsonErr := json.Unmarshal(data, &msg); jsonErr != nil {
			c.CloseWithError(KindProtocolError, "malformed frame")
			return
		}
		if !sawInit {
			if msg.Type != "init" {
				c.CloseWithError(KindProtocolError, "first frame must be init")
				return
			}
			sawInit = true
		} else if msg.Type == "init" {
			c.CloseWithError(KindProtocolError, "duplicate init frame")
			return
		}

		select {
		case c.inboundFrames <- msg:
		default:
			c.CloseWithError(KindOverflowError, "inbound queue exceeded")
			return
		}
	}
}

// WritePump drains the outbound queue to the socket and pings on an
// interval to detect dead peers.
func (c *Channel) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case qf, ok := <-c.outboundByte:
			if !ok {
				return
			}
			err := c.conn.Write(ctx, websocket.MessageText, qf.data)
			atomic.AddInt64(&c.outstanding, -int64(qf.weight))
			if err != nil {
				return
			}
		}
	}
}

func generateChannelID() string {
	return uuid.NewString()
}
