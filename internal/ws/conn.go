package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/piotrnowy/planning-poker/internal/room"
)

// StatusReplaced closes a connection whose name was taken over by a newer one.
const StatusReplaced websocket.StatusCode = 4001

// Options configure accepted connections.
type Options struct {
	OriginPatterns []string
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
}

func (o Options) withDefaults() Options {
	if len(o.OriginPatterns) == 0 {
		o.OriginPatterns = []string{"*"}
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
	return o
}

// OriginPatterns turns a CORS allow list ("https://app.example") into
// websocket host patterns ("app.example").
func OriginPatterns(allow []string) []string {
	out := make([]string, 0, len(allow))
	for _, a := range allow {
		a = strings.TrimPrefix(a, "https://")
		a = strings.TrimPrefix(a, "http://")
		a = strings.TrimSuffix(a, "/")
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Conn is one client connection. It implements room.Member: Send only queues,
// the WriteLoop does the network writes.
type Conn struct {
	id  string
	ws  *websocket.Conn
	out chan []byte
	log *slog.Logger

	ping         time.Duration
	writeTimeout time.Duration

	once sync.Once
	done chan struct{}
}

// Accept upgrades HTTP to websocket
func Accept(w http.ResponseWriter, r *http.Request, opts Options) (*websocket.Conn, error) {
	opts = opts.withDefaults()
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  opts.OriginPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(opts.ReadLimit)
	return c, nil
}

// NewConn wraps an accepted websocket
func NewConn(ws *websocket.Conn, opts Options, log *slog.Logger) *Conn {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Conn{
		id:           id,
		ws:           ws,
		out:          make(chan []byte, opts.SendBuffer),
		log:          log.With("conn", id),
		ping:         opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		done:         make(chan struct{}),
	}
}

// ID is the connection's log correlation id.
func (c *Conn) ID() string { return c.id }

// Send queues b without blocking. A full queue or a closed connection
// reports false.
func (c *Conn) Send(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// Close is called by the room when it lets go of this connection.
func (c *Conn) Close(reason room.CloseReason) {
	switch reason {
	case room.ReasonReplaced:
		c.closeWith(StatusReplaced, "replaced")
	case room.ReasonWriteFailed:
		c.closeWith(websocket.StatusPolicyViolation, "write failed")
	default:
		c.closeWith(websocket.StatusNormalClosure, "bye")
	}
}

// closeWith stops the write loop and runs the close handshake in the
// background; the read loop unblocks once the socket is gone.
func (c *Conn) closeWith(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		c.log.Debug("conn.close", "code", int(code), "reason", reason)
		go func() { _ = c.ws.Close(code, reason) }()
	})
}

// Read blocks until it receives a text/binary message
// Returns false if connection is closed
func (c *Conn) Read(ctx context.Context) ([]byte, bool) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if st := websocket.CloseStatus(err); st == -1 {
				c.log.Debug("conn.read", "err", err)
			}
			return nil, false
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, true
		}
	}
}

// WriteLoop sends queued frames + periodic pings until the connection is
// closed or ctx is cancelled. A failed write closes the connection.
func (c *Conn) WriteLoop(ctx context.Context) {
	t := time.NewTicker(c.ping)
	defer t.Stop()

	for {
		select {
		case b := <-c.out:
			if err := c.write(ctx, b); err != nil {
				c.log.Debug("conn.write", "err", err)
				c.Close(room.ReasonWriteFailed)
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug("conn.ping", "err", err)
				c.Close(room.ReasonWriteFailed)
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) write(ctx context.Context, b []byte) error {
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, b)
}
