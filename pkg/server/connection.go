package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/Tabatskyi/multi-share/internal/logger"
	"github.com/Tabatskyi/multi-share/internal/protocol/frame"
	"github.com/Tabatskyi/multi-share/pkg/rooms"
	"github.com/Tabatskyi/multi-share/pkg/storage"
)

// outboundDepth is the per-connection send queue length. Writes from
// broadcasts and offer streams queue here; the writer goroutine drains it.
const outboundDepth = 64

var errConnClosed = errors.New("connection closed")

// Conn is one client session. The read loop decodes frames and dispatches
// them serially; all writes funnel through a single writer goroutine so
// frame boundaries stay atomic even when broadcasts and offer streams target
// this socket concurrently.
type Conn struct {
	id   rooms.ClientID
	name string // last sender name seen in a payload, for logging
	srv  *Server
	sock net.Conn
	dec  *frame.Decoder

	sendMu     sync.Mutex
	sendClosed bool
	outbound   chan []byte
	writerDone chan struct{}

	// upload is the in-flight file reception, nil when idle. Touched only
	// by this connection's read loop.
	upload *storage.Upload
}

func newConn(s *Server, sock net.Conn, id rooms.ClientID) *Conn {
	return &Conn{
		id:         id,
		srv:        s,
		sock:       sock,
		dec:        frame.NewDecoderLimit(sock, uint32(s.cfg.Transfer.MaxPayload)),
		outbound:   make(chan []byte, outboundDepth),
		writerDone: make(chan struct{}),
	}
}

// ID returns the server-assigned client identifier.
func (c *Conn) ID() rooms.ClientID {
	return c.id
}

// Serve decodes and dispatches frames until the peer disconnects or the
// stream desynchronizes, then tears the session down.
func (c *Conn) Serve(ctx context.Context) {
	go c.writeLoop()
	defer c.teardown()

	for {
		msg, err := c.dec.Next()
		if err != nil {
			switch {
			case err == io.EOF:
				logger.Debug("client disconnected", "client_id", c.id, "name", c.name)
			case errors.Is(err, frame.ErrTruncated):
				logger.Warn("stream truncated mid-frame", "client_id", c.id, "error", err)
			case errors.Is(err, frame.ErrPayloadTooLarge):
				logger.Warn("oversized frame, closing connection", "client_id", c.id, "error", err)
			default:
				logger.Debug("read error", "client_id", c.id, "error", err)
			}
			return
		}

		c.srv.metrics.FrameReceived(msg.Command.String())
		c.dispatch(ctx, msg)
	}
}

// Send queues one frame for delivery. Returns errConnClosed once the
// session has begun teardown; broadcast callers log and carry on.
func (c *Conn) Send(cmd frame.Command, payload []byte) error {
	buf := frame.Encode(cmd, payload)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return errConnClosed
	}
	c.outbound <- buf
	return nil
}

// SendString queues one frame with a text payload.
func (c *Conn) SendString(cmd frame.Command, payload string) error {
	return c.Send(cmd, []byte(payload))
}

// writeLoop is the only goroutine that writes to the socket. After the
// first write error it keeps draining the queue so senders never block.
func (c *Conn) writeLoop() {
	defer close(c.writerDone)

	var dead bool
	for buf := range c.outbound {
		if dead {
			continue
		}
		if _, err := c.sock.Write(buf); err != nil {
			logger.Debug("write failed, discarding queued frames",
				"client_id", c.id, "error", err)
			dead = true
		}
	}
}

// teardown releases everything the session holds: room membership, any
// in-flight upload (partial file retained), armed promises, and the socket.
func (c *Conn) teardown() {
	c.srv.registry.Leave(c.id)

	if c.upload != nil {
		c.upload.Abort()
		c.upload = nil
	}

	// Unblock any offer worker waiting on this client.
	c.srv.promises.Disconnect(c.id)

	c.closeSend()
	<-c.writerDone

	if err := c.sock.Close(); err != nil {
		logger.Debug("closing socket", "client_id", c.id, "error", err)
	}
}

func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.outbound)
	}
}
