// Package client is a small protocol client for the share server: it frames
// outgoing commands, decodes the server's replies, and drives uploads chunk
// by chunk. The interactive CLI and the end-to-end tests both build on it.
package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Tabatskyi/multi-share/internal/logger"
	"github.com/Tabatskyi/multi-share/internal/protocol/frame"
)

// DefaultChunkSize is the payload size used for upload chunks.
const DefaultChunkSize = 1024

// Client is one connection to the share server. Reads and writes may come
// from different goroutines; writes are serialized internally, and Next is
// intended for a single reader goroutine.
type Client struct {
	name string
	sock net.Conn
	dec  *frame.Decoder

	writeMu sync.Mutex
}

// Dial connects to the server at addr. The name is prefixed to every
// command payload that carries a sender identity.
func Dial(addr, name string) (*Client, error) {
	sock, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{
		name: name,
		sock: sock,
		dec:  frame.NewDecoder(sock),
	}, nil
}

// Name returns the client name sent with each command.
func (c *Client) Name() string {
	return c.name
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.sock.Close()
}

// Next blocks until one frame arrives from the server.
func (c *Client) Next() (frame.Message, error) {
	return c.dec.Next()
}

// Join asks the server to move this client into room.
func (c *Client) Join(room int64) error {
	return c.send(frame.CmdJoinRoom, fmt.Sprintf("%s %d", c.name, room))
}

// SendText broadcasts text to the client's current room.
func (c *Client) SendText(text string) error {
	return c.send(frame.CmdMessageText, fmt.Sprintf("%s %s", c.name, text))
}

// OfferFile proposes a previously uploaded file to the other room members.
func (c *Client) OfferFile(filename string, size uint64) error {
	return c.send(frame.CmdFileOffer, fmt.Sprintf("fo %s %s %d", c.name, filename, size))
}

// RespondOffer answers a pending file offer from another client.
func (c *Client) RespondOffer(accept bool) error {
	answer := "n"
	if accept {
		answer = "y"
	}
	return c.send(frame.CmdFileOfferResponse, answer)
}

// UploadFile streams a local file to the server: a FileSize announcement
// followed by chunks of at most DefaultChunkSize bytes. Returns the size
// announced, for a subsequent OfferFile.
func (c *Client) UploadFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	size := uint64(info.Size())
	filename := filepath.Base(path)

	if err := c.send(frame.CmdFileSize, fmt.Sprintf("%s %s %d", c.name, filename, size)); err != nil {
		return 0, err
	}

	buf := make([]byte, DefaultChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if sendErr := c.sendBytes(frame.CmdFileChunk, buf[:n]); sendErr != nil {
				return 0, sendErr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
	}

	logger.Debug("upload sent", "filename", filename, "bytes", size)
	return size, nil
}

// SendRaw queues an arbitrary frame. Useful for tools and tests that need
// to speak below the command helpers.
func (c *Client) SendRaw(cmd frame.Command, payload []byte) error {
	return c.sendBytes(cmd, payload)
}

func (c *Client) send(cmd frame.Command, payload string) error {
	return c.sendBytes(cmd, []byte(payload))
}

func (c *Client) sendBytes(cmd frame.Command, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return frame.Write(c.sock, cmd, payload)
}
