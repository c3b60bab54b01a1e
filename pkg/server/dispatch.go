package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Tabatskyi/multi-share/internal/logger"
	"github.com/Tabatskyi/multi-share/internal/protocol/frame"
)

const (
	joinedReply   = "Joined room successfully."
	transferReply = "File transfer complete to all clients."
	unknownReply  = "Unknown command."
)

// dispatch routes one decoded frame to its handler. Handlers run serially
// on the connection's read loop, so frames from a single client are always
// processed in arrival order.
func (c *Conn) dispatch(ctx context.Context, msg frame.Message) {
	switch msg.Command {
	case frame.CmdJoinRoom:
		c.handleJoinRoom(msg.Payload)
	case frame.CmdMessageText:
		c.handleMessageText(msg.Payload)
	case frame.CmdFileOffer:
		c.handleFileOffer(ctx, msg.Payload)
	case frame.CmdFileSize:
		c.handleFileSize(msg.Payload)
	case frame.CmdFileChunk:
		c.handleFileChunk(msg.Payload)
	case frame.CmdFileOfferResponse:
		c.handleOfferResponse(msg.Payload)
	default:
		logger.Warn("unrecognized command", "client_id", c.id, "command", msg.Command)
		c.reply(frame.CmdUnknown, unknownReply)
	}
}

// handleJoinRoom parses "<clientName> <roomId>", moves the client, confirms
// to the joiner, and announces the join to the room it entered.
func (c *Conn) handleJoinRoom(payload []byte) {
	fields := strings.Fields(string(payload))
	if len(fields) != 2 {
		c.malformed("JOIN_ROOM", payload)
		return
	}
	room, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		c.malformed("JOIN_ROOM", payload)
		return
	}
	name := fields[0]

	c.name = name
	c.srv.registry.Join(c.id, room)
	logger.Info("client joined room", "client_id", c.id, "name", name, "room", room)

	c.reply(frame.CmdJoinRoomResponse, joinedReply)
	c.broadcast(fmt.Sprintf("CLIENT %s JOINED ROOM %d", name, room))
}

// handleMessageText parses "<clientName> <text...>" and fans the text out to
// the sender's room. The text is the payload remainder verbatim after the
// name token and one separating space.
func (c *Conn) handleMessageText(payload []byte) {
	name, text, ok := cutToken(string(payload))
	if !ok {
		c.malformed("MESSAGE_TEXT", payload)
		return
	}

	c.name = name
	c.broadcast(fmt.Sprintf("CLIENT %s: %s", name, text))
}

// handleFileOffer parses "fo <senderName> <filename> <sizeBytes>" and runs
// the offer handshake against every other room member. The handler blocks
// this connection's read loop until every recipient accepted, declined, or
// timed out; the sender then gets the completion notice.
func (c *Conn) handleFileOffer(ctx context.Context, payload []byte) {
	fields := strings.Fields(string(payload))
	if len(fields) != 4 || fields[0] != "fo" {
		c.malformed("FILE_OFFER", payload)
		return
	}
	senderName, filename := fields[1], fields[2]
	size, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		c.malformed("FILE_OFFER", payload)
		return
	}

	path, err := c.srv.store.Path(senderName, filename)
	if err != nil {
		logger.Warn("rejecting file offer", "client_id", c.id, "error", err)
		c.reply(frame.CmdUnknown, unknownReply)
		return
	}

	c.name = senderName
	logger.Info("file offer", "client_id", c.id, "name", senderName,
		"filename", filename, "size", size)

	c.coordinateOffer(ctx, senderName, filename, size, path)
	c.reply(frame.CmdMessageTextResponse, transferReply)
}

// handleFileSize parses "<clientName> <filename> <sizeBytes>" and opens a
// fresh upload. A still-open prior upload is dropped, its file left partial.
func (c *Conn) handleFileSize(payload []byte) {
	fields := strings.Fields(string(payload))
	if len(fields) != 3 {
		c.malformed("FILE_SIZE", payload)
		return
	}
	name, filename := fields[0], fields[1]
	size, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		c.malformed("FILE_SIZE", payload)
		return
	}

	if c.upload != nil {
		logger.Warn("new upload replaces unfinished one",
			"client_id", c.id, "abandoned", c.upload.Path())
		c.upload.Abort()
		c.upload = nil
	}

	up, err := c.srv.store.Create(name, filename, size)
	if err != nil {
		// Filesystem trouble aborts the upload, not the connection.
		logger.Error("cannot open upload target", "client_id", c.id, "error", err)
		return
	}

	c.name = name
	c.upload = up

	if size == 0 {
		c.finishChunk(nil)
	}
}

// handleFileChunk appends raw bytes to the connection's open upload.
func (c *Conn) handleFileChunk(payload []byte) {
	if c.upload == nil {
		logger.Warn("file chunk with no transfer state",
			"client_id", c.id, "bytes", len(payload))
		return
	}
	c.finishChunk(payload)
}

func (c *Conn) finishChunk(payload []byte) {
	done, err := c.upload.Append(payload)
	if err != nil {
		logger.Error("upload failed", "client_id", c.id, "error", err)
		c.upload.Abort()
		c.upload = nil
		return
	}

	c.srv.metrics.FileBytes(len(payload))
	if done {
		c.srv.metrics.TransferComplete(c.upload.Received())
		c.upload = nil
	}
}

// handleOfferResponse forwards "y"/"n" to whichever offer worker armed a
// promise for this client. Responses nobody is waiting on are dropped.
func (c *Conn) handleOfferResponse(payload []byte) {
	value := string(payload)
	if !c.srv.promises.Fulfil(c.id, value) {
		logger.Debug("offer response with no armed promise",
			"client_id", c.id, "value", value)
	}
}

// broadcast appends the message to the sender's room log and queues it to
// every other member as a MessageTextResponse. Per-recipient send failures
// are logged and do not abort the fan-out.
func (c *Conn) broadcast(message string) {
	members := c.srv.registry.Publish(c.id, message)
	c.srv.metrics.Broadcast()

	for _, id := range members {
		if id == c.id {
			continue
		}
		rc, ok := c.srv.connByID(id)
		if !ok {
			continue
		}
		if err := rc.SendString(frame.CmdMessageTextResponse, message); err != nil {
			logger.Debug("broadcast send failed", "recipient", id, "error", err)
		}
	}
}

func (c *Conn) reply(cmd frame.Command, text string) {
	if err := c.SendString(cmd, text); err != nil {
		logger.Debug("reply send failed", "client_id", c.id, "error", err)
	}
}

func (c *Conn) malformed(command string, payload []byte) {
	logger.Warn("malformed payload", "client_id", c.id,
		"command", command, "payload", string(payload))
	c.reply(frame.CmdUnknown, unknownReply)
}

// cutToken splits the leading whitespace-separated token off a payload,
// consuming exactly one separating space so the remainder stays verbatim.
func cutToken(s string) (token, rest string, ok bool) {
	i := strings.IndexByte(s, ' ')
	if i <= 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
