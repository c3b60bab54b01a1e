package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tabatskyi/multi-share/internal/logger"
	"github.com/Tabatskyi/multi-share/internal/protocol/frame"
	"github.com/Tabatskyi/multi-share/pkg/pending"
)

// coordinateOffer runs the offer handshake for one file against every other
// member of the sender's room. One worker per recipient sends the offer,
// waits up to the configured timeout for a yes/no, and streams the file to
// those that accept. All workers are joined before returning.
func (c *Conn) coordinateOffer(ctx context.Context, senderName, filename string, size uint64, path string) {
	members := c.srv.registry.MembersOf(c.id)

	g, ctx := errgroup.WithContext(ctx)
	if limit := c.srv.cfg.Transfer.MaxParallelOffers; limit > 0 {
		g.SetLimit(limit)
	}

	offerText := fmt.Sprintf("fo %s %s %d", senderName, filename, size)

	for _, id := range members {
		if id == c.id {
			continue
		}
		rc, ok := c.srv.connByID(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			// Recipient-level failures are isolated; workers never
			// surface errors to the group.
			c.offerTo(ctx, rc, offerText, filename, path)
			return nil
		})
	}

	_ = g.Wait()
}

// offerTo runs the handshake against one recipient: arm, offer, await,
// stream on acceptance.
func (c *Conn) offerTo(ctx context.Context, rc *Conn, offerText, filename, path string) {
	waiter := c.srv.promises.Arm(rc.id)

	if err := rc.SendString(frame.CmdFileOffer, offerText); err != nil {
		c.srv.promises.Disarm(rc.id)
		logger.Warn("offer send failed", "recipient", rc.id, "error", err)
		return
	}

	timer := time.NewTimer(c.srv.cfg.Transfer.OfferTimeout)
	defer timer.Stop()

	var response string
	select {
	case response = <-waiter:
	case <-timer.C:
		c.srv.promises.Disarm(rc.id)
		c.srv.metrics.FileOffer("timeout")
		logger.Warn("Timeout waiting for response from client", "recipient", rc.id)
		return
	case <-ctx.Done():
		c.srv.promises.Disarm(rc.id)
		logger.Debug("offer abandoned, server shutting down", "recipient", rc.id)
		return
	}

	switch response {
	case "y":
		c.srv.metrics.FileOffer("accepted")
		c.streamTo(rc, filename, path)
	case pending.Disconnected:
		c.srv.metrics.FileOffer("disconnected")
		logger.Debug("recipient disconnected before answering", "recipient", rc.id)
	default:
		c.srv.metrics.FileOffer("declined")
		logger.Info("offer declined", "recipient", rc.id, "response", response)
	}
}

// streamTo sends the stored file to one accepting recipient: a FileSize
// frame announcing "<filename> <size>", then chunks of at most the
// configured chunk size. Errors abort this recipient only.
func (c *Conn) streamTo(rc *Conn, filename, path string) {
	f, err := os.Open(path)
	if err != nil {
		logger.Error("cannot open offered file", "path", path, "error", err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logger.Error("cannot stat offered file", "path", path, "error", err)
		return
	}
	size := info.Size()

	if err := rc.SendString(frame.CmdFileSize, fmt.Sprintf("%s %d", filename, size)); err != nil {
		logger.Warn("file size send failed", "recipient", rc.id, "error", err)
		return
	}

	// Encode copies the block into the frame buffer, so one read buffer
	// is reused across the whole stream.
	buf := make([]byte, c.srv.cfg.Transfer.ChunkSize.Uint64())
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if sendErr := rc.Send(frame.CmdFileChunk, buf[:n]); sendErr != nil {
				logger.Warn("file chunk send failed", "recipient", rc.id, "error", sendErr)
				return
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Error("reading offered file", "path", path, "error", err)
			return
		}
	}

	logger.Info("file streamed", "recipient", rc.id, "filename", filename, "bytes", size)
}
