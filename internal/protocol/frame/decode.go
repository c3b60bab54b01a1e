package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrTruncated indicates the stream ended mid-frame (partial header or
	// partial payload). The stream is desynchronized and must be closed.
	ErrTruncated = errors.New("truncated frame")

	// ErrPayloadTooLarge indicates the header announced a payload above the
	// decoder's cap. Reading on would risk memory exhaustion, so the
	// connection must be closed.
	ErrPayloadTooLarge = errors.New("frame payload too large")
)

// Message is one decoded frame.
type Message struct {
	Command Command
	Payload []byte
}

// Decoder reassembles frames from a byte stream. It performs blocking reads
// on the underlying reader and never returns a partial message; timeouts, if
// any, belong to the transport underneath.
type Decoder struct {
	r          io.Reader
	maxPayload uint32
	header     [HeaderSize]byte
}

// NewDecoder returns a Decoder reading from r with the default payload cap.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderLimit(r, uint32(DefaultMaxPayload))
}

// NewDecoderLimit returns a Decoder with an explicit payload cap. Caps below
// MinMaxPayload are raised to it so file chunks always fit.
func NewDecoderLimit(r io.Reader, maxPayload uint32) *Decoder {
	if maxPayload < uint32(MinMaxPayload) {
		maxPayload = uint32(MinMaxPayload)
	}
	return &Decoder{r: r, maxPayload: maxPayload}
}

// Next reads exactly one frame from the stream.
//
// Returns:
//   - (msg, nil) on a complete frame (zero-length payloads are valid);
//   - io.EOF when the stream closes cleanly on a header boundary;
//   - ErrTruncated (wrapping io.ErrUnexpectedEOF) when the stream ends
//     mid-header or mid-payload;
//   - ErrPayloadTooLarge when the announced length exceeds the cap.
func (d *Decoder) Next() (Message, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, fmt.Errorf("%w: stream ended mid-header: %w", ErrTruncated, err)
		}
		return Message{}, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(d.header[0:4])
	cmd := Command(d.header[4])

	if length > d.maxPayload {
		return Message{}, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, length, d.maxPayload)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, fmt.Errorf("%w: stream ended mid-payload: %w", ErrTruncated, io.ErrUnexpectedEOF)
		}
		return Message{}, fmt.Errorf("read frame payload: %w", err)
	}

	return Message{Command: cmd, Payload: payload}, nil
}
