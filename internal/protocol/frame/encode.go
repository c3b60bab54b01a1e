package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encode produces a complete wire frame for the given command and payload.
// The payload length field is written in network byte order.
func Encode(cmd Command, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	buf[4] = byte(cmd)
	copy(buf[HeaderSize:], payload)
	return buf
}

// EncodeString is a convenience wrapper for text payloads.
func EncodeString(cmd Command, payload string) []byte {
	return Encode(cmd, []byte(payload))
}

// Write encodes the frame and writes it to w in a single Write call, so the
// frame stays intact when w serializes concurrent writers.
func Write(w io.Writer, cmd Command, payload []byte) error {
	if _, err := w.Write(Encode(cmd, payload)); err != nil {
		return fmt.Errorf("write %s frame: %w", cmd, err)
	}
	return nil
}
