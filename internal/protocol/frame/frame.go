// Package frame implements the multishare wire framing.
//
// Every message on the wire is a single frame:
//
//	┌────────┬──────┬──────────────────────────────────────────────┐
//	│ Offset │ Size │ Field                                        │
//	├────────┼──────┼──────────────────────────────────────────────┤
//	│   0    │  4   │ Payload length (unsigned, big-endian)        │
//	│   4    │  1   │ Command tag                                  │
//	│   5    │  L   │ Payload (opaque bytes)                       │
//	└────────┴──────┴──────────────────────────────────────────────┘
//
// Text payloads are UTF-8 with whitespace-separated leading tokens; FileChunk
// payloads are raw file bytes. The framing is self-delimiting, so writes from
// multiple goroutines stay intact as long as each frame is written atomically.
package frame

import (
	"github.com/Tabatskyi/multi-share/internal/bytesize"
)

// HeaderSize is the fixed size of the frame header (4-byte length + 1-byte command).
const HeaderSize = 5

// DefaultMaxPayload is the default cap on a single frame's payload.
// It must never be configured below MinMaxPayload so that file chunks
// and large text messages always fit.
const (
	DefaultMaxPayload = 16 * bytesize.MiB
	MinMaxPayload     = 1 * bytesize.MiB
)

// Command identifies the operation a frame carries.
type Command uint8

// The complete command set the dispatcher recognizes.
const (
	CmdJoinRoom            Command = 0x01 // c→s "<clientName> <roomId>"
	CmdMessageText         Command = 0x02 // c→s "<clientName> <text...>"
	CmdFileOffer           Command = 0x03 // c→s "fo <senderName> <filename> <sizeBytes>"
	CmdFileSize            Command = 0x04 // c→s "<clientName> <filename> <sizeBytes>" / s→c "<filename> <sizeBytes>"
	CmdFileChunk           Command = 0x05 // raw bytes of the open upload or download
	CmdJoinRoomResponse    Command = 0x10 // s→c short status text
	CmdMessageTextResponse Command = 0x20 // s→c broadcast text
	CmdFileOfferResponse   Command = 0x30 // either direction, "y" or "n"
	CmdUnknown             Command = 0xFF // s→c error text
)

// String returns the command name for logging.
func (c Command) String() string {
	switch c {
	case CmdJoinRoom:
		return "JOIN_ROOM"
	case CmdMessageText:
		return "MESSAGE_TEXT"
	case CmdFileOffer:
		return "FILE_OFFER"
	case CmdFileSize:
		return "FILE_SIZE"
	case CmdFileChunk:
		return "FILE_CHUNK"
	case CmdJoinRoomResponse:
		return "JOIN_ROOM_RESPONSE"
	case CmdMessageTextResponse:
		return "MESSAGE_TEXT_RESPONSE"
	case CmdFileOfferResponse:
		return "FILE_OFFER_RESPONSE"
	case CmdUnknown:
		return "UNKNOWN"
	default:
		return "UNRECOGNIZED"
	}
}
