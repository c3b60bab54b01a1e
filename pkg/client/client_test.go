package client

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/Tabatskyi/multi-share/internal/protocol/frame"
)

// startSink runs a listener that decodes every frame from the first
// connection into the returned channel.
func startSink(t *testing.T) (addr string, frames <-chan frame.Message) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ch := make(chan frame.Message, 64)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := frame.NewDecoder(conn)
		for {
			msg, err := dec.Next()
			if err != nil {
				close(ch)
				return
			}
			ch <- msg
		}
	}()

	return ln.Addr().String(), ch
}

func next(t *testing.T, frames <-chan frame.Message) frame.Message {
	t.Helper()
	msg, ok := <-frames
	if !ok {
		t.Fatal("connection closed before expected frame")
	}
	return msg
}

func TestCommandPayloads(t *testing.T) {
	addr, frames := startSink(t)

	c, err := Dial(addr, "alice")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Join(7); err != nil {
		t.Fatal(err)
	}
	if msg := next(t, frames); msg.Command != frame.CmdJoinRoom || string(msg.Payload) != "alice 7" {
		t.Errorf("Join sent (%s, %q)", msg.Command, msg.Payload)
	}

	if err := c.SendText("hello there"); err != nil {
		t.Fatal(err)
	}
	if msg := next(t, frames); msg.Command != frame.CmdMessageText || string(msg.Payload) != "alice hello there" {
		t.Errorf("SendText sent (%s, %q)", msg.Command, msg.Payload)
	}

	if err := c.OfferFile("doc.bin", 2048); err != nil {
		t.Fatal(err)
	}
	if msg := next(t, frames); msg.Command != frame.CmdFileOffer || string(msg.Payload) != "fo alice doc.bin 2048" {
		t.Errorf("OfferFile sent (%s, %q)", msg.Command, msg.Payload)
	}

	if err := c.RespondOffer(true); err != nil {
		t.Fatal(err)
	}
	if msg := next(t, frames); msg.Command != frame.CmdFileOfferResponse || string(msg.Payload) != "y" {
		t.Errorf("RespondOffer(true) sent (%s, %q)", msg.Command, msg.Payload)
	}

	if err := c.RespondOffer(false); err != nil {
		t.Fatal(err)
	}
	if msg := next(t, frames); string(msg.Payload) != "n" {
		t.Errorf("RespondOffer(false) sent %q", msg.Payload)
	}
}

func TestUploadFileChunks(t *testing.T) {
	addr, frames := startSink(t)

	c, err := Dial(addr, "bob")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	content := bytes.Repeat([]byte("0123456789"), 300) // 3000 bytes, 3 chunks
	path := filepath.Join(t.TempDir(), "blob.bin")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	size, err := c.UploadFile(path)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if size != 3000 {
		t.Errorf("announced size = %d, want 3000", size)
	}

	msg := next(t, frames)
	if msg.Command != frame.CmdFileSize || string(msg.Payload) != "bob blob.bin 3000" {
		t.Fatalf("announcement = (%s, %q)", msg.Command, msg.Payload)
	}

	var got bytes.Buffer
	for got.Len() < len(content) {
		msg := next(t, frames)
		if msg.Command != frame.CmdFileChunk {
			t.Fatalf("expected FILE_CHUNK, got %s", msg.Command)
		}
		if len(msg.Payload) > DefaultChunkSize {
			t.Errorf("chunk of %d bytes exceeds %d", len(msg.Payload), DefaultChunkSize)
		}
		got.Write(msg.Payload)
	}
	if !bytes.Equal(got.Bytes(), content) {
		t.Error("reassembled upload differs from the source file")
	}
}
