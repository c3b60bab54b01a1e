package server

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tabatskyi/multi-share/internal/protocol/frame"
	"github.com/Tabatskyi/multi-share/pkg/client"
	"github.com/Tabatskyi/multi-share/pkg/config"
)

// newTestServer starts a server on a loopback port and returns it with its
// dialable address. The server is shut down via t.Cleanup.
func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, string) {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Storage.Root = filepath.Join(t.TempDir(), "ServerFiles")
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg, nil)
	require.NoError(t, err, "Should create server")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down in time")
		}
	})

	return srv, srv.ListenerAddr()
}

func dial(t *testing.T, addr, name string) *client.Client {
	t.Helper()
	c, err := client.Dial(addr, name)
	require.NoError(t, err, "Should connect as %s", name)
	t.Cleanup(func() { c.Close() })
	return c
}

// await reads one frame from c, failing the test on error, timeout, or a
// command other than want.
func await(t *testing.T, c *client.Client, want frame.Command) frame.Message {
	t.Helper()

	type result struct {
		msg frame.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := c.Next()
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		require.NoError(t, r.err, "Should receive a frame")
		require.Equal(t, want, r.msg.Command,
			"received (%s, %q)", r.msg.Command, r.msg.Payload)
		return r.msg
	case <-time.After(5 * time.Second):
		t.Fatalf("no %s frame within 5s", want)
		return frame.Message{}
	}
}

func awaitText(t *testing.T, c *client.Client, want frame.Command, wantPayload string) {
	t.Helper()
	msg := await(t, c, want)
	require.Equal(t, wantPayload, string(msg.Payload))
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, what)
}

func TestJoinAndChat(t *testing.T) {
	srv, addr := newTestServer(t, nil)

	a := dial(t, addr, "alice")
	b := dial(t, addr, "bob")

	require.NoError(t, a.Join(7))
	awaitText(t, a, frame.CmdJoinRoomResponse, "Joined room successfully.")

	require.NoError(t, b.Join(7))
	awaitText(t, b, frame.CmdJoinRoomResponse, "Joined room successfully.")
	// The joiner is announced to members already in the room.
	awaitText(t, a, frame.CmdMessageTextResponse, "CLIENT bob JOINED ROOM 7")

	require.NoError(t, a.SendText("hello"))
	awaitText(t, b, frame.CmdMessageTextResponse, "CLIENT alice: hello")

	// Alice must not see her own message: the next frame she receives is
	// bob's reply, not an echo.
	require.NoError(t, b.SendText("yo"))
	awaitText(t, a, frame.CmdMessageTextResponse, "CLIENT bob: yo")

	log := srv.Rooms().Messages(7)
	require.GreaterOrEqual(t, len(log), 2)
	require.Equal(t, "CLIENT alice: hello", log[len(log)-2])
}

func TestCrossRoomIsolation(t *testing.T) {
	srv, addr := newTestServer(t, nil)

	a := dial(t, addr, "alice")
	b := dial(t, addr, "bob")

	require.NoError(t, a.Join(1))
	await(t, a, frame.CmdJoinRoomResponse)
	require.NoError(t, b.Join(2))
	await(t, b, frame.CmdJoinRoomResponse)

	require.NoError(t, a.SendText("hi"))

	eventually(t, func() bool {
		log := srv.Rooms().Messages(1)
		return len(log) > 0 && log[len(log)-1] == "CLIENT alice: hi"
	}, "room 1 log contains alice's message")

	require.NotContains(t, srv.Rooms().Messages(2), "CLIENT alice: hi",
		"alice's message leaked into room 2 log")

	// Bob's stream stays silent: the next thing his room log sees is his
	// own message, not alice's.
	require.NoError(t, b.SendText("ping"))
	eventually(t, func() bool {
		log := srv.Rooms().Messages(2)
		return len(log) > 0 && log[len(log)-1] == "CLIENT bob: ping"
	}, "room 2 log contains bob's message")
}

func TestFileUpload(t *testing.T) {
	srv, addr := newTestServer(t, nil)

	c := dial(t, addr, "carol")
	require.NoError(t, c.Join(1))
	await(t, c, frame.CmdJoinRoomResponse)

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0644))
	_, err := c.UploadFile(src)
	require.NoError(t, err, "Should upload file")

	dest := filepath.Join(srv.Store().Root(), "carol", "notes.txt")
	eventually(t, func() bool {
		data, err := os.ReadFile(dest)
		return err == nil && string(data) == "hello world"
	}, "uploaded file lands at ServerFiles/carol/notes.txt")
}

// seedFile places a stored upload on disk as if a client had sent it.
func seedFile(t *testing.T, srv *Server, sender, filename string, content []byte) {
	t.Helper()
	up, err := srv.Store().Create(sender, filename, uint64(len(content)))
	require.NoError(t, err, "Should create seeded upload")
	_, err = up.Append(content)
	require.NoError(t, err, "Should write seeded upload")
}

func TestFileOfferAcceptAndReject(t *testing.T) {
	srv, addr := newTestServer(t, nil)

	content := bytes.Repeat([]byte{0xC7}, 2048)
	seedFile(t, srv, "alice", "doc.bin", content)

	a := dial(t, addr, "alice")
	b := dial(t, addr, "bob")
	c := dial(t, addr, "carol")

	require.NoError(t, a.Join(1))
	await(t, a, frame.CmdJoinRoomResponse)
	require.NoError(t, b.Join(1))
	await(t, b, frame.CmdJoinRoomResponse)
	await(t, a, frame.CmdMessageTextResponse)
	require.NoError(t, c.Join(1))
	await(t, c, frame.CmdJoinRoomResponse)
	await(t, a, frame.CmdMessageTextResponse)
	await(t, b, frame.CmdMessageTextResponse)

	require.NoError(t, a.OfferFile("doc.bin", 2048))

	awaitText(t, b, frame.CmdFileOffer, "fo alice doc.bin 2048")
	awaitText(t, c, frame.CmdFileOffer, "fo alice doc.bin 2048")
	require.NoError(t, b.RespondOffer(true))
	require.NoError(t, c.RespondOffer(false))

	awaitText(t, b, frame.CmdFileSize, "doc.bin 2048")
	var received bytes.Buffer
	for received.Len() < 2048 {
		msg := await(t, b, frame.CmdFileChunk)
		received.Write(msg.Payload)
	}
	require.Equal(t, content, received.Bytes(), "streamed bytes differ from the stored file")

	awaitText(t, a, frame.CmdMessageTextResponse, "File transfer complete to all clients.")

	// Carol declined; her stream must carry no file data. Her next frame
	// is an ordinary broadcast.
	require.NoError(t, b.SendText("done"))
	awaitText(t, c, frame.CmdMessageTextResponse, "CLIENT bob: done")
}

func TestFileOfferTimeout(t *testing.T) {
	srv, addr := newTestServer(t, func(cfg *config.Config) {
		cfg.Transfer.OfferTimeout = 200 * time.Millisecond
	})

	seedFile(t, srv, "alice", "doc.bin", []byte("payload"))

	a := dial(t, addr, "alice")
	b := dial(t, addr, "bob")

	require.NoError(t, a.Join(1))
	await(t, a, frame.CmdJoinRoomResponse)
	require.NoError(t, b.Join(1))
	await(t, b, frame.CmdJoinRoomResponse)
	await(t, a, frame.CmdMessageTextResponse)

	start := time.Now()
	require.NoError(t, a.OfferFile("doc.bin", 7))

	// Bob receives the offer and stays silent.
	await(t, b, frame.CmdFileOffer)

	awaitText(t, a, frame.CmdMessageTextResponse, "File transfer complete to all clients.")
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond,
		"completion must not arrive before the offer timeout")

	// No file data follows the ignored offer: bob's next frame is an
	// ordinary broadcast.
	require.NoError(t, a.SendText("after"))
	awaitText(t, b, frame.CmdMessageTextResponse, "CLIENT alice: after")
}

func TestDisconnectDuringUpload(t *testing.T) {
	srv, addr := newTestServer(t, nil)

	d := dial(t, addr, "dan")
	require.NoError(t, d.Join(3))
	await(t, d, frame.CmdJoinRoomResponse)

	// Announce a megabyte, deliver one kilobyte, vanish.
	conn, err := client.Dial(addr, "dan")
	require.NoError(t, err)
	require.NoError(t, conn.SendRaw(frame.CmdFileSize, []byte("dan big.bin 1048576")))
	require.NoError(t, conn.SendRaw(frame.CmdFileChunk, bytes.Repeat([]byte{0x5A}, 1024)))
	conn.Close()

	dest := filepath.Join(srv.Store().Root(), "dan", "big.bin")
	eventually(t, func() bool {
		info, err := os.Stat(dest)
		return err == nil && info.Size() == 1024
	}, "partial file retained with exactly the received bytes")

	eventually(t, func() bool {
		return srv.ActiveConnections() == 1 // only d's session remains
	}, "disconnected uploader torn down")
}

func TestUnknownCommand(t *testing.T) {
	_, addr := newTestServer(t, nil)

	c := dial(t, addr, "eve")
	require.NoError(t, c.SendRaw(frame.Command(0x77), []byte("bogus")))
	awaitText(t, c, frame.CmdUnknown, "Unknown command.")

	// The connection survives a bad command.
	require.NoError(t, c.Join(4))
	awaitText(t, c, frame.CmdJoinRoomResponse, "Joined room successfully.")
}

func TestGracefulShutdown(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Storage.Root = filepath.Join(t.TempDir(), "ServerFiles")

	srv, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	addr := srv.ListenerAddr()
	c := dial(t, addr, "alice")
	require.NoError(t, c.Join(1))
	await(t, c, frame.CmdJoinRoomResponse)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err, "Serve should return nil on graceful shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}

func TestCutToken(t *testing.T) {
	tests := []struct {
		in          string
		token, rest string
		ok          bool
	}{
		{"alice hello world", "alice", "hello world", true},
		{"alice  double", "alice", " double", true},
		{"alice", "", "", false},
		{" leading", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		token, rest, ok := cutToken(tt.in)
		if token != tt.token || rest != tt.rest || ok != tt.ok {
			t.Errorf("cutToken(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, token, rest, ok, tt.token, tt.rest, tt.ok)
		}
	}
}
