// Package server implements the multi-room chat and file-transfer service:
// a TCP acceptor, per-connection sessions speaking the framed wire protocol,
// room broadcast fan-out, and the file-offer handshake between clients.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Tabatskyi/multi-share/internal/logger"
	"github.com/Tabatskyi/multi-share/pkg/config"
	"github.com/Tabatskyi/multi-share/pkg/metrics"
	"github.com/Tabatskyi/multi-share/pkg/pending"
	"github.com/Tabatskyi/multi-share/pkg/rooms"
	"github.com/Tabatskyi/multi-share/pkg/storage"
)

// Server owns the TCP listener and all shared session state: the room
// registry, the response-promise table, and the file store.
//
// Thread safety:
// All exported methods are safe for concurrent use. The shutdown mechanism
// uses sync.Once so Stop is idempotent even when called from several
// goroutines.
type Server struct {
	cfg *config.Config

	registry *rooms.Registry
	promises *pending.Table
	store    *storage.Store
	metrics  *metrics.Metrics

	// conns maps ClientID to its live connection for broadcast and
	// offer-stream delivery.
	conns sync.Map

	// listener is closed during shutdown to stop accepting new connections.
	listener   net.Listener
	listenerMu sync.RWMutex

	// ListenerReady is closed when the listener is ready to accept
	// connections. Used by tests to synchronize with server startup.
	ListenerReady chan struct{}

	// Shutdown signals that graceful shutdown has been initiated.
	Shutdown     chan struct{}
	shutdownOnce sync.Once

	// shutdownCtx is cancelled during shutdown to abort in-flight offer
	// waits on all active connections.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConns tracks serve goroutines for graceful shutdown.
	activeConns sync.WaitGroup
	connCount   atomic.Int32

	// connSemaphore limits concurrent connections when MaxConnections > 0.
	connSemaphore chan struct{}

	// activeSockets maps remote address to net.Conn for forced closure.
	activeSockets sync.Map
}

// New creates a stopped server. The storage root directory is created
// immediately so a misconfigured path fails before the listener binds.
func New(cfg *config.Config, m *metrics.Metrics) (*Server, error) {
	store, err := storage.NewStore(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}

	var connSemaphore chan struct{}
	if cfg.Server.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, cfg.Server.MaxConnections)
		logger.Debug("connection limit", "max_connections", cfg.Server.MaxConnections)
	} else {
		logger.Debug("connection limit", "max_connections", "unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Server{
		cfg:            cfg,
		registry:       rooms.NewRegistry(),
		promises:       pending.NewTable(),
		store:          store,
		metrics:        m,
		ListenerReady:  make(chan struct{}),
		Shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
		connSemaphore:  connSemaphore,
	}, nil
}

// Rooms returns the shared room registry.
func (s *Server) Rooms() *rooms.Registry {
	return s.registry
}

// Store returns the file store uploads land in.
func (s *Server) Store() *storage.Store {
	return s.store
}

// Serve runs the accept loop until ctx is cancelled or Stop is called.
//
// Returns nil on graceful shutdown, or an error when the listener fails to
// bind or connections had to be force-closed.
func (s *Server) Serve(ctx context.Context) error {
	listenAddr := s.cfg.Server.ListenAddr()
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create listener on %s: %w", listenAddr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.ListenerReady)

	logger.Info("share server listening", "addr", listenAddr, "storage_root", s.store.Root())

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received", "error", ctx.Err())
		s.initiateShutdown()
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.Shutdown:
				return s.gracefulShutdown()
			}
		}

		sock, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.Shutdown:
				// Expected error during shutdown (listener was closed)
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting connection", "error", err)
				continue
			}
		}

		// Disable Nagle so small chat frames are not batched
		if tcp, ok := sock.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", "error", err)
			}
		}

		s.activeConns.Add(1)
		current := s.connCount.Add(1)
		s.metrics.ConnectionOpened()

		addr := sock.RemoteAddr().String()
		s.activeSockets.Store(addr, sock)

		conn := s.newConn(sock)
		s.conns.Store(conn.id, conn)

		logger.Debug("connection accepted",
			"address", addr, "client_id", conn.id, "active", current)

		go func(addr string) {
			defer func() {
				s.conns.Delete(conn.id)
				s.activeSockets.Delete(addr)

				s.activeConns.Done()
				s.connCount.Add(-1)
				s.metrics.ConnectionClosed()
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				logger.Debug("connection closed",
					"address", addr, "client_id", conn.id, "active", s.connCount.Load())
			}()

			conn.Serve(s.shutdownCtx)
		}(addr)
	}
}

// connByID returns the live connection for a client, if any.
func (s *Server) connByID(id rooms.ClientID) (*Conn, bool) {
	v, ok := s.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Conn), true
}

func (s *Server) newConn(sock net.Conn) *Conn {
	return newConn(s, sock, rooms.ClientID(uuid.NewString()))
}

// initiateShutdown signals the server to begin graceful shutdown.
//
// Shutdown sequence:
//  1. Close the Shutdown channel (stops the accept loop)
//  2. Close the listener (stops accepting new connections)
//  3. Interrupt blocking reads on all active connections
//  4. Cancel shutdownCtx (unblocks in-flight offer waits)
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("shutdown initiated")

		close(s.Shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing listener", "error", err)
			}
		}
		s.listenerMu.Unlock()

		s.interruptBlockingReads()
		s.cancelRequests()
	})
}

// interruptBlockingReads sets a short deadline on all active sockets so
// connection read loops wake up and tear down.
func (s *Server) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)

	s.activeSockets.Range(func(key, value any) bool {
		if sock, ok := value.(net.Conn); ok {
			if err := sock.SetReadDeadline(deadline); err != nil {
				logger.Debug("Error setting shutdown deadline on connection",
					"address", key, "error", err)
			}
		}
		return true
	})
}

// gracefulShutdown waits for active connections to finish or forces them
// closed after ShutdownTimeout.
func (s *Server) gracefulShutdown() error {
	active := s.connCount.Load()
	logger.Info("graceful shutdown: waiting for active connections",
		"active", active, "timeout", s.cfg.Server.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.cfg.Server.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("shutdown timeout exceeded - forcing closure",
			"active", remaining, "timeout", s.cfg.Server.ShutdownTimeout)

		s.forceCloseConnections()

		return fmt.Errorf("shutdown timeout: %d connections force-closed", remaining)
	}
}

// forceCloseConnections closes all remaining sockets to accelerate shutdown.
func (s *Server) forceCloseConnections() {
	closed := 0
	s.activeSockets.Range(func(key, value any) bool {
		addr := key.(string)
		sock := value.(net.Conn)

		if err := sock.Close(); err != nil {
			logger.Debug("Error force-closing connection", "address", addr, "error", err)
		} else {
			closed++
		}
		return true
	})

	if closed > 0 {
		logger.Info("Force-closed connections", "count", closed)
	}
}

// Stop initiates graceful shutdown and waits for active connections.
//
// Safe to call multiple times and concurrently with Serve. With a nil ctx the
// configured ShutdownTimeout applies; otherwise the context bounds the wait.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete: all connections closed")
		return nil

	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("shutdown context cancelled", "active", remaining, "error", ctx.Err())
		return ctx.Err()
	}
}

// ActiveConnections returns the current number of live connections.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

// ListenerAddr returns the address the server is listening on, blocking
// until the listener is ready. Safe for tests using port 0.
func (s *Server) ListenerAddr() string {
	<-s.ListenerReady

	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
