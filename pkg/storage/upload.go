package storage

import (
	"fmt"

	"github.com/Tabatskyi/multi-share/internal/logger"
)

// Upload is the write side of one in-flight file transfer. It is owned by a
// single connection and must not be shared between goroutines.
type Upload struct {
	file     writeSyncCloser
	path     string
	expected uint64
	received uint64
	closed   bool
}

type writeSyncCloser interface {
	Write(p []byte) (int, error)
	Sync() error
	Close() error
}

// Path returns the destination file path.
func (u *Upload) Path() string {
	return u.path
}

// Expected returns the byte count announced at the start of the transfer.
func (u *Upload) Expected() uint64 {
	return u.expected
}

// Received returns the number of bytes written so far.
func (u *Upload) Received() uint64 {
	return u.received
}

// Append writes one chunk and reports whether the upload is now complete.
// Chunks arriving beyond the announced size are still written; the transfer
// completes as soon as received bytes reach the expectation.
func (u *Upload) Append(chunk []byte) (done bool, err error) {
	if u.closed {
		return false, fmt.Errorf("append to closed upload %s", u.path)
	}

	if _, err := u.file.Write(chunk); err != nil {
		return false, fmt.Errorf("write chunk to %s: %w", u.path, err)
	}
	u.received += uint64(len(chunk))

	if u.received < u.expected {
		return false, nil
	}
	if err := u.finish(); err != nil {
		return false, err
	}
	logger.Info("upload complete", "path", u.path, "bytes", u.received)
	return true, nil
}

// Abort closes the destination file, keeping whatever bytes arrived. Partial
// files stay on disk so an interrupted transfer can be inspected.
func (u *Upload) Abort() {
	if u.closed {
		return
	}
	u.closed = true
	if err := u.file.Close(); err != nil {
		logger.Warn("closing aborted upload", "path", u.path, "error", err)
	}
	logger.Warn("upload aborted", "path", u.path,
		"received_bytes", u.received, "expected_bytes", u.expected)
}

func (u *Upload) finish() error {
	u.closed = true
	if err := u.file.Sync(); err != nil {
		u.file.Close()
		return fmt.Errorf("sync %s: %w", u.path, err)
	}
	if err := u.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", u.path, err)
	}
	return nil
}
