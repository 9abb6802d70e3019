// Package ioenc implements the encrypted block I/O layer (spec §4.A):
// authenticated encryption of fixed-name blobs to and from an untrusted
// host filesystem. It is adapted from the teacher's
// pkg/security.Encrypt/Decrypt helpers (pkg/security/secrets.go), switched
// from a random per-call nonce to the spec-mandated fixed zero IV, and from
// pkg/storage's BoltDB-backed persistence to plain files — credb's pages
// are named blobs on disk (`NNN.page`), not keys inside a shared database
// file, matching original_source/src/enclave/LocalEncryptedIO.cpp.
package ioenc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/kaimast/credb/internal/cryptoutil"
)

// ErrMissing indicates no blob exists under the given name.
var ErrMissing = errors.New("ioenc: no such blob")

// ErrIntegrity indicates the authentication tag failed to verify.
var ErrIntegrity = cryptoutil.ErrIntegrity

// IO is the encrypted block I/O interface consumed by the buffer manager.
type IO interface {
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
	List() ([]string, error)
	NumFiles() int
	TotalSize() int64
}

// LocalIO reads and writes AES-GCM-128 sealed blobs under a directory on the
// local (untrusted, from the enclave's point of view) filesystem.
type LocalIO struct {
	dir     string
	diskKey []byte

	numFiles  atomic.Int64
	totalSize atomic.Int64
}

// NewLocalIO creates a LocalIO rooted at dir, using diskKey (16 bytes, AES-128)
// to seal every blob. The caller is responsible for sealing/unsealing
// diskKey itself across restarts (see internal/cryptoutil.DeriveDiskKey).
func NewLocalIO(dir string, diskKey []byte) (*LocalIO, error) {
	if len(diskKey) != 16 {
		return nil, fmt.Errorf("disk key must be 16 bytes, got %d", len(diskKey))
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	io := &LocalIO{dir: dir, diskKey: diskKey}
	io.scan()
	return io, nil
}

func (io *LocalIO) scan() {
	entries, err := os.ReadDir(io.dir)
	if err != nil {
		return
	}
	var n int64
	var size int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		n++
		size += info.Size()
	}
	io.numFiles.Store(n)
	io.totalSize.Store(size)
}

func (io *LocalIO) path(name string) string {
	return filepath.Join(io.dir, name)
}

// Read loads and authenticates a blob. Returns ErrMissing if the file does
// not exist, ErrIntegrity if the authentication tag fails to verify.
func (io *LocalIO) Read(name string) ([]byte, error) {
	raw, err := os.ReadFile(io.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", name, err)
	}

	plaintext, err := cryptoutil.OpenWithKey(io.diskKey, raw)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// Write seals and persists a blob under name, overwriting any prior
// contents.
func (io *LocalIO) Write(name string, data []byte) error {
	blob, err := cryptoutil.SealWithKey(io.diskKey, data)
	if err != nil {
		return fmt.Errorf("failed to seal blob %s: %w", name, err)
	}

	path := io.path(name)
	existed := false
	if info, err := os.Stat(path); err == nil {
		existed = true
		io.totalSize.Add(-info.Size())
	}

	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", name, err)
	}

	io.totalSize.Add(int64(len(blob)))
	if !existed {
		io.numFiles.Add(1)
	}
	return nil
}

// List returns the names of every blob currently stored under dir. The
// buffer manager uses this to resume page numbering after a restart instead
// of reallocating (and overwriting) pages a prior run already wrote.
func (io *LocalIO) List() ([]string, error) {
	entries, err := os.ReadDir(io.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// NumFiles returns an untrusted advisory count of blobs on disk.
func (io *LocalIO) NumFiles() int {
	return int(io.numFiles.Load())
}

// TotalSize returns an untrusted advisory total size of all blobs on disk.
func (io *LocalIO) TotalSize() int64 {
	return io.totalSize.Load()
}
