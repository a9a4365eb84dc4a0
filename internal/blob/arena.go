// Package blob tracks transient audio payload handles. Every handle handed
// out by an Arena stays valid until it is released, and is released at most
// once.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrUnknownHandle = errors.New("unknown or released blob handle")
	ErrClosed        = errors.New("blob arena closed")
)

// Handle addresses one stored payload.
type Handle string

// Arena stores payloads as files under a private directory.
type Arena struct {
	dir string

	mu       sync.Mutex
	live     map[Handle]string
	released int
	closed   bool
}

// NewArena creates a private directory under root (os.TempDir when empty).
func NewArena(root string) (*Arena, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "chunkscribe-blobs-")
	if err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Arena{dir: dir, live: make(map[Handle]string)}, nil
}

func (a *Arena) Dir() string { return a.dir }

// Put stores a copy of data and returns its handle.
func (a *Arena) Put(data []byte) (Handle, error) {
	h := Handle(uuid.NewString())
	path := filepath.Join(a.dir, string(h)+".wav")

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrClosed
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write blob %s: %w", h, err)
	}
	a.live[h] = path
	return h, nil
}

// Read returns the payload stored under h.
func (a *Arena) Read(h Handle) ([]byte, error) {
	a.mu.Lock()
	path, ok := a.live[h]
	a.mu.Unlock()
	if !ok {
		return nil, ErrUnknownHandle
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", h, err)
	}
	return data, nil
}

// Release deletes the payload behind h. Releasing a handle twice returns
// ErrUnknownHandle.
func (a *Arena) Release(h Handle) error {
	a.mu.Lock()
	path, ok := a.live[h]
	if ok {
		delete(a.live, h)
		a.released++
	}
	a.mu.Unlock()

	if !ok {
		return ErrUnknownHandle
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob %s: %w", h, err)
	}
	return nil
}

// ReleaseAll releases every live handle and returns how many were released.
func (a *Arena) ReleaseAll() int {
	a.mu.Lock()
	handles := make([]Handle, 0, len(a.live))
	for h := range a.live {
		handles = append(handles, h)
	}
	a.mu.Unlock()

	n := 0
	for _, h := range handles {
		if err := a.Release(h); err == nil || !errors.Is(err, ErrUnknownHandle) {
			n++
		}
	}
	return n
}

// Outstanding reports how many handles are live.
func (a *Arena) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Released reports how many handles have been released over the arena's life.
func (a *Arena) Released() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// Close releases everything and removes the arena directory.
func (a *Arena) Close() error {
	a.ReleaseAll()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if err := os.RemoveAll(a.dir); err != nil {
		return fmt.Errorf("remove blob directory: %w", err)
	}
	return nil
}
