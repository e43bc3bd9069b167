package offheap

import (
	"fmt"
	"os"
	"sync"
)

// arena is the byte store slots live in: a single backing file for
// persisted collections, or process memory otherwise. Segments own
// disjoint slot regions, so concurrent ReadAt/WriteAt calls never overlap.
type arena interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// fileArena backs a collection with one regular file.
type fileArena struct {
	f *os.File
}

func openFileArena(path string) (*fileArena, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening persistence file: %w", err)
	}
	return &fileArena{f: f}, nil
}

func (a *fileArena) ReadAt(p []byte, off int64) (int, error)  { return a.f.ReadAt(p, off) }
func (a *fileArena) WriteAt(p []byte, off int64) (int, error) { return a.f.WriteAt(p, off) }

func (a *fileArena) Size() (int64, error) {
	info, err := a.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (a *fileArena) Truncate(size int64) error { return a.f.Truncate(size) }
func (a *fileArena) Sync() error               { return a.f.Sync() }
func (a *fileArena) Close() error              { return a.f.Close() }

// memArena keeps slots in a growable in-process buffer. Growth happens
// only through Truncate, under lock; reads and writes inside the grown
// region are bounds-checked.
type memArena struct {
	mu  sync.RWMutex
	buf []byte
}

func newMemArena() *memArena {
	return &memArena{}
}

func (a *memArena) ReadAt(p []byte, off int64) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if off < 0 || off+int64(len(p)) > int64(len(a.buf)) {
		return 0, fmt.Errorf("memory arena: read out of range [%d, %d)", off, off+int64(len(p)))
	}
	return copy(p, a.buf[off:]), nil
}

func (a *memArena) WriteAt(p []byte, off int64) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if off < 0 || off+int64(len(p)) > int64(len(a.buf)) {
		return 0, fmt.Errorf("memory arena: write out of range [%d, %d)", off, off+int64(len(p)))
	}
	return copy(a.buf[off:], p), nil
}

func (a *memArena) Size() (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int64(len(a.buf)), nil
}

func (a *memArena) Truncate(size int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size <= int64(len(a.buf)) {
		a.buf = a.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, a.buf)
	a.buf = grown
	return nil
}

func (a *memArena) Sync() error  { return nil }
func (a *memArena) Close() error { return nil }

// extentAllocator hands out fixed-size extents from the tail of the arena.
// Segments grab extents under lock and then sub-allocate slots privately,
// so slot allocation itself is contention-free.
type extentAllocator struct {
	mu     sync.Mutex
	arena  arena
	extent int64
	next   int64
}

func newExtentAllocator(a arena, extentSize, next int64) *extentAllocator {
	return &extentAllocator{arena: a, extent: extentSize, next: next}
}

func (e *extentAllocator) grab() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	off := e.next
	if err := e.arena.Truncate(off + e.extent); err != nil {
		return 0, fmt.Errorf("growing arena: %w", err)
	}
	e.next = off + e.extent
	return off, nil
}

func (e *extentAllocator) extentSize() int64 { return e.extent }
