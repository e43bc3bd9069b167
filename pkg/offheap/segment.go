package offheap

import (
	"fmt"
	"sync"
)

type opType int

const (
	opGet opType = iota
	opPut
	opAdd
	opRemove
	opContains
	opLen
)

type request struct {
	op       opType
	key      []byte
	value    []byte
	wantPrev bool
	resp     chan response
}

type response struct {
	value []byte
	found bool
	n     int
	err   error
}

// segment owns one slice of the key space. A dedicated goroutine handles
// all its requests, so index and slot state need no locking; the only
// shared path is grabbing fresh extents from the arena allocator.
type segment struct {
	geo   geometry
	arena arena
	alloc *extentAllocator
	idx   *index

	maxEntries int64
	maxChunks  int64 // 0 = unlimited
	usedChunks int64

	carve    int64 // next slot offset within the current extent; -1 = none
	carveEnd int64

	reqChan  chan *request
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func newSegment(geo geometry, a arena, alloc *extentAllocator, maxEntries, maxChunks int64) *segment {
	return &segment{
		geo:        geo,
		arena:      a,
		alloc:      alloc,
		idx:        newIndex(geo.maxClass),
		maxEntries: maxEntries,
		maxChunks:  maxChunks,
		carve:      -1,
		reqChan:    make(chan *request, 64),
		stopChan:   make(chan struct{}),
	}
}

func (s *segment) start() {
	s.wg.Add(1)
	go s.run()
}

func (s *segment) stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *segment) run() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.reqChan:
			req.resp <- s.handle(req)
		case <-s.stopChan:
			return
		}
	}
}

func (s *segment) handle(req *request) response {
	switch req.op {
	case opGet:
		return s.handleGet(req)
	case opPut:
		return s.handlePut(req)
	case opAdd:
		return s.handleAdd(req)
	case opRemove:
		return s.handleRemove(req)
	case opContains:
		_, found := s.idx.get(string(req.key))
		return response{found: found}
	case opLen:
		return response{n: s.idx.len()}
	}
	return response{err: fmt.Errorf("unknown operation %d", req.op)}
}

func (s *segment) handleGet(req *request) response {
	entry, found := s.idx.get(string(req.key))
	if !found {
		return response{err: ErrKeyNotFound}
	}
	_, _, value, err := s.geo.readSlot(s.arena, entry.off)
	if err != nil {
		return response{err: err}
	}
	return response{value: value, found: true}
}

func (s *segment) handlePut(req *request) response {
	return s.store(req.key, req.value, req.wantPrev)
}

// handleAdd stores the entry only when the key is absent; found reports
// prior existence.
func (s *segment) handleAdd(req *request) response {
	if _, exists := s.idx.get(string(req.key)); exists {
		return response{found: true}
	}
	resp := s.store(req.key, req.value, false)
	if resp.err != nil {
		return resp
	}
	return response{found: false}
}

func (s *segment) store(key, value []byte, wantPrev bool) response {
	existing, exists := s.idx.get(string(key))
	if !exists && int64(s.idx.len()) >= s.maxEntries {
		return response{err: fmt.Errorf("%w: segment holds %d entries", ErrCapacityExceeded, s.idx.len())}
	}

	class, err := s.geo.classFor(len(key), len(value))
	if err != nil {
		return response{err: err}
	}

	var prev []byte
	if exists && wantPrev {
		if _, _, old, err := s.geo.readSlot(s.arena, existing.off); err == nil {
			prev = old
		}
	}

	off := existing.off
	if !exists || existing.class != class {
		if off, err = s.allocSlot(class); err != nil {
			return response{err: err}
		}
	}
	if _, err := s.arena.WriteAt(s.geo.encodeSlot(class, key, value), off); err != nil {
		return response{err: err}
	}
	if exists && existing.class != class {
		if err := markSlot(s.arena, existing.off, slotDeleted); err != nil {
			return response{err: err}
		}
		s.idx.pushFree(existing.class, existing.off)
	}

	s.idx.set(indexEntry{key: string(key), off: off, class: class, valLen: len(value)})
	return response{value: prev, found: exists}
}

func (s *segment) handleRemove(req *request) response {
	entry, found := s.idx.delete(string(req.key))
	if !found {
		return response{err: ErrKeyNotFound}
	}
	var prev []byte
	if req.wantPrev {
		if _, _, old, err := s.geo.readSlot(s.arena, entry.off); err == nil {
			prev = old
		}
	}
	if err := markSlot(s.arena, entry.off, slotDeleted); err != nil {
		return response{err: err}
	}
	s.idx.pushFree(entry.class, entry.off)
	return response{value: prev, found: true}
}

// allocSlot returns a slot of the given class: a freed slot when
// available, otherwise carved from the segment's current extent, grabbing
// a fresh extent when the current one is exhausted.
func (s *segment) allocSlot(class int) (int64, error) {
	if off := s.idx.popFree(class); off >= 0 {
		return off, nil
	}
	if s.maxChunks > 0 && s.usedChunks+s.geo.chunks(class) > s.maxChunks {
		return 0, fmt.Errorf("%w: segment chunk budget %d exhausted", ErrCapacityExceeded, s.maxChunks)
	}
	size := int64(s.geo.slotSize(class))
	if s.carve < 0 || s.carve+size > s.carveEnd {
		off, err := s.alloc.grab()
		if err != nil {
			return 0, err
		}
		s.carve, s.carveEnd = off, off+s.alloc.extentSize()
	}
	off := s.carve
	s.carve = s.geo.next(s.carve, class)
	s.usedChunks += s.geo.chunks(class)
	return off, nil
}

// recoverEntry reinserts a live entry found during the startup scan. Only
// called before the segment goroutine starts.
func (s *segment) recoverEntry(e indexEntry) {
	s.idx.set(e)
	s.usedChunks += s.geo.chunks(e.class)
}

// recoverFree records a deleted slot found during the startup scan.
func (s *segment) recoverFree(class int, off int64) {
	s.idx.pushFree(class, off)
	s.usedChunks += s.geo.chunks(class)
}
