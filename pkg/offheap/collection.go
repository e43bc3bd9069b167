package offheap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/offheapio/offheap/pkg/build"
)

// core is the engine shared by Map, Set and Log: one arena, one extent
// allocator and a fixed fleet of segment workers. Requests are routed to
// a segment by key and bounded by the configured lock timeout.
type core struct {
	opts  Options
	geo   geometry
	arena arena
	alloc *extentAllocator
	segs  []*segment
	route func(key []byte) int

	repl *replicator

	syncStop chan struct{}
	syncWG   sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newCore(opts Options, route func(key []byte) int) (*core, error) {
	var (
		a   arena
		err error
	)
	if opts.Path != "" {
		if a, err = openFileArena(opts.Path); err != nil {
			return nil, err
		}
	} else {
		a = newMemArena()
	}

	geo := newGeometry(&opts)
	size, err := a.Size()
	if err != nil {
		a.Close()
		return nil, err
	}
	tail := (size + geo.extent - 1) / geo.extent * geo.extent

	c := &core{
		opts:  opts,
		geo:   geo,
		arena: a,
		alloc: newExtentAllocator(a, geo.extent, tail),
		route: route,
	}
	if c.route == nil {
		c.route = c.hashRoute
	}
	c.segs = make([]*segment, opts.Segments)
	for i := range c.segs {
		c.segs[i] = newSegment(geo, a, c.alloc, opts.EntriesPerSegment, opts.ChunksPerSegment)
	}

	if size > 0 {
		if err := c.recover(size); err != nil {
			a.Close()
			return nil, fmt.Errorf("recovering %s: %w", opts.Path, err)
		}
	}
	if len(opts.PushTo) > 0 {
		if c.repl, err = newReplicator(opts.PushTo, opts.Listeners.Error); err != nil {
			a.Close()
			return nil, err
		}
	}

	return c, nil
}

// start launches the segment workers and, for persisted collections, the
// periodic sync goroutine. Called once, after any recovery-time index
// inspection is done.
func (c *core) start() {
	for _, seg := range c.segs {
		seg.start()
	}
	if c.opts.Path != "" && c.opts.SyncStrategy == SyncPeriodic {
		c.syncStop = make(chan struct{})
		c.syncWG.Add(1)
		go c.runSync()
	}
}

func (c *core) hashRoute(key []byte) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(len(c.segs)))
}

// recover rebuilds the segment indexes from the backing file by walking
// every extent front to back. A zero flag byte marks the uncarved tail of
// an extent.
func (c *core) recover(size int64) error {
	for base := int64(0); base < size; base += c.geo.extent {
		end := base + c.geo.extent
		if end > size {
			end = size
		}
		off := base
		for off+slotHeaderSize <= end {
			hdr, key, value, err := c.geo.readSlot(c.arena, off)
			if err != nil {
				return err
			}
			if hdr.flag == slotEmpty {
				break
			}
			if hdr.class > c.geo.maxClass || off+int64(c.geo.slotSize(hdr.class)) > end {
				return fmt.Errorf("corrupt slot at offset %d", off)
			}
			seg := c.segs[c.route(key)]
			if hdr.flag == slotInUse {
				seg.recoverEntry(indexEntry{key: string(key), off: off, class: hdr.class, valLen: len(value)})
			} else {
				seg.recoverFree(hdr.class, off)
			}
			off = c.geo.next(off, hdr.class)
		}
	}
	return nil
}

func (c *core) do(req *request) (response, error) {
	if c.closed.Load() {
		return response{}, ErrClosed
	}
	return c.doSeg(c.segs[c.route(req.key)], req)
}

func (c *core) doSeg(seg *segment, req *request) (response, error) {
	req.resp = make(chan response, 1)
	timer := time.NewTimer(c.opts.LockTimeout)
	defer timer.Stop()
	select {
	case seg.reqChan <- req:
	case <-timer.C:
		return response{}, fmt.Errorf("%w after %s", ErrLockTimeout, c.opts.LockTimeout)
	}
	select {
	case resp := <-req.resp:
		return resp, resp.err
	case <-timer.C:
		return response{}, fmt.Errorf("%w after %s", ErrLockTimeout, c.opts.LockTimeout)
	}
}

// Len returns the total number of live entries across all segments.
func (c *core) Len() (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	total := 0
	for _, seg := range c.segs {
		resp, err := c.doSeg(seg, &request{op: opLen})
		if err != nil {
			return 0, err
		}
		total += resp.n
	}
	return total, nil
}

// LockTimeout returns the effective per-operation timeout.
func (c *core) LockTimeout() time.Duration { return c.opts.LockTimeout }

// Path returns the backing file path, empty for in-memory collections.
func (c *core) Path() string { return c.opts.Path }

func (c *core) runSync() {
	defer c.syncWG.Done()
	ticker := time.NewTicker(c.opts.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.arena.Sync(); err != nil {
				c.reportError(fmt.Errorf("syncing %s: %w", c.opts.Path, err))
			}
		case <-c.syncStop:
			return
		}
	}
}

func (c *core) reportError(err error) {
	if l := c.opts.Listeners.Error; l != nil {
		l.OnError(err)
	}
}

// Close stops the workers, flushes persisted data and releases the arena.
// Safe to call more than once.
func (c *core) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.syncStop != nil {
			close(c.syncStop)
			c.syncWG.Wait()
		}
		for _, seg := range c.segs {
			seg.stop()
		}
		if c.repl != nil {
			c.repl.stop()
		}
		if c.opts.Path != "" {
			c.closeErr = c.arena.Sync()
		}
		if err := c.arena.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *core) marshalKey(key any) ([]byte, error) {
	kb, err := c.opts.KeyMarshaler.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling key: %v", build.ErrInvalidArgument, err)
	}
	if c.opts.ConstKeySize > 0 && len(kb) != c.opts.ConstKeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, declared %d", ErrSizeMismatch, len(kb), c.opts.ConstKeySize)
	}
	return kb, nil
}

func (c *core) marshalValue(value any) ([]byte, error) {
	vb, err := c.opts.ValueMarshaler.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling value: %v", build.ErrInvalidArgument, err)
	}
	if c.opts.ConstValueSize > 0 && len(vb) != c.opts.ConstValueSize {
		return nil, fmt.Errorf("%w: value is %d bytes, declared %d", ErrSizeMismatch, len(vb), c.opts.ConstValueSize)
	}
	return vb, nil
}

// Map is a keyed off-heap collection with optional persistence,
// replication and entry listeners.
type Map struct {
	*core
}

func newMap(opts Options) (*Map, error) {
	c, err := newCore(opts, nil)
	if err != nil {
		return nil, err
	}
	c.start()
	return &Map{core: c}, nil
}

func (m *Map) Kind() build.Kind { return build.KindMap }

// Put stores the entry and returns the previous value, or nil when the
// key was absent or put-returns-nothing is enabled.
func (m *Map) Put(key, value any) (any, error) {
	kb, err := m.marshalKey(key)
	if err != nil {
		return nil, err
	}
	vb, err := m.marshalValue(value)
	if err != nil {
		return nil, err
	}
	resp, err := m.do(&request{op: opPut, key: kb, value: vb, wantPrev: !m.opts.PutReturnsNothing})
	if err != nil {
		return nil, err
	}
	m.notifyPut(key, value, kb, vb)
	if resp.value == nil {
		return nil, nil
	}
	return m.opts.ValueMarshaler.Unmarshal(resp.value)
}

// Get returns the value for key, or ErrKeyNotFound.
func (m *Map) Get(key any) (any, error) {
	kb, err := m.marshalKey(key)
	if err != nil {
		return nil, err
	}
	resp, err := m.do(&request{op: opGet, key: kb})
	if err != nil {
		return nil, err
	}
	return m.opts.ValueMarshaler.Unmarshal(resp.value)
}

// Contains reports whether key is present.
func (m *Map) Contains(key any) (bool, error) {
	kb, err := m.marshalKey(key)
	if err != nil {
		return false, err
	}
	resp, err := m.do(&request{op: opContains, key: kb})
	if err != nil {
		return false, err
	}
	return resp.found, nil
}

// Remove deletes the entry and returns the previous value, or nil when
// remove-returns-nothing is enabled. Removing an absent key returns
// ErrKeyNotFound.
func (m *Map) Remove(key any) (any, error) {
	kb, err := m.marshalKey(key)
	if err != nil {
		return nil, err
	}
	resp, err := m.do(&request{op: opRemove, key: kb, wantPrev: !m.opts.RemoveReturnsNothing})
	if err != nil {
		return nil, err
	}
	m.notifyRemove(key, kb)
	if resp.value == nil {
		return nil, nil
	}
	return m.opts.ValueMarshaler.Unmarshal(resp.value)
}

func (m *Map) notifyPut(key, value any, kb, vb []byte) {
	if l := m.opts.Listeners.Entry; l != nil {
		l.OnPut(key, value)
	}
	if l := m.opts.Listeners.Bytes; l != nil {
		l.OnPutBytes(kb, vb)
	}
	if m.repl != nil {
		m.repl.enqueue(pushEvent{key: kb, value: vb})
	}
}

func (m *Map) notifyRemove(key any, kb []byte) {
	if l := m.opts.Listeners.Entry; l != nil {
		l.OnRemove(key)
	}
	if l := m.opts.Listeners.Bytes; l != nil {
		l.OnRemoveBytes(kb)
	}
	if m.repl != nil {
		m.repl.enqueue(pushEvent{key: kb, remove: true})
	}
}

// Set is a key-only off-heap collection.
type Set struct {
	*core
}

func newSet(opts Options) (*Set, error) {
	c, err := newCore(opts, nil)
	if err != nil {
		return nil, err
	}
	c.start()
	return &Set{core: c}, nil
}

func (s *Set) Kind() build.Kind { return build.KindSet }

// Add inserts the element and reports whether it was newly added.
func (s *Set) Add(elem any) (bool, error) {
	kb, err := s.marshalKey(elem)
	if err != nil {
		return false, err
	}
	resp, err := s.do(&request{op: opAdd, key: kb})
	if err != nil {
		return false, err
	}
	if !resp.found {
		if l := s.opts.Listeners.Entry; l != nil {
			l.OnPut(elem, nil)
		}
	}
	return !resp.found, nil
}

// Contains reports whether the element is present.
func (s *Set) Contains(elem any) (bool, error) {
	kb, err := s.marshalKey(elem)
	if err != nil {
		return false, err
	}
	resp, err := s.do(&request{op: opContains, key: kb})
	if err != nil {
		return false, err
	}
	return resp.found, nil
}

// Remove deletes the element and reports whether it was present.
func (s *Set) Remove(elem any) (bool, error) {
	kb, err := s.marshalKey(elem)
	if err != nil {
		return false, err
	}
	if _, err := s.do(&request{op: opRemove, key: kb}); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if l := s.opts.Listeners.Entry; l != nil {
		l.OnRemove(elem)
	}
	return true, nil
}

// Log is an append-only off-heap collection addressed by sequence number.
// Sequence numbers start at 1 and survive reopening a persisted log.
type Log struct {
	*core
	nextSeq atomic.Uint64
}

func newLog(opts Options) (*Log, error) {
	segments := uint64(opts.Segments)
	route := func(key []byte) int {
		return int(binary.BigEndian.Uint64(key) % segments)
	}
	c, err := newCore(opts, route)
	if err != nil {
		return nil, err
	}
	l := &Log{core: c}
	// Resume the sequence counter from the recovered indexes before the
	// workers take ownership of them.
	var last uint64
	for _, seg := range c.segs {
		if e, ok := seg.idx.max(); ok {
			if seq := binary.BigEndian.Uint64([]byte(e.key)); seq > last {
				last = seq
			}
		}
	}
	l.nextSeq.Store(last)
	c.start()
	return l, nil
}

func (l *Log) Kind() build.Kind { return build.KindLog }

// Append stores the payload under the next sequence number and returns it.
func (l *Log) Append(payload any) (uint64, error) {
	vb, err := l.marshalKey(payload)
	if err != nil {
		return 0, err
	}
	seq := l.nextSeq.Add(1)
	kb := make([]byte, 8)
	binary.BigEndian.PutUint64(kb, seq)
	if _, err := l.do(&request{op: opPut, key: kb, value: vb}); err != nil {
		return 0, err
	}
	if lst := l.opts.Listeners.Entry; lst != nil {
		lst.OnPut(seq, payload)
	}
	return seq, nil
}

// Read returns the payload appended under seq, or ErrKeyNotFound.
func (l *Log) Read(seq uint64) (any, error) {
	kb := make([]byte, 8)
	binary.BigEndian.PutUint64(kb, seq)
	resp, err := l.do(&request{op: opGet, key: kb})
	if err != nil {
		return nil, err
	}
	return l.opts.KeyMarshaler.Unmarshal(resp.value)
}
