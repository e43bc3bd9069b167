// Package offheap is a file-backed keyed collection engine: entries live
// outside the Go heap in a slotted storage arena, indexed by an in-memory
// B-tree and operated on by per-segment worker goroutines. It implements
// the build package's construction mechanism, producing Map, Set and Log
// collections either in memory or persisted to a single backing file.
package offheap

import (
	"errors"
	"time"

	"github.com/offheapio/offheap/pkg/build"
)

// SyncStrategy defines how strictly a persisted collection is flushed to
// disk.
type SyncStrategy int

const (
	// SyncPeriodic forces an fsync at a regular interval. Default for
	// persisted collections.
	SyncPeriodic SyncStrategy = iota
	// SyncNone lets the OS decide when to flush modifications.
	SyncNone
)

// Engine defaults, applied for every option the build layer left at its
// sentinel.
const (
	// DefaultLockTimeout bounds how long an operation waits on a segment
	// when no timeout was configured.
	DefaultLockTimeout = 2 * time.Second
	// DefaultSegments is the segment count when neither actual nor
	// minimum segments were configured.
	DefaultSegments = 4
	// DefaultMaxChunksPerEntry caps how many chunks one entry may span.
	DefaultMaxChunksPerEntry = 1024
	// DefaultSyncInterval is the periodic fsync interval for persisted
	// collections.
	DefaultSyncInterval = time.Second
)

var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrLockTimeout      = errors.New("operation lock timeout")
	ErrEntryTooLarge    = errors.New("entry too large")
	ErrKeyTooLarge      = errors.New("key too large")
	ErrCapacityExceeded = errors.New("segment capacity exceeded")
	ErrSizeMismatch     = errors.New("serialized size does not match declared constant size")
	ErrClosed           = errors.New("collection closed")
	ErrPushOverflow     = errors.New("replication push queue overflow")
)

// Options is the fully resolved engine configuration accumulated by the
// Assembler's stages.
type Options struct {
	Kind      build.Kind
	KeyType   string
	ValueType string
	Capacity  int64

	AvgKeySize     float64
	AvgValueSize   float64
	ConstKeySize   int // 0 = variable
	ConstValueSize int // 0 = variable

	KeyMarshaler   build.Marshaler
	ValueMarshaler build.Marshaler

	ImmutableKeys        bool
	PutReturnsNothing    bool
	RemoveReturnsNothing bool
	MetadataBytes        int // 0 = none
	LockTimeout          time.Duration

	Alignment         int // bytes; 0 = unset, 1 = none
	ChunkSize         int
	MaxChunksPerEntry int
	MinSegments       int
	Segments          int
	EntriesPerSegment int64
	ChunksPerSegment  int64

	Listeners build.Listeners
	PushTo    []build.HostPort

	Path         string // "" = in-memory
	SyncStrategy SyncStrategy
	SyncInterval time.Duration
}

// normalize fills engine defaults for every unset option. Called once at
// finalize time; collections never see sentinel values.
func (o *Options) normalize() {
	if o.Capacity <= 0 {
		o.Capacity = build.DefaultEntries
	}
	if o.Segments <= 0 {
		if o.MinSegments > 0 {
			o.Segments = o.MinSegments
		} else {
			o.Segments = DefaultSegments
		}
	}
	if o.EntriesPerSegment <= 0 {
		o.EntriesPerSegment = (o.Capacity + int64(o.Segments) - 1) / int64(o.Segments)
	}
	if o.MetadataBytes < 0 {
		o.MetadataBytes = 0
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.Alignment <= 0 {
		o.Alignment = 1
	}
	if o.MaxChunksPerEntry <= 0 {
		o.MaxChunksPerEntry = DefaultMaxChunksPerEntry
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunkHeuristic(o)
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultSyncInterval
	}
	if o.KeyMarshaler == nil {
		o.KeyMarshaler = build.JSONMarshaler{}
	}
	if o.Kind == build.KindMap && o.ValueMarshaler == nil {
		o.ValueMarshaler = build.JSONMarshaler{}
	}
}

// chunkHeuristic picks an allocation unit from the declared entry sizing,
// aiming for typical entries to span a handful of chunks. Falls back to 64
// bytes when nothing was declared.
func chunkHeuristic(o *Options) int {
	est := 0.0
	switch {
	case o.ConstKeySize > 0 || o.ConstValueSize > 0:
		est = float64(o.ConstKeySize + o.ConstValueSize)
	case o.AvgKeySize > 0 || o.AvgValueSize > 0:
		est = o.AvgKeySize + o.AvgValueSize
	}
	chunk := 64
	for float64(chunk)*8 < est && chunk < 4096 {
		chunk *= 2
	}
	return chunk
}
