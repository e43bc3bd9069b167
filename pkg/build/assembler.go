// Package build turns a set of named configuration values into one
// correctly-ordered, validated construction request against an off-heap
// collection engine. It adapts the engine's fluent construction mechanism
// (modeled by the Assembler interface) to plain mutator-style setters, so a
// declarative configuration system can assemble collections without touching
// the fluent API directly.
package build

import "time"

// Kind identifies which collection variant an adapter produces.
type Kind int

const (
	// KindMap is a keyed map collection.
	KindMap Kind = iota
	// KindSet is a key-only set collection.
	KindSet
	// KindLog is an append-only log collection.
	KindLog
)

// String returns the kind's manifest token.
func (k Kind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	case KindLog:
		return "log"
	}
	return "unknown"
}

// Collection is the handle a Build call returns. Concrete engines return
// richer types behind this interface; callers that need the full surface
// assert to the engine's type.
type Collection interface {
	Kind() Kind
	Close() error
}

// Sizing declares the serialized byte footprint of keys or values: either
// a positive average or a constant sample. A zero Average with a nil
// ConstantSample means "not declared".
type Sizing struct {
	Average        float64
	ConstantSample []byte // serialized sample; its length is the constant size
}

// Declared reports whether any sizing was configured.
func (s Sizing) Declared() bool {
	return s.Average > 0 || s.ConstantSample != nil
}

// Behavior carries the entry-operation flags and the operation lock
// timeout. MetadataBytes is -1 and LockTimeout zero when unset.
type Behavior struct {
	ImmutableKeys        bool
	PutReturnsNothing    bool
	RemoveReturnsNothing bool
	MetadataBytes        int
	LockTimeout          time.Duration
}

// Layout carries the low-level storage fields. Numeric fields are -1 and
// Alignment is AlignmentUnset when not configured; unset fields must not
// override the engine's defaults.
type Layout struct {
	Alignment         Alignment
	ChunkSize         int
	MaxChunksPerEntry int
	MinSegments       int
	Segments          int
	EntriesPerSegment int64
	ChunksPerSegment  int64
}

// ErrorListener receives errors raised asynchronously by the engine, such
// as replication push failures or background sync failures.
type ErrorListener interface {
	OnError(err error)
}

// EntryListener receives structured entry events from a constructed
// collection.
type EntryListener interface {
	OnPut(key, value any)
	OnRemove(key any)
}

// BytesListener receives entry events in raw serialized form. Map
// collections only.
type BytesListener interface {
	OnPutBytes(key, value []byte)
	OnRemoveBytes(key []byte)
}

// Listeners bundles the observability hooks; nil fields are simply not
// installed.
type Listeners struct {
	Error ErrorListener
	Entry EntryListener
	Bytes BytesListener
}

// Assembler is the opaque construction mechanism the builder adapters
// drive. The adapters call its methods in a fixed stage order, independent
// of the order configuration setters were invoked, so any concrete
// off-heap backend substituted here sees a deterministic, reproducible
// application sequence. Errors from any stage abort construction and
// propagate unrecovered.
type Assembler interface {
	// Entries establishes the collection kind, the key (and, for maps,
	// value) type descriptors, and the maximum entry count.
	Entries(kind Kind, keyType, valueType string, capacity int64) error
	// KeySizing declares the key footprint; only called when declared.
	KeySizing(s Sizing) error
	// ValueSizing declares the value footprint; map collections only.
	ValueSizing(s Sizing) error
	// Marshalers installs the effective key and value codecs. The value
	// codec is nil for non-map collections.
	Marshalers(key, value Marshaler) error
	// Behavior applies the entry-operation flags and lock timeout.
	Behavior(b Behavior) error
	// Layout applies the low-level storage fields.
	Layout(l Layout) error
	// Listeners installs the observability hooks.
	Listeners(ls Listeners) error
	// Replication sets the endpoints writes are pushed to.
	Replication(endpoints []HostPort) error
	// Create finalizes an in-memory collection.
	Create() (Collection, error)
	// CreatePersistedTo finalizes a collection backed by the given file.
	CreatePersistedTo(path string) (Collection, error)
}
