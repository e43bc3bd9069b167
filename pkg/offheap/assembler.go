package offheap

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/offheapio/offheap/pkg/build"
)

// Assembler accumulates the build package's construction stages into
// engine Options and finalizes them into a running collection. One
// Assembler builds one collection.
type Assembler struct {
	opts Options
}

var _ build.Assembler = (*Assembler)(nil)

func NewAssembler() *Assembler {
	return &Assembler{}
}

// SetSync overrides the persistence flush behavior. Engine-level knob,
// not reachable through the builder setters.
func (a *Assembler) SetSync(strategy SyncStrategy, interval time.Duration) {
	a.opts.SyncStrategy = strategy
	a.opts.SyncInterval = interval
}

func (a *Assembler) Entries(kind build.Kind, keyType, valueType string, capacity int64) error {
	a.opts.Kind = kind
	a.opts.KeyType = keyType
	a.opts.ValueType = valueType
	a.opts.Capacity = capacity
	return nil
}

func (a *Assembler) KeySizing(s build.Sizing) error {
	a.opts.AvgKeySize = s.Average
	a.opts.ConstKeySize = len(s.ConstantSample)
	return nil
}

func (a *Assembler) ValueSizing(s build.Sizing) error {
	a.opts.AvgValueSize = s.Average
	a.opts.ConstValueSize = len(s.ConstantSample)
	return nil
}

func (a *Assembler) Marshalers(key, value build.Marshaler) error {
	a.opts.KeyMarshaler = key
	a.opts.ValueMarshaler = value
	return nil
}

func (a *Assembler) Behavior(b build.Behavior) error {
	a.opts.ImmutableKeys = b.ImmutableKeys
	a.opts.PutReturnsNothing = b.PutReturnsNothing
	a.opts.RemoveReturnsNothing = b.RemoveReturnsNothing
	if b.MetadataBytes >= 0 {
		a.opts.MetadataBytes = b.MetadataBytes
	}
	if b.LockTimeout > 0 {
		a.opts.LockTimeout = b.LockTimeout
	}
	return nil
}

func (a *Assembler) Layout(l build.Layout) error {
	if l.Alignment != build.AlignmentUnset {
		a.opts.Alignment = l.Alignment.Bytes()
	}
	if l.ChunkSize > 0 {
		a.opts.ChunkSize = l.ChunkSize
	}
	if l.MaxChunksPerEntry > 0 {
		a.opts.MaxChunksPerEntry = l.MaxChunksPerEntry
	}
	if l.MinSegments > 0 {
		a.opts.MinSegments = l.MinSegments
	}
	if l.Segments > 0 {
		a.opts.Segments = l.Segments
	}
	if l.EntriesPerSegment > 0 {
		a.opts.EntriesPerSegment = l.EntriesPerSegment
	}
	if l.ChunksPerSegment > 0 {
		a.opts.ChunksPerSegment = l.ChunksPerSegment
	}
	return nil
}

func (a *Assembler) Listeners(ls build.Listeners) error {
	a.opts.Listeners = ls
	return nil
}

func (a *Assembler) Replication(endpoints []build.HostPort) error {
	a.opts.PushTo = endpoints
	return nil
}

func (a *Assembler) Create() (build.Collection, error) {
	return a.finalize("")
}

func (a *Assembler) CreatePersistedTo(path string) (build.Collection, error) {
	return a.finalize(path)
}

func (a *Assembler) finalize(path string) (build.Collection, error) {
	opts := a.opts
	opts.Path = path
	opts.normalize()
	switch opts.Kind {
	case build.KindMap:
		return newMap(opts)
	case build.KindSet:
		return newSet(opts)
	case build.KindLog:
		return newLog(opts)
	}
	return nil, fmt.Errorf("%w: unknown collection kind %d", build.ErrInvalidArgument, opts.Kind)
}

// NewMapBuilder returns a map builder wired to a fresh engine assembler.
func NewMapBuilder(logger *zap.Logger) *build.MapBuilder {
	return build.NewMapBuilder(NewAssembler(), logger)
}

// NewSetBuilder returns a set builder wired to a fresh engine assembler.
func NewSetBuilder(logger *zap.Logger) *build.SetBuilder {
	return build.NewSetBuilder(NewAssembler(), logger)
}

// NewLogBuilder returns a log builder wired to a fresh engine assembler.
func NewLogBuilder(logger *zap.Logger) *build.LogBuilder {
	return build.NewLogBuilder(NewAssembler(), logger)
}
