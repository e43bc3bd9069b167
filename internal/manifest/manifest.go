// Package manifest loads the declarative TOML description of a server and
// its collections, and turns every [[collection]] table into a validated,
// running collection through the builder adapters.
package manifest

import (
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/offheapio/offheap/pkg/build"
	"github.com/offheapio/offheap/pkg/offheap"
)

type Manifest struct {
	Server      Server           `toml:"server"`
	Collections []CollectionSpec `toml:"collection"`
}

// Server configures the text protocol listener. Serve names the map
// collection exposed over it; empty disables the listener.
type Server struct {
	Listen   string `toml:"listen"`
	Serve    string `toml:"serve"`
	MaxConns int    `toml:"max_conns"`
}

// CollectionSpec mirrors one [[collection]] table. Pointer fields
// distinguish "absent" from a zero value; absent fields never touch the
// builder, so engine defaults apply.
type CollectionSpec struct {
	Name      string `toml:"name"`
	Kind      string `toml:"kind"`
	KeyType   string `toml:"key_type"`
	ValueType string `toml:"value_type"`

	MaxEntries          *int64   `toml:"max_entries"`
	AverageKeySize      *float64 `toml:"average_key_size"`
	ConstantKeySample   *string  `toml:"constant_key_sample"`
	AverageValueSize    *float64 `toml:"average_value_size"`
	ConstantValueSample *string  `toml:"constant_value_sample"`

	Alignment         string `toml:"entry_and_value_alignment"`
	ChunkSize         *int   `toml:"actual_chunk_size"`
	MaxChunksPerEntry *int   `toml:"max_chunks_per_entry"`
	MinSegments       *int   `toml:"min_segments"`
	Segments          *int   `toml:"actual_segments"`
	EntriesPerSegment *int64 `toml:"entries_per_segment"`
	ChunksPerSegment  *int64 `toml:"actual_chunks_per_segment"`

	ImmutableKeys        *bool  `toml:"immutable_keys"`
	PutReturnsNothing    *bool  `toml:"put_returns_nothing"`
	RemoveReturnsNothing *bool  `toml:"remove_returns_nothing"`
	MetadataBytes        *int   `toml:"metadata_bytes"`
	LockTimeout          string `toml:"lock_time_out"`

	PersistedTo string   `toml:"persisted_to"`
	PushTo      []string `toml:"push_to"`
}

// Load parses the manifest file.
func Load(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("loading manifest %s: %w", path, err)
	}
	seen := make(map[string]bool, len(m.Collections))
	for _, spec := range m.Collections {
		if spec.Name == "" {
			return nil, fmt.Errorf("manifest %s: collection without a name", path)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("manifest %s: duplicate collection %q", path, spec.Name)
		}
		seen[spec.Name] = true
	}
	return &m, nil
}

// Build constructs every declared collection. On any failure the already
// built collections are closed before returning.
func (m *Manifest) Build(logger *zap.Logger) (map[string]build.Collection, error) {
	built := make(map[string]build.Collection, len(m.Collections))
	for _, spec := range m.Collections {
		coll, err := buildCollection(spec, logger)
		if err != nil {
			for _, c := range built {
				c.Close()
			}
			return nil, fmt.Errorf("collection %q: %w", spec.Name, err)
		}
		built[spec.Name] = coll
	}
	return built, nil
}

// commonBuilder is the setter surface shared by all three builder kinds.
type commonBuilder interface {
	SetKeyType(string)
	SetAverageKeySize(float64) error
	SetConstantKeySizeBySample(any) error
	SetMaxEntries(int64)
	SetEntriesPerSegment(int64)
	SetActualChunksPerSegment(int64)
	SetActualSegments(int)
	SetMinSegments(int)
	SetActualChunkSize(int)
	SetMaxChunksPerEntry(int)
	SetImmutableKeys(bool)
	SetMetaDataBytes(int) error
	SetLockTimeout(string)
	SetPersistedTo(string)
	SetPushToText(...string) error
	Validate() error
	Build() (build.Collection, error)
}

func buildCollection(spec CollectionSpec, logger *zap.Logger) (build.Collection, error) {
	switch spec.Kind {
	case "map":
		b := offheap.NewMapBuilder(logger)
		if err := applyMapOnly(b, spec); err != nil {
			return nil, err
		}
		return finish(b, spec)
	case "set":
		return finish(offheap.NewSetBuilder(logger), spec)
	case "log":
		return finish(offheap.NewLogBuilder(logger), spec)
	}
	return nil, fmt.Errorf("%w: unknown collection kind %q", build.ErrInvalidArgument, spec.Kind)
}

func finish(b commonBuilder, spec CollectionSpec) (build.Collection, error) {
	if err := applyCommon(b, spec); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b.Build()
}

func applyCommon(b commonBuilder, spec CollectionSpec) error {
	b.SetKeyType(spec.KeyType)
	if spec.MaxEntries != nil {
		b.SetMaxEntries(*spec.MaxEntries)
	}
	if spec.AverageKeySize != nil {
		if err := b.SetAverageKeySize(*spec.AverageKeySize); err != nil {
			return err
		}
	}
	if spec.ConstantKeySample != nil {
		sample, err := sampleValue(spec.KeyType, *spec.ConstantKeySample)
		if err != nil {
			return err
		}
		if err := b.SetConstantKeySizeBySample(sample); err != nil {
			return err
		}
	}
	if spec.EntriesPerSegment != nil {
		b.SetEntriesPerSegment(*spec.EntriesPerSegment)
	}
	if spec.ChunksPerSegment != nil {
		b.SetActualChunksPerSegment(*spec.ChunksPerSegment)
	}
	if spec.Segments != nil {
		b.SetActualSegments(*spec.Segments)
	}
	if spec.MinSegments != nil {
		b.SetMinSegments(*spec.MinSegments)
	}
	if spec.ChunkSize != nil {
		b.SetActualChunkSize(*spec.ChunkSize)
	}
	if spec.MaxChunksPerEntry != nil {
		b.SetMaxChunksPerEntry(*spec.MaxChunksPerEntry)
	}
	if spec.ImmutableKeys != nil {
		b.SetImmutableKeys(*spec.ImmutableKeys)
	}
	if spec.MetadataBytes != nil {
		if err := b.SetMetaDataBytes(*spec.MetadataBytes); err != nil {
			return err
		}
	}
	if spec.LockTimeout != "" {
		b.SetLockTimeout(spec.LockTimeout)
	}
	if spec.PersistedTo != "" {
		b.SetPersistedTo(spec.PersistedTo)
	}
	if len(spec.PushTo) > 0 {
		if err := b.SetPushToText(spec.PushTo...); err != nil {
			return err
		}
	}
	return nil
}

func applyMapOnly(b *build.MapBuilder, spec CollectionSpec) error {
	b.SetValueType(spec.ValueType)
	if spec.AverageValueSize != nil {
		if err := b.SetAverageValueSize(*spec.AverageValueSize); err != nil {
			return err
		}
	}
	if spec.ConstantValueSample != nil {
		sample, err := sampleValue(spec.ValueType, *spec.ConstantValueSample)
		if err != nil {
			return err
		}
		if err := b.SetConstantValueSizeBySample(sample); err != nil {
			return err
		}
	}
	if spec.Alignment != "" {
		if err := b.SetEntryAndValueAlignmentText(spec.Alignment); err != nil {
			return err
		}
	}
	if spec.PutReturnsNothing != nil {
		b.SetPutReturnsNothing(*spec.PutReturnsNothing)
	}
	if spec.RemoveReturnsNothing != nil {
		b.SetRemoveReturnsNothing(*spec.RemoveReturnsNothing)
	}
	return nil
}

// sampleValue converts a manifest sample literal into the typed value the
// descriptor's codec expects.
func sampleValue(descriptor, literal string) (any, error) {
	switch descriptor {
	case "int64", "integer", "int":
		n, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %q is not an integer", build.ErrInvalidArgument, literal)
		}
		return n, nil
	case "uint64":
		n, err := strconv.ParseUint(literal, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %q is not an unsigned integer", build.ErrInvalidArgument, literal)
		}
		return n, nil
	case "float64":
		f, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %q is not a float", build.ErrInvalidArgument, literal)
		}
		return f, nil
	case "bytes":
		return []byte(literal), nil
	}
	return literal, nil
}
