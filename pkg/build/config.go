package build

import "fmt"

// unset is the sentinel for numeric fields that were never configured.
// Sentinel fields are not forwarded to the engine; its own defaults apply.
const unset = -1

// DefaultEntries is the maximum entry count applied when none is
// configured, or when a non-positive count is configured.
const DefaultEntries = int64(1) << 20

// CollectionConfig accumulates every configurable aspect of a collection
// under construction. It is created empty alongside its owning adapter,
// mutated only through the adapter's setters during the configuration
// phase, and read exactly once when construction begins.
type CollectionConfig struct {
	keyType        string
	keyMarshaler   Marshaler
	averageKeySize float64
	haveAverageKey bool
	sampleKey      any

	valueType        string
	valueMarshaler   Marshaler
	averageValueSize float64
	haveAverageValue bool
	sampleValue      any

	genericMarshaler Marshaler

	maxEntries int64

	immutableKeys        bool
	putReturnsNothing    bool
	removeReturnsNothing bool
	metaDataBytes        int

	alignment              Alignment
	actualChunkSize        int
	maxChunksPerEntry      int
	minSegments            int
	actualSegments         int
	entriesPerSegment      int64
	actualChunksPerSegment int64

	timeout     *TimeoutParser
	persistedTo string
	pushTo      []HostPort

	errorListener ErrorListener
	eventListener EntryListener
	bytesListener BytesListener
}

func newCollectionConfig() *CollectionConfig {
	return &CollectionConfig{
		maxEntries:             unset,
		metaDataBytes:          unset,
		actualChunkSize:        unset,
		maxChunksPerEntry:      unset,
		minSegments:            unset,
		actualSegments:         unset,
		entriesPerSegment:      unset,
		actualChunksPerSegment: unset,
	}
}

// checkKeySizing enforces the key sizing invariants. The owning adapter
// runs it immediately after any setter that touches key sizing, so a
// contradiction is reported at the offending call rather than at
// construction time, when the offending setter may be far removed in the
// caller's configuration sequence.
func (c *CollectionConfig) checkKeySizing() error {
	if c.haveAverageKey && c.averageKeySize <= 0 {
		return fmt.Errorf("%w: average key size must be positive number", ErrInvalidArgument)
	}
	if c.haveAverageKey && c.sampleKey != nil {
		return ErrAmbiguousKeySizing
	}
	return nil
}

// checkValueSizing is the value-side counterpart of checkKeySizing.
func (c *CollectionConfig) checkValueSizing() error {
	if c.haveAverageValue && c.averageValueSize <= 0 {
		return fmt.Errorf("%w: average value size must be positive number", ErrInvalidArgument)
	}
	if c.haveAverageValue && c.sampleValue != nil {
		return ErrAmbiguousValueSizing
	}
	return nil
}

// timeoutSet reports whether a usable lock timeout was configured. An
// unparsable expression leaves the parser invalid and the timeout unset.
func (c *CollectionConfig) timeoutSet() bool {
	return c.timeout != nil && c.timeout.Valid()
}
