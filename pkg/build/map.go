package build

import "go.uber.org/zap"

// MapBuilder adapts the engine's fluent construction API to named setters
// for declarative configuration of a keyed-map collection. It carries the
// full configuration surface: key and value sizing, serialization, entry
// flags, layout, listeners, replication and persistence.
type MapBuilder struct {
	builderCore
}

// NewMapBuilder creates a map adapter over the given construction
// mechanism. A nil logger disables the diagnostic trace.
func NewMapBuilder(asm Assembler, logger *zap.Logger) *MapBuilder {
	return &MapBuilder{newCore(KindMap, capabilities{values: true, alignment: true, bytes: true}, asm, logger)}
}

// SetValueType sets the type descriptor of entry values.
func (b *MapBuilder) SetValueType(valueType string) {
	b.cfg.valueType = valueType
}

// SetValueMarshaler sets the marshaler used to serialize values to and
// from off-heap memory.
func (b *MapBuilder) SetValueMarshaler(m Marshaler) {
	b.cfg.valueMarshaler = m
}

// SetAverageValueSize declares the average number of bytes taken by the
// serialized form of values. Mutually exclusive with
// SetConstantValueSizeBySample.
func (b *MapBuilder) SetAverageValueSize(averageValueSize float64) error {
	b.cfg.averageValueSize = averageValueSize
	b.cfg.haveAverageValue = true
	return b.cfg.checkValueSizing()
}

// SetConstantValueSizeBySample declares that all values take the same
// number of serialized bytes as the given sample. Mutually exclusive with
// SetAverageValueSize.
func (b *MapBuilder) SetConstantValueSizeBySample(sampleValue any) error {
	b.cfg.sampleValue = sampleValue
	return b.cfg.checkValueSizing()
}

// SetEntryAndValueAlignment sets the alignment strategy of entry memory
// and, independently, of value memory within entries.
func (b *MapBuilder) SetEntryAndValueAlignment(alignment Alignment) {
	b.cfg.alignment = alignment
}

// SetEntryAndValueAlignmentText converts the textual form of an alignment
// policy and delegates to SetEntryAndValueAlignment.
func (b *MapBuilder) SetEntryAndValueAlignmentText(alignment string) error {
	a, err := ParseAlignment(alignment)
	if err != nil {
		return err
	}
	b.SetEntryAndValueAlignment(a)
	return nil
}

// SetPutReturnsNothing toggles whether Put on the built map suppresses the
// previous value.
func (b *MapBuilder) SetPutReturnsNothing(putReturnsNothing bool) {
	b.cfg.putReturnsNothing = putReturnsNothing
}

// SetRemoveReturnsNothing toggles whether Remove on the built map
// suppresses the previous value.
func (b *MapBuilder) SetRemoveReturnsNothing(removeReturnsNothing bool) {
	b.cfg.removeReturnsNothing = removeReturnsNothing
}

// SetEventListener installs the structured entry-event listener.
func (b *MapBuilder) SetEventListener(l EntryListener) {
	b.cfg.eventListener = l
}

// SetBytesEventListener installs the raw serialized-bytes entry listener.
func (b *MapBuilder) SetBytesEventListener(l BytesListener) {
	b.cfg.bytesListener = l
}
