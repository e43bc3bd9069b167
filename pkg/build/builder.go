package build

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// capabilities describes which optional configuration stages apply to a
// collection kind. The three adapters share one core and differ only here.
type capabilities struct {
	values    bool // value-side sizing, marshaling and flags (map)
	alignment bool // entry/value alignment stage (map)
	bytes     bool // raw-bytes entry listener (map)
}

// builderCore is the shared implementation behind MapBuilder, SetBuilder
// and LogBuilder. It owns the CollectionConfig, validates it, and drives
// the Assembler through the fixed stage order. Configuration and
// construction are synchronous startup-phase operations; the core provides
// no internal locking.
type builderCore struct {
	kind Kind
	caps capabilities
	cfg  *CollectionConfig
	asm  Assembler
	log  *zap.Logger

	validated bool
	built     Collection
	released  bool
}

func newCore(kind Kind, caps capabilities, asm Assembler, logger *zap.Logger) builderCore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return builderCore{
		kind: kind,
		caps: caps,
		cfg:  newCollectionConfig(),
		asm:  asm,
		log:  logger.With(zap.Stringer("kind", kind)),
	}
}

// SetKeyType sets the type descriptor of entry keys.
func (b *builderCore) SetKeyType(keyType string) {
	b.cfg.keyType = keyType
}

// SetKeyMarshaler sets the marshaler used to serialize keys to and from
// off-heap memory.
func (b *builderCore) SetKeyMarshaler(m Marshaler) {
	b.cfg.keyMarshaler = m
}

// SetAverageKeySize declares the average number of bytes taken by the
// serialized form of keys. If key size is always the same, use
// SetConstantKeySizeBySample instead; declaring both is a state error.
func (b *builderCore) SetAverageKeySize(averageKeySize float64) error {
	b.cfg.averageKeySize = averageKeySize
	b.cfg.haveAverageKey = true
	return b.cfg.checkKeySizing()
}

// SetConstantKeySizeBySample declares that all keys take the same number
// of serialized bytes as the given sample. Mutually exclusive with
// SetAverageKeySize.
func (b *builderCore) SetConstantKeySizeBySample(sampleKey any) error {
	b.cfg.sampleKey = sampleKey
	return b.cfg.checkKeySizing()
}

// SetMaxEntries sets the maximum number of entries the collection holds.
// Unset or non-positive values fall back to DefaultEntries at build time.
func (b *builderCore) SetMaxEntries(maxEntries int64) {
	b.cfg.maxEntries = maxEntries
}

// SetEntriesPerSegment sets the maximum entries any single segment holds.
// Low-level configuration; together with SetActualSegments it replaces a
// single SetMaxEntries call.
func (b *builderCore) SetEntriesPerSegment(entriesPerSegment int64) {
	b.cfg.entriesPerSegment = entriesPerSegment
}

// SetActualChunksPerSegment sets the number of chunks reserved per
// segment. Low-level configuration.
func (b *builderCore) SetActualChunksPerSegment(actualChunksPerSegment int64) {
	b.cfg.actualChunksPerSegment = actualChunksPerSegment
}

// SetActualSegments sets the actual number of segments.
func (b *builderCore) SetActualSegments(actualSegments int) {
	b.cfg.actualSegments = actualSegments
}

// SetMinSegments sets the minimum number of segments.
func (b *builderCore) SetMinSegments(minSegments int) {
	b.cfg.minSegments = minSegments
}

// SetActualChunkSize sets the size in bytes of the engine's allocation
// unit.
func (b *builderCore) SetActualChunkSize(actualChunkSize int) {
	b.cfg.actualChunkSize = actualChunkSize
}

// SetMaxChunksPerEntry caps how many chunks a single entry may span.
func (b *builderCore) SetMaxChunksPerEntry(maxChunksPerEntry int) {
	b.cfg.maxChunksPerEntry = maxChunksPerEntry
}

// SetImmutableKeys declares that key objects are inherently immutable.
func (b *builderCore) SetImmutableKeys(immutableKeys bool) {
	b.cfg.immutableKeys = immutableKeys
}

// SetMetaDataBytes sets the bytes allocated for metadata per entry. The
// value must be in the range [0..255].
func (b *builderCore) SetMetaDataBytes(metaDataBytes int) error {
	if metaDataBytes < 0 || metaDataBytes > 255 {
		return fmt.Errorf("%w: metadata bytes must be in range [0..255], got %d", ErrInvalidArgument, metaDataBytes)
	}
	b.cfg.metaDataBytes = metaDataBytes
	return nil
}

// SetLockTimeout sets the timeout of locking on segments of the built
// collection when performing queries, from a timeout expression such as
// "500ms" or "2m". An expression that does not match the grammar is
// silently skipped at build time and the engine default applies.
func (b *builderCore) SetLockTimeout(lockTimeout string) {
	b.cfg.timeout = ParseTimeout(lockTimeout)
}

// SetObjectMarshaler sets the generic serializer used for keys and values
// whose type descriptor has no built-in codec and no explicit marshaler.
func (b *builderCore) SetObjectMarshaler(m Marshaler) {
	b.cfg.genericMarshaler = m
}

// SetErrorListener installs the listener fired on asynchronous engine
// errors.
func (b *builderCore) SetErrorListener(l ErrorListener) {
	b.cfg.errorListener = l
}

// SetPersistedTo sets the filesystem location the collection persists its
// entries to. The path must resolve to a readable and writable file at
// validation time.
func (b *builderCore) SetPersistedTo(path string) {
	b.cfg.persistedTo = path
}

// SetPushTo sets the network endpoints entries are pushed to.
func (b *builderCore) SetPushTo(endpoints ...HostPort) {
	if len(endpoints) > 0 {
		b.cfg.pushTo = endpoints
	}
}

// SetPushToText sets the push endpoints from their textual form,
// converting each through ParseHostPort.
func (b *builderCore) SetPushToText(endpoints ...string) error {
	converted := make([]HostPort, len(endpoints))
	for i, text := range endpoints {
		hp, err := ParseHostPort(text)
		if err != nil {
			return err
		}
		converted[i] = hp
	}
	b.SetPushTo(converted...)
	return nil
}

// Config exposes the accumulated configuration for inspection in tests.
func (b *builderCore) Config() *CollectionConfig { return b.cfg }

// Kind returns the collection kind this adapter produces.
func (b *builderCore) Kind() Kind { return b.kind }

// Validate enforces the cross-field invariants that cannot be checked at
// setter time: required type descriptors and the persistence target. It
// must be invoked, and must succeed, before Build.
func (b *builderCore) Validate() error {
	if b.cfg.keyType == "" {
		return ErrKeyTypeMissing
	}
	if b.caps.values && b.cfg.valueType == "" {
		return ErrValueTypeMissing
	}
	if p := b.cfg.persistedTo; p != "" {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("%w: off-heap persistence file must be readable and writable: %v", ErrInvalidState, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: persistence target cannot be a directory", ErrInvalidArgument)
		}
		f, err := os.OpenFile(p, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("%w: off-heap persistence file must be readable and writable: %v", ErrInvalidState, err)
		}
		f.Close()
	}
	b.validated = true
	return nil
}

// Build produces the collection exactly once per adapter; subsequent calls
// return the memoized instance. Construction is not idempotent at the
// underlying-resource level, so it is never repeated. Errors surfaced by
// the assembler propagate unrecovered.
func (b *builderCore) Build() (Collection, error) {
	if b.built != nil {
		return b.built, nil
	}
	if !b.validated {
		return nil, ErrNotValidated
	}
	c, err := b.construct()
	if err != nil {
		return nil, err
	}
	b.built = c
	return c, nil
}

// Close releases the built collection's resources exactly once. Calling it
// before Build, or again after release, is a no-op.
func (b *builderCore) Close() error {
	if b.built == nil || b.released {
		return nil
	}
	b.released = true
	return b.built.Close()
}

// construct applies the configuration to the assembler in a fixed stage
// order, regardless of the order setters were called, so the application
// and its diagnostic trace are deterministic.
func (b *builderCore) construct() (Collection, error) {
	cfg := b.cfg

	keyCodec, err := b.resolveMarshaler(cfg.keyType, cfg.keyMarshaler)
	if err != nil {
		return nil, err
	}
	var valueCodec Marshaler
	if b.caps.values {
		if valueCodec, err = b.resolveMarshaler(cfg.valueType, cfg.valueMarshaler); err != nil {
			return nil, err
		}
	}

	// Stage 1: descriptors and capacity.
	entries := cfg.maxEntries
	if entries <= 0 {
		entries = DefaultEntries
		b.log.Info("maximum entries unspecified; using default", zap.Int64("entries", entries))
	}
	b.log.Info("constructing collection",
		zap.String("key", cfg.keyType),
		zap.String("value", cfg.valueType),
		zap.Int64("entries", entries))
	if err := b.asm.Entries(b.kind, cfg.keyType, cfg.valueType, entries); err != nil {
		return nil, err
	}

	// Stage 2: key sizing, then value sizing.
	keySizing, err := b.sizing(cfg.averageKeySize, cfg.haveAverageKey, cfg.sampleKey, keyCodec)
	if err != nil {
		return nil, err
	}
	if keySizing.Declared() {
		if err := b.asm.KeySizing(keySizing); err != nil {
			return nil, err
		}
		b.logSizing("key", keySizing)
	}
	if b.caps.values {
		valueSizing, err := b.sizing(cfg.averageValueSize, cfg.haveAverageValue, cfg.sampleValue, valueCodec)
		if err != nil {
			return nil, err
		}
		if valueSizing.Declared() {
			if err := b.asm.ValueSizing(valueSizing); err != nil {
				return nil, err
			}
			b.logSizing("value", valueSizing)
		}
	}

	// Stage 3: serializers.
	if err := b.asm.Marshalers(keyCodec, valueCodec); err != nil {
		return nil, err
	}
	b.log.Debug("entry codecs resolved",
		zap.String("key", fmt.Sprintf("%T", keyCodec)),
		zap.String("value", fmt.Sprintf("%T", valueCodec)))

	// Stage 4: entry operation behavior.
	behavior := Behavior{
		ImmutableKeys:        cfg.immutableKeys,
		PutReturnsNothing:    cfg.putReturnsNothing,
		RemoveReturnsNothing: cfg.removeReturnsNothing,
		MetadataBytes:        cfg.metaDataBytes,
	}
	if cfg.immutableKeys {
		b.log.Debug("collection will employ immutable keys")
	}
	if cfg.putReturnsNothing {
		b.log.Debug("put will not return the previous value")
	}
	if cfg.removeReturnsNothing {
		b.log.Debug("remove will not return the previous value")
	}
	if cfg.metaDataBytes != unset {
		b.log.Debug("entries will allocate metadata bytes", zap.Int("bytes", cfg.metaDataBytes))
	}
	if cfg.timeoutSet() {
		behavior.LockTimeout = cfg.timeout.Duration()
		b.log.Debug("query operation lock timeout set",
			zap.Int64("amount", cfg.timeout.Amount()),
			zap.Duration("unit", cfg.timeout.Unit()))
	}
	if err := b.asm.Behavior(behavior); err != nil {
		return nil, err
	}

	// Stage 5: low-level storage layout, sentinel fields skipped.
	layout := Layout{
		ChunkSize:         cfg.actualChunkSize,
		MaxChunksPerEntry: cfg.maxChunksPerEntry,
		MinSegments:       cfg.minSegments,
		Segments:          cfg.actualSegments,
		EntriesPerSegment: cfg.entriesPerSegment,
		ChunksPerSegment:  cfg.actualChunksPerSegment,
	}
	if b.caps.alignment && cfg.alignment != AlignmentUnset {
		layout.Alignment = cfg.alignment
		b.log.Debug("entry/value alignment set", zap.Stringer("alignment", cfg.alignment))
	}
	if cfg.actualChunkSize != unset {
		b.log.Debug("chunk size set", zap.Int("bytes", cfg.actualChunkSize))
	}
	if cfg.maxChunksPerEntry != unset {
		b.log.Debug("max chunks per entry set", zap.Int("chunks", cfg.maxChunksPerEntry))
	}
	if cfg.minSegments != unset {
		b.log.Debug("min segments set", zap.Int("segments", cfg.minSegments))
	}
	if cfg.actualSegments != unset {
		b.log.Debug("actual segments set", zap.Int("segments", cfg.actualSegments))
	}
	if cfg.entriesPerSegment != unset {
		b.log.Debug("entries per segment set", zap.Int64("entries", cfg.entriesPerSegment))
	}
	if cfg.actualChunksPerSegment != unset {
		b.log.Debug("chunks per segment set", zap.Int64("chunks", cfg.actualChunksPerSegment))
	}
	if err := b.asm.Layout(layout); err != nil {
		return nil, err
	}

	// Stage 6: observability hooks.
	listeners := Listeners{Error: cfg.errorListener, Entry: cfg.eventListener}
	if b.caps.bytes {
		listeners.Bytes = cfg.bytesListener
	}
	if listeners.Error != nil || listeners.Entry != nil || listeners.Bytes != nil {
		if err := b.asm.Listeners(listeners); err != nil {
			return nil, err
		}
		b.log.Debug("listeners installed",
			zap.Bool("error", listeners.Error != nil),
			zap.Bool("entry", listeners.Entry != nil),
			zap.Bool("bytes", listeners.Bytes != nil))
	}

	// Stage 7: replication targets.
	if len(cfg.pushTo) > 0 {
		if err := b.asm.Replication(cfg.pushTo); err != nil {
			return nil, err
		}
		addrs := make([]string, len(cfg.pushTo))
		for i, hp := range cfg.pushTo {
			addrs[i] = hp.String()
		}
		b.log.Debug("entries will push to endpoints", zap.Strings("endpoints", addrs))
	}

	// Stage 8: finalize.
	if cfg.persistedTo != "" {
		b.log.Info("entries persisted off-heap", zap.String("path", cfg.persistedTo))
		return b.asm.CreatePersistedTo(cfg.persistedTo)
	}
	return b.asm.Create()
}

// resolveMarshaler picks the effective codec for a descriptor: the explicit
// marshaler first, then the built-in for the descriptor, then the generic
// object serializer.
func (b *builderCore) resolveMarshaler(descriptor string, explicit Marshaler) (Marshaler, error) {
	if explicit != nil {
		return explicit, nil
	}
	if m, ok := MarshalerFor(descriptor); ok {
		return m, nil
	}
	if b.cfg.genericMarshaler != nil {
		return b.cfg.genericMarshaler, nil
	}
	return nil, fmt.Errorf("no marshaler available for type %q", descriptor)
}

func (b *builderCore) sizing(average float64, haveAverage bool, sample any, codec Marshaler) (Sizing, error) {
	var s Sizing
	if haveAverage {
		s.Average = average
	}
	if sample != nil {
		data, err := codec.Marshal(sample)
		if err != nil {
			return Sizing{}, fmt.Errorf("serializing constant-size sample: %w", err)
		}
		s.ConstantSample = data
	}
	return s, nil
}

func (b *builderCore) logSizing(role string, s Sizing) {
	if s.Average > 0 {
		b.log.Debug("average entry size declared", zap.String("role", role), zap.Float64("bytes", s.Average))
	}
	if s.ConstantSample != nil {
		b.log.Debug("constant entry size declared", zap.String("role", role), zap.Int("bytes", len(s.ConstantSample)))
	}
}
