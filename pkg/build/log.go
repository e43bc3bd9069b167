package build

import "go.uber.org/zap"

// LogBuilder adapts the engine's fluent construction API to named setters
// for declarative configuration of an append-only-log collection. The key
// type descriptor names the payload type of appended entries.
type LogBuilder struct {
	builderCore
}

// NewLogBuilder creates a log adapter over the given construction
// mechanism. A nil logger disables the diagnostic trace.
func NewLogBuilder(asm Assembler, logger *zap.Logger) *LogBuilder {
	return &LogBuilder{newCore(KindLog, capabilities{}, asm, logger)}
}

// SetEventListener installs the structured entry-event listener.
func (b *LogBuilder) SetEventListener(l EntryListener) {
	b.cfg.eventListener = l
}
