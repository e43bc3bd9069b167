package build

import "go.uber.org/zap"

// SetBuilder adapts the engine's fluent construction API to named setters
// for declarative configuration of a key-only-set collection. The set
// carries only the key-side configuration surface; value sizing,
// serialization and the value-related entry flags do not apply.
type SetBuilder struct {
	builderCore
}

// NewSetBuilder creates a set adapter over the given construction
// mechanism. A nil logger disables the diagnostic trace.
func NewSetBuilder(asm Assembler, logger *zap.Logger) *SetBuilder {
	return &SetBuilder{newCore(KindSet, capabilities{}, asm, logger)}
}

// SetEventListener installs the structured entry-event listener.
func (b *SetBuilder) SetEventListener(l EntryListener) {
	b.cfg.eventListener = l
}
