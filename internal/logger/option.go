package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// levelCore overrides the minimum level of the core it wraps. The override
// may be lower or higher than the level of the wrapped core.
type levelCore struct {
	zapcore.Core

	level zapcore.Level
}

// Enabled reports whether entries at l pass the override level.
func (c *levelCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

// Check adds the core to ce when the entry level passes the override level.
//
//nolint:gocritic // AddCore requires ent to be passed by value.
func (c *levelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}

	return ce.AddCore(ent, c)
}

// With keeps the override level on the child core.
//
//nolint:ireturn,nolintlint // Returning zapcore.Core is intended for zap integration.
func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), level: c.level}
}

// WithLevel replaces the minimum level of a logger.
//
//nolint:ireturn,nolintlint // Returning zap.Option is intended for zap integration.
func WithLevel(lvl zapcore.Level) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &levelCore{Core: core, level: lvl}
	})
}

// Component returns a child of base named name that logs at its own level,
// e.g. to quiet or expand the output of a third-party client.
func Component(base *zap.SugaredLogger, name string, levelName string, fallback zapcore.Level) *zap.SugaredLogger {
	level, ok := ParseLogLevel(levelName)
	if !ok {
		level = fallback
	}

	return base.Named(name).WithOptions(WithLevel(level))
}
