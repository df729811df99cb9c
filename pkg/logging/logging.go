// Package logging wraps go.uber.org/zap behind the small
// Debug/Info/Warn/Error surface that pkg/pipeline and pkg/reaper depend
// on, grounded on the teacher's structured-logging usage pattern
// (sugared logger, key-value pairs) as also used by agentflow's task
// store.
package logging

import (
	"go.uber.org/zap"
)

// Zap adapts a *zap.SugaredLogger to the pipeline/reaper Logger
// interfaces.
type Zap struct {
	s *zap.SugaredLogger
}

// New builds a production zap logger (JSON encoding, epoch-seconds
// timestamps) at level, one of "debug", "info", "warn", "error".
func New(level string) (*Zap, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Zap{s: logger.Sugar()}, nil
}

// NewNop returns a Zap that discards everything, for tests and
// components run without an explicit Logger.
func NewNop() *Zap {
	return &Zap{s: zap.NewNop().Sugar()}
}

func (z *Zap) Debug(msg string, args ...interface{}) { z.s.Debugw(msg, args...) }
func (z *Zap) Info(msg string, args ...interface{})  { z.s.Infow(msg, args...) }
func (z *Zap) Warn(msg string, args ...interface{})  { z.s.Warnw(msg, args...) }
func (z *Zap) Error(msg string, args ...interface{}) { z.s.Errorw(msg, args...) }

// Sync flushes any buffered log entries; call before process exit.
func (z *Zap) Sync() error {
	return z.s.Sync()
}
