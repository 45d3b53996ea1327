// Package torrentlog wires go.uber.org/zap to an append-only, 1000-entry
// ring buffer that the UI reads alongside the progress snapshot, fanned
// out alongside a normal stderr core.
package torrentlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Capacity is the maximum number of retained log lines, per spec.md §6.
const Capacity = 1000

// Ring is the thread-safe circular buffer backing the torrentlog core. Its
// zero value is not usable; construct with NewRing.
type Ring struct {
	mu      sync.Mutex
	entries []string
	head    int
	size    int
}

// NewRing allocates an empty Ring at Capacity.
func NewRing() *Ring {
	return &Ring{entries: make([]string, Capacity)}
}

func (r *Ring) push(line string) {
	r.mu.Lock()
	r.entries[(r.head+r.size)%Capacity] = line
	if r.size < Capacity {
		r.size++
	} else {
		r.head = (r.head + 1) % Capacity
	}
	r.mu.Unlock()
}

// Entries returns the retained lines in append order, oldest first.
func (r *Ring) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.entries[(r.head+i)%Capacity]
	}
	return out
}

// ringCore is a zapcore.Core that encodes each entry and pushes it onto a
// shared Ring. Encoder clones from With() share the same Ring pointer.
type ringCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	ring *Ring
}

func newRingCore(level zapcore.Level, ring *Ring) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return &ringCore{
		LevelEnabler: zap.NewAtomicLevelAt(level),
		enc:          zapcore.NewConsoleEncoder(encCfg),
		ring:         ring,
	}
}

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &ringCore{LevelEnabler: c.LevelEnabler, enc: enc, ring: c.ring}
}

func (c *ringCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *ringCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(e, fields)
	if err != nil {
		return err
	}
	c.ring.push(buf.String())
	buf.Free()
	return nil
}

func (c *ringCore) Sync() error { return nil }

// New builds a zap.Logger that writes human-readable lines to stderr and
// simultaneously feeds ring, at the given minimum level.
func New(level zapcore.Level, ring *Ring) *zap.Logger {
	stderrCfg := zap.NewDevelopmentEncoderConfig()
	stderrCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(stderrCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level),
	)

	return zap.New(zapcore.NewTee(stderrCore, newRingCore(level, ring)))
}
