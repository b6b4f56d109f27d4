package gx

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gx/cmdlist"
	"github.com/gogpu/gx/heap"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// devices that accept a logger, registered by New.
var (
	devicesMu sync.Mutex
	devices   = map[loggerSetter]int{}
)

// SetLogger configures the logger for gx and all its sub-packages.
// By default, gx produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by gx:
//   - [slog.LevelDebug]: per-submission sizes, allocator growth, fence waits
//   - [slog.LevelInfo]: device and backend selection
//   - [slog.LevelWarn]: release errors, failed fence waits
//
// Example:
//
//	gx.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	cmdlist.SetLogger(l)
	heap.SetLogger(l)

	devicesMu.Lock()
	defer devicesMu.Unlock()
	for d := range devices {
		d.SetLogger(l)
	}
}

// Logger returns the current logger used by gx.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// trackDevice passes the current logger to dev if it accepts one and keeps
// it up to date until untrackDevice.
func trackDevice(dev any) {
	ls, ok := dev.(loggerSetter)
	if !ok {
		return
	}
	ls.SetLogger(Logger())
	devicesMu.Lock()
	devices[ls]++
	devicesMu.Unlock()
}

func untrackDevice(dev any) {
	ls, ok := dev.(loggerSetter)
	if !ok {
		return
	}
	devicesMu.Lock()
	defer devicesMu.Unlock()
	if devices[ls]--; devices[ls] <= 0 {
		delete(devices, ls)
	}
}
