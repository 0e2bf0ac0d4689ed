package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	out     io.Writer
	file    *os.File
	mu      sync.Mutex
	enabled bool

	counters = make(map[string]int)
)

// DefaultPath returns ~/.config/midifeed/debug.log.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "midifeed-debug.log"
	}
	return filepath.Join(home, ".config", "midifeed", "debug.log")
}

// Enable starts debug logging to path, truncating any previous log.
func Enable(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	file = f
	out = f
	enabled = true

	// Write directly (can't call Log - we hold the mutex)
	writeLine("debug", "=== Debug logging started ===")
	return nil
}

// EnableWriter logs to w instead of a file. Used by tests and the TUI.
func EnableWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	closeFile()
	out = w
	enabled = true
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()
	closeFile()
	out = nil
	enabled = false
}

// Enabled reports whether Log currently writes anywhere.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Log writes a message to the debug log
func Log(category, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()

	if !enabled || out == nil {
		return
	}
	writeLine(category, fmt.Sprintf(format, args...))
}

// LogEvery logs only every N calls (use for per-buffer events)
func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	if !enabled {
		mu.Unlock()
		return
	}
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if n <= 1 || count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}

func writeLine(category, msg string) {
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(out, "[%s] %-10s %s\n", ts, category, msg)
	if file != nil {
		file.Sync() // flush immediately so we see logs even on crash
	}
}

func closeFile() {
	if file != nil {
		file.Close()
		file = nil
	}
}
