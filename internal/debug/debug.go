package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (startup, limits, device errors)
	LevelLive    = 2 // Live info (commands sent, status changes)
	LevelVerbose = 3 // Verbose (every poll answer, state details)
	LevelTrace   = 4 // Trace (raw HTTP requests, GPIO reads)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (startup, limits, device errors)
// 2 = live info (commands sent, status transitions)
// 3 = verbose (every poll answer, state details)
// 4 = trace (raw requests, GPIO)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	logger = nil
	if level > LevelOff {
		logger = log.New(out, "[zphocus] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects debug output (for example to stdout and the web log stream).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func printf(minLevel int, format string, args ...interface{}) {
	mu.RLock()
	l, lg := level, logger
	mu.RUnlock()
	if l >= minLevel && lg != nil {
		lg.Printf(format, args...)
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	printf(LevelInfo, "[INFO] "+format, args...)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	printf(LevelInfo, "[INFO]   %s = %v", name, value)
}

// Summary prints an important summary.
func Summary(title string) {
	printf(LevelInfo, "═══════════════════════════════════════")
	printf(LevelInfo, "  %s", title)
	printf(LevelInfo, "═══════════════════════════════════════")
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	printf(LevelLive, "[LIVE] "+format, args...)
}

// Command prints a user command sent to the focuser (level 2).
func Command(cmd string) {
	printf(LevelLive, "[LIVE] Send command %q", cmd)
}

// Answer prints the device answer to a command (level 2).
func Answer(cmd, body string) {
	printf(LevelLive, "[LIVE] Answer to %q: %q", cmd, body)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	printf(LevelVerbose, "[VERBOSE] "+format, args...)
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	printf(LevelVerbose, "[VERBOSE] %s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	printf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	printf(LevelVerbose, "  %s", name)
	printf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// Tick prints one poll round (level 3).
func Tick(n uint64) {
	printf(LevelVerbose, "[VERBOSE] Poll tick #%d", n)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	printf(LevelTrace, "[TRACE] "+format, args...)
}

// Request prints a raw device request (level 4).
func Request(id, url, body string) {
	printf(LevelTrace, "[HTTP] %s POST %s body=%q", id, url, body)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	printf(LevelTrace, "[GPIO] %s pin=%d value=%v", operation, pin, value)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	printf(LevelInfo, "[ERROR] %v", err)
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
