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
	LevelInfo    = 1 // Important info (state changes, failures)
	LevelLive    = 2 // Live info (frames captured, stored, delivered)
	LevelVerbose = 3 // Verbose (tick timing, observer fan-out)
	LevelTrace   = 4 // Trace (GPIO, device reads)
)

var (
	mu     sync.RWMutex
	level  int
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (rolling started/stopped, device errors)
// 2 = live info (each frame captured and stored)
// 3 = verbose (ticks, observer delivery)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	if level > LevelOff {
		logger = log.New(os.Stdout, "[RollGo] ", log.LstdFlags|log.Lmicroseconds)
	} else {
		logger = nil
	}
}

// SetOutput redirects debug output. It is a no-op while debug is off.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
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
	l, lv := logger, level
	mu.RUnlock()
	if lv >= minLevel && l != nil {
		l.Printf(format, args...)
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	printf(LevelInfo, "[INFO] "+format, args...)
}

// State prints a device state transition (level 1).
func State(from, to fmt.Stringer) {
	printf(LevelInfo, "[INFO] State: %s -> %s", from, to)
}

// Warn prints a recoverable problem (level 1).
func Warn(format string, args ...interface{}) {
	printf(LevelInfo, "[WARN] "+format, args...)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	printf(LevelLive, "[LIVE] "+format, args...)
}

// Frame prints a captured frame (level 2).
func Frame(seq uint64, size int) {
	printf(LevelLive, "[LIVE] Frame #%d captured (%d bytes)", seq, size)
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

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	printf(LevelVerbose, "[VERBOSE] Step %d: %s", num, description)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	printf(LevelInfo, "[INFO]   %s = %v", name, value)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	printf(LevelTrace, "[TRACE] "+format, args...)
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
