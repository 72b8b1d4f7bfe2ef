package debug

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (stream acquired, match results)
	LevelLive    = 2 // Live info (cycle state changes, button presses)
	LevelVerbose = 3 // Verbose (frame sizes, request details)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *zap.SugaredLogger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (stream acquired, match results)
// 2 = live info (cycle state changes, button presses)
// 3 = verbose (frame sizes, request details)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	logger = nil
	if level > LevelOff {
		logger = newLogger(out)
	}
}

// SetOutput redirects debug output to w (for example stdout tee'd to the web page).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	if logger != nil {
		_ = logger.Sync()
		logger = newLogger(w)
	}
}

func newLogger(w io.Writer) *zap.SugaredLogger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.CallerKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), zapcore.DebugLevel)
	return zap.New(core).Named("SnapMatch").Sugar()
}

// emit logs msg if the current level reaches minLevel.
func emit(minLevel int, tag string, format string, args ...interface{}) {
	mu.RLock()
	l, lv := logger, level
	mu.RUnlock()
	if l == nil || lv < minLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	switch tag {
	case "ERROR":
		l.Errorf("%s", msg)
	case "WARN":
		l.Warnf("%s", msg)
	case "INFO":
		l.Infof("%s", msg)
	default:
		l.Debugf("[%s] %s", tag, msg)
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

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	emit(LevelInfo, "INFO", format, args...)
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	emit(LevelInfo, "WARN", format, args...)
}

// Match prints a recognition result (level 1).
func Match(cycleID, label string) {
	emit(LevelInfo, "INFO", "Cycle %s matched %q", cycleID, label)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	emit(LevelLive, "LIVE", format, args...)
}

// State prints a capture cycle state transition (level 2).
func State(cycleID, from, to string) {
	emit(LevelLive, "LIVE", "Cycle %s: %s -> %s", cycleID, from, to)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	emit(LevelVerbose, "VERBOSE", format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	emit(LevelVerbose, "VERBOSE", "%s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	emit(LevelVerbose, "VERBOSE", "━━━━ %s ━━━━", name)
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	emit(LevelVerbose, "VERBOSE", "Step %d: %s", num, description)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	emit(LevelInfo, "INFO", "  %s = %v", name, value)
}

// Frame prints an encoded frame summary (level 3).
func Frame(width, height, size int) {
	emit(LevelVerbose, "VERBOSE", "Frame %dx%d encoded (%d bytes PNG)", width, height, size)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	emit(LevelTrace, "TRACE", format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	emit(LevelTrace, "GPIO", "%s pin=%d value=%v", operation, pin, value)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	emit(LevelInfo, "ERROR", "%v", err)
}
