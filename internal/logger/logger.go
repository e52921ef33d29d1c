// Package logger is a minimal level-filtered wrapper around the standard
// logger, shared by every package in this driver instead of each one
// calling log directly.
package logger

import (
	"log"
	"sync"

	"github.com/kestrel-os/ext2fsd/internal/config"
)

func init() {
	// Microsecond timestamps matter here: most bugs worth logging are
	// ordering bugs between the dispatcher ticket and the page-in
	// handlers, and second-granularity timestamps collapse exactly the
	// interleavings that need distinguishing.
	log.SetFlags(log.Ldate | log.Lmicroseconds)
}

var (
	level config.LogLevel
	mu    sync.RWMutex
)

func SetLevel(l config.LogLevel) {
	mu.Lock()
	level = l
	mu.Unlock()
}

func GetLevel() config.LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

func Debug(format string, args ...interface{}) {
	if GetLevel() <= config.LogLevelDebug {
		log.Printf("[DEBUG] "+format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if GetLevel() <= config.LogLevelInfo {
		log.Printf("[INFO] "+format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if GetLevel() <= config.LogLevelWarn {
		log.Printf("[WARN] "+format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if GetLevel() <= config.LogLevelError {
		log.Printf("[ERROR] "+format, args...)
	}
}
