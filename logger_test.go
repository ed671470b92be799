package veld

import (
	"fmt"
	"strings"
	"sync"

	"github.com/stretchr/testify/assert"

	"testing"
)

// testLogger records log calls for assertions.
type testLogger struct {
	mu      sync.Mutex
	entries []string
}

func newTestLogger() *testLogger { return &testLogger{} }

func (l *testLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s: %s %v", level, msg, args))
}

func (l *testLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *testLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }
func (l *testLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *testLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }

// contains reports whether any recorded entry contains the substring.
func (l *testLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestNoopLoggerDiscards(t *testing.T) {
	logger := NewNoopLogger()
	assert.NotPanics(t, func() {
		logger.Info("info", "k", "v")
		logger.Error("error")
		logger.Warn("warn")
		logger.Debug("debug")
	})
}
