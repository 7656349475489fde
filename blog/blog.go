// Package blog provides the structured logger used throughout this service,
// in the shape boulder's own (unexported, internal) logging package takes:
// an Infof/Errf pair for ordinary operational logging, and an AuditErr*
// family for events that must be flagged for audit review (failed issuance,
// chain verification failures, storage corruption). It is a thin wrapper
// around the standard library's log/slog rather than a hand-rolled
// formatter, since slog already gives structured, leveled output and no
// third-party structured logger appears anywhere in the example pack.
package blog

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
)

// Logger is the logging interface every component in this repo takes
// instead of a concrete *slog.Logger, so tests can substitute UseMock.
type Logger interface {
	Infof(format string, args ...interface{})
	Errf(format string, args ...interface{})
	AuditErr(msg string)
	AuditErrf(format string, args ...interface{})
	AuditObject(msg string, obj interface{})
}

type logger struct {
	slog *slog.Logger
}

// New builds a Logger that writes JSON lines to stderr, tagged with realm
// so multiple backends sharing a log aggregator can be told apart.
func New(realm string) Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &logger{slog: slog.New(h).With("realm", realm)}
}

func (l *logger) Infof(format string, args ...interface{}) {
	l.slog.Info(fmt.Sprintf(format, args...))
}

func (l *logger) Errf(format string, args ...interface{}) {
	l.slog.Error(fmt.Sprintf(format, args...))
}

func (l *logger) AuditErr(msg string) {
	l.slog.Error(msg, "audit", true)
}

func (l *logger) AuditErrf(format string, args ...interface{}) {
	l.slog.Error(fmt.Sprintf(format, args...), "audit", true)
}

func (l *logger) AuditObject(msg string, obj interface{}) {
	l.slog.Error(msg, "audit", true, "object", obj)
}

// mockLogger records every call it receives instead of writing to stderr,
// for assertions in tests (see web/context_test.go).
type mockLogger struct {
	mu   sync.Mutex
	logs []string
}

func (m *mockLogger) record(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, level+": "+msg)
}

func (m *mockLogger) Infof(format string, args ...interface{}) {
	m.record("INFO", fmt.Sprintf(format, args...))
}

func (m *mockLogger) Errf(format string, args ...interface{}) {
	m.record("ERR", fmt.Sprintf(format, args...))
}

func (m *mockLogger) AuditErr(msg string) {
	m.record("AUDIT", msg)
}

func (m *mockLogger) AuditErrf(format string, args ...interface{}) {
	m.record("AUDIT", fmt.Sprintf(format, args...))
}

func (m *mockLogger) AuditObject(msg string, obj interface{}) {
	m.record("AUDIT", fmt.Sprintf("%s: %+v", msg, obj))
}

// GetAll returns every recorded line, in order, matching the accessor shape
// boulder's own mock logger exposes for test assertions.
func (m *mockLogger) GetAll() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.logs))
	copy(out, m.logs)
	return out
}

// GetAllMatching returns every recorded line matching the given regular
// expression, for tests that only care whether some particular audit event
// fired rather than the full log.
func (m *mockLogger) GetAllMatching(reStr string) ([]string, error) {
	re, err := regexp.Compile(reStr)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, l := range m.logs {
		if re.MatchString(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

// MockLogger is the concrete type returned by UseMock, exported so tests can
// call GetAll without a type assertion.
type MockLogger struct {
	*mockLogger
}

// UseMock returns a Logger that records instead of writing output, for use
// in package tests that want to assert on log content (see web/context_test.go
// in the teacher codebase for the call shape this mirrors).
func UseMock() *MockLogger {
	return &MockLogger{&mockLogger{}}
}
