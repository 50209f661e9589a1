package log

import (
	"errors"
	"sync"
	"testing"
)

type testLogger struct {
	mu      sync.Mutex
	entries []string
	fields  []map[string]any
}

func (l *testLogger) add(level string, f map[string]any, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+":"+msg)
	l.fields = append(l.fields, f)
}

func (l *testLogger) Info(f map[string]any, msg string)  { l.add("INFO", f, msg) }
func (l *testLogger) Error(f map[string]any, msg string) { l.add("ERROR", f, msg) }
func (l *testLogger) Debug(f map[string]any, msg string) { l.add("DEBUG", f, msg) }
func (l *testLogger) Warn(f map[string]any, msg string)  { l.add("WARN", f, msg) }
func (l *testLogger) Panic(map[string]any, string)       {}
func (l *testLogger) Fatal(map[string]any, string)       {}

func TestActualZapLogger(t *testing.T) {
	Debug(map[string]any{
		"identifier": "+15551234567",
		"count":      2,
		"error":      errors.New("boom"),
	}, "test debug")
	Info(nil, "test info")
	Warn(nil, "test warn")
	Error(nil, "test error")
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic, but none occurred")
		}
	}()
	GetLogger().Panic(nil, "test panic")
}

func TestSetLoggerAndGlobalLogging(t *testing.T) {
	orig := GetLogger()
	defer SetLogger(orig)
	tlog := &testLogger{}
	SetLogger(tlog)

	Info(nil, "info msg")
	Error(nil, "error msg")
	Debug(nil, "debug msg")
	Warn(nil, "warn msg")

	expected := []string{
		"INFO:info msg",
		"ERROR:error msg",
		"DEBUG:debug msg",
		"WARN:warn msg",
	}
	if len(tlog.entries) != len(expected) {
		t.Fatalf("expected %d entries, got %d", len(expected), len(tlog.entries))
	}
	for i, want := range expected {
		if tlog.entries[i] != want {
			t.Errorf("entry %d: want %q, got %q", i, want, tlog.entries[i])
		}
	}
}

func TestConfigure(t *testing.T) {
	orig := GetLogger()
	defer SetLogger(orig)

	tests := []struct {
		env, level string
		wantErr    bool
	}{
		{"prod", "info", false},
		{"dev", "DEBUG", false},
		{"prod", "verbose", true},
	}
	for _, tt := range tests {
		err := Configure(tt.env, tt.level)
		if (err != nil) != tt.wantErr {
			t.Errorf("Configure(%q,%q) err=%v wantErr=%v", tt.env, tt.level, err, tt.wantErr)
		}
	}
}

func TestNamed_WrapsNonZapLogger(t *testing.T) {
	tlog := &testLogger{}
	l := Named(tlog, "tracker")
	l.Info(map[string]any{"phase": "RINGING"}, "transition")
	l.Warn(nil, "overlap")

	if len(tlog.fields) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tlog.fields))
	}
	for _, f := range tlog.fields {
		if f["component"] != "tracker" {
			t.Errorf("expected component=tracker, got %v", f["component"])
		}
	}
	if tlog.fields[0]["phase"] != "RINGING" {
		t.Errorf("original fields lost: %v", tlog.fields[0])
	}
}

func TestNamed_ZapLogger(t *testing.T) {
	l := Named(newZapLogger(true, 0), "supervisor")
	if _, ok := l.(*zapLogger); !ok {
		t.Fatalf("expected zap-backed logger, got %T", l)
	}
	l.Debug(nil, "named debug")
}

func TestNoopLogger(t *testing.T) {
	l := NewNoopLogger()
	l.Info(nil, "x")
	l.Error(nil, "x")
	l.Debug(nil, "x")
	l.Warn(nil, "x")
	l.Panic(nil, "x")
	l.Fatal(nil, "x")
}
