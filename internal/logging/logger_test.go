package logging

import (
	"bytes"
	"testing"

	"cragcoach/internal/observability"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.lines = append(r.lines, "debug:"+format) }
func (r *recordingLogger) Info(format string, args ...any)  { r.lines = append(r.lines, "info:"+format) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.lines = append(r.lines, "warn:"+format) }
func (r *recordingLogger) Error(format string, args ...any) { r.lines = append(r.lines, "error:"+format) }

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var typed *recordingLogger
	var logger Logger = typed
	if !IsNil(logger) {
		t.Fatalf("expected typed nil pointer to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world")
}

func TestFromObservabilityFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{
		Level:  "info",
		Format: "text",
		Output: buf,
	})

	logger := FromObservabilityWithComponent(base, "test")
	logger.Info("hello %s", "world")
	logger.Debug("hidden %d", 1)

	if want := "hello world"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("component=test")) {
		t.Fatalf("expected component attribute, got %q", buf.String())
	}
	if bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Fatalf("debug output should be filtered at info level")
	}
}

func TestComponentLoggerFollowsSetDefault(t *testing.T) {
	logger := NewComponentLogger("cache")

	buf := &bytes.Buffer{}
	SetDefault(observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json", Output: buf}).Slog())

	logger.Warn("store unavailable: %s", "redis")
	if !bytes.Contains(buf.Bytes(), []byte(`"component":"cache"`)) {
		t.Fatalf("expected json component field, got %q", buf.String())
	}
}

func TestMultiFlattensAndSkipsNil(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	var typed *recordingLogger

	logger := Multi(a, nil, typed, Multi(b))
	logger.Error("boom")

	if len(a.lines) != 1 || len(b.lines) != 1 {
		t.Fatalf("expected both loggers to receive one line, got %v %v", a.lines, b.lines)
	}
	if _, ok := Multi().(nopLogger); !ok {
		t.Fatalf("expected empty Multi to return a nop logger")
	}
}
