package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/agent-widgets/internal/domain"
)

func TestConversationLoggerWritesPerVisitorNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(domain.ConversationEvent{
		WidgetID:   "admin",
		VisitorID:  "visitor-1",
		Channel:    ChannelWeb,
		Direction:  "outbound",
		EventType:  EventUserMessage,
		ContentRaw: "Product Tour",
	})

	path := filepath.Join(dir, "admin", "visitor-1.ndjson")
	line := waitForLogLine(t, path)
	var got domain.ConversationEvent
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ContentRaw != "Product Tour" {
		t.Fatalf("unexpected ContentRaw: %q", got.ContentRaw)
	}
	if got.Content == "" {
		t.Fatal("expected cleaned content to be populated")
	}
	if got.Timestamp == "" {
		t.Fatal("expected timestamp to be filled in")
	}
}

func TestConversationLoggerWritesGlobalFile(t *testing.T) {
	t.Parallel()

	global := filepath.Join(t.TempDir(), "all", "conversations.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		GlobalEnabled: true,
		GlobalPath:    global,
	}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}

	logger.Log(domain.ConversationEvent{WidgetID: "gu", VisitorID: "v", EventType: EventAssistantMessage, ContentRaw: "hi"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(global)
	if err != nil {
		t.Fatalf("read global log: %v", err)
	}
	if !strings.Contains(string(data), `"widget_id":"gu"`) {
		t.Fatalf("global log missing event: %s", data)
	}
}

func TestConversationLoggerSanitizesPathParts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	logger.Log(domain.ConversationEvent{WidgetID: "../etc", VisitorID: "a/b", ContentRaw: "x"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "etc", "a_b.ndjson")); err != nil {
		t.Fatalf("expected sanitized log path: %v", err)
	}
}

func TestConversationLoggerBoundsOpenFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:      true,
		Dir:          dir,
		QueueSize:    256,
		MaxOpenFiles: 4,
	}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	nl := logger.(*ndjsonLogger)

	const visitors = 50
	for i := 0; i < visitors; i++ {
		logger.Log(domain.ConversationEvent{WidgetID: "admin", VisitorID: fmt.Sprintf("v%d", i), ContentRaw: "hi"})
	}
	waitForLogLine(t, filepath.Join(dir, "admin", fmt.Sprintf("v%d.ndjson", visitors-1)))

	nl.fileMu.Lock()
	open := nl.files.Len()
	nl.fileMu.Unlock()
	if open > 4 {
		t.Fatalf("expected at most 4 open files, got %d", open)
	}

	// v0 was evicted from the cache; its file is reopened in append mode.
	logger.Log(domain.ConversationEvent{WidgetID: "admin", VisitorID: "v0", ContentRaw: "again"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for i := 0; i < visitors; i++ {
		if _, err := os.Stat(filepath.Join(dir, "admin", fmt.Sprintf("v%d.ndjson", i))); err != nil {
			t.Fatalf("missing log for v%d: %v", i, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "admin", "v0.ndjson"))
	if err != nil {
		t.Fatalf("read v0 log: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Fatalf("expected 2 lines for v0, got %d: %s", lines, data)
	}
}

func TestConversationLoggerReleaseVisitorClosesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()
	nl := logger.(*ndjsonLogger)

	logger.Log(domain.ConversationEvent{WidgetID: "admin", VisitorID: "v1", ContentRaw: "a"})
	logger.Log(domain.ConversationEvent{WidgetID: "gu", VisitorID: "v1", ContentRaw: "b"})
	logger.Log(domain.ConversationEvent{WidgetID: "gu", VisitorID: "v2", ContentRaw: "c"})
	waitForLogLine(t, filepath.Join(dir, "admin", "v1.ndjson"))
	waitForLogLine(t, filepath.Join(dir, "gu", "v1.ndjson"))
	waitForLogLine(t, filepath.Join(dir, "gu", "v2.ndjson"))

	// Released through the fan-out wrapper, as the server does on eviction.
	ReleaseVisitor(MultiConversationLogger(logger, &recordingLogger{}), "v1")

	nl.fileMu.Lock()
	keys := nl.files.Keys()
	nl.fileMu.Unlock()
	if len(keys) != 1 || keys[0] != filepath.Join(dir, "gu", "v2.ndjson") {
		t.Fatalf("expected only v2 file open, got %v", keys)
	}
}

func TestConversationLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	if _, ok := logger.(noopConversationLogger); !ok {
		t.Fatalf("expected noop logger, got %T", logger)
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") {
		t.Fatalf("expected ANSI sequence to be stripped: %q", clean)
	}
	if !strings.Contains(clean, "error plain") {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func TestCleanForReadabilityNormalizesEscapedNewlines(t *testing.T) {
	t.Parallel()

	clean := cleanForReadability(`Step 1:   Welcome\n\n  next   line`)
	if clean != "Step 1: Welcome\n\nnext line" {
		t.Fatalf("unexpected clean text: %q", clean)
	}
}

type recordingLogger struct {
	events []domain.ConversationEvent
	closed bool
}

func (r *recordingLogger) Log(e domain.ConversationEvent) { r.events = append(r.events, e) }
func (r *recordingLogger) Close() error                   { r.closed = true; return nil }

func TestMultiConversationLoggerFansOut(t *testing.T) {
	t.Parallel()

	a, b := &recordingLogger{}, &recordingLogger{}
	multi := MultiConversationLogger(a, nil, noopConversationLogger{}, b)
	multi.Log(domain.ConversationEvent{EventType: EventUserMessage})
	if err := multi.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected one event per logger, got %d and %d", len(a.events), len(b.events))
	}
	if !a.closed || !b.closed {
		t.Fatal("expected both loggers closed")
	}

	if single := MultiConversationLogger(a); single != ConversationLogger(a) {
		t.Fatalf("expected single logger returned as-is, got %T", single)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
