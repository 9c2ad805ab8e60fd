package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ashureev/agent-widgets/internal/domain"
)

const defaultMaxOpenFiles = 128

// ConversationLogger records conversation events for diagnostics.
// Log must never block a chat turn.
type ConversationLogger interface {
	Log(event domain.ConversationEvent)
	Close() error
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	// MaxOpenFiles caps the per-visitor files held open at once.
	MaxOpenFiles int
}

// VisitorReleaser is implemented by loggers that hold per-visitor resources.
type VisitorReleaser interface {
	ReleaseVisitor(visitorID string)
}

// ReleaseVisitor frees what log holds for visitorID, if anything.
func ReleaseVisitor(log ConversationLogger, visitorID string) {
	if r, ok := log.(VisitorReleaser); ok {
		r.ReleaseVisitor(visitorID)
	}
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(domain.ConversationEvent) {}
func (noopConversationLogger) Close() error                 { return nil }

var (
	ansiPattern      = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	whitespaceRun    = regexp.MustCompile(`[ \t]+`)
	pathUnsafeRunes  = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	errLoggerStopped = errors.New("conversation logger closed")
)

// cleanForReadability strips terminal escapes and literal "\n" sequences so
// log lines read as plain text.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func safePathComponent(s string) string {
	s = pathUnsafeRunes.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return "unknown"
	}
	return s
}

// ndjsonLogger writes events from a queue on a single goroutine.
type ndjsonLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger

	queue chan domain.ConversationEvent
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool

	fileMu    sync.Mutex
	global    *os.File
	files     *lru.Cache[string, *os.File]
	closeErrs []error
}

// NewConversationLogger creates the NDJSON logger. When neither per-session
// nor global logging is enabled it returns a logger that discards events.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return noopConversationLogger{}, nil
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = defaultMaxOpenFiles
	}
	if cfg.Enabled {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("conversation log dir is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create conversation log dir: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		if cfg.GlobalPath == "" {
			return nil, fmt.Errorf("conversation log global path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create conversation log global dir: %w", err)
		}
	}

	l := &ndjsonLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan domain.ConversationEvent, cfg.QueueSize),
	}
	files, err := lru.NewWithEvict(cfg.MaxOpenFiles, l.closeFile)
	if err != nil {
		return nil, fmt.Errorf("create conversation log file cache: %w", err)
	}
	l.files = files
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log queues an event. Events are dropped when the queue is full.
func (l *ndjsonLogger) Log(event domain.ConversationEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"widget_id", event.WidgetID,
			"visitor_id", event.VisitorID,
			"event_type", event.EventType,
		)
	}
}

// Close flushes queued events and closes files.
func (l *ndjsonLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errLoggerStopped
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()

	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	l.files.Purge()
	if l.global != nil {
		l.closeFile(l.cfg.GlobalPath, l.global)
		l.global = nil
	}
	errs := l.closeErrs
	l.closeErrs = nil
	return errors.Join(errs...)
}

// ReleaseVisitor closes the per-visitor files of visitorID. A later event
// reopens them in append mode.
func (l *ndjsonLogger) ReleaseVisitor(visitorID string) {
	name := safePathComponent(visitorID) + ".ndjson"

	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	for _, path := range l.files.Keys() {
		if filepath.Base(path) == name {
			l.files.Remove(path)
		}
	}
}

// closeFile runs with fileMu held, either directly or as the cache eviction callback.
func (l *ndjsonLogger) closeFile(path string, f *os.File) {
	if err := f.Close(); err != nil {
		l.closeErrs = append(l.closeErrs, fmt.Errorf("close %s: %w", path, err))
		l.logger.Warn("failed to close conversation log", "path", path, "error", err)
	}
}

func (l *ndjsonLogger) run() {
	defer l.wg.Done()
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to marshal conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if l.cfg.Enabled {
			path := filepath.Join(l.cfg.Dir, safePathComponent(event.WidgetID), safePathComponent(event.VisitorID)+".ndjson")
			l.writeVisitor(path, line)
		}
		if l.cfg.GlobalEnabled {
			l.writeGlobal(line)
		}
	}
}

func (l *ndjsonLogger) writeVisitor(path string, line []byte) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	f, ok := l.files.Get(path)
	if !ok {
		var err error
		if f, err = l.open(path); err != nil {
			return
		}
		l.files.Add(path, f)
	}
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("failed to write conversation log", "path", path, "error", err)
	}
}

func (l *ndjsonLogger) writeGlobal(line []byte) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.global == nil {
		f, err := l.open(l.cfg.GlobalPath)
		if err != nil {
			return
		}
		l.global = f
	}
	if _, err := l.global.Write(line); err != nil {
		l.logger.Warn("failed to write conversation log", "path", l.cfg.GlobalPath, "error", err)
	}
}

func (l *ndjsonLogger) open(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.logger.Warn("failed to create conversation log dir", "path", path, "error", err)
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("failed to open conversation log", "path", path, "error", err)
		return nil, err
	}
	return f, nil
}

// multiLogger fans events out to several loggers.
type multiLogger []ConversationLogger

// MultiConversationLogger combines loggers. Nil entries are skipped.
func MultiConversationLogger(loggers ...ConversationLogger) ConversationLogger {
	var out multiLogger
	for _, l := range loggers {
		if l == nil {
			continue
		}
		if _, noop := l.(noopConversationLogger); noop {
			continue
		}
		out = append(out, l)
	}
	switch len(out) {
	case 0:
		return noopConversationLogger{}
	case 1:
		return out[0]
	}
	return out
}

func (m multiLogger) Log(event domain.ConversationEvent) {
	for _, l := range m {
		l.Log(event)
	}
}

func (m multiLogger) ReleaseVisitor(visitorID string) {
	for _, l := range m {
		ReleaseVisitor(l, visitorID)
	}
}

func (m multiLogger) Close() error {
	var errs []error
	for _, l := range m {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
