package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/agent-widgets/internal/domain"
	"github.com/ashureev/agent-widgets/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	insertMaxRetries = 3
	insertBaseDelay  = 100 * time.Millisecond
)

var _ EventRepository = (*SQLiteStore)(nil)

// SQLiteStore implements EventRepository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the diagnostics database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the diagnostics endpoint read while the sink writes.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversation_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		widget_id TEXT NOT NULL,
		visitor_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		direction TEXT NOT NULL,
		event_type TEXT NOT NULL,
		content_raw TEXT NOT NULL,
		content TEXT NOT NULL,
		meta_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_widget ON conversation_events(widget_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertEvent stores one event.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) InsertEvent(ctx context.Context, event domain.ConversationEvent) error {
	var metaJSON any
	if len(event.Meta) > 0 {
		b, err := json.Marshal(event.Meta)
		if err != nil {
			return fmt.Errorf("marshal event meta: %w", err)
		}
		metaJSON = string(b)
	}

	var err error
	for i := 0; i < insertMaxRetries; i++ {
		err = s.insertEventOnce(ctx, event, metaJSON)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == insertMaxRetries-1 {
			break
		}

		delay := insertBaseDelay * time.Duration(1<<i) // 100ms, 200ms
		slog.Debug("InsertEvent failed with SQLITE_BUSY, retrying",
			"widget_id", event.WidgetID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("insert event for %s: %w", event.WidgetID, err)
}

func (s *SQLiteStore) insertEventOnce(ctx context.Context, e domain.ConversationEvent, metaJSON any) error {
	query := `
	INSERT INTO conversation_events (
		ts, widget_id, visitor_id, channel, direction, event_type,
		content_raw, content, meta_json, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		e.Timestamp, e.WidgetID, e.VisitorID, e.Channel, e.Direction, e.EventType,
		e.ContentRaw, e.Content, metaJSON, time.Now().Unix(),
	)
	return err
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, widgetID string, limit int) ([]domain.ConversationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ts, widget_id, visitor_id, channel, direction, event_type,
		       content_raw, content, meta_json
		FROM conversation_events
		WHERE (? = '' OR widget_id = ?)
		ORDER BY id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, widgetID, widgetID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent events rows", "error", closeErr)
		}
	}()

	events := make([]domain.ConversationEvent, 0, limit)
	for rows.Next() {
		var e domain.ConversationEvent
		var metaJSON sql.NullString
		if err := rows.Scan(
			&e.Timestamp, &e.WidgetID, &e.VisitorID, &e.Channel, &e.Direction,
			&e.EventType, &e.ContentRaw, &e.Content, &metaJSON,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Meta); err != nil {
				slog.Warn("failed to decode event meta", "widget_id", e.WidgetID, "error", err)
			}
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
