// Package store persists safety events, parent notifications, and child
// records using SQLite. It implements the safety.EventStore boundary; the
// pipeline itself never touches SQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"guardian/internal/logging"
	"guardian/internal/safety"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// EscalationStore is the SQLite-backed record store.
type EscalationStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewEscalationStore initializes the SQLite database at the given path.
// Use ":memory:" for tests.
func NewEscalationStore(path string) (*EscalationStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewEscalationStore")
	defer timer.Stop()

	logging.Store("Initializing EscalationStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &EscalationStore{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *EscalationStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS children (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		age INTEGER NOT NULL,
		parent_email TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS safety_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		severity INTEGER NOT NULL,
		child_id TEXT NOT NULL,
		conversation_id TEXT,
		trigger_content TEXT NOT NULL,
		reasoning TEXT,
		status TEXT NOT NULL DEFAULT 'open',
		notified_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_child ON safety_events(child_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_status ON safety_events(status);

	CREATE TABLE IF NOT EXISTS parent_notifications (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		parent_email TEXT NOT NULL,
		severity INTEGER NOT NULL,
		trigger_content TEXT NOT NULL,
		response_text TEXT,
		delivery_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		notified_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_child ON parent_notifications(child_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *EscalationStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// UpsertChild creates or replaces a child record.
func (s *EscalationStore) UpsertChild(ctx context.Context, child *safety.ChildRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if child.ID == "" {
		child.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO children (id, name, age, parent_email) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, age=excluded.age, parent_email=excluded.parent_email`,
		child.ID, child.Name, child.Age, child.ParentEmail)
	if err != nil {
		return fmt.Errorf("failed to upsert child: %w", err)
	}
	return nil
}

// GetChild returns the child record for escalation lookups.
func (s *EscalationStore) GetChild(ctx context.Context, childID string) (*safety.ChildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, age, parent_email FROM children WHERE id = ?`, childID)

	var child safety.ChildRecord
	if err := row.Scan(&child.ID, &child.Name, &child.Age, &child.ParentEmail); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("child %s not found", childID)
		}
		return nil, fmt.Errorf("failed to load child: %w", err)
	}
	return &child, nil
}

// CreateSafetyEvent persists one safety event.
func (s *EscalationStore) CreateSafetyEvent(ctx context.Context, ev *safety.SafetyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO safety_events
			(id, event_type, severity, child_id, conversation_id, trigger_content, reasoning, status, notified_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventType, int(ev.Severity), ev.ChildID, ev.ConversationID,
		ev.TriggerContent, ev.Reasoning, ev.Status, ev.NotifiedAt, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert safety event: %w", err)
	}

	logging.StoreDebug("safety event stored: id=%s severity=%d child=%s", ev.ID, ev.Severity, ev.ChildID)
	return nil
}

// UpdateEventStatus updates an event's status and notified timestamp.
func (s *EscalationStore) UpdateEventStatus(ctx context.Context, eventID, status string, notifiedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE safety_events SET status = ?, notified_at = COALESCE(?, notified_at) WHERE id = ?`,
		status, notifiedAt, eventID)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s not found", eventID)
	}
	return nil
}

// CreateParentNotification persists one parent notification record.
func (s *EscalationStore) CreateParentNotification(ctx context.Context, n *safety.ParentNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.DeliveryStatus == "" {
		n.DeliveryStatus = safety.DeliveryPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parent_notifications
			(id, event_id, child_id, parent_email, severity, trigger_content, response_text, delivery_status, created_at, notified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.EventID, n.ChildID, n.ParentEmail, int(n.Severity),
		n.TriggerContent, n.ResponseText, n.DeliveryStatus, n.CreatedAt, n.NotifiedAt)
	if err != nil {
		return fmt.Errorf("failed to insert parent notification: %w", err)
	}

	logging.StoreDebug("parent notification stored: id=%s child=%s", n.ID, n.ChildID)
	return nil
}

// UpdateNotificationStatus records the delivery outcome.
func (s *EscalationStore) UpdateNotificationStatus(ctx context.Context, notificationID, status string, notifiedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE parent_notifications SET delivery_status = ?, notified_at = COALESCE(?, notified_at) WHERE id = ?`,
		status, notifiedAt, notificationID)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s not found", notificationID)
	}
	return nil
}

// ListOpenEvents returns unresolved safety events, newest first, for
// dashboard collaborators.
func (s *EscalationStore) ListOpenEvents(ctx context.Context, limit int) ([]safety.SafetyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, severity, child_id, conversation_id, trigger_content, reasoning, status, notified_at, created_at
		FROM safety_events WHERE status = 'open' ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query open events: %w", err)
	}
	defer rows.Close()

	var events []safety.SafetyEvent
	for rows.Next() {
		var ev safety.SafetyEvent
		var severity int
		var conversationID, reasoning sql.NullString
		var notifiedAt sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.EventType, &severity, &ev.ChildID, &conversationID,
			&ev.TriggerContent, &reasoning, &ev.Status, &notifiedAt, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Severity = safety.Severity(severity)
		ev.ConversationID = conversationID.String
		ev.Reasoning = reasoning.String
		if notifiedAt.Valid {
			t := notifiedAt.Time
			ev.NotifiedAt = &t
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
