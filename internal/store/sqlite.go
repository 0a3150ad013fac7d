// Package store provides storage backends for CivicRelay.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/civicrelay/civicrelay/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetConversationState retrieves the state document for a (user, channel) key.
func (s *SQLiteStore) GetConversationState(userID, channel string) (*models.ConversationState, error) {
	query := `SELECT document FROM conversation_states WHERE user_id = ? AND channel = ?`

	var document string
	err := s.db.QueryRow(query, userID, channel).Scan(&document)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "userID", userID, "channel", channel)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "userID", userID, "channel", channel)
		return nil, fmt.Errorf("failed to query conversation state: %w", err)
	}

	var state models.ConversationState
	if err := json.Unmarshal([]byte(document), &state); err != nil {
		slog.Error("SQLiteStore GetConversationState JSON unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode conversation state document: %w", err)
	}

	slog.Debug("SQLiteStore GetConversationState found", "userID", userID, "channel", channel, "step", state.Workflow.CurrentStep)
	return &state, nil
}

// SaveConversationState upserts the full state document keyed by (user, channel).
func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	document, err := json.Marshal(state)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState JSON marshal failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to encode conversation state document: %w", err)
	}

	query := `
		INSERT INTO conversation_states (user_id, channel, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, channel) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at`

	now := time.Now()
	_, err = s.db.Exec(query, state.UserID, state.Channel, string(document), state.CreatedAt, now)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "userID", state.UserID, "channel", state.Channel)
		return fmt.Errorf("failed to upsert conversation state: %w", err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "userID", state.UserID, "channel", state.Channel)
	return nil
}

// DeleteConversationState removes the state row for a (user, channel) key.
func (s *SQLiteStore) DeleteConversationState(userID, channel string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE user_id = ? AND channel = ?`, userID, channel)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "userID", userID, "channel", channel)
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	slog.Debug("SQLiteStore DeleteConversationState succeeded", "userID", userID, "channel", channel)
	return nil
}

// SaveRegistration stores a registration record.
func (s *SQLiteStore) SaveRegistration(reg models.Registration) error {
	fieldsJSON, err := json.Marshal(reg.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode registration fields: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO registrations (id, user_id, category, fields, created_at) VALUES (?, ?, ?, ?, ?)`,
		reg.ID, reg.UserID, string(reg.Category), string(fieldsJSON), reg.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveRegistration failed", "error", err, "userID", reg.UserID)
		return fmt.Errorf("failed to insert registration for %s: %w", reg.UserID, err)
	}
	slog.Debug("SQLiteStore SaveRegistration succeeded", "userID", reg.UserID, "category", reg.Category)
	return nil
}

// GetRegistrationByUser retrieves the most recent registration for a user.
func (s *SQLiteStore) GetRegistrationByUser(userID string) (*models.Registration, error) {
	query := `SELECT id, user_id, category, fields, created_at FROM registrations
			  WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`

	var reg models.Registration
	var category, fieldsJSON string
	err := s.db.QueryRow(query, userID).Scan(&reg.ID, &reg.UserID, &category, &fieldsJSON, &reg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetRegistrationByUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query registration: %w", err)
	}

	reg.Category = models.UserType(category)
	if err := json.Unmarshal([]byte(fieldsJSON), &reg.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode registration fields: %w", err)
	}
	return &reg, nil
}

// SaveReport stores a submitted report record.
func (s *SQLiteStore) SaveReport(report models.Report) error {
	fieldsJSON, err := json.Marshal(report.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode report fields: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO reports (id, user_id, category, fields, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		report.ID, report.UserID, string(report.Category), string(fieldsJSON), report.Status, report.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveReport failed", "error", err, "userID", report.UserID)
		return fmt.Errorf("failed to insert report for %s: %w", report.UserID, err)
	}
	slog.Debug("SQLiteStore SaveReport succeeded", "userID", report.UserID, "reportID", report.ID)
	return nil
}

// ListReportsByUser retrieves all reports submitted by a user, oldest first.
func (s *SQLiteStore) ListReportsByUser(userID string) ([]models.Report, error) {
	rows, err := s.db.Query(`SELECT id, user_id, category, fields, status, created_at FROM reports
							 WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListReportsByUser query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		var r models.Report
		var category, fieldsJSON string
		if err := rows.Scan(&r.ID, &r.UserID, &category, &fieldsJSON, &r.Status, &r.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListReportsByUser scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		r.Category = models.UserType(category)
		if err := json.Unmarshal([]byte(fieldsJSON), &r.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode report fields: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListReportsByUser rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate report rows: %w", err)
	}
	slog.Debug("SQLiteStore ListReportsByUser succeeded", "userID", userID, "count", len(reports))
	return reports, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
