// Package store provides storage backends for CivicRelay.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/civicrelay/civicrelay/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetConversationState retrieves the state document for a (user, channel) key.
func (s *PostgresStore) GetConversationState(userID, channel string) (*models.ConversationState, error) {
	query := `SELECT document FROM conversation_states WHERE user_id = $1 AND channel = $2`

	var document string
	err := s.db.QueryRow(query, userID, channel).Scan(&document)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversationState not found", "userID", userID, "channel", channel)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "userID", userID, "channel", channel)
		return nil, fmt.Errorf("failed to query conversation state: %w", err)
	}

	var state models.ConversationState
	if err := json.Unmarshal([]byte(document), &state); err != nil {
		slog.Error("PostgresStore GetConversationState JSON unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode conversation state document: %w", err)
	}
	return &state, nil
}

// SaveConversationState upserts the full state document keyed by (user, channel).
func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	document, err := json.Marshal(state)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState JSON marshal failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to encode conversation state document: %w", err)
	}

	query := `
		INSERT INTO conversation_states (user_id, channel, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, channel) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.Exec(query, state.UserID, state.Channel, string(document), state.CreatedAt, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "userID", state.UserID, "channel", state.Channel)
		return fmt.Errorf("failed to upsert conversation state: %w", err)
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "userID", state.UserID, "channel", state.Channel)
	return nil
}

// DeleteConversationState removes the state row for a (user, channel) key.
func (s *PostgresStore) DeleteConversationState(userID, channel string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE user_id = $1 AND channel = $2`, userID, channel)
	if err != nil {
		slog.Error("PostgresStore DeleteConversationState failed", "error", err, "userID", userID, "channel", channel)
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	slog.Debug("PostgresStore DeleteConversationState succeeded", "userID", userID, "channel", channel)
	return nil
}

// SaveRegistration stores a registration record.
func (s *PostgresStore) SaveRegistration(reg models.Registration) error {
	fieldsJSON, err := json.Marshal(reg.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode registration fields: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO registrations (id, user_id, category, fields, created_at) VALUES ($1, $2, $3, $4, $5)`,
		reg.ID, reg.UserID, string(reg.Category), string(fieldsJSON), reg.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveRegistration failed", "error", err, "userID", reg.UserID)
		return fmt.Errorf("failed to insert registration for %s: %w", reg.UserID, err)
	}
	slog.Debug("PostgresStore SaveRegistration succeeded", "userID", reg.UserID, "category", reg.Category)
	return nil
}

// GetRegistrationByUser retrieves the most recent registration for a user.
func (s *PostgresStore) GetRegistrationByUser(userID string) (*models.Registration, error) {
	query := `SELECT id, user_id, category, fields, created_at FROM registrations
			  WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`

	var reg models.Registration
	var category, fieldsJSON string
	err := s.db.QueryRow(query, userID).Scan(&reg.ID, &reg.UserID, &category, &fieldsJSON, &reg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetRegistrationByUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query registration: %w", err)
	}

	reg.Category = models.UserType(category)
	if err := json.Unmarshal([]byte(fieldsJSON), &reg.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode registration fields: %w", err)
	}
	return &reg, nil
}

// SaveReport stores a submitted report record.
func (s *PostgresStore) SaveReport(report models.Report) error {
	fieldsJSON, err := json.Marshal(report.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode report fields: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO reports (id, user_id, category, fields, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		report.ID, report.UserID, string(report.Category), string(fieldsJSON), report.Status, report.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveReport failed", "error", err, "userID", report.UserID)
		return fmt.Errorf("failed to insert report for %s: %w", report.UserID, err)
	}
	slog.Debug("PostgresStore SaveReport succeeded", "userID", report.UserID, "reportID", report.ID)
	return nil
}

// ListReportsByUser retrieves all reports submitted by a user, oldest first.
func (s *PostgresStore) ListReportsByUser(userID string) ([]models.Report, error) {
	rows, err := s.db.Query(`SELECT id, user_id, category, fields, status, created_at FROM reports
							 WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		slog.Error("PostgresStore ListReportsByUser query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		var r models.Report
		var category, fieldsJSON string
		if err := rows.Scan(&r.ID, &r.UserID, &category, &fieldsJSON, &r.Status, &r.CreatedAt); err != nil {
			slog.Error("PostgresStore ListReportsByUser scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		r.Category = models.UserType(category)
		if err := json.Unmarshal([]byte(fieldsJSON), &r.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode report fields: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListReportsByUser rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate report rows: %w", err)
	}
	return reports, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
