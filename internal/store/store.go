// Package store provides storage backends for CivicRelay.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backed stores for persistent deployments. All backends hold the
// conversation state documents (one row per user/channel pair) and the
// registration and report records written by the domain layer.
package store

import (
	"strings"
	"sync"

	"github.com/civicrelay/civicrelay/internal/models"
)

// Store defines the durable persistence contract shared by all backends.
//
// Conversation state reads return (nil, nil) when no row exists for the key;
// saves are full-document upserts keyed by (userID, channel).
type Store interface {
	GetConversationState(userID, channel string) (*models.ConversationState, error)
	SaveConversationState(state models.ConversationState) error
	DeleteConversationState(userID, channel string) error

	SaveRegistration(reg models.Registration) error
	GetRegistrationByUser(userID string) (*models.Registration, error)
	SaveReport(report models.Report) error
	ListReportsByUser(userID string) ([]models.Report, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a map-backed store for tests and local development.
type InMemoryStore struct {
	mu            sync.RWMutex
	states        map[string]models.ConversationState
	registrations map[string]models.Registration // keyed by user ID
	reports       []models.Report
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:        make(map[string]models.ConversationState),
		registrations: make(map[string]models.Registration),
	}
}

func stateKey(userID, channel string) string {
	return userID + "|" + channel
}

// GetConversationState returns the stored state document, or (nil, nil) if absent.
func (s *InMemoryStore) GetConversationState(userID, channel string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[stateKey(userID, channel)]
	if !ok {
		return nil, nil
	}
	clone := state.Clone()
	return &clone, nil
}

// SaveConversationState upserts the full state document for its key.
func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[stateKey(state.UserID, state.Channel)] = state.Clone()
	return nil
}

// DeleteConversationState removes the state document for the key.
func (s *InMemoryStore) DeleteConversationState(userID, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, stateKey(userID, channel))
	return nil
}

// SaveRegistration stores a registration record, replacing any prior
// registration for the same user.
func (s *InMemoryStore) SaveRegistration(reg models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registrations[reg.UserID] = reg
	return nil
}

// GetRegistrationByUser returns the user's registration, or (nil, nil) if absent.
func (s *InMemoryStore) GetRegistrationByUser(userID string) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.registrations[userID]
	if !ok {
		return nil, nil
	}
	return &reg, nil
}

// SaveReport appends a report record.
func (s *InMemoryStore) SaveReport(report models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, report)
	return nil
}

// ListReportsByUser returns the user's reports in submission order.
func (s *InMemoryStore) ListReportsByUser(userID string) ([]models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Report
	for _, r := range s.reports {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
