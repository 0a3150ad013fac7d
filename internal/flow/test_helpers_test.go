package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/openai/openai-go"

	"github.com/civicrelay/civicrelay/internal/models"
	"github.com/civicrelay/civicrelay/internal/store"
)

// mockReasoner is a scripted stand-in for the GenAI client.
type mockReasoner struct {
	response     string
	err          error
	mediaSummary string
	mediaErr     error

	calls        int
	lastMessages []openai.ChatCompletionMessageParamUnion
}

func (m *mockReasoner) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.calls++
	m.lastMessages = messages
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockReasoner) AnalyzeMedia(ctx context.Context, instruction string, media models.MediaDescriptor) (string, error) {
	if m.mediaErr != nil {
		return "", m.mediaErr
	}
	return m.mediaSummary, nil
}

// countingStore wraps a store and counts conversation state reads, so tests
// can tell cache hits from durable loads.
type countingStore struct {
	store.Store
	mu    sync.Mutex
	reads int
}

func newCountingStore() *countingStore {
	return &countingStore{Store: store.NewInMemoryStore()}
}

func (s *countingStore) GetConversationState(userID, channel string) (*models.ConversationState, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.Store.GetConversationState(userID, channel)
}

func (s *countingStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// failingStore rejects all writes but serves reads from the wrapped store.
type failingStore struct {
	store.Store
}

func (s *failingStore) SaveConversationState(state models.ConversationState) error {
	return fmt.Errorf("durable write rejected")
}

// recordingRegistrations records registration write-backs.
type recordingRegistrations struct {
	err      error
	calls    int
	lastUser string
	lastCat  models.UserType
	lastData map[string]any
}

func (r *recordingRegistrations) RegisterEntity(ctx context.Context, userID string, category models.UserType, fields map[string]any) (string, error) {
	r.calls++
	r.lastUser = userID
	r.lastCat = category
	r.lastData = fields
	if r.err != nil {
		return "", r.err
	}
	return "reg-ref-1", nil
}

// recordingReports records report submissions.
type recordingReports struct {
	err   error
	calls int
}

func (r *recordingReports) SubmitRecord(ctx context.Context, userID string, category models.UserType, fields map[string]any) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return "report-ref-1", nil
}

// scriptedStatus answers status lookups with a fixed summary.
type scriptedStatus struct {
	summary string
	err     error
}

func (s *scriptedStatus) QueryStatus(ctx context.Context, userID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

// staticProfiles serves a fixed profile map.
type staticProfiles struct {
	profiles map[string]*models.Profile
	err      error
}

func (p *staticProfiles) LookupProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.profiles[userID], nil
}
