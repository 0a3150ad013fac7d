package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/civicrelay/civicrelay/internal/models"
	"github.com/civicrelay/civicrelay/internal/twiliosms"
)

// TwilioService serves the citizen line over the Twilio SMS API. Outbound
// messages go through the REST client; inbound messages arrive through the
// webhook handler, which the API layer mounts.
type TwilioService struct {
	client   twiliosms.Sender
	messages chan models.InboundMessage
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewTwilioService creates a citizen-line adapter around the given sender.
func NewTwilioService(client twiliosms.Sender) *TwilioService {
	return &TwilioService{
		client:   client,
		messages: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
}

// Channel identifies the citizen line.
func (s *TwilioService) Channel() string {
	return models.ChannelCitizen
}

// ValidateAndCanonicalizeRecipient reduces a phone number to digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op; inbound traffic arrives via the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the message channel after a short drain window.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.messages)
	}()
	return nil
}

// SendMessage sends an SMS reply on the citizen line.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, "+"+canonical, body); err != nil {
		slog.Error("TwilioService SendMessage error", "error", err, "to", canonical)
		return err
	}
	slog.Debug("TwilioService message sent", "to", canonical, "body_length", len(body))
	return nil
}

// Messages returns the channel of inbound citizen-line messages.
func (s *TwilioService) Messages() <-chan models.InboundMessage {
	return s.messages
}

// WebhookHandler handles inbound Twilio webhook requests. It parses the
// message form fields, including an optional first media attachment, and
// emits the result as an inbound message event.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	mediaURL := r.FormValue("MediaUrl0")

	if from == "" || (body == "" && mediaURL == "") {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	var media *models.MediaDescriptor
	if mediaURL != "" {
		media = &models.MediaDescriptor{Type: "image", Reference: mediaURL}
	}

	msg := models.InboundMessage{
		UserID:  from,
		Channel: models.ChannelCitizen,
		Text:    body,
		Media:   media,
		Time:    time.Now(),
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	select {
	case <-s.done:
		slog.Warn("TwilioService stopped, dropping message", "from", msg.UserID)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	case s.messages <- msg:
		slog.Info("TwilioService inbound message forwarded", "from", msg.UserID, "hasMedia", media != nil)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService message channel blocked, dropping message", "from", msg.UserID, "timeout", DefaultChannelTimeout)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
