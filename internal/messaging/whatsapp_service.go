package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/civicrelay/civicrelay/internal/models"
	"github.com/civicrelay/civicrelay/internal/whatsapp"
)

// WhatsAppService serves the worker line over the Whatsmeow-based client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // full client, when available, for event handling
	messages chan models.InboundMessage
	done     chan struct{}
	mu       sync.Mutex
	stopped  bool
}

// NewWhatsAppService creates a worker-line adapter around the given sender.
// Event handling is only available when the sender is the full client; mocks
// send but never receive.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		messages: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// Channel identifies the worker line.
func (s *WhatsAppService) Channel() string {
	return models.ChannelWorker
}

// ValidateAndCanonicalizeRecipient reduces a phone number to digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start registers the event handler when a full client is available.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
	}
	return nil
}

// Stop stops background processing and closes the message channel after a
// short drain window. The event handler stays attached to the underlying
// client; its emits are rejected through the done channel once Stop runs.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.messages)
	}()
	return nil
}

// SendMessage sends a reply on the worker line.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonical)
		return err
	}
	slog.Debug("WhatsAppService message sent", "to", canonical, "body_length", len(body))
	return nil
}

// Messages returns the channel of inbound worker-line messages.
func (s *WhatsAppService) Messages() <-chan models.InboundMessage {
	return s.messages
}

func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts a WhatsApp message event into an inbound
// message. Image attachments are carried as a media descriptor; analysis
// happens later in the flow layer.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var text string
	var media *models.MediaDescriptor
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	case evt.Message.ImageMessage != nil:
		text = evt.Message.ImageMessage.GetCaption()
		media = &models.MediaDescriptor{Type: "image", Reference: evt.Message.ImageMessage.GetURL()}
	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", evt.Info.Sender.String())
		return
	}

	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	msg := models.InboundMessage{
		UserID:  fromNumber,
		Channel: models.ChannelWorker,
		Text:    text,
		Media:   media,
		Time:    evt.Info.Timestamp,
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		slog.Warn("WhatsAppService stopped, dropping message", "from", msg.UserID)
		return
	}

	select {
	case <-s.done:
		slog.Warn("WhatsAppService stopped, dropping message", "from", msg.UserID)
	case s.messages <- msg:
		slog.Info("WhatsAppService incoming message forwarded", "from", msg.UserID, "hasMedia", media != nil)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService message channel blocked, dropping message", "from", msg.UserID, "timeout", DefaultChannelTimeout)
	}
}
