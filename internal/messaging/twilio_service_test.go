package messaging

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/civicrelay/civicrelay/internal/models"
	"github.com/civicrelay/civicrelay/internal/twiliosms"
)

func postWebhook(t *testing.T, s *TwilioService, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.WebhookHandler(w, req)
	return w
}

func TestTwilioWebhookEmitsInboundMessage(t *testing.T) {
	s := NewTwilioService(twiliosms.NewMockClient())

	w := postWebhook(t, s, url.Values{
		"From": {"+15551234567"},
		"Body": {"there is a pothole on my street"},
	})
	if w.Code != 200 {
		t.Fatalf("webhook status = %d, want 200", w.Code)
	}

	select {
	case msg := <-s.Messages():
		if msg.UserID != "+15551234567" {
			t.Errorf("UserID = %q", msg.UserID)
		}
		if msg.Channel != models.ChannelCitizen {
			t.Errorf("Channel = %q, want citizen", msg.Channel)
		}
		if msg.Text != "there is a pothole on my street" {
			t.Errorf("Text = %q", msg.Text)
		}
		if msg.Media != nil {
			t.Errorf("Media = %+v, want nil", msg.Media)
		}
	default:
		t.Fatal("no inbound message emitted")
	}
}

func TestTwilioWebhookCapturesMedia(t *testing.T) {
	s := NewTwilioService(twiliosms.NewMockClient())

	w := postWebhook(t, s, url.Values{
		"From":      {"+15551234567"},
		"Body":      {"here's a photo"},
		"MediaUrl0": {"https://api.twilio.com/media/abc"},
	})
	if w.Code != 200 {
		t.Fatalf("webhook status = %d, want 200", w.Code)
	}

	msg := <-s.Messages()
	if msg.Media == nil {
		t.Fatal("Media = nil, want descriptor")
	}
	if msg.Media.Type != "image" || msg.Media.Reference != "https://api.twilio.com/media/abc" {
		t.Errorf("Media = %+v", msg.Media)
	}
}

func TestTwilioWebhookMediaOnlyMessage(t *testing.T) {
	s := NewTwilioService(twiliosms.NewMockClient())

	w := postWebhook(t, s, url.Values{
		"From":      {"+15551234567"},
		"MediaUrl0": {"https://api.twilio.com/media/abc"},
	})
	if w.Code != 200 {
		t.Fatalf("webhook status = %d, want 200 for media without body", w.Code)
	}
}

func TestTwilioWebhookRejectsMissingFields(t *testing.T) {
	s := NewTwilioService(twiliosms.NewMockClient())

	w := postWebhook(t, s, url.Values{"Body": {"hello"}})
	if w.Code != 400 {
		t.Errorf("webhook status = %d, want 400 without From", w.Code)
	}

	w = postWebhook(t, s, url.Values{"From": {"+15551234567"}})
	if w.Code != 400 {
		t.Errorf("webhook status = %d, want 400 without Body or media", w.Code)
	}
}

func TestTwilioSendMessageCanonicalizes(t *testing.T) {
	mock := twiliosms.NewMockClient()
	s := NewTwilioService(mock)

	if err := s.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	sent := mock.SentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].To != "+15551234567" {
		t.Errorf("To = %q, want +15551234567", sent[0].To)
	}
}

func TestTwilioSendMessageAfterStop(t *testing.T) {
	s := NewTwilioService(twiliosms.NewMockClient())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.SendMessage(context.Background(), "+15551234567", "hello"); err != ErrServiceStopped {
		t.Errorf("SendMessage() after stop: error = %v, want ErrServiceStopped", err)
	}
}

func TestTwilioValidateRecipient(t *testing.T) {
	s := NewTwilioService(twiliosms.NewMockClient())

	if _, err := s.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("empty recipient accepted")
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("123"); err == nil {
		t.Error("short recipient accepted")
	}
	got, err := s.ValidateAndCanonicalizeRecipient("+1 555-123-4567")
	if err != nil {
		t.Fatalf("ValidateAndCanonicalizeRecipient() error = %v", err)
	}
	if got != "15551234567" {
		t.Errorf("canonical = %q", got)
	}
}
