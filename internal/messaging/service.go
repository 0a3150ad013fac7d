// Package messaging provides the transport adapters for CivicRelay's two bot
// lines and the router that connects them to the workflow engine.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/civicrelay/civicrelay/internal/models"
)

// Constants for channel adapter configuration
const (
	// DefaultChannelBufferSize defines the buffer size for inbound message channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after an adapter has been stopped.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service is a pluggable transport adapter for one bot line. Each adapter
// delivers inbound messages on Messages() and accepts plain text replies.
type Service interface {
	// Channel returns the channel label this adapter serves.
	Channel() string

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier according to the transport's rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain text reply to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing (event handling, polling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the message channel.
	Stop() error

	// Messages returns the channel of inbound message events.
	Messages() <-chan models.InboundMessage
}

// canonicalizePhone reduces a recipient to its digits and validates length.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short")
	}
	return canonical, nil
}
