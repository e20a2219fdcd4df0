// Package messaging provides the pluggable delivery channels NudgeLoop
// pushes nudges through, plus channels for receipt and inbound reply events.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

// Constants for delivery service configuration.
const (
	// DefaultChannelBufferSize defines the buffer size for receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel emits.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable nudge delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Each channel implements its own recipient rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a nudge to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g. polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming user replies.
	Responses() <-chan models.Response
}

// canonicalizePhone reduces a recipient to bare digits and validates length.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: minimum 6 digits required")
	}
	return canonical, nil
}
