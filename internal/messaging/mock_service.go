package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

// MockService is an in-memory Service for tests. It records sends and lets
// tests inject failures and inbound replies.
type MockService struct {
	mu        sync.Mutex
	Sent      []MockSentMessage
	SendErr   error
	receipts  chan models.Receipt
	responses chan models.Response
}

// MockSentMessage is one recorded outbound nudge.
type MockSentMessage struct {
	To   string
	Body string
}

// NewMockService creates a MockService with buffered event channels.
func NewMockService() *MockService {
	return &MockService{
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, MockSentMessage{To: to, Body: body})
	m.receipts <- models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()}
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error { return nil }

func (m *MockService) Receipts() <-chan models.Receipt { return m.receipts }

func (m *MockService) Responses() <-chan models.Response { return m.responses }

// InjectResponse simulates an inbound user reply.
func (m *MockService) InjectResponse(resp models.Response) {
	m.responses <- resp
}

// SentCount returns the number of recorded sends.
func (m *MockService) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// FailWith makes subsequent sends return err. Pass nil to restore success.
func (m *MockService) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendErr = err
}
