package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// Message is a delivery captured by Mock.
type Message struct {
	Recipient  string
	TemplateID string
	Vars       map[string]string
	Subject    string
	Body       string
	At         time.Time
}

// Mock renders and records messages instead of delivering them. Err, when
// set, is returned from every Send.
type Mock struct {
	name string

	mu       sync.Mutex
	messages []Message
	Err      error
}

func NewMock(name string) *Mock {
	return &Mock{name: name}
}

func (m *Mock) Name() string { return m.name }

func (m *Mock) Send(ctx context.Context, recipient, templateID string, vars map[string]string) (Sent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return Sent{}, m.Err
	}

	subject, body, err := Render(templateID, vars)
	if err != nil {
		return Sent{}, err
	}

	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	now := time.Now().UTC()
	m.messages = append(m.messages, Message{
		Recipient:  recipient,
		TemplateID: templateID,
		Vars:       copied,
		Subject:    subject,
		Body:       body,
		At:         now,
	})

	util.Info("Mock notification",
		zap.String("provider", m.name),
		zap.String("recipient", recipient),
		zap.String("template", templateID))

	return Sent{Provider: m.name, MessageID: uuid.NewString(), At: now}, nil
}

// Messages returns a copy of everything sent so far.
func (m *Mock) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Last returns the latest message to recipient.
func (m *Mock) Last(recipient string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Recipient == recipient {
			return m.messages[i], true
		}
	}
	return Message{}, false
}

func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}
