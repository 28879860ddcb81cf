// Package natspub publishes grading integration events to NATS.
package natspub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"github.com/nats-io/nats.go"
)

// DefaultSubject receives ScriptFinalized events.
const DefaultSubject = domain.EventTypeScriptFinalized

const (
	headerEventID   = "Nats-Msg-Id"
	headerEventType = "Grading-Event-Type"
	headerScriptID  = "Grading-Script-Id"
)

type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Publisher sends outbox events as NATS messages. The event id travels in
// the Nats-Msg-Id header so JetStream consumers can deduplicate.
type Publisher struct {
	conn    conn
	subject string
}

// Connect dials url and returns a publisher for subject.
func Connect(url string, subject string, name string) (*Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if strings.TrimSpace(name) == "" {
		name = "exam-office-grading"
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newPublisher(nc, subject), nil
}

func newPublisher(c conn, subject string) *Publisher {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: c, subject: subject}
}

// Publish sends the event and waits for the server to acknowledge the flush.
func (p *Publisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	msg := &nats.Msg{
		Subject: p.subject,
		Data:    event.Payload,
		Header:  nats.Header{},
	}
	msg.Header.Set(headerEventID, event.ID)
	msg.Header.Set(headerEventType, event.Type)
	msg.Header.Set(headerScriptID, event.ScriptID)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush event %s: %w", event.ID, err)
	}
	return nil
}

// Close drops the connection.
func (p *Publisher) Close() error {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
	return nil
}
