// Package logpub publishes grading integration events to the process log.
// It stands in for a broker in local runs.
package logpub

import (
	"context"
	"log"

	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
)

// Publisher writes each event as one log line.
type Publisher struct {
	logf func(format string, args ...any)
}

// New returns a publisher writing through logf, or log.Printf when nil.
func New(logf func(format string, args ...any)) *Publisher {
	if logf == nil {
		logf = log.Printf
	}
	return &Publisher{logf: logf}
}

// Publish logs the event. It fails only when ctx is already done.
func (p *Publisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logf("event %s type=%s script=%s payload=%s", event.ID, event.Type, event.ScriptID, event.Payload)
	return nil
}
