package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/platform/timeouts"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"github.com/cenkalti/backoff/v5"
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultBatchSize     = 50
	defaultRetryBackoff  = 2 * time.Second
	defaultRetryMaxDelay = 5 * time.Minute
	maxLastErrorLength   = 512
)

// Publisher delivers one integration event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, event domain.OutboxEvent) error
}

// DispatcherConfig controls outbox polling and retry delays.
type DispatcherConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c DispatcherConfig) normalized() DispatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBackoff {
		c.RetryMaxDelay = c.RetryBackoff
	}
	return c
}

// Dispatcher publishes pending outbox events with at-least-once delivery.
type Dispatcher struct {
	store     domain.OutboxStore
	publisher Publisher
	cfg       DispatcherConfig
	clock     func() time.Time
	wake      chan struct{}
}

// NewDispatcher builds a dispatcher. A nil clock uses time.Now.
func NewDispatcher(store domain.OutboxStore, publisher Publisher, cfg DispatcherConfig, clock func() time.Time) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		cfg:       cfg.normalized(),
		clock:     clock,
		wake:      make(chan struct{}, 1),
	}
}

// Wake asks the dispatcher for an immediate pass. It never blocks.
func (d *Dispatcher) Wake() {
	if d == nil {
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d == nil || d.store == nil || d.publisher == nil {
		return fmt.Errorf("dispatcher is not configured")
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("outbox dispatch failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DispatchOnce publishes one batch of due events and returns how many were
// delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	now := d.clock().UTC()
	events, err := d.store.ListPendingEvents(ctx, d.cfg.BatchSize, now)
	if err != nil {
		return 0, fmt.Errorf("list pending events: %w", err)
	}

	delivered := 0
	var errs []error
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		publishCtx, cancel := context.WithTimeout(ctx, timeouts.Publish)
		publishErr := d.publisher.Publish(publishCtx, event)
		cancel()

		at := d.clock().UTC()
		if publishErr == nil {
			if err := d.store.MarkEventDelivered(ctx, event.ID, at); err != nil {
				errs = append(errs, fmt.Errorf("mark event %s delivered: %w", event.ID, err))
				continue
			}
			delivered++
			continue
		}

		attempts := event.Attempts + 1
		next := at.Add(d.retryDelay(attempts))
		if err := d.store.MarkEventRetry(ctx, event.ID, attempts, next, truncate(publishErr.Error(), maxLastErrorLength)); err != nil {
			errs = append(errs, fmt.Errorf("mark event %s retry: %w", event.ID, err))
			continue
		}
		log.Printf("publish event %s for script %s failed (attempt %d, next at %s): %v", event.ID, event.ScriptID, attempts, next.Format(time.RFC3339), publishErr)
	}
	return delivered, errors.Join(errs...)
}

// retryDelay returns the delay before the given attempt number is retried:
// RetryBackoff doubled per earlier attempt, capped at RetryMaxDelay.
func (d *Dispatcher) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryBackoff
	b.MaxInterval = d.cfg.RetryMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
