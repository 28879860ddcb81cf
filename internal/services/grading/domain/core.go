package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/platform/id"
	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxAttempts bounds how often a conflicting unit of work is run.
const DefaultMaxAttempts = 5

// ErrStoreNotConfigured indicates a component was built without persistence.
var ErrStoreNotConfigured = errors.New("grading store is not configured")

// Option configures the grading components.
type Option func(*core)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *core) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(c *core) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// WithMaxAttempts bounds retries of conflicting units of work.
func WithMaxAttempts(attempts int) Option {
	return func(c *core) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithBackOff overrides the delay schedule between conflicting attempts.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *core) {
		if factory != nil {
			c.newBackOff = factory
		}
	}
}

// WithDefaultPolicy sets the policy for exams without a registered one.
func WithDefaultPolicy(policy ExamPolicy) Option {
	return func(c *core) {
		c.defaultPolicy = policy
	}
}

// WithFinalizedHook registers a callback run after a finalization commits.
// It runs outside the per-script lock and must not block.
func WithFinalizedHook(hook func(FinalResult)) Option {
	return func(c *core) {
		c.onFinalized = hook
	}
}

// core carries the wiring shared by the four grading components.
type core struct {
	store         Store
	clock         func() time.Time
	newID         func() (string, error)
	maxAttempts   int
	newBackOff    func() backoff.BackOff
	defaultPolicy ExamPolicy
	onFinalized   func(FinalResult)
}

func newCore(store Store, opts []Option) *core {
	c := &core{
		store:         store,
		clock:         time.Now,
		newID:         id.NewID,
		maxAttempts:   DefaultMaxAttempts,
		newBackOff:    defaultBackOff,
		defaultPolicy: DefaultExamPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return b
}

// now is truncated to milliseconds, the coarsest precision any store keeps,
// so a result read back equals the one first returned.
func (c *core) now() time.Time {
	return c.clock().UTC().Truncate(time.Millisecond)
}

func (c *core) ready() error {
	if c == nil || c.store == nil {
		return ErrStoreNotConfigured
	}
	return nil
}

// withinScript runs fn in a per-script unit of work, retrying storage
// conflicts. fn may run more than once and must rebuild its outputs on
// every call.
func (c *core) withinScript(ctx context.Context, scriptID string, fn func(ctx context.Context, tx Tx) error) error {
	attempt := func() (struct{}, error) {
		err := c.store.WithinScript(ctx, scriptID, fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrConcurrentUpdate):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if errors.Is(err, ErrConcurrentUpdate) {
		return apperrors.Wrap(apperrors.CodeContention, fmt.Sprintf("script %s: %d attempts conflicted", scriptID, c.maxAttempts), err)
	}
	return err
}

// loadScript reads a script inside a unit of work, mapping a miss to the
// named error.
func loadScript(ctx context.Context, tx Tx, scriptID string) (AnswerScript, error) {
	script, err := tx.Scripts().GetScript(ctx, scriptID)
	if errors.Is(err, ErrNotFound) {
		return AnswerScript{}, scriptNotFound(scriptID)
	}
	if err != nil {
		return AnswerScript{}, fmt.Errorf("load script %s: %w", scriptID, err)
	}
	return script, nil
}

// saveScript writes the script once per unit of work and advances the
// in-memory copy to the stored version.
func saveScript(ctx context.Context, tx Tx, script *AnswerScript, now time.Time) error {
	script.UpdatedAt = now
	if err := tx.Scripts().UpdateScript(ctx, *script); err != nil {
		return fmt.Errorf("update script %s: %w", script.ID, err)
	}
	script.Version++
	return nil
}
