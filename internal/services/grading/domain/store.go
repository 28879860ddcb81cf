package domain

import (
	"context"
	"time"
)

// ScriptRepository persists answer scripts.
type ScriptRepository interface {
	GetScript(ctx context.Context, scriptID string) (AnswerScript, error)
	GetScriptByExamStudent(ctx context.Context, examID string, studentID string) (AnswerScript, error)
	// InsertScript returns ErrDuplicate when a script already exists for the
	// same id or the same (exam, student) pair.
	InsertScript(ctx context.Context, script AnswerScript) error
	// UpdateScript stores script as version script.Version+1 when the stored
	// version still equals script.Version, and returns ErrConcurrentUpdate
	// otherwise.
	UpdateScript(ctx context.Context, script AnswerScript) error
	ListScriptsByExam(ctx context.Context, examID string) ([]AnswerScript, error)
}

// GradeEntryRepository persists grade entries.
type GradeEntryRepository interface {
	InsertGradeEntry(ctx context.Context, entry GradeEntry) error
	SupersedeGradeEntry(ctx context.Context, entryID string, at time.Time) error
	// ListGradeEntries returns every entry of the script, oldest first.
	ListGradeEntries(ctx context.Context, scriptID string) ([]GradeEntry, error)
}

// DiscrepancyCaseRepository persists discrepancy cases.
type DiscrepancyCaseRepository interface {
	GetCase(ctx context.Context, caseID string) (DiscrepancyCase, error)
	InsertCase(ctx context.Context, c DiscrepancyCase) error
	UpdateCase(ctx context.Context, c DiscrepancyCase) error
	// ListCasesByScript returns the script's cases, oldest first.
	ListCasesByScript(ctx context.Context, scriptID string) ([]DiscrepancyCase, error)
	// ListOpenCases returns open cases oldest first, across all exams when
	// examID is empty.
	ListOpenCases(ctx context.Context, examID string) ([]DiscrepancyCase, error)
}

// FinalResultRepository persists final results.
type FinalResultRepository interface {
	GetFinalResult(ctx context.Context, scriptID string) (FinalResult, error)
	// InsertFinalResult returns ErrDuplicate when the script already has one.
	InsertFinalResult(ctx context.Context, result FinalResult) error
}

// ExamPolicyRepository persists exam grading policies.
type ExamPolicyRepository interface {
	GetExamPolicy(ctx context.Context, examID string) (ExamPolicy, error)
	// InsertExamPolicy returns ErrDuplicate when the exam already has one.
	InsertExamPolicy(ctx context.Context, policy ExamPolicy) error
}

// OutboxRepository appends integration events inside a unit of work.
type OutboxRepository interface {
	AppendEvent(ctx context.Context, event OutboxEvent) error
}

// OutboxStore is the dispatcher's view of pending integration events.
type OutboxStore interface {
	// ListPendingEvents returns undelivered events due at or before now,
	// oldest first.
	ListPendingEvents(ctx context.Context, limit int, now time.Time) ([]OutboxEvent, error)
	MarkEventDelivered(ctx context.Context, eventID string, deliveredAt time.Time) error
	MarkEventRetry(ctx context.Context, eventID string, attempts int, nextAttemptAt time.Time, lastError string) error
}

// Tx is the set of repositories available inside one unit of work.
type Tx interface {
	Scripts() ScriptRepository
	Grades() GradeEntryRepository
	Cases() DiscrepancyCaseRepository
	Results() FinalResultRepository
	Outbox() OutboxRepository
}

// Store is the persistence boundary of the grading core. Its embedded Tx
// serves unlocked reads.
type Store interface {
	Tx
	Policies() ExamPolicyRepository
	// WithinScript runs fn with exclusive access to the records of one
	// script and commits its writes atomically when fn returns nil. Writes
	// are discarded when fn fails. Different scripts never share a lock.
	WithinScript(ctx context.Context, scriptID string, fn func(ctx context.Context, tx Tx) error) error
}
