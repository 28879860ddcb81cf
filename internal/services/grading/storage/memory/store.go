// Package memory implements the grading store in process memory.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/storage/scriptlock"
)

// bundle is every record owned by one script.
type bundle struct {
	script  *domain.AnswerScript
	entries []domain.GradeEntry
	cases   []domain.DiscrepancyCase
	result  *domain.FinalResult
}

func (b *bundle) clone() *bundle {
	copied := &bundle{
		entries: slices.Clone(b.entries),
		cases:   slices.Clone(b.cases),
	}
	if b.script != nil {
		script := b.script.Clone()
		copied.script = &script
	}
	if b.result != nil {
		result := b.result.Clone()
		copied.result = &result
	}
	return copied
}

// Store keeps grading state in memory. Units of work run under a per-script
// lock against a private copy of the script's bundle, which replaces the
// committed bundle when the unit of work succeeds.
type Store struct {
	locks *scriptlock.Locker

	mu            sync.RWMutex
	bundles       map[string]*bundle
	scriptOrder   []string
	byExamStudent map[string]string
	caseScripts   map[string]string
	policies      map[string]domain.ExamPolicy
	outbox        []domain.OutboxEvent
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		locks:         scriptlock.New(),
		bundles:       make(map[string]*bundle),
		byExamStudent: make(map[string]string),
		caseScripts:   make(map[string]string),
		policies:      make(map[string]domain.ExamPolicy),
	}
}

// Close is a no-op kept for parity with the durable engines.
func (s *Store) Close() error {
	return nil
}

func examStudentKey(examID, studentID string) string {
	return examID + "\x00" + studentID
}

// WithinScript runs fn with exclusive access to one script's records.
func (s *Store) WithinScript(ctx context.Context, scriptID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := s.locks.Lock(ctx, scriptID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	working := &bundle{}
	if committed, ok := s.bundles[scriptID]; ok {
		working = committed.clone()
	}
	s.mu.RUnlock()

	tx := &scriptTx{store: s, scriptID: scriptID, working: working}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *scriptTx) error {
	if tx.working.script == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.inserted && tx.working.script != nil {
		key := examStudentKey(tx.working.script.ExamID, tx.working.script.StudentID)
		if _, taken := s.byExamStudent[key]; taken {
			return domain.ErrDuplicate
		}
		s.byExamStudent[key] = tx.scriptID
		s.scriptOrder = append(s.scriptOrder, tx.scriptID)
	}
	for _, c := range tx.working.cases {
		s.caseScripts[c.ID] = tx.scriptID
	}
	s.bundles[tx.scriptID] = tx.working
	s.outbox = append(s.outbox, tx.events...)
	return nil
}

// scriptTx is the repository view of one unit of work.
type scriptTx struct {
	store    *Store
	scriptID string
	working  *bundle
	inserted bool
	events   []domain.OutboxEvent
}

func (t *scriptTx) Scripts() domain.ScriptRepository        { return t }
func (t *scriptTx) Grades() domain.GradeEntryRepository     { return t }
func (t *scriptTx) Cases() domain.DiscrepancyCaseRepository { return t }
func (t *scriptTx) Results() domain.FinalResultRepository   { return t }
func (t *scriptTx) Outbox() domain.OutboxRepository         { return t }

func (t *scriptTx) owns(scriptID string) error {
	if scriptID != t.scriptID {
		return fmt.Errorf("script %s is outside the unit of work for %s", scriptID, t.scriptID)
	}
	return nil
}

func (t *scriptTx) GetScript(_ context.Context, scriptID string) (domain.AnswerScript, error) {
	if err := t.owns(scriptID); err != nil {
		return domain.AnswerScript{}, err
	}
	if t.working.script == nil {
		return domain.AnswerScript{}, domain.ErrNotFound
	}
	return t.working.script.Clone(), nil
}

func (t *scriptTx) GetScriptByExamStudent(ctx context.Context, examID string, studentID string) (domain.AnswerScript, error) {
	if script := t.working.script; script != nil && script.ExamID == examID && script.StudentID == studentID {
		return script.Clone(), nil
	}
	return t.store.GetScriptByExamStudent(ctx, examID, studentID)
}

func (t *scriptTx) InsertScript(ctx context.Context, script domain.AnswerScript) error {
	if err := t.owns(script.ID); err != nil {
		return err
	}
	if t.working.script != nil {
		return domain.ErrDuplicate
	}
	if _, err := t.store.GetScriptByExamStudent(ctx, script.ExamID, script.StudentID); err == nil {
		return domain.ErrDuplicate
	}
	stored := script.Clone()
	t.working.script = &stored
	t.inserted = true
	return nil
}

func (t *scriptTx) UpdateScript(_ context.Context, script domain.AnswerScript) error {
	if err := t.owns(script.ID); err != nil {
		return err
	}
	if t.working.script == nil {
		return domain.ErrNotFound
	}
	if t.working.script.Version != script.Version {
		return domain.ErrConcurrentUpdate
	}
	stored := script.Clone()
	stored.Version++
	t.working.script = &stored
	return nil
}

func (t *scriptTx) ListScriptsByExam(ctx context.Context, examID string) ([]domain.AnswerScript, error) {
	return t.store.ListScriptsByExam(ctx, examID)
}

func (t *scriptTx) InsertGradeEntry(_ context.Context, entry domain.GradeEntry) error {
	if err := t.owns(entry.ScriptID); err != nil {
		return err
	}
	for _, existing := range t.working.entries {
		if existing.ID == entry.ID {
			return domain.ErrDuplicate
		}
	}
	t.working.entries = append(t.working.entries, entry)
	return nil
}

func (t *scriptTx) SupersedeGradeEntry(_ context.Context, entryID string, at time.Time) error {
	for i := range t.working.entries {
		if t.working.entries[i].ID == entryID {
			value := at.UTC()
			t.working.entries[i].SupersededAt = &value
			return nil
		}
	}
	return domain.ErrNotFound
}

func (t *scriptTx) ListGradeEntries(_ context.Context, scriptID string) ([]domain.GradeEntry, error) {
	if err := t.owns(scriptID); err != nil {
		return nil, err
	}
	return slices.Clone(t.working.entries), nil
}

func (t *scriptTx) GetCase(_ context.Context, caseID string) (domain.DiscrepancyCase, error) {
	for _, c := range t.working.cases {
		if c.ID == caseID {
			return c, nil
		}
	}
	return domain.DiscrepancyCase{}, domain.ErrNotFound
}

func (t *scriptTx) InsertCase(_ context.Context, c domain.DiscrepancyCase) error {
	if err := t.owns(c.ScriptID); err != nil {
		return err
	}
	for _, existing := range t.working.cases {
		if existing.ID == c.ID {
			return domain.ErrDuplicate
		}
	}
	t.working.cases = append(t.working.cases, c)
	return nil
}

func (t *scriptTx) UpdateCase(_ context.Context, c domain.DiscrepancyCase) error {
	for i := range t.working.cases {
		if t.working.cases[i].ID == c.ID {
			t.working.cases[i] = c
			return nil
		}
	}
	return domain.ErrNotFound
}

func (t *scriptTx) ListCasesByScript(_ context.Context, scriptID string) ([]domain.DiscrepancyCase, error) {
	if err := t.owns(scriptID); err != nil {
		return nil, err
	}
	return slices.Clone(t.working.cases), nil
}

func (t *scriptTx) ListOpenCases(ctx context.Context, examID string) ([]domain.DiscrepancyCase, error) {
	return t.store.ListOpenCases(ctx, examID)
}

func (t *scriptTx) GetFinalResult(_ context.Context, scriptID string) (domain.FinalResult, error) {
	if err := t.owns(scriptID); err != nil {
		return domain.FinalResult{}, err
	}
	if t.working.result == nil {
		return domain.FinalResult{}, domain.ErrNotFound
	}
	return t.working.result.Clone(), nil
}

func (t *scriptTx) InsertFinalResult(_ context.Context, result domain.FinalResult) error {
	if err := t.owns(result.ScriptID); err != nil {
		return err
	}
	if t.working.result != nil {
		return domain.ErrDuplicate
	}
	stored := result.Clone()
	t.working.result = &stored
	return nil
}

func (t *scriptTx) AppendEvent(_ context.Context, event domain.OutboxEvent) error {
	if err := t.owns(event.ScriptID); err != nil {
		return err
	}
	event.Payload = slices.Clone(event.Payload)
	t.events = append(t.events, event)
	return nil
}

// Committed-state reads.

func (s *Store) Scripts() domain.ScriptRepository        { return reader{s} }
func (s *Store) Grades() domain.GradeEntryRepository     { return reader{s} }
func (s *Store) Cases() domain.DiscrepancyCaseRepository { return reader{s} }
func (s *Store) Results() domain.FinalResultRepository   { return reader{s} }
func (s *Store) Outbox() domain.OutboxRepository         { return reader{s} }
func (s *Store) Policies() domain.ExamPolicyRepository   { return s }

// reader exposes committed state through the repository interfaces. Writes
// outside a unit of work are rejected.
type reader struct {
	s *Store
}

var errReadOnly = errors.New("memory store: writes require a unit of work")

func (r reader) GetScript(_ context.Context, scriptID string) (domain.AnswerScript, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.bundles[scriptID]
	if !ok || b.script == nil {
		return domain.AnswerScript{}, domain.ErrNotFound
	}
	return b.script.Clone(), nil
}

func (r reader) GetScriptByExamStudent(ctx context.Context, examID string, studentID string) (domain.AnswerScript, error) {
	return r.s.GetScriptByExamStudent(ctx, examID, studentID)
}

func (r reader) InsertScript(context.Context, domain.AnswerScript) error { return errReadOnly }
func (r reader) UpdateScript(context.Context, domain.AnswerScript) error { return errReadOnly }

func (r reader) ListScriptsByExam(ctx context.Context, examID string) ([]domain.AnswerScript, error) {
	return r.s.ListScriptsByExam(ctx, examID)
}

func (r reader) InsertGradeEntry(context.Context, domain.GradeEntry) error { return errReadOnly }
func (r reader) SupersedeGradeEntry(context.Context, string, time.Time) error {
	return errReadOnly
}

func (r reader) ListGradeEntries(_ context.Context, scriptID string) ([]domain.GradeEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.bundles[scriptID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(b.entries), nil
}

func (r reader) GetCase(_ context.Context, caseID string) (domain.DiscrepancyCase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	scriptID, ok := r.s.caseScripts[caseID]
	if !ok {
		return domain.DiscrepancyCase{}, domain.ErrNotFound
	}
	for _, c := range r.s.bundles[scriptID].cases {
		if c.ID == caseID {
			return c, nil
		}
	}
	return domain.DiscrepancyCase{}, domain.ErrNotFound
}

func (r reader) InsertCase(context.Context, domain.DiscrepancyCase) error { return errReadOnly }
func (r reader) UpdateCase(context.Context, domain.DiscrepancyCase) error { return errReadOnly }

func (r reader) ListCasesByScript(_ context.Context, scriptID string) ([]domain.DiscrepancyCase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.bundles[scriptID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(b.cases), nil
}

func (r reader) ListOpenCases(ctx context.Context, examID string) ([]domain.DiscrepancyCase, error) {
	return r.s.ListOpenCases(ctx, examID)
}

func (r reader) GetFinalResult(_ context.Context, scriptID string) (domain.FinalResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.bundles[scriptID]
	if !ok || b.result == nil {
		return domain.FinalResult{}, domain.ErrNotFound
	}
	return b.result.Clone(), nil
}

func (r reader) InsertFinalResult(context.Context, domain.FinalResult) error { return errReadOnly }
func (r reader) AppendEvent(context.Context, domain.OutboxEvent) error       { return errReadOnly }

// GetScriptByExamStudent looks a script up by its natural key.
func (s *Store) GetScriptByExamStudent(_ context.Context, examID string, studentID string) (domain.AnswerScript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scriptID, ok := s.byExamStudent[examStudentKey(examID, studentID)]
	if !ok {
		return domain.AnswerScript{}, domain.ErrNotFound
	}
	return s.bundles[scriptID].script.Clone(), nil
}

// ListScriptsByExam lists an exam's scripts in creation order.
func (s *Store) ListScriptsByExam(_ context.Context, examID string) ([]domain.AnswerScript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var scripts []domain.AnswerScript
	for _, scriptID := range s.scriptOrder {
		if script := s.bundles[scriptID].script; script.ExamID == examID {
			scripts = append(scripts, script.Clone())
		}
	}
	return scripts, nil
}

// ListOpenCases lists open cases, oldest first.
func (s *Store) ListOpenCases(_ context.Context, examID string) ([]domain.DiscrepancyCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []domain.DiscrepancyCase
	for _, scriptID := range s.scriptOrder {
		for _, c := range s.bundles[scriptID].cases {
			if c.Open() && (examID == "" || c.ExamID == examID) {
				open = append(open, c)
			}
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].OpenedAt.Before(open[j].OpenedAt) })
	return open, nil
}

// GetExamPolicy returns the policy registered for an exam.
func (s *Store) GetExamPolicy(_ context.Context, examID string) (domain.ExamPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[examID]
	if !ok {
		return domain.ExamPolicy{}, domain.ErrNotFound
	}
	return policy, nil
}

// InsertExamPolicy registers a policy once per exam.
func (s *Store) InsertExamPolicy(_ context.Context, policy domain.ExamPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[policy.ExamID]; ok {
		return domain.ErrDuplicate
	}
	s.policies[policy.ExamID] = policy
	return nil
}

// ListPendingEvents returns undelivered events due at or before now.
func (s *Store) ListPendingEvents(_ context.Context, limit int, now time.Time) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []domain.OutboxEvent
	for _, event := range s.outbox {
		if event.DeliveredAt != nil || event.NextAttemptAt.After(now) {
			continue
		}
		event.Payload = slices.Clone(event.Payload)
		pending = append(pending, event)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

// MarkEventDelivered records a successful publication.
func (s *Store) MarkEventDelivered(_ context.Context, eventID string, deliveredAt time.Time) error {
	return s.updateEvent(eventID, func(event *domain.OutboxEvent) {
		at := deliveredAt.UTC()
		event.DeliveredAt = &at
		event.LastError = ""
	})
}

// MarkEventRetry schedules another publication attempt.
func (s *Store) MarkEventRetry(_ context.Context, eventID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	return s.updateEvent(eventID, func(event *domain.OutboxEvent) {
		event.Attempts = attempts
		event.NextAttemptAt = nextAttemptAt.UTC()
		event.LastError = lastError
	})
}

func (s *Store) updateEvent(eventID string, update func(*domain.OutboxEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == eventID {
			update(&s.outbox[i])
			return nil
		}
	}
	return domain.ErrNotFound
}

var (
	_ domain.Store       = (*Store)(nil)
	_ domain.OutboxStore = (*Store)(nil)
)
