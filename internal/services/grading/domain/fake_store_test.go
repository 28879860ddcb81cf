package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// fakeStore serializes every unit of work behind one lock and commits a
// copy of the whole dataset.
type fakeStore struct {
	txMu   sync.Mutex
	dataMu sync.Mutex
	data   *fakeData

	// conflicts is the number of upcoming units of work that fail with
	// ErrConcurrentUpdate after running fn.
	conflicts atomic.Int32
	units     atomic.Int32
}

type fakeData struct {
	scripts  map[string]AnswerScript
	entries  []GradeEntry
	cases    []DiscrepancyCase
	results  map[string]FinalResult
	policies map[string]ExamPolicy
	outbox   []OutboxEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: &fakeData{
		scripts:  map[string]AnswerScript{},
		results:  map[string]FinalResult{},
		policies: map[string]ExamPolicy{},
	}}
}

func (d *fakeData) clone() *fakeData {
	copied := &fakeData{
		scripts:  make(map[string]AnswerScript, len(d.scripts)),
		entries:  append([]GradeEntry(nil), d.entries...),
		cases:    append([]DiscrepancyCase(nil), d.cases...),
		results:  make(map[string]FinalResult, len(d.results)),
		policies: make(map[string]ExamPolicy, len(d.policies)),
		outbox:   append([]OutboxEvent(nil), d.outbox...),
	}
	for key, value := range d.scripts {
		copied.scripts[key] = value.Clone()
	}
	for key, value := range d.results {
		copied.results[key] = value.Clone()
	}
	for key, value := range d.policies {
		copied.policies[key] = value
	}
	return copied
}

func (s *fakeStore) WithinScript(ctx context.Context, scriptID string, fn func(ctx context.Context, tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.units.Add(1)

	s.dataMu.Lock()
	working := s.data.clone()
	s.dataMu.Unlock()

	if err := fn(ctx, &fakeTx{d: working}); err != nil {
		return err
	}
	if s.conflicts.Load() > 0 {
		s.conflicts.Add(-1)
		return fmt.Errorf("commit script %s: %w", scriptID, ErrConcurrentUpdate)
	}

	s.dataMu.Lock()
	s.data = working
	s.dataMu.Unlock()
	return nil
}

func (s *fakeStore) reader() *fakeTx {
	return &fakeTx{mu: &s.dataMu, store: s}
}

func (s *fakeStore) Scripts() ScriptRepository        { return s.reader() }
func (s *fakeStore) Grades() GradeEntryRepository     { return s.reader() }
func (s *fakeStore) Cases() DiscrepancyCaseRepository { return s.reader() }
func (s *fakeStore) Results() FinalResultRepository   { return s.reader() }
func (s *fakeStore) Outbox() OutboxRepository         { return s.reader() }
func (s *fakeStore) Policies() ExamPolicyRepository   { return s.reader() }

func (s *fakeStore) snapshot() *fakeData {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.data.clone()
}

// fakeTx implements every repository. Inside a unit of work it works on a
// private copy; outside it reads the committed dataset under dataMu.
type fakeTx struct {
	d     *fakeData
	mu    *sync.Mutex
	store *fakeStore
}

func (t *fakeTx) Scripts() ScriptRepository        { return t }
func (t *fakeTx) Grades() GradeEntryRepository     { return t }
func (t *fakeTx) Cases() DiscrepancyCaseRepository { return t }
func (t *fakeTx) Results() FinalResultRepository   { return t }
func (t *fakeTx) Outbox() OutboxRepository         { return t }

func (t *fakeTx) data() (*fakeData, func()) {
	if t.mu == nil {
		return t.d, func() {}
	}
	t.mu.Lock()
	return t.store.data, t.mu.Unlock
}

func (t *fakeTx) GetScript(_ context.Context, scriptID string) (AnswerScript, error) {
	d, unlock := t.data()
	defer unlock()
	script, ok := d.scripts[scriptID]
	if !ok {
		return AnswerScript{}, ErrNotFound
	}
	return script.Clone(), nil
}

func (t *fakeTx) GetScriptByExamStudent(_ context.Context, examID string, studentID string) (AnswerScript, error) {
	d, unlock := t.data()
	defer unlock()
	for _, script := range d.scripts {
		if script.ExamID == examID && script.StudentID == studentID {
			return script.Clone(), nil
		}
	}
	return AnswerScript{}, ErrNotFound
}

func (t *fakeTx) InsertScript(_ context.Context, script AnswerScript) error {
	d, unlock := t.data()
	defer unlock()
	for _, existing := range d.scripts {
		if existing.ID == script.ID || (existing.ExamID == script.ExamID && existing.StudentID == script.StudentID) {
			return ErrDuplicate
		}
	}
	d.scripts[script.ID] = script.Clone()
	return nil
}

func (t *fakeTx) UpdateScript(_ context.Context, script AnswerScript) error {
	d, unlock := t.data()
	defer unlock()
	existing, ok := d.scripts[script.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != script.Version {
		return ErrConcurrentUpdate
	}
	stored := script.Clone()
	stored.Version++
	d.scripts[script.ID] = stored
	return nil
}

func (t *fakeTx) ListScriptsByExam(_ context.Context, examID string) ([]AnswerScript, error) {
	d, unlock := t.data()
	defer unlock()
	var scripts []AnswerScript
	for _, script := range d.scripts {
		if script.ExamID == examID {
			scripts = append(scripts, script.Clone())
		}
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

func (t *fakeTx) InsertGradeEntry(_ context.Context, entry GradeEntry) error {
	d, unlock := t.data()
	defer unlock()
	d.entries = append(d.entries, entry)
	return nil
}

func (t *fakeTx) SupersedeGradeEntry(_ context.Context, entryID string, at time.Time) error {
	d, unlock := t.data()
	defer unlock()
	for i := range d.entries {
		if d.entries[i].ID == entryID {
			value := at
			d.entries[i].SupersededAt = &value
			return nil
		}
	}
	return ErrNotFound
}

func (t *fakeTx) ListGradeEntries(_ context.Context, scriptID string) ([]GradeEntry, error) {
	d, unlock := t.data()
	defer unlock()
	var entries []GradeEntry
	for _, entry := range d.entries {
		if entry.ScriptID == scriptID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (t *fakeTx) GetCase(_ context.Context, caseID string) (DiscrepancyCase, error) {
	d, unlock := t.data()
	defer unlock()
	for _, c := range d.cases {
		if c.ID == caseID {
			return c, nil
		}
	}
	return DiscrepancyCase{}, ErrNotFound
}

func (t *fakeTx) InsertCase(_ context.Context, c DiscrepancyCase) error {
	d, unlock := t.data()
	defer unlock()
	d.cases = append(d.cases, c)
	return nil
}

func (t *fakeTx) UpdateCase(_ context.Context, c DiscrepancyCase) error {
	d, unlock := t.data()
	defer unlock()
	for i := range d.cases {
		if d.cases[i].ID == c.ID {
			d.cases[i] = c
			return nil
		}
	}
	return ErrNotFound
}

func (t *fakeTx) ListCasesByScript(_ context.Context, scriptID string) ([]DiscrepancyCase, error) {
	d, unlock := t.data()
	defer unlock()
	var cases []DiscrepancyCase
	for _, c := range d.cases {
		if c.ScriptID == scriptID {
			cases = append(cases, c)
		}
	}
	return cases, nil
}

func (t *fakeTx) ListOpenCases(_ context.Context, examID string) ([]DiscrepancyCase, error) {
	d, unlock := t.data()
	defer unlock()
	var cases []DiscrepancyCase
	for _, c := range d.cases {
		if c.Open() && (examID == "" || c.ExamID == examID) {
			cases = append(cases, c)
		}
	}
	return cases, nil
}

func (t *fakeTx) GetFinalResult(_ context.Context, scriptID string) (FinalResult, error) {
	d, unlock := t.data()
	defer unlock()
	result, ok := d.results[scriptID]
	if !ok {
		return FinalResult{}, ErrNotFound
	}
	return result.Clone(), nil
}

func (t *fakeTx) InsertFinalResult(_ context.Context, result FinalResult) error {
	d, unlock := t.data()
	defer unlock()
	if _, ok := d.results[result.ScriptID]; ok {
		return ErrDuplicate
	}
	d.results[result.ScriptID] = result.Clone()
	return nil
}

func (t *fakeTx) AppendEvent(_ context.Context, event OutboxEvent) error {
	d, unlock := t.data()
	defer unlock()
	d.outbox = append(d.outbox, event)
	return nil
}

func (t *fakeTx) GetExamPolicy(_ context.Context, examID string) (ExamPolicy, error) {
	d, unlock := t.data()
	defer unlock()
	policy, ok := d.policies[examID]
	if !ok {
		return ExamPolicy{}, ErrNotFound
	}
	return policy, nil
}

func (t *fakeTx) InsertExamPolicy(_ context.Context, policy ExamPolicy) error {
	d, unlock := t.data()
	defer unlock()
	if _, ok := d.policies[policy.ExamID]; ok {
		return ErrDuplicate
	}
	d.policies[policy.ExamID] = policy
	return nil
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func sequentialIDs(prefix string) func() (string, error) {
	var next atomic.Int64
	return func() (string, error) {
		return fmt.Sprintf("%s-%d", prefix, next.Add(1)), nil
	}
}

func noDelay() backoff.BackOff {
	return &backoff.ZeroBackOff{}
}
