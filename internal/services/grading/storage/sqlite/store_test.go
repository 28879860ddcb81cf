package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "grading.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func testScript(id, studentID string) domain.AnswerScript {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return domain.AnswerScript{
		ID:            id,
		ExamID:        "exam-1",
		StudentID:     studentID,
		Status:        domain.ScriptStatusCreated,
		RequiredSlots: 2,
		Examiners:     []string{"examiner-a", "", ""},
		Policy:        domain.DefaultExamPolicy(),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func insertScript(t *testing.T, store *Store, script domain.AnswerScript) {
	t.Helper()
	err := store.WithinScript(context.Background(), script.ID, func(ctx context.Context, tx domain.Tx) error {
		return tx.Scripts().InsertScript(ctx, script)
	})
	if err != nil {
		t.Fatalf("insert script: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "grading.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	insertScript(t, store, testScript("script-1", "student-1"))
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	script, err := reopened.Scripts().GetScript(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("get script: %v", err)
	}
	if script.ExaminerAt(1) != "examiner-a" || script.Policy.ExamID != "exam-1" {
		t.Fatalf("unexpected script after reopen: %+v", script)
	}
}

func TestScriptRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	script := testScript("script-1", "student-1")
	script.Remarks = "smudged page 3"
	insertScript(t, store, script)

	got, err := store.Scripts().GetScriptByExamStudent(context.Background(), "exam-1", "student-1")
	if err != nil {
		t.Fatalf("get by exam student: %v", err)
	}
	if got.ID != "script-1" || got.Remarks != "smudged page 3" || got.Version != 1 {
		t.Fatalf("unexpected script: %+v", got)
	}
	if !got.CreatedAt.Equal(script.CreatedAt) || got.FinalizedAt != nil {
		t.Fatalf("unexpected timestamps: %+v", got)
	}
	if got.Policy.TieBreak != domain.TieBreakClosestPair || got.Policy.Threshold != 10 {
		t.Fatalf("unexpected policy snapshot: %+v", got.Policy)
	}
	if _, err := store.Scripts().GetScript(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInsertScriptRejectsDuplicateStudent(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	insertScript(t, store, testScript("script-1", "student-1"))

	err := store.WithinScript(context.Background(), "script-2", func(ctx context.Context, tx domain.Tx) error {
		return tx.Scripts().InsertScript(ctx, testScript("script-2", "student-1"))
	})
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestUpdateScriptChecksVersion(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	script := testScript("script-1", "student-1")
	insertScript(t, store, script)

	err := store.WithinScript(context.Background(), script.ID, func(ctx context.Context, tx domain.Tx) error {
		stale := script
		stale.Version = 4
		return tx.Scripts().UpdateScript(ctx, stale)
	})
	if !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("err = %v, want ErrConcurrentUpdate", err)
	}

	err = store.WithinScript(context.Background(), "script-9", func(ctx context.Context, tx domain.Tx) error {
		return tx.Scripts().UpdateScript(ctx, testScript("script-9", "student-9"))
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	script.Status = domain.ScriptStatusAssigned
	err = store.WithinScript(context.Background(), script.ID, func(ctx context.Context, tx domain.Tx) error {
		return tx.Scripts().UpdateScript(ctx, script)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	stored, err := store.Scripts().GetScript(context.Background(), script.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Version != 2 || stored.Status != domain.ScriptStatusAssigned {
		t.Fatalf("stored = %+v, want version 2 assigned", stored)
	}
}

func TestFailedUnitOfWorkRollsBack(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	insertScript(t, store, testScript("script-1", "student-1"))

	boom := errors.New("boom")
	err := store.WithinScript(context.Background(), "script-1", func(ctx context.Context, tx domain.Tx) error {
		entry := domain.GradeEntry{ID: "entry-1", ScriptID: "script-1", Slot: 1, ExaminerID: "examiner-a", Mark: 50, SubmittedAt: time.Now()}
		if err := tx.Grades().InsertGradeEntry(ctx, entry); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	entries, err := store.Grades().ListGradeEntries(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestOneActiveEntryPerSlot(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	insertScript(t, store, testScript("script-1", "student-1"))
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	err := store.WithinScript(context.Background(), "script-1", func(ctx context.Context, tx domain.Tx) error {
		for _, id := range []string{"entry-1", "entry-2"} {
			entry := domain.GradeEntry{ID: id, ScriptID: "script-1", Slot: 1, ExaminerID: "examiner-a", Mark: 40, SubmittedAt: at}
			if err := tx.Grades().InsertGradeEntry(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("err = %v, want ErrConcurrentUpdate", err)
	}

	err = store.WithinScript(context.Background(), "script-1", func(ctx context.Context, tx domain.Tx) error {
		first := domain.GradeEntry{ID: "entry-1", ScriptID: "script-1", Slot: 1, ExaminerID: "examiner-a", Mark: 40, SubmittedAt: at}
		if err := tx.Grades().InsertGradeEntry(ctx, first); err != nil {
			return err
		}
		if err := tx.Grades().SupersedeGradeEntry(ctx, "entry-1", at); err != nil {
			return err
		}
		second := domain.GradeEntry{ID: "entry-2", ScriptID: "script-1", Slot: 1, ExaminerID: "examiner-a", Mark: 45, Revised: true, SubmittedAt: at}
		return tx.Grades().InsertGradeEntry(ctx, second)
	})
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	entries, err := store.Grades().ListGradeEntries(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "entry-1" || entries[1].ID != "entry-2" {
		t.Fatalf("entries = %+v, want insertion order", entries)
	}
	if entries[0].Active() || !entries[1].Active() || !entries[1].Revised {
		t.Fatalf("unexpected active flags: %+v", entries)
	}
}

func TestCaseLifecycle(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	insertScript(t, store, testScript("script-1", "student-1"))
	opened := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c := domain.DiscrepancyCase{
		ID:         "case-1",
		ScriptID:   "script-1",
		ExamID:     "exam-1",
		SlotA:      1,
		SlotB:      2,
		EntryA:     "entry-1",
		EntryB:     "entry-2",
		MarkA:      60,
		MarkB:      80,
		Difference: 20,
		Threshold:  10,
		Status:     domain.CaseStatusOpen,
		OpenedAt:   opened,
	}

	err := store.WithinScript(context.Background(), "script-1", func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Cases().InsertCase(ctx, c); err != nil {
			return err
		}
		second := c
		second.ID = "case-2"
		return tx.Cases().InsertCase(ctx, second)
	})
	if !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("second open case err = %v, want ErrConcurrentUpdate", err)
	}

	err = store.WithinScript(context.Background(), "script-1", func(ctx context.Context, tx domain.Tx) error {
		return tx.Cases().InsertCase(ctx, c)
	})
	if err != nil {
		t.Fatalf("insert case: %v", err)
	}
	open, err := store.Cases().ListOpenCases(context.Background(), "")
	if err != nil || len(open) != 1 {
		t.Fatalf("open cases = %d, %v; want 1", len(open), err)
	}

	mark := 70.0
	closed := opened.Add(time.Hour)
	c.Status = domain.CaseStatusResolvedByOverride
	c.OverrideMark = &mark
	c.ResolvedBy = "controller-1"
	c.ClosedAt = &closed
	err = store.WithinScript(context.Background(), "script-1", func(ctx context.Context, tx domain.Tx) error {
		return tx.Cases().UpdateCase(ctx, c)
	})
	if err != nil {
		t.Fatalf("update case: %v", err)
	}

	got, err := store.Cases().GetCase(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if got.Open() || got.OverrideMark == nil || *got.OverrideMark != 70 || got.ResolvedBy != "controller-1" {
		t.Fatalf("unexpected case: %+v", got)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(closed) || got.TieBreakMark != nil {
		t.Fatalf("unexpected case timestamps: %+v", got)
	}
	open, err = store.Cases().ListOpenCases(context.Background(), "exam-1")
	if err != nil || len(open) != 0 {
		t.Fatalf("open cases = %d, %v; want 0", len(open), err)
	}
}

func TestFinalResultAndPolicyDuplicates(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	insertScript(t, store, testScript("script-1", "student-1"))
	at := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	result := domain.FinalResult{
		ScriptID:    "script-1",
		ExamID:      "exam-1",
		StudentID:   "student-1",
		FinalMark:   72.5,
		Method:      domain.MethodAverage,
		ExaminerIDs: []string{"examiner-a", "examiner-b"},
		FinalizedAt: at,
	}

	write := func() error {
		return store.WithinScript(context.Background(), "script-1", func(ctx context.Context, tx domain.Tx) error {
			return tx.Results().InsertFinalResult(ctx, result)
		})
	}
	if err := write(); err != nil {
		t.Fatalf("insert result: %v", err)
	}
	if err := write(); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	got, err := store.Results().GetFinalResult(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if got.FinalMark != 72.5 || len(got.ExaminerIDs) != 2 || !got.FinalizedAt.Equal(at) {
		t.Fatalf("unexpected result: %+v", got)
	}

	policy := domain.ExamPolicy{ExamID: "exam-2", Threshold: 5, MinMark: 0, MaxMark: 50, TieBreak: domain.TieBreakAllThree, CreatedAt: at}
	if err := store.Policies().InsertExamPolicy(context.Background(), policy); err != nil {
		t.Fatalf("insert policy: %v", err)
	}
	if err := store.Policies().InsertExamPolicy(context.Background(), policy); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	stored, err := store.Policies().GetExamPolicy(context.Background(), "exam-2")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if !stored.SameRules(policy) {
		t.Fatalf("stored policy = %+v, want %+v", stored, policy)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	insertScript(t, store, testScript("script-1", "student-1"))
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	err := store.WithinScript(context.Background(), "script-1", func(ctx context.Context, tx domain.Tx) error {
		return tx.Outbox().AppendEvent(ctx, domain.OutboxEvent{
			ID:            "event-1",
			ScriptID:      "script-1",
			Type:          domain.EventTypeScriptFinalized,
			Payload:       []byte(`{"scriptId":"script-1"}`),
			NextAttemptAt: now,
			CreatedAt:     now,
		})
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}

	pending, err := store.ListPendingEvents(context.Background(), 10, now)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %d, %v; want 1", len(pending), err)
	}
	if string(pending[0].Payload) != `{"scriptId":"script-1"}` {
		t.Fatalf("payload = %s", pending[0].Payload)
	}
	if err := store.MarkEventRetry(context.Background(), "event-1", 1, now.Add(time.Minute), "nats down"); err != nil {
		t.Fatalf("mark retry: %v", err)
	}
	if pending, _ := store.ListPendingEvents(context.Background(), 10, now); len(pending) != 0 {
		t.Fatalf("pending before retry time = %d, want 0", len(pending))
	}
	pending, _ = store.ListPendingEvents(context.Background(), 10, now.Add(time.Minute))
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError != "nats down" {
		t.Fatalf("unexpected pending after retry: %+v", pending)
	}
	if err := store.MarkEventDelivered(context.Background(), "event-1", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if pending, _ := store.ListPendingEvents(context.Background(), 10, now.Add(time.Hour)); len(pending) != 0 {
		t.Fatalf("pending after delivery = %d, want 0", len(pending))
	}
	if err := store.MarkEventRetry(context.Background(), "event-x", 1, now, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := store.ListPendingEvents(context.Background(), 0, now); err == nil {
		t.Fatal("expected error for zero limit")
	}
}

func TestGradingFlowEndToEnd(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	opts := []domain.Option{
		domain.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}
	registry := domain.NewRegistry(store, opts...)
	ledger := domain.NewLedger(store, opts...)
	resolver := domain.NewResolver(store, opts...)
	finalizer := domain.NewFinalizer(store, opts...)
	ctx := context.Background()

	if _, err := registry.RegisterExamPolicy(ctx, domain.ExamPolicy{ExamID: "exam-7", Threshold: 10, MinMark: 0, MaxMark: 100, TieBreak: domain.TieBreakAllThree}); err != nil {
		t.Fatalf("register policy: %v", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < 4; i++ {
		group.Go(func() error {
			script, err := registry.CreateScript(groupCtx, "exam-7", fmt.Sprintf("student-%d", i), 2)
			if err != nil {
				return err
			}
			for slot, examiner := range []string{"examiner-a", "examiner-b", "examiner-c"} {
				if _, err := registry.AssignExaminer(groupCtx, script.ID, slot+1, examiner); err != nil {
					return err
				}
			}
			if _, err := ledger.SubmitMark(groupCtx, script.ID, 1, "examiner-a", 60); err != nil {
				return err
			}
			if _, err := ledger.SubmitMark(groupCtx, script.ID, 2, "examiner-b", 90); err != nil {
				return err
			}
			cases, err := resolver.ListCasesForScript(groupCtx, script.ID)
			if err != nil {
				return err
			}
			if len(cases) != 1 {
				return fmt.Errorf("cases = %d, want 1", len(cases))
			}
			if _, err := resolver.ResolveByTieBreak(groupCtx, cases[0].ID); err != nil {
				return err
			}
			if _, err := ledger.SubmitMark(groupCtx, script.ID, 3, "examiner-c", 75); err != nil {
				return err
			}
			result, err := finalizer.TryFinalize(groupCtx, script.ID)
			if err != nil {
				return err
			}
			if result.FinalMark != 75 || result.Method != domain.MethodTieBreakAverage {
				return fmt.Errorf("result = %+v, want 75 by tie-break", result)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		t.Fatalf("grading flow: %v", err)
	}

	scripts, err := registry.ListScriptsByExam(ctx, "exam-7")
	if err != nil {
		t.Fatalf("list scripts: %v", err)
	}
	if len(scripts) != 4 {
		t.Fatalf("scripts = %d, want 4", len(scripts))
	}
	for _, script := range scripts {
		if script.Status != domain.ScriptStatusFinalized || script.FinalizedAt == nil {
			t.Fatalf("script %s status = %s, want finalized", script.ID, script.Status)
		}
		again, err := finalizer.TryFinalize(ctx, script.ID)
		if err != nil || again.FinalMark != 75 {
			t.Fatalf("repeat finalize = %+v, %v", again, err)
		}
	}
	pending, err := store.ListPendingEvents(ctx, 100, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 4 {
		t.Fatalf("pending events = %d, want 4", len(pending))
	}
}

func TestSQLiteErrorsAreClassifiedByCode(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "grading.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	holder, err := store.sqlDB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin holder: %v", err)
	}
	t.Cleanup(func() { _ = holder.Rollback() })
	if _, err := holder.Exec("CREATE TABLE held_write (id INTEGER)"); err != nil {
		t.Fatalf("hold write lock: %v", err)
	}

	other, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(0)")
	if err != nil {
		t.Fatalf("open second connection: %v", err)
	}
	t.Cleanup(func() { _ = other.Close() })
	_, busyErr := other.Exec("CREATE TABLE blocked_write (id INTEGER)")
	if busyErr == nil {
		t.Fatal("expected write to fail while another writer holds the lock")
	}
	if !isSQLiteBusyError(busyErr) {
		t.Fatalf("expected busy error, got %v", busyErr)
	}
	if !errors.Is(classify(fmt.Errorf("insert: %w", busyErr)), domain.ErrConcurrentUpdate) {
		t.Fatalf("busy error not classified as a conflict: %v", busyErr)
	}
	if err := holder.Rollback(); err != nil {
		t.Fatalf("release holder: %v", err)
	}

	if _, err := other.Exec("CREATE TABLE keyed (id TEXT PRIMARY KEY, name TEXT UNIQUE)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := other.Exec("INSERT INTO keyed (id, name) VALUES ('a', 'x')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, uniqueErr := other.Exec("INSERT INTO keyed (id, name) VALUES ('b', 'x')")
	if !isUniqueConstraintError(fmt.Errorf("insert: %w", uniqueErr)) {
		t.Fatalf("expected unique violation, got %v", uniqueErr)
	}
	_, keyErr := other.Exec("INSERT INTO keyed (id, name) VALUES ('a', 'y')")
	if !isUniqueConstraintError(keyErr) {
		t.Fatalf("expected primary key violation, got %v", keyErr)
	}

	_, syntaxErr := other.Exec("INSERT INTO missing_table VALUES (1)")
	if syntaxErr == nil || isUniqueConstraintError(syntaxErr) || isSQLiteBusyError(syntaxErr) {
		t.Fatalf("unexpected classification of %v", syntaxErr)
	}
	plain := errors.New("database is locked")
	if isSQLiteBusyError(plain) || classify(plain) != plain {
		t.Fatal("plain errors must not be classified by message")
	}
}

func TestRefinalizeWithWallClockReturnsStoredResult(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	registry := domain.NewRegistry(store)
	ledger := domain.NewLedger(store)
	finalizer := domain.NewFinalizer(store)
	ctx := context.Background()

	script, err := registry.CreateScript(ctx, "exam-1", "student-1", 2)
	if err != nil {
		t.Fatalf("create script: %v", err)
	}
	for slot, examiner := range []string{"examiner-a", "examiner-b"} {
		if _, err := registry.AssignExaminer(ctx, script.ID, slot+1, examiner); err != nil {
			t.Fatalf("assign slot %d: %v", slot+1, err)
		}
	}
	if _, err := ledger.SubmitMark(ctx, script.ID, 1, "examiner-a", 70); err != nil {
		t.Fatalf("submit slot 1: %v", err)
	}
	if _, err := ledger.SubmitMark(ctx, script.ID, 2, "examiner-b", 72); err != nil {
		t.Fatalf("submit slot 2: %v", err)
	}

	first, err := finalizer.TryFinalize(ctx, script.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	second, err := finalizer.TryFinalize(ctx, script.ID)
	if err != nil {
		t.Fatalf("refinalize: %v", err)
	}
	if !first.FinalizedAt.Equal(second.FinalizedAt) || first.FinalMark != second.FinalMark || first.Method != second.Method {
		t.Fatalf("refinalize returned %+v, first call returned %+v", second, first)
	}
	stored, err := finalizer.GetFinalResult(ctx, script.ID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if !stored.FinalizedAt.Equal(first.FinalizedAt) {
		t.Fatalf("stored finalized at = %s, returned %s", stored.FinalizedAt, first.FinalizedAt)
	}

	pending, err := store.ListPendingEvents(ctx, 10, time.Now().Add(time.Hour))
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v", pending, err)
	}
	var payload domain.ScriptFinalized
	if err := json.Unmarshal(pending[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !payload.FinalizedAt.Equal(stored.FinalizedAt) {
		t.Fatalf("event finalizedAt = %s, stored = %s", payload.FinalizedAt, stored.FinalizedAt)
	}
}

func TestConcurrentBreachingMarksOpenOneCase(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	opts := []domain.Option{
		domain.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		domain.WithMaxAttempts(50),
	}
	registry := domain.NewRegistry(store, opts...)
	ledger := domain.NewLedger(store, opts...)
	resolver := domain.NewResolver(store, opts...)
	ctx := context.Background()

	scripts := make([]domain.AnswerScript, 20)
	for i := range scripts {
		script, err := registry.CreateScript(ctx, "exam-1", fmt.Sprintf("student-%d", i), 2)
		if err != nil {
			t.Fatalf("create script: %v", err)
		}
		for slot, examiner := range []string{"examiner-a", "examiner-b"} {
			if _, err := registry.AssignExaminer(ctx, script.ID, slot+1, examiner); err != nil {
				t.Fatalf("assign slot %d: %v", slot+1, err)
			}
		}
		scripts[i] = script
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, script := range scripts {
		group.Go(func() error {
			_, err := ledger.SubmitMark(groupCtx, script.ID, 1, "examiner-a", 40)
			return err
		})
		group.Go(func() error {
			_, err := ledger.SubmitMark(groupCtx, script.ID, 2, "examiner-b", 80)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		t.Fatalf("concurrent submit: %v", err)
	}

	for _, script := range scripts {
		cases, err := resolver.ListCasesForScript(ctx, script.ID)
		if err != nil {
			t.Fatalf("list cases: %v", err)
		}
		if len(cases) != 1 || !cases[0].Open() {
			t.Fatalf("script %s cases = %+v, want exactly one open case", script.ID, cases)
		}
		got, err := registry.GetScript(ctx, script.ID)
		if err != nil {
			t.Fatalf("get script: %v", err)
		}
		if got.Status != domain.ScriptStatusDiscrepancyOpen {
			t.Fatalf("script %s status = %s, want %s", script.ID, got.Status, domain.ScriptStatusDiscrepancyOpen)
		}
	}
}
