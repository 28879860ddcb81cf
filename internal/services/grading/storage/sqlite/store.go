// Package sqlite implements the grading store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/platform/storage/sqlitemigrate"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/storage/scriptlock"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/storage/sqlite/migrations"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store provides SQLite-backed grading persistence. Units of work hold a
// per-script lock in process and guard against other writers with the
// version column on answer_scripts.
type Store struct {
	sqlDB *sql.DB
	locks *scriptlock.Locker
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func toNullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func fromNullFloat(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	f := value.Float64
	return &f
}

// Open opens a grading SQLite store at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, locks: scriptlock.New()}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// WithinScript runs fn in one transaction while holding the script's lock.
func (s *Store) WithinScript(ctx context.Context, scriptID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	unlock, err := s.locks.Lock(ctx, scriptID)
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin script %s write: %w", scriptID, err))
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback script %s write: %v", cause, scriptID, rollbackErr)
		}
		return cause
	}

	if err := fn(ctx, queries{db: tx}); err != nil {
		return rollbackWith(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit script %s write: %w", scriptID, err))
	}
	return nil
}

func (s *Store) reader() queries { return queries{db: s.sqlDB} }

func (s *Store) Scripts() domain.ScriptRepository        { return s.reader() }
func (s *Store) Grades() domain.GradeEntryRepository     { return s.reader() }
func (s *Store) Cases() domain.DiscrepancyCaseRepository { return s.reader() }
func (s *Store) Results() domain.FinalResultRepository   { return s.reader() }
func (s *Store) Outbox() domain.OutboxRepository         { return s.reader() }
func (s *Store) Policies() domain.ExamPolicyRepository   { return s.reader() }

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements every repository against a connection or transaction.
type queries struct {
	db dbtx
}

func (q queries) Scripts() domain.ScriptRepository        { return q }
func (q queries) Grades() domain.GradeEntryRepository     { return q }
func (q queries) Cases() domain.DiscrepancyCaseRepository { return q }
func (q queries) Results() domain.FinalResultRepository   { return q }
func (q queries) Outbox() domain.OutboxRepository         { return q }

type scanner func(dest ...any) error

const scriptColumns = `id, exam_id, student_id, status, required_slots, examiners_json, remarks,
	policy_threshold, policy_min_mark, policy_max_mark, policy_tie_break,
	version, created_at, updated_at, finalized_at, archived_at`

func (q queries) GetScript(ctx context.Context, scriptID string) (domain.AnswerScript, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM answer_scripts WHERE id = ?`, scriptID)
	script, err := scanScript(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnswerScript{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AnswerScript{}, classify(fmt.Errorf("get script: %w", err))
	}
	return script, nil
}

func (q queries) GetScriptByExamStudent(ctx context.Context, examID string, studentID string) (domain.AnswerScript, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM answer_scripts WHERE exam_id = ? AND student_id = ?`, examID, studentID)
	script, err := scanScript(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnswerScript{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AnswerScript{}, classify(fmt.Errorf("get script by exam student: %w", err))
	}
	return script, nil
}

func (q queries) InsertScript(ctx context.Context, script domain.AnswerScript) error {
	examiners, err := json.Marshal(script.Examiners)
	if err != nil {
		return fmt.Errorf("encode examiners: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
INSERT INTO answer_scripts (`+scriptColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		script.ID,
		script.ExamID,
		script.StudentID,
		string(script.Status),
		script.RequiredSlots,
		string(examiners),
		script.Remarks,
		script.Policy.Threshold,
		script.Policy.MinMark,
		script.Policy.MaxMark,
		string(script.Policy.TieBreak),
		script.Version,
		toMillis(script.CreatedAt),
		toMillis(script.UpdatedAt),
		toNullMillis(script.FinalizedAt),
		toNullMillis(script.ArchivedAt),
	)
	if isUniqueConstraintError(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return classify(fmt.Errorf("insert script: %w", err))
	}
	return nil
}

func (q queries) UpdateScript(ctx context.Context, script domain.AnswerScript) error {
	examiners, err := json.Marshal(script.Examiners)
	if err != nil {
		return fmt.Errorf("encode examiners: %w", err)
	}
	result, err := q.db.ExecContext(ctx, `
UPDATE answer_scripts
SET status = ?, examiners_json = ?, remarks = ?, version = ?, updated_at = ?, finalized_at = ?, archived_at = ?
WHERE id = ? AND version = ?
`,
		string(script.Status),
		string(examiners),
		script.Remarks,
		script.Version+1,
		toMillis(script.UpdatedAt),
		toNullMillis(script.FinalizedAt),
		toNullMillis(script.ArchivedAt),
		script.ID,
		script.Version,
	)
	if err != nil {
		return classify(fmt.Errorf("update script: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update script rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := q.GetScript(ctx, script.ID); err != nil {
		return err
	}
	return domain.ErrConcurrentUpdate
}

func (q queries) ListScriptsByExam(ctx context.Context, examID string) ([]domain.AnswerScript, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+scriptColumns+` FROM answer_scripts WHERE exam_id = ? ORDER BY created_at, rowid`, examID)
	if err != nil {
		return nil, classify(fmt.Errorf("list scripts: %w", err))
	}
	defer rows.Close()

	var scripts []domain.AnswerScript
	for rows.Next() {
		script, err := scanScript(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan script: %w", err)
		}
		scripts = append(scripts, script)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scripts: %w", err)
	}
	return scripts, nil
}

func scanScript(scan scanner) (domain.AnswerScript, error) {
	var (
		script      domain.AnswerScript
		status      string
		examiners   string
		tieBreak    string
		createdAt   int64
		updatedAt   int64
		finalizedAt sql.NullInt64
		archivedAt  sql.NullInt64
	)
	if err := scan(
		&script.ID,
		&script.ExamID,
		&script.StudentID,
		&status,
		&script.RequiredSlots,
		&examiners,
		&script.Remarks,
		&script.Policy.Threshold,
		&script.Policy.MinMark,
		&script.Policy.MaxMark,
		&tieBreak,
		&script.Version,
		&createdAt,
		&updatedAt,
		&finalizedAt,
		&archivedAt,
	); err != nil {
		return domain.AnswerScript{}, err
	}
	if err := json.Unmarshal([]byte(examiners), &script.Examiners); err != nil {
		return domain.AnswerScript{}, fmt.Errorf("decode examiners of script %s: %w", script.ID, err)
	}
	script.Status = domain.ScriptStatus(status)
	script.Policy.ExamID = script.ExamID
	script.Policy.TieBreak = domain.TieBreakPolicy(tieBreak)
	script.CreatedAt = fromMillis(createdAt)
	script.UpdatedAt = fromMillis(updatedAt)
	script.FinalizedAt = fromNullMillis(finalizedAt)
	script.ArchivedAt = fromNullMillis(archivedAt)
	return script, nil
}

func (q queries) InsertGradeEntry(ctx context.Context, entry domain.GradeEntry) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO grade_entries (id, script_id, slot, examiner_id, mark, revised, submitted_at, superseded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		entry.ID,
		entry.ScriptID,
		entry.Slot,
		entry.ExaminerID,
		entry.Mark,
		entry.Revised,
		toMillis(entry.SubmittedAt),
		toNullMillis(entry.SupersededAt),
	)
	if isUniqueConstraintError(err) {
		// A second active entry for the slot means another writer got there first.
		return domain.ErrConcurrentUpdate
	}
	if err != nil {
		return classify(fmt.Errorf("insert grade entry: %w", err))
	}
	return nil
}

func (q queries) SupersedeGradeEntry(ctx context.Context, entryID string, at time.Time) error {
	result, err := q.db.ExecContext(ctx, `
UPDATE grade_entries SET superseded_at = ? WHERE id = ? AND superseded_at IS NULL
`, toMillis(at), entryID)
	if err != nil {
		return classify(fmt.Errorf("supersede grade entry: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("supersede grade entry rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (q queries) ListGradeEntries(ctx context.Context, scriptID string) ([]domain.GradeEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT id, script_id, slot, examiner_id, mark, revised, submitted_at, superseded_at
FROM grade_entries
WHERE script_id = ?
ORDER BY seq
`, scriptID)
	if err != nil {
		return nil, classify(fmt.Errorf("list grade entries: %w", err))
	}
	defer rows.Close()

	var entries []domain.GradeEntry
	for rows.Next() {
		var (
			entry        domain.GradeEntry
			submittedAt  int64
			supersededAt sql.NullInt64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ScriptID,
			&entry.Slot,
			&entry.ExaminerID,
			&entry.Mark,
			&entry.Revised,
			&submittedAt,
			&supersededAt,
		); err != nil {
			return nil, fmt.Errorf("scan grade entry: %w", err)
		}
		entry.SubmittedAt = fromMillis(submittedAt)
		entry.SupersededAt = fromNullMillis(supersededAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grade entries: %w", err)
	}
	return entries, nil
}

const caseColumns = `id, script_id, exam_id, slot_a, slot_b, entry_a, entry_b, mark_a, mark_b,
	difference, threshold, status, tie_break_requested_at, override_mark, resolved_by,
	tie_break_slot, tie_break_examiner, tie_break_entry_id, tie_break_mark, opened_at, closed_at`

func (q queries) GetCase(ctx context.Context, caseID string) (domain.DiscrepancyCase, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM discrepancy_cases WHERE id = ?`, caseID)
	c, err := scanCase(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DiscrepancyCase{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DiscrepancyCase{}, classify(fmt.Errorf("get discrepancy case: %w", err))
	}
	return c, nil
}

func (q queries) InsertCase(ctx context.Context, c domain.DiscrepancyCase) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO discrepancy_cases (`+caseColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, caseArgs(c)...)
	if isUniqueConstraintError(err) {
		// Only one open case per script is allowed.
		return domain.ErrConcurrentUpdate
	}
	if err != nil {
		return classify(fmt.Errorf("insert discrepancy case: %w", err))
	}
	return nil
}

func (q queries) UpdateCase(ctx context.Context, c domain.DiscrepancyCase) error {
	result, err := q.db.ExecContext(ctx, `
UPDATE discrepancy_cases
SET status = ?, tie_break_requested_at = ?, override_mark = ?, resolved_by = ?,
	tie_break_slot = ?, tie_break_examiner = ?, tie_break_entry_id = ?, tie_break_mark = ?, closed_at = ?
WHERE id = ?
`,
		string(c.Status),
		toNullMillis(c.TieBreakRequestedAt),
		toNullFloat(c.OverrideMark),
		c.ResolvedBy,
		c.TieBreakSlot,
		c.TieBreakExaminer,
		c.TieBreakEntryID,
		toNullFloat(c.TieBreakMark),
		toNullMillis(c.ClosedAt),
		c.ID,
	)
	if err != nil {
		return classify(fmt.Errorf("update discrepancy case: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update discrepancy case rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q queries) ListCasesByScript(ctx context.Context, scriptID string) ([]domain.DiscrepancyCase, error) {
	return q.listCases(ctx, `SELECT `+caseColumns+` FROM discrepancy_cases WHERE script_id = ? ORDER BY seq`, scriptID)
}

func (q queries) ListOpenCases(ctx context.Context, examID string) ([]domain.DiscrepancyCase, error) {
	if examID == "" {
		return q.listCases(ctx, `SELECT `+caseColumns+` FROM discrepancy_cases WHERE status = ? ORDER BY opened_at, seq`, string(domain.CaseStatusOpen))
	}
	return q.listCases(ctx, `SELECT `+caseColumns+` FROM discrepancy_cases WHERE status = ? AND exam_id = ? ORDER BY opened_at, seq`, string(domain.CaseStatusOpen), examID)
}

func (q queries) listCases(ctx context.Context, query string, args ...any) ([]domain.DiscrepancyCase, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list discrepancy cases: %w", err))
	}
	defer rows.Close()

	var cases []domain.DiscrepancyCase
	for rows.Next() {
		c, err := scanCase(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan discrepancy case: %w", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discrepancy cases: %w", err)
	}
	return cases, nil
}

func caseArgs(c domain.DiscrepancyCase) []any {
	return []any{
		c.ID,
		c.ScriptID,
		c.ExamID,
		c.SlotA,
		c.SlotB,
		c.EntryA,
		c.EntryB,
		c.MarkA,
		c.MarkB,
		c.Difference,
		c.Threshold,
		string(c.Status),
		toNullMillis(c.TieBreakRequestedAt),
		toNullFloat(c.OverrideMark),
		c.ResolvedBy,
		c.TieBreakSlot,
		c.TieBreakExaminer,
		c.TieBreakEntryID,
		toNullFloat(c.TieBreakMark),
		toMillis(c.OpenedAt),
		toNullMillis(c.ClosedAt),
	}
}

func scanCase(scan scanner) (domain.DiscrepancyCase, error) {
	var (
		c            domain.DiscrepancyCase
		status       string
		requestedAt  sql.NullInt64
		overrideMark sql.NullFloat64
		tieBreakMark sql.NullFloat64
		openedAt     int64
		closedAt     sql.NullInt64
	)
	if err := scan(
		&c.ID,
		&c.ScriptID,
		&c.ExamID,
		&c.SlotA,
		&c.SlotB,
		&c.EntryA,
		&c.EntryB,
		&c.MarkA,
		&c.MarkB,
		&c.Difference,
		&c.Threshold,
		&status,
		&requestedAt,
		&overrideMark,
		&c.ResolvedBy,
		&c.TieBreakSlot,
		&c.TieBreakExaminer,
		&c.TieBreakEntryID,
		&tieBreakMark,
		&openedAt,
		&closedAt,
	); err != nil {
		return domain.DiscrepancyCase{}, err
	}
	c.Status = domain.CaseStatus(status)
	c.TieBreakRequestedAt = fromNullMillis(requestedAt)
	c.OverrideMark = fromNullFloat(overrideMark)
	c.TieBreakMark = fromNullFloat(tieBreakMark)
	c.OpenedAt = fromMillis(openedAt)
	c.ClosedAt = fromNullMillis(closedAt)
	return c, nil
}

func (q queries) GetFinalResult(ctx context.Context, scriptID string) (domain.FinalResult, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT script_id, exam_id, student_id, final_mark, method, case_id, examiner_ids_json, finalized_at
FROM final_results
WHERE script_id = ?
`, scriptID)
	var (
		result      domain.FinalResult
		method      string
		examiners   string
		finalizedAt int64
	)
	err := row.Scan(
		&result.ScriptID,
		&result.ExamID,
		&result.StudentID,
		&result.FinalMark,
		&method,
		&result.CaseID,
		&examiners,
		&finalizedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FinalResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FinalResult{}, classify(fmt.Errorf("get final result: %w", err))
	}
	if err := json.Unmarshal([]byte(examiners), &result.ExaminerIDs); err != nil {
		return domain.FinalResult{}, fmt.Errorf("decode examiner ids of result %s: %w", scriptID, err)
	}
	result.Method = domain.FinalizationMethod(method)
	result.FinalizedAt = fromMillis(finalizedAt)
	return result, nil
}

func (q queries) InsertFinalResult(ctx context.Context, result domain.FinalResult) error {
	examiners, err := json.Marshal(result.ExaminerIDs)
	if err != nil {
		return fmt.Errorf("encode examiner ids: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
INSERT INTO final_results (script_id, exam_id, student_id, final_mark, method, case_id, examiner_ids_json, finalized_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		result.ScriptID,
		result.ExamID,
		result.StudentID,
		result.FinalMark,
		string(result.Method),
		result.CaseID,
		string(examiners),
		toMillis(result.FinalizedAt),
	)
	if isUniqueConstraintError(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return classify(fmt.Errorf("insert final result: %w", err))
	}
	return nil
}

func (q queries) AppendEvent(ctx context.Context, event domain.OutboxEvent) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO outbox_events (id, script_id, event_type, payload, attempts, next_attempt_at, last_error, created_at, delivered_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		event.ID,
		event.ScriptID,
		event.Type,
		event.Payload,
		event.Attempts,
		toMillis(event.NextAttemptAt),
		event.LastError,
		toMillis(event.CreatedAt),
		toNullMillis(event.DeliveredAt),
	)
	if isUniqueConstraintError(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return classify(fmt.Errorf("append outbox event: %w", err))
	}
	return nil
}

func (q queries) GetExamPolicy(ctx context.Context, examID string) (domain.ExamPolicy, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT exam_id, threshold, min_mark, max_mark, tie_break_policy, created_at
FROM exam_policies
WHERE exam_id = ?
`, examID)
	var (
		policy    domain.ExamPolicy
		tieBreak  string
		createdAt int64
	)
	err := row.Scan(&policy.ExamID, &policy.Threshold, &policy.MinMark, &policy.MaxMark, &tieBreak, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExamPolicy{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ExamPolicy{}, classify(fmt.Errorf("get exam policy: %w", err))
	}
	policy.TieBreak = domain.TieBreakPolicy(tieBreak)
	policy.CreatedAt = fromMillis(createdAt)
	return policy, nil
}

func (q queries) InsertExamPolicy(ctx context.Context, policy domain.ExamPolicy) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO exam_policies (exam_id, threshold, min_mark, max_mark, tie_break_policy, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		policy.ExamID,
		policy.Threshold,
		policy.MinMark,
		policy.MaxMark,
		string(policy.TieBreak),
		toMillis(policy.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return classify(fmt.Errorf("insert exam policy: %w", err))
	}
	return nil
}

// ListPendingEvents returns undelivered events due at or before now.
func (s *Store) ListPendingEvents(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, script_id, event_type, payload, attempts, next_attempt_at, last_error, created_at, delivered_at
FROM outbox_events
WHERE delivered_at IS NULL AND next_attempt_at <= ?
ORDER BY next_attempt_at, created_at, id
LIMIT ?
`, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.OutboxEvent, 0, limit)
	for rows.Next() {
		var (
			event         domain.OutboxEvent
			nextAttemptAt int64
			createdAt     int64
			deliveredAt   sql.NullInt64
		)
		if err := rows.Scan(
			&event.ID,
			&event.ScriptID,
			&event.Type,
			&event.Payload,
			&event.Attempts,
			&nextAttemptAt,
			&event.LastError,
			&createdAt,
			&deliveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		event.NextAttemptAt = fromMillis(nextAttemptAt)
		event.CreatedAt = fromMillis(createdAt)
		event.DeliveredAt = fromNullMillis(deliveredAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}

// MarkEventDelivered records a successful publication.
func (s *Store) MarkEventDelivered(ctx context.Context, eventID string, deliveredAt time.Time) error {
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE outbox_events SET delivered_at = ?, last_error = '' WHERE id = ?
`, toMillis(deliveredAt), eventID)
	if err != nil {
		return fmt.Errorf("mark event delivered: %w", err)
	}
	return expectOneRow(result, "mark event delivered")
}

// MarkEventRetry schedules another publication attempt.
func (s *Store) MarkEventRetry(ctx context.Context, eventID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE outbox_events SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE id = ?
`, attempts, toMillis(nextAttemptAt), lastError, eventID)
	if err != nil {
		return fmt.Errorf("mark event retry: %w", err)
	}
	return expectOneRow(result, "mark event retry")
}

func expectOneRow(result sql.Result, operation string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// classify maps lock contention reported by SQLite to a retryable conflict.
func classify(err error) error {
	if isSQLiteBusyError(err) {
		return fmt.Errorf("%w: %v", domain.ErrConcurrentUpdate, err)
	}
	return err
}

// sqliteCode returns the extended result code of a driver error.
func sqliteCode(err error) (int, bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return 0, false
	}
	return sqliteErr.Code(), true
}

func isSQLiteBusyError(err error) bool {
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	primary := code & 0xff
	return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
}

func isUniqueConstraintError(err error) bool {
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// Connections without extended result codes report the primary code.
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	}
	return false
}

var (
	_ domain.Store       = (*Store)(nil)
	_ domain.OutboxStore = (*Store)(nil)
)
