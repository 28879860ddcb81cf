// Package postgres implements the grading store on PostgreSQL through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// Store provides PostgreSQL-backed grading persistence. Units of work lock
// the script row with SELECT ... FOR UPDATE for their whole transaction.
type Store struct {
	db *gorm.DB
}

// Open connects to PostgreSQL with dsn and migrates the grading schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&examPolicyRow{},
		&scriptRow{},
		&gradeEntryRow{},
		&caseRow{},
		&finalResultRow{},
		&outboxRow{},
	)
	if err != nil {
		return fmt.Errorf("migrate grading schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithinScript runs fn in one transaction holding the script's row lock.
// A script that does not exist yet is not locked; its insert is guarded by
// the primary key instead.
func (s *Store) WithinScript(ctx context.Context, scriptID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked scriptRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", scriptID).
			Take(&locked).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lock script %s: %w", scriptID, err)
		}
		return fn(ctx, queries{db: tx})
	})
	return classify(err)
}

func (s *Store) reader() queries { return queries{db: s.db} }

func (s *Store) Scripts() domain.ScriptRepository        { return s.reader() }
func (s *Store) Grades() domain.GradeEntryRepository     { return s.reader() }
func (s *Store) Cases() domain.DiscrepancyCaseRepository { return s.reader() }
func (s *Store) Results() domain.FinalResultRepository   { return s.reader() }
func (s *Store) Outbox() domain.OutboxRepository         { return s.reader() }
func (s *Store) Policies() domain.ExamPolicyRepository   { return s.reader() }

// queries implements every repository against a session or transaction.
type queries struct {
	db *gorm.DB
}

func (q queries) Scripts() domain.ScriptRepository        { return q }
func (q queries) Grades() domain.GradeEntryRepository     { return q }
func (q queries) Cases() domain.DiscrepancyCaseRepository { return q }
func (q queries) Results() domain.FinalResultRepository   { return q }
func (q queries) Outbox() domain.OutboxRepository         { return q }

func (q queries) GetScript(ctx context.Context, scriptID string) (domain.AnswerScript, error) {
	var row scriptRow
	if err := q.db.WithContext(ctx).Where("id = ?", scriptID).Take(&row).Error; err != nil {
		return domain.AnswerScript{}, readError("get script", err)
	}
	return row.toDomain(), nil
}

func (q queries) GetScriptByExamStudent(ctx context.Context, examID string, studentID string) (domain.AnswerScript, error) {
	var row scriptRow
	err := q.db.WithContext(ctx).Where("exam_id = ? AND student_id = ?", examID, studentID).Take(&row).Error
	if err != nil {
		return domain.AnswerScript{}, readError("get script by exam student", err)
	}
	return row.toDomain(), nil
}

func (q queries) InsertScript(ctx context.Context, script domain.AnswerScript) error {
	row := toScriptRow(script)
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert script: %w", err)
	}
	return nil
}

func (q queries) UpdateScript(ctx context.Context, script domain.AnswerScript) error {
	row := toScriptRow(script)
	result := q.db.WithContext(ctx).
		Model(&scriptRow{}).
		Where("id = ? AND version = ?", script.ID, script.Version).
		Updates(map[string]any{
			"status":       row.Status,
			"examiners":    row.Examiners,
			"remarks":      row.Remarks,
			"version":      script.Version + 1,
			"updated_at":   row.UpdatedAt,
			"finalized_at": row.FinalizedAt,
			"archived_at":  row.ArchivedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update script: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if _, err := q.GetScript(ctx, script.ID); err != nil {
		return err
	}
	return domain.ErrConcurrentUpdate
}

func (q queries) ListScriptsByExam(ctx context.Context, examID string) ([]domain.AnswerScript, error) {
	var rows []scriptRow
	if err := q.db.WithContext(ctx).Where("exam_id = ?", examID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	scripts := make([]domain.AnswerScript, 0, len(rows))
	for _, row := range rows {
		scripts = append(scripts, row.toDomain())
	}
	return scripts, nil
}

func (q queries) InsertGradeEntry(ctx context.Context, entry domain.GradeEntry) error {
	row := toGradeEntryRow(entry)
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConcurrentUpdate
		}
		return fmt.Errorf("insert grade entry: %w", err)
	}
	return nil
}

func (q queries) SupersedeGradeEntry(ctx context.Context, entryID string, at time.Time) error {
	result := q.db.WithContext(ctx).
		Model(&gradeEntryRow{}).
		Where("id = ? AND superseded_at IS NULL", entryID).
		Update("superseded_at", utc(at))
	if result.Error != nil {
		return fmt.Errorf("supersede grade entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (q queries) ListGradeEntries(ctx context.Context, scriptID string) ([]domain.GradeEntry, error) {
	var rows []gradeEntryRow
	if err := q.db.WithContext(ctx).Where("script_id = ?", scriptID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list grade entries: %w", err)
	}
	entries := make([]domain.GradeEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

func (q queries) GetCase(ctx context.Context, caseID string) (domain.DiscrepancyCase, error) {
	var row caseRow
	if err := q.db.WithContext(ctx).Where("id = ?", caseID).Take(&row).Error; err != nil {
		return domain.DiscrepancyCase{}, readError("get discrepancy case", err)
	}
	return row.toDomain(), nil
}

func (q queries) InsertCase(ctx context.Context, c domain.DiscrepancyCase) error {
	row := toCaseRow(c)
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConcurrentUpdate
		}
		return fmt.Errorf("insert discrepancy case: %w", err)
	}
	return nil
}

func (q queries) UpdateCase(ctx context.Context, c domain.DiscrepancyCase) error {
	row := toCaseRow(c)
	result := q.db.WithContext(ctx).
		Model(&caseRow{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"status":                 row.Status,
			"tie_break_requested_at": row.TieBreakRequestedAt,
			"override_mark":          row.OverrideMark,
			"resolved_by":            row.ResolvedBy,
			"tie_break_slot":         row.TieBreakSlot,
			"tie_break_examiner":     row.TieBreakExaminer,
			"tie_break_entry_id":     row.TieBreakEntryID,
			"tie_break_mark":         row.TieBreakMark,
			"closed_at":              row.ClosedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update discrepancy case: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q queries) ListCasesByScript(ctx context.Context, scriptID string) ([]domain.DiscrepancyCase, error) {
	return q.listCases(ctx, q.db.WithContext(ctx).Where("script_id = ?", scriptID).Order("seq"))
}

func (q queries) ListOpenCases(ctx context.Context, examID string) ([]domain.DiscrepancyCase, error) {
	query := q.db.WithContext(ctx).Where("status = ?", string(domain.CaseStatusOpen))
	if examID != "" {
		query = query.Where("exam_id = ?", examID)
	}
	return q.listCases(ctx, query.Order("opened_at").Order("seq"))
}

func (q queries) listCases(_ context.Context, query *gorm.DB) ([]domain.DiscrepancyCase, error) {
	var rows []caseRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list discrepancy cases: %w", err)
	}
	cases := make([]domain.DiscrepancyCase, 0, len(rows))
	for _, row := range rows {
		cases = append(cases, row.toDomain())
	}
	return cases, nil
}

func (q queries) GetFinalResult(ctx context.Context, scriptID string) (domain.FinalResult, error) {
	var row finalResultRow
	if err := q.db.WithContext(ctx).Where("script_id = ?", scriptID).Take(&row).Error; err != nil {
		return domain.FinalResult{}, readError("get final result", err)
	}
	return row.toDomain(), nil
}

func (q queries) InsertFinalResult(ctx context.Context, result domain.FinalResult) error {
	row := toFinalResultRow(result)
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert final result: %w", err)
	}
	return nil
}

func (q queries) AppendEvent(ctx context.Context, event domain.OutboxEvent) error {
	row := toOutboxRow(event)
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

func (q queries) GetExamPolicy(ctx context.Context, examID string) (domain.ExamPolicy, error) {
	var row examPolicyRow
	if err := q.db.WithContext(ctx).Where("exam_id = ?", examID).Take(&row).Error; err != nil {
		return domain.ExamPolicy{}, readError("get exam policy", err)
	}
	return row.toDomain(), nil
}

func (q queries) InsertExamPolicy(ctx context.Context, policy domain.ExamPolicy) error {
	row := toExamPolicyRow(policy)
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert exam policy: %w", err)
	}
	return nil
}

// ListPendingEvents returns undelivered events due at or before now.
func (s *Store) ListPendingEvents(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	var rows []outboxRow
	err := s.db.WithContext(ctx).
		Where("delivered_at IS NULL AND next_attempt_at <= ?", utc(now)).
		Order("next_attempt_at").Order("created_at").Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	events := make([]domain.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toDomain())
	}
	return events, nil
}

// MarkEventDelivered records a successful publication.
func (s *Store) MarkEventDelivered(ctx context.Context, eventID string, deliveredAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&outboxRow{}).
		Where("id = ?", eventID).
		Updates(map[string]any{"delivered_at": utc(deliveredAt), "last_error": ""})
	if result.Error != nil {
		return fmt.Errorf("mark event delivered: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkEventRetry schedules another publication attempt.
func (s *Store) MarkEventRetry(ctx context.Context, eventID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	result := s.db.WithContext(ctx).
		Model(&outboxRow{}).
		Where("id = ?", eventID).
		Updates(map[string]any{"attempts": attempts, "next_attempt_at": utc(nextAttemptAt), "last_error": lastError})
	if result.Error != nil {
		return fmt.Errorf("mark event retry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func readError(operation string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// classify maps lock and serialization failures to a retryable conflict.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrConcurrentUpdate) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %v", domain.ErrConcurrentUpdate, err)
		}
	}
	return err
}

var (
	_ domain.Store       = (*Store)(nil)
	_ domain.OutboxStore = (*Store)(nil)
)
