package postgres

import (
	"slices"
	"time"

	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"gorm.io/datatypes"
)

type examPolicyRow struct {
	ExamID         string    `gorm:"column:exam_id;primaryKey;size:128"`
	Threshold      float64   `gorm:"column:threshold;not null"`
	MinMark        float64   `gorm:"column:min_mark;not null"`
	MaxMark        float64   `gorm:"column:max_mark;not null"`
	TieBreakPolicy string    `gorm:"column:tie_break_policy;size:32;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (examPolicyRow) TableName() string { return "exam_policies" }

type scriptRow struct {
	ID              string                      `gorm:"column:id;primaryKey;size:128"`
	Seq             int64                       `gorm:"column:seq;autoIncrement;not null"`
	ExamID          string                      `gorm:"column:exam_id;size:128;not null;uniqueIndex:idx_answer_scripts_exam_student,priority:1"`
	StudentID       string                      `gorm:"column:student_id;size:128;not null;uniqueIndex:idx_answer_scripts_exam_student,priority:2"`
	Status          string                      `gorm:"column:status;size:32;not null"`
	RequiredSlots   int                         `gorm:"column:required_slots;not null"`
	Examiners       datatypes.JSONSlice[string] `gorm:"column:examiners;not null"`
	Remarks         string                      `gorm:"column:remarks;type:text;not null"`
	PolicyThreshold float64                     `gorm:"column:policy_threshold;not null"`
	PolicyMinMark   float64                     `gorm:"column:policy_min_mark;not null"`
	PolicyMaxMark   float64                     `gorm:"column:policy_max_mark;not null"`
	PolicyTieBreak  string                      `gorm:"column:policy_tie_break;size:32;not null"`
	Version         int64                       `gorm:"column:version;not null"`
	CreatedAt       time.Time                   `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt       time.Time                   `gorm:"column:updated_at;not null;autoUpdateTime:false"`
	FinalizedAt     *time.Time                  `gorm:"column:finalized_at"`
	ArchivedAt      *time.Time                  `gorm:"column:archived_at"`
}

func (scriptRow) TableName() string { return "answer_scripts" }

type gradeEntryRow struct {
	Seq          int64      `gorm:"column:seq;primaryKey;autoIncrement"`
	ID           string     `gorm:"column:id;size:128;not null;uniqueIndex"`
	ScriptID     string     `gorm:"column:script_id;size:128;not null;index:idx_grade_entries_active_slot,unique,where:superseded_at IS NULL"`
	Slot         int        `gorm:"column:slot;not null;index:idx_grade_entries_active_slot,unique,where:superseded_at IS NULL"`
	ExaminerID   string     `gorm:"column:examiner_id;size:128;not null"`
	Mark         float64    `gorm:"column:mark;not null"`
	Revised      bool       `gorm:"column:revised;not null"`
	SubmittedAt  time.Time  `gorm:"column:submitted_at;not null"`
	SupersededAt *time.Time `gorm:"column:superseded_at"`
}

func (gradeEntryRow) TableName() string { return "grade_entries" }

type caseRow struct {
	Seq                 int64      `gorm:"column:seq;primaryKey;autoIncrement"`
	ID                  string     `gorm:"column:id;size:128;not null;uniqueIndex"`
	ScriptID            string     `gorm:"column:script_id;size:128;not null;index:idx_discrepancy_cases_one_open,unique,where:status = 'Open'"`
	ExamID              string     `gorm:"column:exam_id;size:128;not null;index:idx_discrepancy_cases_open_exam"`
	SlotA               int        `gorm:"column:slot_a;not null"`
	SlotB               int        `gorm:"column:slot_b;not null"`
	EntryA              string     `gorm:"column:entry_a;size:128;not null"`
	EntryB              string     `gorm:"column:entry_b;size:128;not null"`
	MarkA               float64    `gorm:"column:mark_a;not null"`
	MarkB               float64    `gorm:"column:mark_b;not null"`
	Difference          float64    `gorm:"column:difference;not null"`
	Threshold           float64    `gorm:"column:threshold;not null"`
	Status              string     `gorm:"column:status;size:32;not null;index:idx_discrepancy_cases_open_exam"`
	TieBreakRequestedAt *time.Time `gorm:"column:tie_break_requested_at"`
	OverrideMark        *float64   `gorm:"column:override_mark"`
	ResolvedBy          string     `gorm:"column:resolved_by;size:128;not null"`
	TieBreakSlot        int        `gorm:"column:tie_break_slot;not null"`
	TieBreakExaminer    string     `gorm:"column:tie_break_examiner;size:128;not null"`
	TieBreakEntryID     string     `gorm:"column:tie_break_entry_id;size:128;not null"`
	TieBreakMark        *float64   `gorm:"column:tie_break_mark"`
	OpenedAt            time.Time  `gorm:"column:opened_at;not null"`
	ClosedAt            *time.Time `gorm:"column:closed_at"`
}

func (caseRow) TableName() string { return "discrepancy_cases" }

type finalResultRow struct {
	ScriptID    string                      `gorm:"column:script_id;primaryKey;size:128"`
	ExamID      string                      `gorm:"column:exam_id;size:128;not null"`
	StudentID   string                      `gorm:"column:student_id;size:128;not null"`
	FinalMark   float64                     `gorm:"column:final_mark;not null"`
	Method      string                      `gorm:"column:method;size:32;not null"`
	CaseID      string                      `gorm:"column:case_id;size:128;not null"`
	ExaminerIDs datatypes.JSONSlice[string] `gorm:"column:examiner_ids;not null"`
	FinalizedAt time.Time                   `gorm:"column:finalized_at;not null"`
}

func (finalResultRow) TableName() string { return "final_results" }

type outboxRow struct {
	ID            string     `gorm:"column:id;primaryKey;size:128"`
	ScriptID      string     `gorm:"column:script_id;size:128;not null"`
	EventType     string     `gorm:"column:event_type;size:64;not null"`
	Payload       []byte     `gorm:"column:payload;type:bytea;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null;index:idx_outbox_events_pending,priority:2"`
	LastError     string     `gorm:"column:last_error;type:text;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	DeliveredAt   *time.Time `gorm:"column:delivered_at;index:idx_outbox_events_pending,priority:1"`
}

func (outboxRow) TableName() string { return "outbox_events" }

func utc(value time.Time) time.Time {
	return value.UTC()
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	t := value.UTC()
	return &t
}

func floatPtr(value *float64) *float64 {
	if value == nil {
		return nil
	}
	f := *value
	return &f
}

// jsonStrings never encodes a nil slice as JSON null.
func jsonStrings(values []string) datatypes.JSONSlice[string] {
	if values == nil {
		return datatypes.JSONSlice[string]{}
	}
	return datatypes.JSONSlice[string](slices.Clone(values))
}

func toScriptRow(script domain.AnswerScript) scriptRow {
	return scriptRow{
		ID:              script.ID,
		ExamID:          script.ExamID,
		StudentID:       script.StudentID,
		Status:          string(script.Status),
		RequiredSlots:   script.RequiredSlots,
		Examiners:       jsonStrings(script.Examiners),
		Remarks:         script.Remarks,
		PolicyThreshold: script.Policy.Threshold,
		PolicyMinMark:   script.Policy.MinMark,
		PolicyMaxMark:   script.Policy.MaxMark,
		PolicyTieBreak:  string(script.Policy.TieBreak),
		Version:         script.Version,
		CreatedAt:       utc(script.CreatedAt),
		UpdatedAt:       utc(script.UpdatedAt),
		FinalizedAt:     utcPtr(script.FinalizedAt),
		ArchivedAt:      utcPtr(script.ArchivedAt),
	}
}

func (r scriptRow) toDomain() domain.AnswerScript {
	return domain.AnswerScript{
		ID:            r.ID,
		ExamID:        r.ExamID,
		StudentID:     r.StudentID,
		Status:        domain.ScriptStatus(r.Status),
		RequiredSlots: r.RequiredSlots,
		Examiners:     slices.Clone([]string(r.Examiners)),
		Remarks:       r.Remarks,
		Policy: domain.ExamPolicy{
			ExamID:    r.ExamID,
			Threshold: r.PolicyThreshold,
			MinMark:   r.PolicyMinMark,
			MaxMark:   r.PolicyMaxMark,
			TieBreak:  domain.TieBreakPolicy(r.PolicyTieBreak),
		},
		Version:     r.Version,
		CreatedAt:   utc(r.CreatedAt),
		UpdatedAt:   utc(r.UpdatedAt),
		FinalizedAt: utcPtr(r.FinalizedAt),
		ArchivedAt:  utcPtr(r.ArchivedAt),
	}
}

func toGradeEntryRow(entry domain.GradeEntry) gradeEntryRow {
	return gradeEntryRow{
		ID:           entry.ID,
		ScriptID:     entry.ScriptID,
		Slot:         entry.Slot,
		ExaminerID:   entry.ExaminerID,
		Mark:         entry.Mark,
		Revised:      entry.Revised,
		SubmittedAt:  utc(entry.SubmittedAt),
		SupersededAt: utcPtr(entry.SupersededAt),
	}
}

func (r gradeEntryRow) toDomain() domain.GradeEntry {
	return domain.GradeEntry{
		ID:           r.ID,
		ScriptID:     r.ScriptID,
		Slot:         r.Slot,
		ExaminerID:   r.ExaminerID,
		Mark:         r.Mark,
		Revised:      r.Revised,
		SubmittedAt:  utc(r.SubmittedAt),
		SupersededAt: utcPtr(r.SupersededAt),
	}
}

func toCaseRow(c domain.DiscrepancyCase) caseRow {
	return caseRow{
		ID:                  c.ID,
		ScriptID:            c.ScriptID,
		ExamID:              c.ExamID,
		SlotA:               c.SlotA,
		SlotB:               c.SlotB,
		EntryA:              c.EntryA,
		EntryB:              c.EntryB,
		MarkA:               c.MarkA,
		MarkB:               c.MarkB,
		Difference:          c.Difference,
		Threshold:           c.Threshold,
		Status:              string(c.Status),
		TieBreakRequestedAt: utcPtr(c.TieBreakRequestedAt),
		OverrideMark:        floatPtr(c.OverrideMark),
		ResolvedBy:          c.ResolvedBy,
		TieBreakSlot:        c.TieBreakSlot,
		TieBreakExaminer:    c.TieBreakExaminer,
		TieBreakEntryID:     c.TieBreakEntryID,
		TieBreakMark:        floatPtr(c.TieBreakMark),
		OpenedAt:            utc(c.OpenedAt),
		ClosedAt:            utcPtr(c.ClosedAt),
	}
}

func (r caseRow) toDomain() domain.DiscrepancyCase {
	return domain.DiscrepancyCase{
		ID:                  r.ID,
		ScriptID:            r.ScriptID,
		ExamID:              r.ExamID,
		SlotA:               r.SlotA,
		SlotB:               r.SlotB,
		EntryA:              r.EntryA,
		EntryB:              r.EntryB,
		MarkA:               r.MarkA,
		MarkB:               r.MarkB,
		Difference:          r.Difference,
		Threshold:           r.Threshold,
		Status:              domain.CaseStatus(r.Status),
		TieBreakRequestedAt: utcPtr(r.TieBreakRequestedAt),
		OverrideMark:        floatPtr(r.OverrideMark),
		ResolvedBy:          r.ResolvedBy,
		TieBreakSlot:        r.TieBreakSlot,
		TieBreakExaminer:    r.TieBreakExaminer,
		TieBreakEntryID:     r.TieBreakEntryID,
		TieBreakMark:        floatPtr(r.TieBreakMark),
		OpenedAt:            utc(r.OpenedAt),
		ClosedAt:            utcPtr(r.ClosedAt),
	}
}

func toFinalResultRow(result domain.FinalResult) finalResultRow {
	return finalResultRow{
		ScriptID:        result.ScriptID,
		ExamID:          result.ExamID,
		StudentID:       result.StudentID,
		FinalMark:       result.FinalMark,
		Method:          string(result.Method),
		CaseID:          result.CaseID,
		ExaminerIDs:     jsonStrings(result.ExaminerIDs),
		FinalizedAt:     utc(result.FinalizedAt),
	}
}

func (r finalResultRow) toDomain() domain.FinalResult {
	return domain.FinalResult{
		ScriptID:    r.ScriptID,
		ExamID:      r.ExamID,
		StudentID:   r.StudentID,
		FinalMark:   r.FinalMark,
		Method:      domain.FinalizationMethod(r.Method),
		CaseID:      r.CaseID,
		ExaminerIDs: slices.Clone([]string(r.ExaminerIDs)),
		FinalizedAt: utc(r.FinalizedAt),
	}
}

func toOutboxRow(event domain.OutboxEvent) outboxRow {
	return outboxRow{
		ID:            event.ID,
		ScriptID:      event.ScriptID,
		EventType:     event.Type,
		Payload:       append([]byte(nil), event.Payload...),
		Attempts:      event.Attempts,
		NextAttemptAt: utc(event.NextAttemptAt),
		LastError:     event.LastError,
		CreatedAt:     utc(event.CreatedAt),
		DeliveredAt:   utcPtr(event.DeliveredAt),
	}
}

func (r outboxRow) toDomain() domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:            r.ID,
		ScriptID:      r.ScriptID,
		Type:          r.EventType,
		Payload:       r.Payload,
		Attempts:      r.Attempts,
		NextAttemptAt: utc(r.NextAttemptAt),
		LastError:     r.LastError,
		CreatedAt:     utc(r.CreatedAt),
		DeliveredAt:   utcPtr(r.DeliveredAt),
	}
}

func toExamPolicyRow(policy domain.ExamPolicy) examPolicyRow {
	return examPolicyRow{
		ExamID:         policy.ExamID,
		Threshold:      policy.Threshold,
		MinMark:        policy.MinMark,
		MaxMark:        policy.MaxMark,
		TieBreakPolicy: string(policy.TieBreak),
		CreatedAt:      utc(policy.CreatedAt),
	}
}

func (r examPolicyRow) toDomain() domain.ExamPolicy {
	return domain.ExamPolicy{
		ExamID:    r.ExamID,
		Threshold: r.Threshold,
		MinMark:   r.MinMark,
		MaxMark:   r.MaxMark,
		TieBreak:  domain.TieBreakPolicy(r.TieBreakPolicy),
		CreatedAt: utc(r.CreatedAt),
	}
}
