package domain

import (
	"slices"
	"time"
)

// ScriptStatus is the lifecycle state of an answer script.
type ScriptStatus string

const (
	ScriptStatusCreated         ScriptStatus = "Created"
	ScriptStatusAssigned        ScriptStatus = "Assigned"
	ScriptStatusInGrading       ScriptStatus = "InGrading"
	ScriptStatusDiscrepancyOpen ScriptStatus = "DiscrepancyOpen"
	ScriptStatusFinalized       ScriptStatus = "Finalized"
)

// Bounds for the number of required primary examiner slots on one script.
const (
	MinRequiredSlots = 2
	MaxRequiredSlots = 8
)

// Discrepancy detection always compares the first two primary slots.
const (
	comparedSlotA = 1
	comparedSlotB = 2
)

// AnswerScript is one student's submitted answer set for one exam.
type AnswerScript struct {
	ID        string
	ExamID    string
	StudentID string
	Status    ScriptStatus
	// RequiredSlots is the number of primary examiner slots (1..R).
	RequiredSlots int
	// Examiners holds the examiner id per slot, index 0 being slot 1. Its
	// length is RequiredSlots+1; the last element is the tie-break slot.
	// Empty strings mark unassigned slots.
	Examiners   []string
	Remarks     string
	Policy      ExamPolicy
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt *time.Time
	ArchivedAt  *time.Time
}

// TieBreakSlot returns the reserved slot index used for a resolving third mark.
func (s AnswerScript) TieBreakSlot() int {
	return s.RequiredSlots + 1
}

// ValidSlot reports whether slot addresses one of the script's slots.
func (s AnswerScript) ValidSlot(slot int) bool {
	return slot >= 1 && slot <= s.TieBreakSlot()
}

// ExaminerAt returns the examiner assigned to slot, or "" when unassigned.
func (s AnswerScript) ExaminerAt(slot int) string {
	if !s.ValidSlot(slot) || slot > len(s.Examiners) {
		return ""
	}
	return s.Examiners[slot-1]
}

// Sealed reports whether the script can no longer change.
func (s AnswerScript) Sealed() bool {
	return s.Status == ScriptStatusFinalized
}

// Archived reports whether the script was archived after finalization.
func (s AnswerScript) Archived() bool {
	return s.ArchivedAt != nil
}

func (s AnswerScript) requiredSlotsAssigned() bool {
	for slot := 1; slot <= s.RequiredSlots; slot++ {
		if s.ExaminerAt(slot) == "" {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no mutable state with s.
func (s AnswerScript) Clone() AnswerScript {
	s.Examiners = slices.Clone(s.Examiners)
	s.FinalizedAt = cloneTime(s.FinalizedAt)
	s.ArchivedAt = cloneTime(s.ArchivedAt)
	return s
}

// GradeEntry is one examiner's mark for one slot. Revisions supersede the
// previous active entry; entries are never deleted.
type GradeEntry struct {
	ID           string
	ScriptID     string
	Slot         int
	ExaminerID   string
	Mark         float64
	Revised      bool
	SubmittedAt  time.Time
	SupersededAt *time.Time
}

// Active reports whether the entry is the current mark for its slot.
func (e GradeEntry) Active() bool {
	return e.SupersededAt == nil
}

// CaseStatus is the lifecycle state of a discrepancy case.
type CaseStatus string

const (
	CaseStatusOpen               CaseStatus = "Open"
	CaseStatusResolvedByOverride CaseStatus = "ResolvedByOverride"
	CaseStatusResolvedByTieBreak CaseStatus = "ResolvedByTieBreak"
)

// DiscrepancyCase records a disagreement between the first two primary marks
// that exceeded the exam threshold, and how it was resolved.
type DiscrepancyCase struct {
	ID         string
	ScriptID   string
	ExamID     string
	SlotA      int
	SlotB      int
	EntryA     string
	EntryB     string
	MarkA      float64
	MarkB      float64
	Difference float64
	Threshold  float64
	Status     CaseStatus

	TieBreakRequestedAt *time.Time

	// Override resolution.
	OverrideMark *float64
	ResolvedBy   string

	// Tie-break resolution.
	TieBreakSlot     int
	TieBreakExaminer string
	TieBreakEntryID  string
	TieBreakMark     *float64

	OpenedAt time.Time
	ClosedAt *time.Time
}

// Open reports whether the case still blocks finalization.
func (c DiscrepancyCase) Open() bool {
	return c.Status == CaseStatusOpen
}

// AwaitingTieBreak reports whether the case is open and waiting for a tie-break mark.
func (c DiscrepancyCase) AwaitingTieBreak() bool {
	return c.Open() && c.TieBreakRequestedAt != nil
}

func (c DiscrepancyCase) covers(entryA, entryB string) bool {
	return c.EntryA == entryA && c.EntryB == entryB
}

// FinalizationMethod names how a final mark was derived.
type FinalizationMethod string

const (
	MethodAverage         FinalizationMethod = "Average"
	MethodOverride        FinalizationMethod = "Override"
	MethodTieBreakAverage FinalizationMethod = "TieBreakAverage"
)

// FinalResult is the single authoritative mark for one script.
type FinalResult struct {
	ScriptID    string
	ExamID      string
	StudentID   string
	FinalMark   float64
	Method      FinalizationMethod
	CaseID      string
	ExaminerIDs []string
	FinalizedAt time.Time
}

// Clone returns a copy that shares no mutable state with r.
func (r FinalResult) Clone() FinalResult {
	r.ExaminerIDs = slices.Clone(r.ExaminerIDs)
	return r
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

