package httpapi

import (
	"sort"
	"time"

	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
)

type policyRequest struct {
	Threshold      *float64 `json:"threshold" validate:"required"`
	MinMark        *float64 `json:"minMark" validate:"required"`
	MaxMark        *float64 `json:"maxMark" validate:"required"`
	TieBreakPolicy string   `json:"tieBreakPolicy" validate:"required"`
}

type createScriptRequest struct {
	ExamID        string `json:"examId" validate:"required"`
	StudentID     string `json:"studentId" validate:"required"`
	RequiredSlots *int   `json:"requiredSlots"`
}

type examinerRequest struct {
	ExaminerID string `json:"examinerId" validate:"required"`
}

type reassignRequest struct {
	ExaminerID string `json:"examinerId" validate:"required"`
	ActorID    string `json:"actorId" validate:"required"`
}

type markRequest struct {
	ExaminerID string   `json:"examinerId" validate:"required"`
	Mark       *float64 `json:"mark" validate:"required"`
}

type remarksRequest struct {
	Remarks string `json:"remarks" validate:"max=2000"`
}

type overrideRequest struct {
	FinalMark *float64 `json:"finalMark" validate:"required"`
	ActorID   string   `json:"actorId" validate:"required"`
}

type policyResponse struct {
	ExamID         string     `json:"examId,omitempty"`
	Threshold      float64    `json:"threshold"`
	MinMark        float64    `json:"minMark"`
	MaxMark        float64    `json:"maxMark"`
	TieBreakPolicy string     `json:"tieBreakPolicy"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
}

func newPolicyResponse(policy domain.ExamPolicy) policyResponse {
	resp := policyResponse{
		ExamID:         policy.ExamID,
		Threshold:      policy.Threshold,
		MinMark:        policy.MinMark,
		MaxMark:        policy.MaxMark,
		TieBreakPolicy: string(policy.TieBreak),
	}
	if !policy.CreatedAt.IsZero() {
		createdAt := policy.CreatedAt
		resp.CreatedAt = &createdAt
	}
	return resp
}

type slotResponse struct {
	Slot       int    `json:"slot"`
	ExaminerID string `json:"examinerId,omitempty"`
	TieBreak   bool   `json:"tieBreak,omitempty"`
}

type scriptResponse struct {
	ID            string         `json:"id"`
	ExamID        string         `json:"examId"`
	StudentID     string         `json:"studentId"`
	Status        string         `json:"status"`
	RequiredSlots int            `json:"requiredSlots"`
	Slots         []slotResponse `json:"slots"`
	Remarks       string         `json:"remarks,omitempty"`
	Policy        policyResponse `json:"policy"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	FinalizedAt   *time.Time     `json:"finalizedAt,omitempty"`
	ArchivedAt    *time.Time     `json:"archivedAt,omitempty"`
}

func newScriptResponse(script domain.AnswerScript) scriptResponse {
	slots := make([]slotResponse, 0, script.TieBreakSlot())
	for slot := 1; slot <= script.TieBreakSlot(); slot++ {
		slots = append(slots, slotResponse{
			Slot:       slot,
			ExaminerID: script.ExaminerAt(slot),
			TieBreak:   slot == script.TieBreakSlot(),
		})
	}
	policy := script.Policy
	policy.ExamID = ""
	return scriptResponse{
		ID:            script.ID,
		ExamID:        script.ExamID,
		StudentID:     script.StudentID,
		Status:        string(script.Status),
		RequiredSlots: script.RequiredSlots,
		Slots:         slots,
		Remarks:       script.Remarks,
		Policy:        newPolicyResponse(policy),
		Version:       script.Version,
		CreatedAt:     script.CreatedAt,
		UpdatedAt:     script.UpdatedAt,
		FinalizedAt:   script.FinalizedAt,
		ArchivedAt:    script.ArchivedAt,
	}
}

type entryResponse struct {
	ID           string     `json:"id"`
	ScriptID     string     `json:"scriptId"`
	Slot         int        `json:"slot"`
	ExaminerID   string     `json:"examinerId"`
	Mark         float64    `json:"mark"`
	Revised      bool       `json:"revised"`
	Active       bool       `json:"active"`
	SubmittedAt  time.Time  `json:"submittedAt"`
	SupersededAt *time.Time `json:"supersededAt,omitempty"`
}

func newEntryResponse(entry domain.GradeEntry) entryResponse {
	return entryResponse{
		ID:           entry.ID,
		ScriptID:     entry.ScriptID,
		Slot:         entry.Slot,
		ExaminerID:   entry.ExaminerID,
		Mark:         entry.Mark,
		Revised:      entry.Revised,
		Active:       entry.Active(),
		SubmittedAt:  entry.SubmittedAt,
		SupersededAt: entry.SupersededAt,
	}
}

func newEntryResponses(entries []domain.GradeEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, newEntryResponse(entry))
	}
	return out
}

// activeMarksResponse lists active entries ordered by slot.
func activeMarksResponse(marks map[int]domain.GradeEntry) []entryResponse {
	slots := make([]int, 0, len(marks))
	for slot := range marks {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	out := make([]entryResponse, 0, len(slots))
	for _, slot := range slots {
		out = append(out, newEntryResponse(marks[slot]))
	}
	return out
}

type caseResponse struct {
	ID                  string     `json:"id"`
	ScriptID            string     `json:"scriptId"`
	ExamID              string     `json:"examId"`
	SlotA               int        `json:"slotA"`
	SlotB               int        `json:"slotB"`
	EntryA              string     `json:"entryA"`
	EntryB              string     `json:"entryB"`
	MarkA               float64    `json:"markA"`
	MarkB               float64    `json:"markB"`
	Difference          float64    `json:"difference"`
	Threshold           float64    `json:"threshold"`
	Status              string     `json:"status"`
	TieBreakRequested   bool       `json:"tieBreakRequested"`
	TieBreakRequestedAt *time.Time `json:"tieBreakRequestedAt,omitempty"`
	OverrideMark        *float64   `json:"overrideMark,omitempty"`
	ResolvedBy          string     `json:"resolvedBy,omitempty"`
	TieBreakSlot        int        `json:"tieBreakSlot,omitempty"`
	TieBreakExaminer    string     `json:"tieBreakExaminer,omitempty"`
	TieBreakEntryID     string     `json:"tieBreakEntryId,omitempty"`
	TieBreakMark        *float64   `json:"tieBreakMark,omitempty"`
	OpenedAt            time.Time  `json:"openedAt"`
	ClosedAt            *time.Time `json:"closedAt,omitempty"`
}

func newCaseResponse(c domain.DiscrepancyCase) caseResponse {
	return caseResponse{
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
		TieBreakRequested:   c.TieBreakRequestedAt != nil,
		TieBreakRequestedAt: c.TieBreakRequestedAt,
		OverrideMark:        c.OverrideMark,
		ResolvedBy:          c.ResolvedBy,
		TieBreakSlot:        c.TieBreakSlot,
		TieBreakExaminer:    c.TieBreakExaminer,
		TieBreakEntryID:     c.TieBreakEntryID,
		TieBreakMark:        c.TieBreakMark,
		OpenedAt:            c.OpenedAt,
		ClosedAt:            c.ClosedAt,
	}
}

func newCaseResponses(cases []domain.DiscrepancyCase) []caseResponse {
	out := make([]caseResponse, 0, len(cases))
	for _, c := range cases {
		out = append(out, newCaseResponse(c))
	}
	return out
}

type resultResponse struct {
	ScriptID    string    `json:"scriptId"`
	ExamID      string    `json:"examId"`
	StudentID   string    `json:"studentId"`
	FinalMark   float64   `json:"finalMark"`
	Method      string    `json:"method"`
	CaseID      string    `json:"caseId,omitempty"`
	ExaminerIDs []string  `json:"examinerIds"`
	FinalizedAt time.Time `json:"finalizedAt"`
}

func newResultResponse(result domain.FinalResult) resultResponse {
	return resultResponse{
		ScriptID:    result.ScriptID,
		ExamID:      result.ExamID,
		StudentID:   result.StudentID,
		FinalMark:   result.FinalMark,
		Method:      string(result.Method),
		CaseID:      result.CaseID,
		ExaminerIDs: result.ExaminerIDs,
		FinalizedAt: result.FinalizedAt,
	}
}
