package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
)

// Storage sentinels returned by repository implementations.
var (
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("grading record not found")
	// ErrDuplicate indicates an insert collided with a uniqueness constraint.
	ErrDuplicate = errors.New("grading record already exists")
	// ErrConcurrentUpdate indicates the record changed underneath the unit of
	// work; the operation is safe to retry.
	ErrConcurrentUpdate = errors.New("grading record changed concurrently")
)

// Named errors. Callers match them with errors.Is; returned errors carry
// metadata for localized messages.
var (
	ErrInvalidIdentifier      = apperrors.New(apperrors.CodeInvalidIdentifier, "invalid identifier")
	ErrInvalidSlot            = apperrors.New(apperrors.CodeInvalidSlot, "invalid slot")
	ErrInvalidSlotCount       = apperrors.New(apperrors.CodeInvalidSlotCount, "invalid slot count")
	ErrMarkOutOfRange         = apperrors.New(apperrors.CodeMarkOutOfRange, "mark out of range")
	ErrOverrideMarkOutOfRange = apperrors.New(apperrors.CodeOverrideMarkOutOfRange, "override mark out of range")
	ErrInvalidExamPolicy      = apperrors.New(apperrors.CodeInvalidExamPolicy, "invalid exam policy")
	ErrDuplicateScript        = apperrors.New(apperrors.CodeDuplicateScript, "duplicate script")
	ErrScriptNotFound         = apperrors.New(apperrors.CodeScriptNotFound, "script not found")
	ErrScriptSealed           = apperrors.New(apperrors.CodeScriptSealed, "script sealed")
	ErrScriptNotFinalized     = apperrors.New(apperrors.CodeScriptNotFinalized, "script not finalized")
	ErrSlotAlreadyAssigned    = apperrors.New(apperrors.CodeSlotAlreadyAssigned, "slot already assigned")
	ErrSlotNotAssigned        = apperrors.New(apperrors.CodeSlotNotAssigned, "slot not assigned")
	ErrReassignmentNotAllowed = apperrors.New(apperrors.CodeReassignmentNotAllowed, "reassignment not allowed")
	ErrAssignmentIncomplete   = apperrors.New(apperrors.CodeAssignmentIncomplete, "assignment incomplete")
	ErrExaminerMismatch       = apperrors.New(apperrors.CodeExaminerMismatch, "examiner mismatch")
	ErrCaseNotFound           = apperrors.New(apperrors.CodeCaseNotFound, "discrepancy case not found")
	ErrCaseAlreadyClosed      = apperrors.New(apperrors.CodeCaseAlreadyClosed, "discrepancy case already closed")
	ErrTieBreakNotRequested   = apperrors.New(apperrors.CodeTieBreakNotRequested, "tie-break not requested")
	ErrNotReadyToFinalize     = apperrors.New(apperrors.CodeNotReadyToFinalize, "not ready to finalize")
	ErrResultNotFound         = apperrors.New(apperrors.CodeResultNotFound, "final result not found")
	ErrExamPolicyNotFound     = apperrors.New(apperrors.CodeExamPolicyNotFound, "exam policy not found")
	ErrExamPolicyConflict     = apperrors.New(apperrors.CodeExamPolicyConflict, "exam policy conflict")
	ErrContention             = apperrors.New(apperrors.CodeContention, "contention")
)

func scriptNotFound(scriptID string) error {
	return apperrors.WithMetadata(apperrors.CodeScriptNotFound, fmt.Sprintf("script %s not found", scriptID), map[string]string{
		"ScriptID": scriptID,
	})
}

func scriptSealed(scriptID string) error {
	return apperrors.WithMetadata(apperrors.CodeScriptSealed, fmt.Sprintf("script %s is finalized", scriptID), map[string]string{
		"ScriptID": scriptID,
	})
}

func invalidSlot(script AnswerScript, slot int) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidSlot, fmt.Sprintf("slot %d is outside 1..%d", slot, script.TieBreakSlot()), map[string]string{
		"Slot":    strconv.Itoa(slot),
		"MaxSlot": strconv.Itoa(script.TieBreakSlot()),
	})
}

func slotMetadata(code apperrors.Code, message string, slot int) error {
	return apperrors.WithMetadata(code, message, map[string]string{"Slot": strconv.Itoa(slot)})
}

func markOutOfRange(code apperrors.Code, mark float64, policy ExamPolicy) error {
	return apperrors.WithMetadata(code, fmt.Sprintf("mark %v outside %v..%v", mark, policy.MinMark, policy.MaxMark), map[string]string{
		"Mark": formatMark(mark),
		"Min":  formatMark(policy.MinMark),
		"Max":  formatMark(policy.MaxMark),
	})
}

func caseNotFound(caseID string) error {
	return apperrors.WithMetadata(apperrors.CodeCaseNotFound, fmt.Sprintf("discrepancy case %s not found", caseID), map[string]string{
		"CaseID": caseID,
	})
}

func caseAlreadyClosed(c DiscrepancyCase) error {
	return apperrors.WithMetadata(apperrors.CodeCaseAlreadyClosed, fmt.Sprintf("discrepancy case %s is %s", c.ID, c.Status), map[string]string{
		"CaseID": c.ID,
		"Status": string(c.Status),
	})
}

// notReady describes why a script cannot be finalized. Metadata keys
// status, missing_slots and open_case_id are set when they apply.
func notReady(script AnswerScript, missing []int, openCaseID string) error {
	metadata := map[string]string{"status": string(script.Status)}
	var reasons []string
	if script.Status != ScriptStatusInGrading {
		reasons = append(reasons, "status is "+string(script.Status))
	}
	if len(missing) > 0 {
		slots := make([]string, 0, len(missing))
		for _, slot := range missing {
			slots = append(slots, strconv.Itoa(slot))
		}
		metadata["missing_slots"] = strings.Join(slots, ",")
		reasons = append(reasons, "missing marks for slots "+metadata["missing_slots"])
	}
	if openCaseID != "" {
		metadata["open_case_id"] = openCaseID
		reasons = append(reasons, "discrepancy case "+openCaseID+" is open")
	}
	reason := strings.Join(reasons, "; ")
	metadata["Reason"] = reason
	return apperrors.WithMetadata(apperrors.CodeNotReadyToFinalize, fmt.Sprintf("script %s not ready to finalize: %s", script.ID, reason), metadata)
}

func formatMark(mark float64) string {
	return strconv.FormatFloat(mark, 'f', -1, 64)
}
