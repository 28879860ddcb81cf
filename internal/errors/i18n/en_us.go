package i18n

// Error codes must match the codes defined in internal/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeInvalidIdentifier      = "INVALID_IDENTIFIER"
	CodeInvalidSlot            = "INVALID_SLOT"
	CodeInvalidSlotCount       = "INVALID_SLOT_COUNT"
	CodeMarkOutOfRange         = "MARK_OUT_OF_RANGE"
	CodeOverrideMarkOutOfRange = "OVERRIDE_MARK_OUT_OF_RANGE"
	CodeInvalidExamPolicy      = "INVALID_EXAM_POLICY"
	CodeDuplicateScript        = "DUPLICATE_SCRIPT"
	CodeScriptNotFound         = "SCRIPT_NOT_FOUND"
	CodeScriptSealed           = "SCRIPT_SEALED"
	CodeScriptNotFinalized     = "SCRIPT_NOT_FINALIZED"
	CodeSlotAlreadyAssigned    = "SLOT_ALREADY_ASSIGNED"
	CodeSlotNotAssigned        = "SLOT_NOT_ASSIGNED"
	CodeReassignmentNotAllowed = "REASSIGNMENT_NOT_ALLOWED"
	CodeAssignmentIncomplete   = "ASSIGNMENT_INCOMPLETE"
	CodeExaminerMismatch       = "EXAMINER_MISMATCH"
	CodeCaseNotFound           = "CASE_NOT_FOUND"
	CodeCaseAlreadyClosed      = "CASE_ALREADY_CLOSED"
	CodeTieBreakNotRequested   = "TIE_BREAK_NOT_REQUESTED"
	CodeNotReadyToFinalize     = "NOT_READY_TO_FINALIZE"
	CodeResultNotFound         = "RESULT_NOT_FOUND"
	CodeExamPolicyNotFound     = "EXAM_POLICY_NOT_FOUND"
	CodeExamPolicyConflict     = "EXAM_POLICY_CONFLICT"
	CodeContention             = "CONTENTION"
)

var enUSCatalog = &Catalog{
	locale: BaseLocale,
	messages: map[Code]string{
		CodeInvalidIdentifier:      "The {{.Field}} is missing or malformed.",
		CodeInvalidSlot:            "Slot {{.Slot}} does not exist on this script; valid slots are 1 to {{.MaxSlot}}.",
		CodeInvalidSlotCount:       "A script needs between {{.Min}} and {{.Max}} required examiner slots.",
		CodeMarkOutOfRange:         "The mark {{.Mark}} is outside the allowed range {{.Min}} to {{.Max}}.",
		CodeOverrideMarkOutOfRange: "The override mark {{.Mark}} is outside the allowed range {{.Min}} to {{.Max}}.",
		CodeInvalidExamPolicy:      "The grading policy for this exam is invalid: {{.Reason}}.",
		CodeDuplicateScript:        "An answer script for this student already exists in this exam.",
		CodeScriptNotFound:         "The answer script could not be found.",
		CodeScriptSealed:           "This answer script has already been finalized and can no longer change.",
		CodeScriptNotFinalized:     "Only finalized answer scripts can be archived.",
		CodeSlotAlreadyAssigned:    "Slot {{.Slot}} already has an examiner assigned.",
		CodeSlotNotAssigned:        "No examiner is assigned to slot {{.Slot}} yet.",
		CodeReassignmentNotAllowed: "Slot {{.Slot}} can no longer be reassigned because grading has started.",
		CodeAssignmentIncomplete:   "Marks can be submitted once every required slot has an examiner.",
		CodeExaminerMismatch:       "You are not the examiner assigned to slot {{.Slot}}.",
		CodeCaseNotFound:           "The discrepancy case could not be found.",
		CodeCaseAlreadyClosed:      "This discrepancy case has already been resolved.",
		CodeTieBreakNotRequested:   "The tie-break slot only accepts a mark while a discrepancy awaits a tie-break.",
		CodeNotReadyToFinalize:     "The script cannot be finalized yet: {{.Reason}}.",
		CodeResultNotFound:         "No final result exists for this answer script yet.",
		CodeExamPolicyNotFound:     "No grading policy is registered for this exam.",
		CodeExamPolicyConflict:     "A different grading policy is already registered for this exam.",
		CodeContention:             "The script is busy with another change; please try again.",
	},
}
