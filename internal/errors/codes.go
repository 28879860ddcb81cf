// Package errors provides structured grading errors with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeInvalidIdentifier      Code = "INVALID_IDENTIFIER"
	CodeInvalidSlot            Code = "INVALID_SLOT"
	CodeInvalidSlotCount       Code = "INVALID_SLOT_COUNT"
	CodeMarkOutOfRange         Code = "MARK_OUT_OF_RANGE"
	CodeOverrideMarkOutOfRange Code = "OVERRIDE_MARK_OUT_OF_RANGE"
	CodeInvalidExamPolicy      Code = "INVALID_EXAM_POLICY"
	CodeDuplicateScript        Code = "DUPLICATE_SCRIPT"

	// Script lifecycle errors
	CodeScriptNotFound         Code = "SCRIPT_NOT_FOUND"
	CodeScriptSealed           Code = "SCRIPT_SEALED"
	CodeScriptNotFinalized     Code = "SCRIPT_NOT_FINALIZED"
	CodeSlotAlreadyAssigned    Code = "SLOT_ALREADY_ASSIGNED"
	CodeSlotNotAssigned        Code = "SLOT_NOT_ASSIGNED"
	CodeReassignmentNotAllowed Code = "REASSIGNMENT_NOT_ALLOWED"
	CodeAssignmentIncomplete   Code = "ASSIGNMENT_INCOMPLETE"
	CodeExaminerMismatch       Code = "EXAMINER_MISMATCH"

	// Discrepancy errors
	CodeCaseNotFound         Code = "CASE_NOT_FOUND"
	CodeCaseAlreadyClosed    Code = "CASE_ALREADY_CLOSED"
	CodeTieBreakNotRequested Code = "TIE_BREAK_NOT_REQUESTED"

	// Finalization errors
	CodeNotReadyToFinalize Code = "NOT_READY_TO_FINALIZE"
	CodeResultNotFound     Code = "RESULT_NOT_FOUND"

	// Exam policy errors
	CodeExamPolicyNotFound Code = "EXAM_POLICY_NOT_FOUND"
	CodeExamPolicyConflict Code = "EXAM_POLICY_CONFLICT"

	// Concurrency errors
	CodeContention Code = "CONTENTION"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - caller input problems
	case CodeInvalidIdentifier,
		CodeInvalidSlot,
		CodeInvalidSlotCount,
		CodeMarkOutOfRange,
		CodeOverrideMarkOutOfRange,
		CodeInvalidExamPolicy:
		return codes.InvalidArgument

	// AlreadyExists - uniqueness violations
	case CodeDuplicateScript,
		CodeExamPolicyConflict:
		return codes.AlreadyExists

	// FailedPrecondition - state doesn't allow operation
	case CodeScriptSealed,
		CodeScriptNotFinalized,
		CodeSlotAlreadyAssigned,
		CodeSlotNotAssigned,
		CodeReassignmentNotAllowed,
		CodeAssignmentIncomplete,
		CodeExaminerMismatch,
		CodeCaseAlreadyClosed,
		CodeTieBreakNotRequested,
		CodeNotReadyToFinalize:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeScriptNotFound,
		CodeCaseNotFound,
		CodeResultNotFound,
		CodeExamPolicyNotFound:
		return codes.NotFound

	// Aborted - transient conflicts that exhausted internal retries
	case CodeContention:
		return codes.Aborted

	default:
		return codes.Internal
	}
}
