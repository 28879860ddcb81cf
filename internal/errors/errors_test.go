package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeScriptSealed, "script is sealed")
	detailed := WithMetadata(CodeScriptSealed, "script s-1 is sealed", map[string]string{"ScriptID": "s-1"})

	if !stderrors.Is(fmt.Errorf("submit mark: %w", detailed), sentinel) {
		t.Fatal("expected wrapped error to match sentinel by code")
	}
	if stderrors.Is(detailed, New(CodeCaseNotFound, "other")) {
		t.Fatal("expected different codes not to match")
	}
}

func TestWrapExposesCause(t *testing.T) {
	cause := stderrors.New("busy")
	err := Wrap(CodeContention, "retries exhausted", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if GetCode(err) != CodeContention {
		t.Fatalf("code = %s, want %s", GetCode(err), CodeContention)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	cases := map[Code]codes.Code{
		CodeMarkOutOfRange:     codes.InvalidArgument,
		CodeDuplicateScript:    codes.AlreadyExists,
		CodeNotReadyToFinalize: codes.FailedPrecondition,
		CodeCaseNotFound:       codes.NotFound,
		CodeContention:         codes.Aborted,
		CodeUnknown:            codes.Internal,
	}
	for code, want := range cases {
		if got := code.GRPCCode(); got != want {
			t.Fatalf("%s -> %s, want %s", code, got, want)
		}
	}
}

func TestHandleErrorAttachesDetails(t *testing.T) {
	err := WithMetadata(CodeExaminerMismatch, "examiner e-9 is not assigned to slot 1", map[string]string{"Slot": "1"})

	st := HandleError(fmt.Errorf("submit: %w", err), "")
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("status code = %s, want FailedPrecondition", st.Code())
	}

	var info *errdetails.ErrorInfo
	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			info = d
		case *errdetails.LocalizedMessage:
			localized = d
		}
	}
	if info == nil || info.GetReason() != string(CodeExaminerMismatch) {
		t.Fatalf("expected error info with reason, got %+v", info)
	}
	if info.GetDomain() != Domain {
		t.Fatalf("domain = %q, want %q", info.GetDomain(), Domain)
	}
	if localized == nil || localized.GetMessage() != "You are not the examiner assigned to slot 1." {
		t.Fatalf("unexpected localized message: %+v", localized)
	}
}

func TestHandleErrorNonDomain(t *testing.T) {
	if got := HandleError(stderrors.New("disk full"), "en-US").Code(); got != codes.Internal {
		t.Fatalf("status = %s, want Internal", got)
	}
	if got := HandleError(context.DeadlineExceeded, "").Code(); got != codes.DeadlineExceeded {
		t.Fatalf("status = %s, want DeadlineExceeded", got)
	}
	if got := HandleError(nil, "").Code(); got != codes.OK {
		t.Fatalf("status = %s, want OK", got)
	}
}

func TestGetMetadata(t *testing.T) {
	err := WithMetadata(CodeInvalidSlot, "bad slot", map[string]string{"Slot": "7"})
	if GetMetadata(err)["Slot"] != "7" {
		t.Fatal("expected metadata")
	}
	if GetMetadata(stderrors.New("plain")) != nil {
		t.Fatal("expected nil metadata for plain error")
	}
	if !IsCode(err, CodeInvalidSlot) {
		t.Fatal("expected IsCode match")
	}
}
