package domain

import (
	"context"
	"errors"
	"testing"
)

func TestCreateScriptValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.registry.CreateScript(ctx, "exam-1", "student-1", 1); !errors.Is(err, ErrInvalidSlotCount) {
		t.Fatalf("err = %v, want InvalidSlotCount", err)
	}
	if _, err := h.registry.CreateScript(ctx, "exam-1", "student-1", MaxRequiredSlots+1); !errors.Is(err, ErrInvalidSlotCount) {
		t.Fatalf("err = %v, want InvalidSlotCount", err)
	}
	if _, err := h.registry.CreateScript(ctx, "", "student-1", 2); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("err = %v, want InvalidIdentifier", err)
	}
	if _, err := h.registry.CreateScript(ctx, "exam 1", "student-1", 2); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("err = %v, want InvalidIdentifier for embedded space", err)
	}
}

func TestCreateScriptSnapshotsPolicy(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	fallback, err := h.registry.CreateScript(ctx, "exam-1", "student-1", 3)
	if err != nil {
		t.Fatalf("create script: %v", err)
	}
	if fallback.Policy.Threshold != 10 || fallback.Policy.TieBreak != TieBreakClosestPair || fallback.Policy.ExamID != "exam-1" {
		t.Fatalf("default policy not applied: %+v", fallback.Policy)
	}
	if fallback.Status != ScriptStatusCreated || len(fallback.Examiners) != 4 || fallback.TieBreakSlot() != 4 {
		t.Fatalf("unexpected script shape: %+v", fallback)
	}

	if _, err := h.registry.RegisterExamPolicy(ctx, ExamPolicy{ExamID: "exam-2", Threshold: 5, MinMark: 0, MaxMark: 50, TieBreak: TieBreakAllThree}); err != nil {
		t.Fatalf("register policy: %v", err)
	}
	registered, err := h.registry.CreateScript(ctx, "exam-2", "student-1", 2)
	if err != nil {
		t.Fatalf("create script: %v", err)
	}
	if registered.Policy.Threshold != 5 || registered.Policy.MaxMark != 50 || registered.Policy.TieBreak != TieBreakAllThree {
		t.Fatalf("registered policy not applied: %+v", registered.Policy)
	}
}

func TestRegisterExamPolicy(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	policy := ExamPolicy{ExamID: "exam-1", Threshold: 8, MinMark: 0, MaxMark: 80, TieBreak: TieBreakClosestPair}

	if _, err := h.registry.RegisterExamPolicy(ctx, policy); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.registry.RegisterExamPolicy(ctx, policy); err != nil {
		t.Fatalf("re-register same rules: %v", err)
	}
	policy.Threshold = 9
	if _, err := h.registry.RegisterExamPolicy(ctx, policy); !errors.Is(err, ErrExamPolicyConflict) {
		t.Fatalf("err = %v, want ExamPolicyConflict", err)
	}

	got, err := h.registry.GetExamPolicy(ctx, "exam-1")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if got.Threshold != 8 {
		t.Fatalf("threshold = %v, want 8", got.Threshold)
	}
	if _, err := h.registry.GetExamPolicy(ctx, "exam-9"); !errors.Is(err, ErrExamPolicyNotFound) {
		t.Fatalf("err = %v, want ExamPolicyNotFound", err)
	}
}

func TestRegisterExamPolicyValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	invalid := []ExamPolicy{
		{ExamID: "exam-1", Threshold: -1, MinMark: 0, MaxMark: 100, TieBreak: TieBreakAllThree},
		{ExamID: "exam-1", Threshold: 1, MinMark: 100, MaxMark: 100, TieBreak: TieBreakAllThree},
		{ExamID: "exam-1", Threshold: 1, MinMark: 0, MaxMark: 100, TieBreak: "Median"},
	}
	for _, policy := range invalid {
		if _, err := h.registry.RegisterExamPolicy(ctx, policy); !errors.Is(err, ErrInvalidExamPolicy) {
			t.Fatalf("policy %+v: err = %v, want InvalidExamPolicy", policy, err)
		}
	}
}

func TestParseTieBreakPolicy(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]TieBreakPolicy{
		"AllThree":     TieBreakAllThree,
		"all_three":    TieBreakAllThree,
		"closest-pair": TieBreakClosestPair,
		" ClosestPair": TieBreakClosestPair,
	} {
		got, err := ParseTieBreakPolicy(input)
		if err != nil || got != want {
			t.Fatalf("parse %q = %q, %v; want %q", input, got, err, want)
		}
	}
	if _, err := ParseTieBreakPolicy("median"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestAssignExaminerRules(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	script, err := h.registry.CreateScript(ctx, "exam-1", "student-1", 2)
	if err != nil {
		t.Fatalf("create script: %v", err)
	}

	// The tie-break slot does not count toward the required slots.
	script, err = h.registry.AssignExaminer(ctx, script.ID, 3, "examiner-c")
	if err != nil {
		t.Fatalf("assign tie-break: %v", err)
	}
	if script.Status != ScriptStatusCreated {
		t.Fatalf("status = %s, want Created", script.Status)
	}
	if _, err := h.registry.AssignExaminer(ctx, script.ID, 4, "examiner-d"); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("err = %v, want InvalidSlot", err)
	}
	if _, err := h.registry.AssignExaminer(ctx, script.ID, 1, "examiner-a"); err != nil {
		t.Fatalf("assign slot 1: %v", err)
	}
	if _, err := h.registry.AssignExaminer(ctx, script.ID, 1, "examiner-z"); !errors.Is(err, ErrSlotAlreadyAssigned) {
		t.Fatalf("err = %v, want SlotAlreadyAssigned", err)
	}
	script, err = h.registry.AssignExaminer(ctx, script.ID, 2, "examiner-b")
	if err != nil {
		t.Fatalf("assign slot 2: %v", err)
	}
	if script.Status != ScriptStatusAssigned {
		t.Fatalf("status = %s, want Assigned", script.Status)
	}
	if script.Version != 4 {
		t.Fatalf("version = %d, want 4", script.Version)
	}
}

func TestAssignExaminerOnSealedScript(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	script, err := h.registry.CreateScript(ctx, "exam-1", "student-1", 2)
	if err != nil {
		t.Fatalf("create script: %v", err)
	}
	for slot, examiner := range map[int]string{1: "examiner-a", 2: "examiner-b"} {
		if _, err := h.registry.AssignExaminer(ctx, script.ID, slot, examiner); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	h.submit(t, script.ID, 1, "examiner-a", 40)
	h.submit(t, script.ID, 2, "examiner-b", 44)
	if _, err := h.finalizer.TryFinalize(ctx, script.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := h.registry.AssignExaminer(ctx, script.ID, 3, "examiner-c"); !errors.Is(err, ErrScriptSealed) {
		t.Fatalf("err = %v, want ScriptSealed", err)
	}
}

func TestReassignExaminer(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	script := h.assignedScript(t, "student-1")

	updated, err := h.registry.ReassignExaminer(ctx, script.ID, 2, "examiner-d", "admin-1")
	if err != nil {
		t.Fatalf("reassign before grading: %v", err)
	}
	if updated.ExaminerAt(2) != "examiner-d" {
		t.Fatalf("slot 2 examiner = %q, want examiner-d", updated.ExaminerAt(2))
	}

	h.submit(t, script.ID, 1, "examiner-a", 50)
	if _, err := h.registry.ReassignExaminer(ctx, script.ID, 1, "examiner-e", "admin-1"); !errors.Is(err, ErrReassignmentNotAllowed) {
		t.Fatalf("graded slot err = %v, want ReassignmentNotAllowed", err)
	}
	if _, err := h.registry.ReassignExaminer(ctx, script.ID, 2, "examiner-e", "admin-1"); !errors.Is(err, ErrReassignmentNotAllowed) {
		t.Fatalf("in-grading err = %v, want ReassignmentNotAllowed", err)
	}

	// The tie-break slot stays reassignable until it has been graded.
	if _, err := h.registry.ReassignExaminer(ctx, script.ID, 3, "examiner-f", "admin-1"); err != nil {
		t.Fatalf("reassign tie-break: %v", err)
	}
}

func TestReassignUnassignedSlot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	script, err := h.registry.CreateScript(ctx, "exam-1", "student-1", 2)
	if err != nil {
		t.Fatalf("create script: %v", err)
	}
	if _, err := h.registry.ReassignExaminer(ctx, script.ID, 1, "examiner-a", "admin-1"); !errors.Is(err, ErrSlotNotAssigned) {
		t.Fatalf("err = %v, want SlotNotAssigned", err)
	}
}

func TestSetRemarksAndArchive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	script := h.assignedScript(t, "student-1")

	if _, err := h.registry.ArchiveScript(ctx, script.ID); !errors.Is(err, ErrScriptNotFinalized) {
		t.Fatalf("err = %v, want ScriptNotFinalized", err)
	}
	updated, err := h.registry.SetRemarks(ctx, script.ID, "  page 4 missing  ")
	if err != nil {
		t.Fatalf("set remarks: %v", err)
	}
	if updated.Remarks != "page 4 missing" {
		t.Fatalf("remarks = %q", updated.Remarks)
	}

	h.submit(t, script.ID, 1, "examiner-a", 30)
	h.submit(t, script.ID, 2, "examiner-b", 31)
	if _, err := h.finalizer.TryFinalize(ctx, script.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := h.registry.SetRemarks(ctx, script.ID, "late"); !errors.Is(err, ErrScriptSealed) {
		t.Fatalf("err = %v, want ScriptSealed", err)
	}

	archived, err := h.registry.ArchiveScript(ctx, script.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !archived.Archived() || archived.Status != ScriptStatusFinalized {
		t.Fatalf("unexpected archived script: %+v", archived)
	}
	again, err := h.registry.ArchiveScript(ctx, script.ID)
	if err != nil {
		t.Fatalf("archive twice: %v", err)
	}
	if again.Version != archived.Version {
		t.Fatalf("version = %d, want unchanged %d", again.Version, archived.Version)
	}
}

func TestListScriptsByExam(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	for _, student := range []string{"student-1", "student-2"} {
		if _, err := h.registry.CreateScript(ctx, "exam-1", student, 2); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := h.registry.CreateScript(ctx, "exam-2", "student-1", 2); err != nil {
		t.Fatalf("create: %v", err)
	}
	scripts, err := h.registry.ListScriptsByExam(ctx, "exam-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("scripts = %d, want 2", len(scripts))
	}
}
