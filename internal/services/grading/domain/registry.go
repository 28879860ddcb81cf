package domain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
)

const maxRemarksLength = 2000

// Registry creates answer scripts, manages their examiner slots and holds
// exam grading policies.
type Registry struct {
	c *core
}

// NewRegistry builds the script registry.
func NewRegistry(store Store, opts ...Option) *Registry {
	return &Registry{c: newCore(store, opts)}
}

// RegisterExamPolicy stores the grading policy of an exam. Registering the
// same rules again is a no-op; different rules fail with ExamPolicyConflict.
func (r *Registry) RegisterExamPolicy(ctx context.Context, policy ExamPolicy) (ExamPolicy, error) {
	if err := r.c.ready(); err != nil {
		return ExamPolicy{}, err
	}
	examID, err := normalizeID("exam id", policy.ExamID)
	if err != nil {
		return ExamPolicy{}, err
	}
	policy.ExamID = examID
	if err := policy.Validate(); err != nil {
		return ExamPolicy{}, err
	}
	policy.CreatedAt = r.c.now()

	insertErr := r.c.store.Policies().InsertExamPolicy(ctx, policy)
	if insertErr == nil {
		return policy, nil
	}
	if !errors.Is(insertErr, ErrDuplicate) {
		return ExamPolicy{}, fmt.Errorf("insert exam policy %s: %w", examID, insertErr)
	}
	existing, err := r.c.store.Policies().GetExamPolicy(ctx, examID)
	if err != nil {
		return ExamPolicy{}, fmt.Errorf("load exam policy %s: %w", examID, err)
	}
	if !existing.SameRules(policy) {
		return ExamPolicy{}, apperrors.WithMetadata(apperrors.CodeExamPolicyConflict, fmt.Sprintf("exam %s already has a different policy", examID), map[string]string{
			"ExamID": examID,
		})
	}
	return existing, nil
}

// GetExamPolicy returns the registered policy of an exam.
func (r *Registry) GetExamPolicy(ctx context.Context, examID string) (ExamPolicy, error) {
	if err := r.c.ready(); err != nil {
		return ExamPolicy{}, err
	}
	examID, err := normalizeID("exam id", examID)
	if err != nil {
		return ExamPolicy{}, err
	}
	policy, err := r.c.store.Policies().GetExamPolicy(ctx, examID)
	if errors.Is(err, ErrNotFound) {
		return ExamPolicy{}, apperrors.WithMetadata(apperrors.CodeExamPolicyNotFound, fmt.Sprintf("exam %s has no policy", examID), map[string]string{
			"ExamID": examID,
		})
	}
	if err != nil {
		return ExamPolicy{}, fmt.Errorf("load exam policy %s: %w", examID, err)
	}
	return policy, nil
}

// CreateScript registers a new answer script in Created status. The exam's
// policy, or the default policy when none is registered, is copied onto it.
func (r *Registry) CreateScript(ctx context.Context, examID string, studentID string, requiredSlots int) (AnswerScript, error) {
	if err := r.c.ready(); err != nil {
		return AnswerScript{}, err
	}
	examID, err := normalizeID("exam id", examID)
	if err != nil {
		return AnswerScript{}, err
	}
	studentID, err = normalizeID("student id", studentID)
	if err != nil {
		return AnswerScript{}, err
	}
	if requiredSlots < MinRequiredSlots || requiredSlots > MaxRequiredSlots {
		return AnswerScript{}, apperrors.WithMetadata(apperrors.CodeInvalidSlotCount, fmt.Sprintf("required slot count %d outside %d..%d", requiredSlots, MinRequiredSlots, MaxRequiredSlots), map[string]string{
			"Count": strconv.Itoa(requiredSlots),
			"Min":   strconv.Itoa(MinRequiredSlots),
			"Max":   strconv.Itoa(MaxRequiredSlots),
		})
	}

	policy, err := r.c.store.Policies().GetExamPolicy(ctx, examID)
	switch {
	case errors.Is(err, ErrNotFound):
		policy = r.c.defaultPolicy
		policy.ExamID = examID
	case err != nil:
		return AnswerScript{}, fmt.Errorf("load exam policy %s: %w", examID, err)
	}

	scriptID, err := r.c.newID()
	if err != nil {
		return AnswerScript{}, fmt.Errorf("generate script id: %w", err)
	}
	now := r.c.now()
	script := AnswerScript{
		ID:            scriptID,
		ExamID:        examID,
		StudentID:     studentID,
		Status:        ScriptStatusCreated,
		RequiredSlots: requiredSlots,
		Examiners:     make([]string, requiredSlots+1),
		Policy:        policy,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = r.c.withinScript(ctx, scriptID, func(ctx context.Context, tx Tx) error {
		return tx.Scripts().InsertScript(ctx, script)
	})
	if errors.Is(err, ErrDuplicate) {
		return AnswerScript{}, apperrors.WithMetadata(apperrors.CodeDuplicateScript, fmt.Sprintf("script for student %s in exam %s already exists", studentID, examID), map[string]string{
			"ExamID":    examID,
			"StudentID": studentID,
		})
	}
	if err != nil {
		return AnswerScript{}, err
	}
	return script, nil
}

// AssignExaminer fills an empty slot. Filling the last required primary slot
// moves a Created script to Assigned. The tie-break slot may be filled at any
// time before finalization and does not count toward the required slots.
func (r *Registry) AssignExaminer(ctx context.Context, scriptID string, slot int, examinerID string) (AnswerScript, error) {
	if err := r.c.ready(); err != nil {
		return AnswerScript{}, err
	}
	scriptID, err := normalizeID("script id", scriptID)
	if err != nil {
		return AnswerScript{}, err
	}
	examinerID, err = normalizeID("examiner id", examinerID)
	if err != nil {
		return AnswerScript{}, err
	}

	var updated AnswerScript
	err = r.c.withinScript(ctx, scriptID, func(ctx context.Context, tx Tx) error {
		script, err := loadScript(ctx, tx, scriptID)
		if err != nil {
			return err
		}
		if script.Sealed() {
			return scriptSealed(scriptID)
		}
		if !script.ValidSlot(slot) {
			return invalidSlot(script, slot)
		}
		if script.ExaminerAt(slot) != "" {
			return slotMetadata(apperrors.CodeSlotAlreadyAssigned, fmt.Sprintf("slot %d of script %s already assigned", slot, scriptID), slot)
		}

		script.Examiners[slot-1] = examinerID
		if script.Status == ScriptStatusCreated && script.requiredSlotsAssigned() {
			script.Status = ScriptStatusAssigned
		}
		if err := saveScript(ctx, tx, &script, r.c.now()); err != nil {
			return err
		}
		updated = script
		return nil
	})
	if err != nil {
		return AnswerScript{}, err
	}
	return updated, nil
}

// ReassignExaminer replaces the examiner of an assigned slot. Primary slots
// can be reassigned while the script is Created or Assigned and the slot has
// never been graded; the tie-break slot while it has never been graded and the
// script is not finalized.
func (r *Registry) ReassignExaminer(ctx context.Context, scriptID string, slot int, examinerID string, actorID string) (AnswerScript, error) {
	if err := r.c.ready(); err != nil {
		return AnswerScript{}, err
	}
	scriptID, err := normalizeID("script id", scriptID)
	if err != nil {
		return AnswerScript{}, err
	}
	examinerID, err = normalizeID("examiner id", examinerID)
	if err != nil {
		return AnswerScript{}, err
	}
	if _, err := normalizeID("actor id", actorID); err != nil {
		return AnswerScript{}, err
	}

	var updated AnswerScript
	err = r.c.withinScript(ctx, scriptID, func(ctx context.Context, tx Tx) error {
		script, err := loadScript(ctx, tx, scriptID)
		if err != nil {
			return err
		}
		if !script.ValidSlot(slot) {
			return invalidSlot(script, slot)
		}
		if script.ExaminerAt(slot) == "" {
			return slotMetadata(apperrors.CodeSlotNotAssigned, fmt.Sprintf("slot %d of script %s has no examiner", slot, scriptID), slot)
		}

		entries, err := tx.Grades().ListGradeEntries(ctx, scriptID)
		if err != nil {
			return fmt.Errorf("list grade entries: %w", err)
		}
		graded := false
		for _, entry := range entries {
			if entry.Slot == slot {
				graded = true
				break
			}
		}

		allowed := !graded
		if slot == script.TieBreakSlot() {
			allowed = allowed && !script.Sealed()
		} else {
			allowed = allowed && (script.Status == ScriptStatusCreated || script.Status == ScriptStatusAssigned)
		}
		if !allowed {
			return slotMetadata(apperrors.CodeReassignmentNotAllowed, fmt.Sprintf("slot %d of script %s cannot be reassigned in status %s", slot, scriptID, script.Status), slot)
		}

		if script.ExaminerAt(slot) == examinerID {
			updated = script
			return nil
		}
		script.Examiners[slot-1] = examinerID
		if err := saveScript(ctx, tx, &script, r.c.now()); err != nil {
			return err
		}
		updated = script
		return nil
	})
	if err != nil {
		return AnswerScript{}, err
	}
	return updated, nil
}

// SetRemarks replaces the free-text remarks of a script that is not sealed.
func (r *Registry) SetRemarks(ctx context.Context, scriptID string, remarks string) (AnswerScript, error) {
	if err := r.c.ready(); err != nil {
		return AnswerScript{}, err
	}
	scriptID, err := normalizeID("script id", scriptID)
	if err != nil {
		return AnswerScript{}, err
	}
	remarks = strings.TrimSpace(remarks)
	if len(remarks) > maxRemarksLength {
		remarks = remarks[:maxRemarksLength]
	}

	var updated AnswerScript
	err = r.c.withinScript(ctx, scriptID, func(ctx context.Context, tx Tx) error {
		script, err := loadScript(ctx, tx, scriptID)
		if err != nil {
			return err
		}
		if script.Sealed() {
			return scriptSealed(scriptID)
		}
		script.Remarks = remarks
		if err := saveScript(ctx, tx, &script, r.c.now()); err != nil {
			return err
		}
		updated = script
		return nil
	})
	if err != nil {
		return AnswerScript{}, err
	}
	return updated, nil
}

// ArchiveScript marks a finalized script as archived. Archiving twice
// returns the script unchanged.
func (r *Registry) ArchiveScript(ctx context.Context, scriptID string) (AnswerScript, error) {
	if err := r.c.ready(); err != nil {
		return AnswerScript{}, err
	}
	scriptID, err := normalizeID("script id", scriptID)
	if err != nil {
		return AnswerScript{}, err
	}

	var updated AnswerScript
	err = r.c.withinScript(ctx, scriptID, func(ctx context.Context, tx Tx) error {
		script, err := loadScript(ctx, tx, scriptID)
		if err != nil {
			return err
		}
		if !script.Sealed() {
			return apperrors.WithMetadata(apperrors.CodeScriptNotFinalized, fmt.Sprintf("script %s is %s", scriptID, script.Status), map[string]string{
				"ScriptID": scriptID,
			})
		}
		if script.Archived() {
			updated = script
			return nil
		}
		now := r.c.now()
		script.ArchivedAt = &now
		if err := saveScript(ctx, tx, &script, now); err != nil {
			return err
		}
		updated = script
		return nil
	})
	if err != nil {
		return AnswerScript{}, err
	}
	return updated, nil
}

// GetScript reads a script.
func (r *Registry) GetScript(ctx context.Context, scriptID string) (AnswerScript, error) {
	if err := r.c.ready(); err != nil {
		return AnswerScript{}, err
	}
	scriptID, err := normalizeID("script id", scriptID)
	if err != nil {
		return AnswerScript{}, err
	}
	return loadScript(ctx, r.c.store, scriptID)
}

// ListScriptsByExam lists an exam's scripts in creation order.
func (r *Registry) ListScriptsByExam(ctx context.Context, examID string) ([]AnswerScript, error) {
	if err := r.c.ready(); err != nil {
		return nil, err
	}
	examID, err := normalizeID("exam id", examID)
	if err != nil {
		return nil, err
	}
	scripts, err := r.c.store.Scripts().ListScriptsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list scripts for exam %s: %w", examID, err)
	}
	return scripts, nil
}
