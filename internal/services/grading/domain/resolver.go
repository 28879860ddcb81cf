package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
)

// Resolver opens discrepancy cases when the first two primary marks
// disagree by more than the exam threshold, and closes them by override or
// by a tie-break mark.
type Resolver struct {
	c *core
}

// NewResolver builds the discrepancy resolver.
func NewResolver(store Store, opts ...Option) *Resolver {
	return &Resolver{c: newCore(store, opts)}
}

// evaluateDiscrepancy opens a case when slots 1 and 2 both hold active marks
// whose difference exceeds the threshold. An open case is left as it is even
// if the gap narrowed, and a pair of entries already settled by a closed case
// is not re-opened.
func (c *core) evaluateDiscrepancy(ctx context.Context, tx Tx, script *AnswerScript, active map[int]GradeEntry, cases []DiscrepancyCase, now time.Time) error {
	a, okA := active[comparedSlotA]
	b, okB := active[comparedSlotB]
	if !okA || !okB {
		return nil
	}
	difference := markDifference(a.Mark, b.Mark)
	if difference <= script.Policy.Threshold {
		return nil
	}
	if _, ok := openCase(cases); ok {
		return nil
	}
	if latest, ok := latestCase(cases); ok && latest.covers(a.ID, b.ID) {
		return nil
	}

	caseID, err := c.newID()
	if err != nil {
		return fmt.Errorf("generate discrepancy case id: %w", err)
	}
	opened := DiscrepancyCase{
		ID:         caseID,
		ScriptID:   script.ID,
		ExamID:     script.ExamID,
		SlotA:      comparedSlotA,
		SlotB:      comparedSlotB,
		EntryA:     a.ID,
		EntryB:     b.ID,
		MarkA:      a.Mark,
		MarkB:      b.Mark,
		Difference: difference,
		Threshold:  script.Policy.Threshold,
		Status:     CaseStatusOpen,
		OpenedAt:   now,
	}
	if err := tx.Cases().InsertCase(ctx, opened); err != nil {
		return fmt.Errorf("insert discrepancy case: %w", err)
	}
	script.Status = ScriptStatusDiscrepancyOpen
	return nil
}

// closeByTieBreak resolves an awaiting case with the tie-break entry and
// returns the script to grading.
func closeByTieBreak(ctx context.Context, tx Tx, script *AnswerScript, open DiscrepancyCase, entry GradeEntry, now time.Time) error {
	mark := entry.Mark
	open.Status = CaseStatusResolvedByTieBreak
	open.TieBreakSlot = entry.Slot
	open.TieBreakExaminer = entry.ExaminerID
	open.TieBreakEntryID = entry.ID
	open.TieBreakMark = &mark
	open.ClosedAt = &now
	if err := tx.Cases().UpdateCase(ctx, open); err != nil {
		return fmt.Errorf("close discrepancy case %s: %w", open.ID, err)
	}
	script.Status = ScriptStatusInGrading
	return nil
}

// ResolveByOverride closes an open case with an administrator's mark.
func (r *Resolver) ResolveByOverride(ctx context.Context, caseID string, finalMark float64, actorID string) (DiscrepancyCase, error) {
	if err := r.c.ready(); err != nil {
		return DiscrepancyCase{}, err
	}
	caseID, err := normalizeID("case id", caseID)
	if err != nil {
		return DiscrepancyCase{}, err
	}
	actorID, err = normalizeID("actor id", actorID)
	if err != nil {
		return DiscrepancyCase{}, err
	}

	var resolved DiscrepancyCase
	err = r.mutateCase(ctx, caseID, func(ctx context.Context, tx Tx, script *AnswerScript, c *DiscrepancyCase, now time.Time) (bool, error) {
		if !script.Policy.InRange(finalMark) {
			return false, markOutOfRange(apperrors.CodeOverrideMarkOutOfRange, finalMark, script.Policy)
		}
		mark := finalMark
		c.Status = CaseStatusResolvedByOverride
		c.OverrideMark = &mark
		c.ResolvedBy = actorID
		c.ClosedAt = &now
		script.Status = ScriptStatusInGrading
		resolved = *c
		return true, nil
	})
	if err != nil {
		return DiscrepancyCase{}, err
	}
	return resolved, nil
}

// ResolveByTieBreak marks an open case as awaiting a mark on the script's
// tie-break slot. Requesting it again while the case is open is a no-op.
func (r *Resolver) ResolveByTieBreak(ctx context.Context, caseID string) (DiscrepancyCase, error) {
	if err := r.c.ready(); err != nil {
		return DiscrepancyCase{}, err
	}
	caseID, err := normalizeID("case id", caseID)
	if err != nil {
		return DiscrepancyCase{}, err
	}

	var requested DiscrepancyCase
	err = r.mutateCase(ctx, caseID, func(ctx context.Context, tx Tx, script *AnswerScript, c *DiscrepancyCase, now time.Time) (bool, error) {
		if c.TieBreakRequestedAt != nil {
			requested = *c
			return false, nil
		}
		c.TieBreakRequestedAt = &now
		c.TieBreakSlot = script.TieBreakSlot()
		requested = *c
		return true, nil
	})
	if err != nil {
		return DiscrepancyCase{}, err
	}
	return requested, nil
}

// mutateCase locks the case's script, checks the case is still open and
// persists the case and script when change reports a modification.
func (r *Resolver) mutateCase(ctx context.Context, caseID string, change func(ctx context.Context, tx Tx, script *AnswerScript, c *DiscrepancyCase, now time.Time) (bool, error)) error {
	located, err := r.c.store.Cases().GetCase(ctx, caseID)
	if errors.Is(err, ErrNotFound) {
		return caseNotFound(caseID)
	}
	if err != nil {
		return fmt.Errorf("load discrepancy case %s: %w", caseID, err)
	}

	return r.c.withinScript(ctx, located.ScriptID, func(ctx context.Context, tx Tx) error {
		current, err := tx.Cases().GetCase(ctx, caseID)
		if errors.Is(err, ErrNotFound) {
			return caseNotFound(caseID)
		}
		if err != nil {
			return fmt.Errorf("load discrepancy case %s: %w", caseID, err)
		}
		if !current.Open() {
			return caseAlreadyClosed(current)
		}
		script, err := loadScript(ctx, tx, current.ScriptID)
		if err != nil {
			return err
		}
		if script.Sealed() {
			return scriptSealed(script.ID)
		}

		now := r.c.now()
		changed, err := change(ctx, tx, &script, &current, now)
		if err != nil || !changed {
			return err
		}
		if err := tx.Cases().UpdateCase(ctx, current); err != nil {
			return fmt.Errorf("update discrepancy case %s: %w", caseID, err)
		}
		return saveScript(ctx, tx, &script, now)
	})
}

// GetCase reads a discrepancy case.
func (r *Resolver) GetCase(ctx context.Context, caseID string) (DiscrepancyCase, error) {
	if err := r.c.ready(); err != nil {
		return DiscrepancyCase{}, err
	}
	caseID, err := normalizeID("case id", caseID)
	if err != nil {
		return DiscrepancyCase{}, err
	}
	found, err := r.c.store.Cases().GetCase(ctx, caseID)
	if errors.Is(err, ErrNotFound) {
		return DiscrepancyCase{}, caseNotFound(caseID)
	}
	if err != nil {
		return DiscrepancyCase{}, fmt.Errorf("load discrepancy case %s: %w", caseID, err)
	}
	return found, nil
}

// ListOpenCases returns the review queue of open cases, optionally limited
// to one exam.
func (r *Resolver) ListOpenCases(ctx context.Context, examID string) ([]DiscrepancyCase, error) {
	if err := r.c.ready(); err != nil {
		return nil, err
	}
	if examID != "" {
		normalized, err := normalizeID("exam id", examID)
		if err != nil {
			return nil, err
		}
		examID = normalized
	}
	cases, err := r.c.store.Cases().ListOpenCases(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list open discrepancy cases: %w", err)
	}
	return cases, nil
}

// ListCasesForScript returns every case of a script, oldest first.
func (r *Resolver) ListCasesForScript(ctx context.Context, scriptID string) ([]DiscrepancyCase, error) {
	if err := r.c.ready(); err != nil {
		return nil, err
	}
	scriptID, err := normalizeID("script id", scriptID)
	if err != nil {
		return nil, err
	}
	if _, err := loadScript(ctx, r.c.store, scriptID); err != nil {
		return nil, err
	}
	cases, err := r.c.store.Cases().ListCasesByScript(ctx, scriptID)
	if err != nil {
		return nil, fmt.Errorf("list discrepancy cases: %w", err)
	}
	return cases, nil
}

func openCase(cases []DiscrepancyCase) (DiscrepancyCase, bool) {
	for _, c := range cases {
		if c.Open() {
			return c, true
		}
	}
	return DiscrepancyCase{}, false
}

func latestCase(cases []DiscrepancyCase) (DiscrepancyCase, bool) {
	if len(cases) == 0 {
		return DiscrepancyCase{}, false
	}
	return cases[len(cases)-1], true
}
