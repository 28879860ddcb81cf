package domain

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
)

// markTieTolerance treats two pair differences as equal.
const markTieTolerance = 1e-9

// Finalizer computes and seals the authoritative mark of a script.
type Finalizer struct {
	c *core
}

// NewFinalizer builds the finalization engine.
func NewFinalizer(store Store, opts ...Option) *Finalizer {
	return &Finalizer{c: newCore(store, opts)}
}

// TryFinalize seals a script whose required slots all hold active marks and
// which has no open discrepancy. A finalized script returns its existing
// result without side effects.
func (f *Finalizer) TryFinalize(ctx context.Context, scriptID string) (FinalResult, error) {
	if err := f.c.ready(); err != nil {
		return FinalResult{}, err
	}
	scriptID, err := normalizeID("script id", scriptID)
	if err != nil {
		return FinalResult{}, err
	}

	var (
		result  FinalResult
		created bool
	)
	err = f.c.withinScript(ctx, scriptID, func(ctx context.Context, tx Tx) error {
		created = false
		script, err := loadScript(ctx, tx, scriptID)
		if err != nil {
			return err
		}
		if script.Sealed() {
			existing, err := tx.Results().GetFinalResult(ctx, scriptID)
			if err != nil {
				return fmt.Errorf("load final result %s: %w", scriptID, err)
			}
			result = existing
			return nil
		}

		entries, err := tx.Grades().ListGradeEntries(ctx, scriptID)
		if err != nil {
			return fmt.Errorf("list grade entries: %w", err)
		}
		cases, err := tx.Cases().ListCasesByScript(ctx, scriptID)
		if err != nil {
			return fmt.Errorf("list discrepancy cases: %w", err)
		}
		active := activeEntries(entries)

		var missing []int
		for slot := 1; slot <= script.RequiredSlots; slot++ {
			if _, ok := active[slot]; !ok {
				missing = append(missing, slot)
			}
		}
		open, hasOpen := openCase(cases)
		if script.Status != ScriptStatusInGrading || len(missing) > 0 || hasOpen {
			openID := ""
			if hasOpen {
				openID = open.ID
			}
			return notReady(script, missing, openID)
		}

		now := f.c.now()
		computed, err := computeFinalResult(script, active, cases)
		if err != nil {
			return err
		}
		computed.FinalizedAt = now

		if err := tx.Results().InsertFinalResult(ctx, computed); err != nil {
			return fmt.Errorf("insert final result %s: %w", scriptID, err)
		}
		eventID, err := f.c.newID()
		if err != nil {
			return fmt.Errorf("generate event id: %w", err)
		}
		event, err := newScriptFinalizedEvent(eventID, computed)
		if err != nil {
			return err
		}
		if err := tx.Outbox().AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("append script finalized event: %w", err)
		}

		script.Status = ScriptStatusFinalized
		script.FinalizedAt = &now
		if err := saveScript(ctx, tx, &script, now); err != nil {
			return err
		}
		result = computed
		created = true
		return nil
	})
	if err != nil {
		return FinalResult{}, err
	}
	if created && f.c.onFinalized != nil {
		f.c.onFinalized(result.Clone())
	}
	return result, nil
}

// GetFinalResult reads the final result of a script.
func (f *Finalizer) GetFinalResult(ctx context.Context, scriptID string) (FinalResult, error) {
	if err := f.c.ready(); err != nil {
		return FinalResult{}, err
	}
	scriptID, err := normalizeID("script id", scriptID)
	if err != nil {
		return FinalResult{}, err
	}
	result, err := f.c.store.Results().GetFinalResult(ctx, scriptID)
	if errors.Is(err, ErrNotFound) {
		return FinalResult{}, apperrors.WithMetadata(apperrors.CodeResultNotFound, fmt.Sprintf("script %s has no final result", scriptID), map[string]string{
			"ScriptID": scriptID,
		})
	}
	if err != nil {
		return FinalResult{}, fmt.Errorf("load final result %s: %w", scriptID, err)
	}
	return result, nil
}

// computeFinalResult derives the final mark from the most recent case, or
// averages the required primary marks when the script never disagreed.
func computeFinalResult(script AnswerScript, active map[int]GradeEntry, cases []DiscrepancyCase) (FinalResult, error) {
	result := FinalResult{
		ScriptID:  script.ID,
		ExamID:    script.ExamID,
		StudentID: script.StudentID,
	}
	for slot := 1; slot <= script.TieBreakSlot(); slot++ {
		if entry, ok := active[slot]; ok {
			result.ExaminerIDs = append(result.ExaminerIDs, entry.ExaminerID)
		}
	}

	latest, ok := latestCase(cases)
	switch {
	case !ok:
		marks := make([]float64, 0, script.RequiredSlots)
		for slot := 1; slot <= script.RequiredSlots; slot++ {
			marks = append(marks, active[slot].Mark)
		}
		result.FinalMark = average(marks...)
		result.Method = MethodAverage
	case latest.Status == CaseStatusResolvedByOverride && latest.OverrideMark != nil:
		result.FinalMark = *latest.OverrideMark
		result.Method = MethodOverride
		result.CaseID = latest.ID
	case latest.Status == CaseStatusResolvedByTieBreak && latest.TieBreakMark != nil:
		tieBreak := *latest.TieBreakMark
		if entry, ok := active[script.TieBreakSlot()]; ok {
			tieBreak = entry.Mark
		}
		result.FinalMark = tieBreakMark(script.Policy.TieBreak, active[comparedSlotA].Mark, active[comparedSlotB].Mark, tieBreak)
		result.Method = MethodTieBreakAverage
		result.CaseID = latest.ID
	default:
		return FinalResult{}, fmt.Errorf("discrepancy case %s has unusable status %s", latest.ID, latest.Status)
	}
	return result, nil
}

// tieBreakMark combines the two disputed marks with the tie-break mark. With
// ClosestPair, a tie between the closest pairs falls back to all three.
func tieBreakMark(policy TieBreakPolicy, a, b, t float64) float64 {
	if policy != TieBreakClosestPair {
		return average(a, b, t)
	}
	pairs := [][2]float64{{a, b}, {a, t}, {b, t}}
	best := 0
	for i := 1; i < len(pairs); i++ {
		if markDifference(pairs[i][0], pairs[i][1]) < markDifference(pairs[best][0], pairs[best][1]) {
			best = i
		}
	}
	smallest := markDifference(pairs[best][0], pairs[best][1])
	ties := 0
	for _, pair := range pairs {
		if markDifference(pair[0], pair[1])-smallest <= markTieTolerance {
			ties++
		}
	}
	if ties > 1 {
		return average(a, b, t)
	}
	return average(pairs[best][0], pairs[best][1])
}

func average(marks ...float64) float64 {
	if len(marks) == 0 {
		return 0
	}
	var sum float64
	for _, mark := range marks {
		sum += mark
	}
	return sum / float64(len(marks))
}
