package domain

import (
	"context"
	"fmt"
	"math"
	"time"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
)

// Ledger records examiner marks. Every submission supersedes the previous
// active mark of its slot and re-evaluates discrepancies in the same unit of
// work.
type Ledger struct {
	c *core
}

// NewLedger builds the grading ledger.
func NewLedger(store Store, opts ...Option) *Ledger {
	return &Ledger{c: newCore(store, opts)}
}

// SubmitMark records a mark for a slot. A mark on the tie-break slot is only
// accepted while an open discrepancy case awaits a tie-break, and closes it.
func (l *Ledger) SubmitMark(ctx context.Context, scriptID string, slot int, examinerID string, mark float64) (GradeEntry, error) {
	if err := l.c.ready(); err != nil {
		return GradeEntry{}, err
	}
	scriptID, err := normalizeID("script id", scriptID)
	if err != nil {
		return GradeEntry{}, err
	}
	examinerID, err = normalizeID("examiner id", examinerID)
	if err != nil {
		return GradeEntry{}, err
	}

	var recorded GradeEntry
	err = l.c.withinScript(ctx, scriptID, func(ctx context.Context, tx Tx) error {
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
		assigned := script.ExaminerAt(slot)
		if assigned == "" {
			return slotMetadata(apperrors.CodeSlotNotAssigned, fmt.Sprintf("slot %d of script %s has no examiner", slot, scriptID), slot)
		}
		if assigned != examinerID {
			return slotMetadata(apperrors.CodeExaminerMismatch, fmt.Sprintf("examiner %s is not assigned to slot %d of script %s", examinerID, slot, scriptID), slot)
		}
		if !script.Policy.InRange(mark) {
			return markOutOfRange(apperrors.CodeMarkOutOfRange, mark, script.Policy)
		}
		if script.Status == ScriptStatusCreated {
			return apperrors.WithMetadata(apperrors.CodeAssignmentIncomplete, fmt.Sprintf("script %s still has unassigned required slots", scriptID), map[string]string{
				"ScriptID": scriptID,
			})
		}

		entries, err := tx.Grades().ListGradeEntries(ctx, scriptID)
		if err != nil {
			return fmt.Errorf("list grade entries: %w", err)
		}
		cases, err := tx.Cases().ListCasesByScript(ctx, scriptID)
		if err != nil {
			return fmt.Errorf("list discrepancy cases: %w", err)
		}

		var awaiting *DiscrepancyCase
		if slot == script.TieBreakSlot() {
			if open, ok := openCase(cases); ok && open.AwaitingTieBreak() {
				awaiting = &open
			} else {
				return slotMetadata(apperrors.CodeTieBreakNotRequested, fmt.Sprintf("script %s has no discrepancy awaiting a tie-break", scriptID), slot)
			}
		}

		now := l.c.now()
		entry, err := l.record(ctx, tx, script, entries, slot, examinerID, mark, now)
		if err != nil {
			return err
		}

		if awaiting != nil {
			if err := closeByTieBreak(ctx, tx, &script, *awaiting, entry, now); err != nil {
				return err
			}
		} else {
			if script.Status == ScriptStatusAssigned {
				script.Status = ScriptStatusInGrading
			}
			active := activeEntries(replaceActive(entries, entry, now))
			if err := l.c.evaluateDiscrepancy(ctx, tx, &script, active, cases, now); err != nil {
				return err
			}
		}

		if err := saveScript(ctx, tx, &script, now); err != nil {
			return err
		}
		recorded = entry
		return nil
	})
	if err != nil {
		return GradeEntry{}, err
	}
	return recorded, nil
}

// record supersedes the slot's active entry, if any, and inserts the new one.
func (l *Ledger) record(ctx context.Context, tx Tx, script AnswerScript, entries []GradeEntry, slot int, examinerID string, mark float64, now time.Time) (GradeEntry, error) {
	revised := false
	for _, existing := range entries {
		if existing.Slot != slot || !existing.Active() {
			continue
		}
		if err := tx.Grades().SupersedeGradeEntry(ctx, existing.ID, now); err != nil {
			return GradeEntry{}, fmt.Errorf("supersede grade entry %s: %w", existing.ID, err)
		}
		revised = true
	}

	entryID, err := l.c.newID()
	if err != nil {
		return GradeEntry{}, fmt.Errorf("generate grade entry id: %w", err)
	}
	entry := GradeEntry{
		ID:          entryID,
		ScriptID:    script.ID,
		Slot:        slot,
		ExaminerID:  examinerID,
		Mark:        mark,
		Revised:     revised,
		SubmittedAt: now,
	}
	if err := tx.Grades().InsertGradeEntry(ctx, entry); err != nil {
		return GradeEntry{}, fmt.Errorf("insert grade entry: %w", err)
	}
	return entry, nil
}

// GetActiveMarks returns the active entry of every graded slot, keyed by slot.
func (l *Ledger) GetActiveMarks(ctx context.Context, scriptID string) (map[int]GradeEntry, error) {
	entries, err := l.GetGradeHistory(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	return activeEntries(entries), nil
}

// GetGradeHistory returns every entry of a script, superseded ones included,
// oldest first.
func (l *Ledger) GetGradeHistory(ctx context.Context, scriptID string) ([]GradeEntry, error) {
	if err := l.c.ready(); err != nil {
		return nil, err
	}
	scriptID, err := normalizeID("script id", scriptID)
	if err != nil {
		return nil, err
	}
	if _, err := loadScript(ctx, l.c.store, scriptID); err != nil {
		return nil, err
	}
	entries, err := l.c.store.Grades().ListGradeEntries(ctx, scriptID)
	if err != nil {
		return nil, fmt.Errorf("list grade entries: %w", err)
	}
	return entries, nil
}

func activeEntries(entries []GradeEntry) map[int]GradeEntry {
	active := make(map[int]GradeEntry)
	for _, entry := range entries {
		if entry.Active() {
			active[entry.Slot] = entry
		}
	}
	return active
}

// replaceActive returns entries as they read after entry superseded the
// slot's previous active mark.
func replaceActive(entries []GradeEntry, entry GradeEntry, now time.Time) []GradeEntry {
	updated := make([]GradeEntry, 0, len(entries)+1)
	for _, existing := range entries {
		if existing.Slot == entry.Slot && existing.Active() {
			at := now
			existing.SupersededAt = &at
		}
		updated = append(updated, existing)
	}
	return append(updated, entry)
}

func markDifference(a, b float64) float64 {
	return math.Abs(a - b)
}
