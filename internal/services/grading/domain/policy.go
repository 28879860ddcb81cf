package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
)

// TieBreakPolicy selects how a tie-break mark combines with the two
// disputed primary marks.
type TieBreakPolicy string

const (
	// TieBreakAllThree averages both primary marks and the tie-break mark.
	TieBreakAllThree TieBreakPolicy = "AllThree"
	// TieBreakClosestPair averages the two closest of the three marks.
	TieBreakClosestPair TieBreakPolicy = "ClosestPair"
)

// ParseTieBreakPolicy accepts the policy name case-insensitively, with or
// without separators.
func ParseTieBreakPolicy(value string) (TieBreakPolicy, error) {
	normalized := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case "allthree":
		return TieBreakAllThree, nil
	case "closestpair":
		return TieBreakClosestPair, nil
	default:
		return "", fmt.Errorf("unknown tie-break policy %q", value)
	}
}

// ExamPolicy is the grading configuration of one exam. It is immutable once
// registered and is copied onto every script created for the exam.
type ExamPolicy struct {
	ExamID string
	// Threshold is the largest absolute difference between the first two
	// primary marks that does not open a discrepancy case.
	Threshold float64
	MinMark   float64
	MaxMark   float64
	TieBreak  TieBreakPolicy
	CreatedAt time.Time
}

// DefaultExamPolicy is applied to exams without a registered policy.
func DefaultExamPolicy() ExamPolicy {
	return ExamPolicy{
		Threshold: 10,
		MinMark:   0,
		MaxMark:   100,
		TieBreak:  TieBreakClosestPair,
	}
}

// Validate checks the policy values, ignoring ExamID.
func (p ExamPolicy) Validate() error {
	switch {
	case !finite(p.Threshold) || p.Threshold < 0:
		return invalidPolicy("threshold must be a non-negative number")
	case !finite(p.MinMark) || !finite(p.MaxMark):
		return invalidPolicy("mark range bounds must be numbers")
	case p.MinMark >= p.MaxMark:
		return invalidPolicy("minimum mark must be below maximum mark")
	case p.TieBreak != TieBreakAllThree && p.TieBreak != TieBreakClosestPair:
		return invalidPolicy(fmt.Sprintf("unknown tie-break policy %q", p.TieBreak))
	}
	return nil
}

// InRange reports whether mark is a finite number inside the inclusive range.
func (p ExamPolicy) InRange(mark float64) bool {
	return finite(mark) && mark >= p.MinMark && mark <= p.MaxMark
}

// SameRules reports whether two policies grade identically.
func (p ExamPolicy) SameRules(other ExamPolicy) bool {
	return p.Threshold == other.Threshold &&
		p.MinMark == other.MinMark &&
		p.MaxMark == other.MaxMark &&
		p.TieBreak == other.TieBreak
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

func invalidPolicy(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidExamPolicy, "invalid exam policy: "+reason, map[string]string{
		"Reason": reason,
	})
}
