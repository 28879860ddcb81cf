package domain

import (
	"fmt"
	"strings"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
)

const maxIdentifierLength = 128

// normalizeID trims value and checks it is a well-formed opaque identifier:
// non-empty, bounded, and free of whitespace and control characters.
// Existence is the caller's concern.
func normalizeID(field string, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	valid := trimmed != "" && len(trimmed) <= maxIdentifierLength
	if valid {
		for _, r := range trimmed {
			if r <= ' ' || r == 0x7f {
				valid = false
				break
			}
		}
	}
	if !valid {
		return "", apperrors.WithMetadata(apperrors.CodeInvalidIdentifier, fmt.Sprintf("%s %q is malformed", field, value), map[string]string{
			"Field": field,
		})
	}
	return trimmed, nil
}
