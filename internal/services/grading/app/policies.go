package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"gopkg.in/yaml.v3"
)

// policyFile is the YAML document listing exam grading policies:
//
//	exams:
//	  - exam_id: cse-301-final
//	    threshold: 12
//	    min_mark: 0
//	    max_mark: 70
//	    tie_break_policy: AllThree
//
// Omitted fields take the service defaults.
type policyFile struct {
	Exams []policyEntry `yaml:"exams"`
}

type policyEntry struct {
	ExamID         string   `yaml:"exam_id"`
	Threshold      *float64 `yaml:"threshold"`
	MinMark        *float64 `yaml:"min_mark"`
	MaxMark        *float64 `yaml:"max_mark"`
	TieBreakPolicy string   `yaml:"tie_break_policy"`
}

// LoadPolicyFile reads exam policies from a YAML file.
func LoadPolicyFile(path string, defaults domain.ExamPolicy) ([]domain.ExamPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	policies, err := ParsePolicies(data, defaults)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return policies, nil
}

// ParsePolicies decodes a YAML policy document. Unknown keys are rejected.
func ParsePolicies(data []byte, defaults domain.ExamPolicy) ([]domain.ExamPolicy, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var file policyFile
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode policies: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Exams))
	policies := make([]domain.ExamPolicy, 0, len(file.Exams))
	for i, entry := range file.Exams {
		examID := strings.TrimSpace(entry.ExamID)
		if examID == "" {
			return nil, fmt.Errorf("exams[%d]: exam_id is required", i)
		}
		if _, dup := seen[examID]; dup {
			return nil, fmt.Errorf("exams[%d]: exam %s listed twice", i, examID)
		}
		seen[examID] = struct{}{}

		policy := defaults
		policy.ExamID = examID
		if entry.Threshold != nil {
			policy.Threshold = *entry.Threshold
		}
		if entry.MinMark != nil {
			policy.MinMark = *entry.MinMark
		}
		if entry.MaxMark != nil {
			policy.MaxMark = *entry.MaxMark
		}
		if entry.TieBreakPolicy != "" {
			tieBreak, err := domain.ParseTieBreakPolicy(entry.TieBreakPolicy)
			if err != nil {
				return nil, fmt.Errorf("exams[%d]: %w", i, err)
			}
			policy.TieBreak = tieBreak
		}
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("exams[%d] %s: %w", i, examID, err)
		}
		policies = append(policies, policy)
	}
	return policies, nil
}

type policyRegistrar interface {
	RegisterExamPolicy(ctx context.Context, policy domain.ExamPolicy) (domain.ExamPolicy, error)
}

// registerPolicies registers every policy; re-registering identical rules
// on restart is a no-op.
func registerPolicies(ctx context.Context, registrar policyRegistrar, policies []domain.ExamPolicy) error {
	for _, policy := range policies {
		if _, err := registrar.RegisterExamPolicy(ctx, policy); err != nil {
			return fmt.Errorf("register policy for exam %s: %w", policy.ExamID, err)
		}
	}
	return nil
}
