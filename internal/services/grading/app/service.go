// Package app wires the grading components into a running service.
package app

import (
	"context"
	"errors"
	"log"
	"strconv"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading"

// Service is the single entry point transports call. It traces every
// operation and, when auto-finalize is on, tries to finalize a script after
// a command that may have completed its inputs.
type Service struct {
	registry     *domain.Registry
	ledger       *domain.Ledger
	resolver     *domain.Resolver
	finalizer    *domain.Finalizer
	autoFinalize bool
	tracer       trace.Tracer
}

// NewService builds the grading components over store with opts.
func NewService(store domain.Store, autoFinalize bool, opts ...domain.Option) *Service {
	return &Service{
		registry:     domain.NewRegistry(store, opts...),
		ledger:       domain.NewLedger(store, opts...),
		resolver:     domain.NewResolver(store, opts...),
		finalizer:    domain.NewFinalizer(store, opts...),
		autoFinalize: autoFinalize,
		tracer:       otel.Tracer(tracerName),
	}
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "grading."+name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.GetCode(err)))
	}
	span.End()
}

func scriptAttr(scriptID string) attribute.KeyValue {
	return attribute.String("grading.script_id", scriptID)
}

func caseAttr(caseID string) attribute.KeyValue {
	return attribute.String("grading.case_id", caseID)
}

func slotAttr(slot int) attribute.KeyValue {
	return attribute.Int("grading.slot", slot)
}

// RegisterExamPolicy stores an exam's grading policy.
func (s *Service) RegisterExamPolicy(ctx context.Context, policy domain.ExamPolicy) (result domain.ExamPolicy, err error) {
	ctx, span := s.start(ctx, "RegisterExamPolicy", attribute.String("grading.exam_id", policy.ExamID))
	defer func() { finish(span, err) }()
	return s.registry.RegisterExamPolicy(ctx, policy)
}

// GetExamPolicy returns an exam's registered policy.
func (s *Service) GetExamPolicy(ctx context.Context, examID string) (result domain.ExamPolicy, err error) {
	ctx, span := s.start(ctx, "GetExamPolicy", attribute.String("grading.exam_id", examID))
	defer func() { finish(span, err) }()
	return s.registry.GetExamPolicy(ctx, examID)
}

// CreateScript registers a new answer script.
func (s *Service) CreateScript(ctx context.Context, examID string, studentID string, requiredSlots int) (script domain.AnswerScript, err error) {
	ctx, span := s.start(ctx, "CreateScript", attribute.String("grading.exam_id", examID))
	defer func() { finish(span, err) }()
	return s.registry.CreateScript(ctx, examID, studentID, requiredSlots)
}

// AssignExaminer fills an empty slot.
func (s *Service) AssignExaminer(ctx context.Context, scriptID string, slot int, examinerID string) (script domain.AnswerScript, err error) {
	ctx, span := s.start(ctx, "AssignExaminer", scriptAttr(scriptID), slotAttr(slot))
	defer func() { finish(span, err) }()
	return s.registry.AssignExaminer(ctx, scriptID, slot, examinerID)
}

// ReassignExaminer replaces a slot's examiner before grading starts.
func (s *Service) ReassignExaminer(ctx context.Context, scriptID string, slot int, examinerID string, actorID string) (script domain.AnswerScript, err error) {
	ctx, span := s.start(ctx, "ReassignExaminer", scriptAttr(scriptID), slotAttr(slot))
	defer func() { finish(span, err) }()
	return s.registry.ReassignExaminer(ctx, scriptID, slot, examinerID, actorID)
}

// SetRemarks replaces a script's remarks.
func (s *Service) SetRemarks(ctx context.Context, scriptID string, remarks string) (script domain.AnswerScript, err error) {
	ctx, span := s.start(ctx, "SetRemarks", scriptAttr(scriptID))
	defer func() { finish(span, err) }()
	return s.registry.SetRemarks(ctx, scriptID, remarks)
}

// ArchiveScript flags a finalized script as archived.
func (s *Service) ArchiveScript(ctx context.Context, scriptID string) (script domain.AnswerScript, err error) {
	ctx, span := s.start(ctx, "ArchiveScript", scriptAttr(scriptID))
	defer func() { finish(span, err) }()
	return s.registry.ArchiveScript(ctx, scriptID)
}

// GetScript returns one script.
func (s *Service) GetScript(ctx context.Context, scriptID string) (script domain.AnswerScript, err error) {
	ctx, span := s.start(ctx, "GetScript", scriptAttr(scriptID))
	defer func() { finish(span, err) }()
	return s.registry.GetScript(ctx, scriptID)
}

// ListScriptsByExam returns an exam's scripts in creation order.
func (s *Service) ListScriptsByExam(ctx context.Context, examID string) (scripts []domain.AnswerScript, err error) {
	ctx, span := s.start(ctx, "ListScriptsByExam", attribute.String("grading.exam_id", examID))
	defer func() { finish(span, err) }()
	return s.registry.ListScriptsByExam(ctx, examID)
}

// SubmitMark records a mark and, with auto-finalize on, tries to finalize.
func (s *Service) SubmitMark(ctx context.Context, scriptID string, slot int, examinerID string, mark float64) (entry domain.GradeEntry, err error) {
	ctx, span := s.start(ctx, "SubmitMark", scriptAttr(scriptID), slotAttr(slot))
	defer func() { finish(span, err) }()
	entry, err = s.ledger.SubmitMark(ctx, scriptID, slot, examinerID, mark)
	if err != nil {
		return domain.GradeEntry{}, err
	}
	s.maybeFinalize(ctx, span, scriptID)
	return entry, nil
}

// GetActiveMarks returns the active entry of every marked slot.
func (s *Service) GetActiveMarks(ctx context.Context, scriptID string) (marks map[int]domain.GradeEntry, err error) {
	ctx, span := s.start(ctx, "GetActiveMarks", scriptAttr(scriptID))
	defer func() { finish(span, err) }()
	return s.ledger.GetActiveMarks(ctx, scriptID)
}

// GetGradeHistory returns every entry of a script, oldest first.
func (s *Service) GetGradeHistory(ctx context.Context, scriptID string) (entries []domain.GradeEntry, err error) {
	ctx, span := s.start(ctx, "GetGradeHistory", scriptAttr(scriptID))
	defer func() { finish(span, err) }()
	return s.ledger.GetGradeHistory(ctx, scriptID)
}

// ResolveByOverride closes a case with an administrative mark.
func (s *Service) ResolveByOverride(ctx context.Context, caseID string, finalMark float64, actorID string) (c domain.DiscrepancyCase, err error) {
	ctx, span := s.start(ctx, "ResolveByOverride", caseAttr(caseID))
	defer func() { finish(span, err) }()
	c, err = s.resolver.ResolveByOverride(ctx, caseID, finalMark, actorID)
	if err != nil {
		return domain.DiscrepancyCase{}, err
	}
	s.maybeFinalize(ctx, span, c.ScriptID)
	return c, nil
}

// ResolveByTieBreak flags a case as awaiting the tie-break examiner.
func (s *Service) ResolveByTieBreak(ctx context.Context, caseID string) (c domain.DiscrepancyCase, err error) {
	ctx, span := s.start(ctx, "ResolveByTieBreak", caseAttr(caseID))
	defer func() { finish(span, err) }()
	return s.resolver.ResolveByTieBreak(ctx, caseID)
}

// GetCase returns one discrepancy case.
func (s *Service) GetCase(ctx context.Context, caseID string) (c domain.DiscrepancyCase, err error) {
	ctx, span := s.start(ctx, "GetCase", caseAttr(caseID))
	defer func() { finish(span, err) }()
	return s.resolver.GetCase(ctx, caseID)
}

// ListOpenCases returns the review queue, optionally for one exam.
func (s *Service) ListOpenCases(ctx context.Context, examID string) (cases []domain.DiscrepancyCase, err error) {
	ctx, span := s.start(ctx, "ListOpenCases", attribute.String("grading.exam_id", examID))
	defer func() { finish(span, err) }()
	return s.resolver.ListOpenCases(ctx, examID)
}

// ListCasesForScript returns a script's cases, oldest first.
func (s *Service) ListCasesForScript(ctx context.Context, scriptID string) (cases []domain.DiscrepancyCase, err error) {
	ctx, span := s.start(ctx, "ListCasesForScript", scriptAttr(scriptID))
	defer func() { finish(span, err) }()
	return s.resolver.ListCasesForScript(ctx, scriptID)
}

// TryFinalize finalizes a script or returns its existing result.
func (s *Service) TryFinalize(ctx context.Context, scriptID string) (result domain.FinalResult, err error) {
	ctx, span := s.start(ctx, "TryFinalize", scriptAttr(scriptID))
	defer func() { finish(span, err) }()
	return s.finalizer.TryFinalize(ctx, scriptID)
}

// GetFinalResult returns a script's final result.
func (s *Service) GetFinalResult(ctx context.Context, scriptID string) (result domain.FinalResult, err error) {
	ctx, span := s.start(ctx, "GetFinalResult", scriptAttr(scriptID))
	defer func() { finish(span, err) }()
	return s.finalizer.GetFinalResult(ctx, scriptID)
}

// maybeFinalize never fails the command that triggered it.
func (s *Service) maybeFinalize(ctx context.Context, span trace.Span, scriptID string) {
	if !s.autoFinalize {
		return
	}
	result, err := s.finalizer.TryFinalize(ctx, scriptID)
	switch {
	case err == nil:
		span.SetAttributes(
			attribute.Bool("grading.finalized", true),
			attribute.String("grading.final_mark", strconv.FormatFloat(result.FinalMark, 'f', -1, 64)),
		)
	case errors.Is(err, domain.ErrNotReadyToFinalize), errors.Is(err, domain.ErrContention):
	default:
		log.Printf("auto-finalize script %s: %v", scriptID, err)
	}
}
