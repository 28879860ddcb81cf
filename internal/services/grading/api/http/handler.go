// Package httpapi exposes the grading service over HTTP with echo.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/platform/timeouts"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// defaultRequiredSlots applies when a create request omits requiredSlots.
const defaultRequiredSlots = 2

// Grading is the service surface the HTTP API drives.
type Grading interface {
	RegisterExamPolicy(ctx context.Context, policy domain.ExamPolicy) (domain.ExamPolicy, error)
	GetExamPolicy(ctx context.Context, examID string) (domain.ExamPolicy, error)
	CreateScript(ctx context.Context, examID string, studentID string, requiredSlots int) (domain.AnswerScript, error)
	AssignExaminer(ctx context.Context, scriptID string, slot int, examinerID string) (domain.AnswerScript, error)
	ReassignExaminer(ctx context.Context, scriptID string, slot int, examinerID string, actorID string) (domain.AnswerScript, error)
	SetRemarks(ctx context.Context, scriptID string, remarks string) (domain.AnswerScript, error)
	ArchiveScript(ctx context.Context, scriptID string) (domain.AnswerScript, error)
	GetScript(ctx context.Context, scriptID string) (domain.AnswerScript, error)
	ListScriptsByExam(ctx context.Context, examID string) ([]domain.AnswerScript, error)
	SubmitMark(ctx context.Context, scriptID string, slot int, examinerID string, mark float64) (domain.GradeEntry, error)
	GetActiveMarks(ctx context.Context, scriptID string) (map[int]domain.GradeEntry, error)
	GetGradeHistory(ctx context.Context, scriptID string) ([]domain.GradeEntry, error)
	ResolveByOverride(ctx context.Context, caseID string, finalMark float64, actorID string) (domain.DiscrepancyCase, error)
	ResolveByTieBreak(ctx context.Context, caseID string) (domain.DiscrepancyCase, error)
	GetCase(ctx context.Context, caseID string) (domain.DiscrepancyCase, error)
	ListOpenCases(ctx context.Context, examID string) ([]domain.DiscrepancyCase, error)
	ListCasesForScript(ctx context.Context, scriptID string) ([]domain.DiscrepancyCase, error)
	TryFinalize(ctx context.Context, scriptID string) (domain.FinalResult, error)
	GetFinalResult(ctx context.Context, scriptID string) (domain.FinalResult, error)
}

type handler struct {
	svc      Grading
	validate *validator.Validate
}

// New returns an echo server with every grading route registered.
func New(svc Grading) *echo.Echo {
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)
	h := &handler{svc: svc, validate: validate}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handleError

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := e.Group("/v1")
	v1.PUT("/exams/:examId/policy", h.registerPolicy)
	v1.GET("/exams/:examId/policy", h.getPolicy)
	v1.GET("/exams/:examId/scripts", h.listScripts)

	v1.POST("/scripts", h.createScript)
	v1.GET("/scripts/:scriptId", h.getScript)
	v1.PATCH("/scripts/:scriptId/remarks", h.setRemarks)
	v1.PUT("/scripts/:scriptId/slots/:slot/examiner", h.assignExaminer)
	v1.POST("/scripts/:scriptId/slots/:slot/reassign", h.reassignExaminer)
	v1.POST("/scripts/:scriptId/slots/:slot/marks", h.submitMark)
	v1.GET("/scripts/:scriptId/marks", h.activeMarks)
	v1.GET("/scripts/:scriptId/history", h.gradeHistory)
	v1.GET("/scripts/:scriptId/discrepancies", h.scriptCases)
	v1.POST("/scripts/:scriptId/finalize", h.finalize)
	v1.GET("/scripts/:scriptId/result", h.result)
	v1.POST("/scripts/:scriptId/archive", h.archive)

	v1.GET("/discrepancies", h.openCases)
	v1.GET("/discrepancies/:caseId", h.getCase)
	v1.POST("/discrepancies/:caseId/override", h.override)
	v1.POST("/discrepancies/:caseId/tie-break", h.tieBreak)

	return e
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), timeouts.Request)
}

// bind decodes and validates the request body into dst.
func (h *handler) bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return errBadRequest("malformed request body")
		}
		return errBadRequest(err.Error())
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return errBadRequest(describeFieldError(fieldErrs[0]))
		}
		return errBadRequest(err.Error())
	}
	return nil
}

// jsonFieldName reports validation failures under the wire field name.
func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	default:
		return field + " is invalid"
	}
}

func slotParam(c echo.Context) (int, error) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		return 0, errBadRequest("slot must be an integer")
	}
	return slot, nil
}

func (h *handler) registerPolicy(c echo.Context) error {
	var req policyRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	tieBreak, err := domain.ParseTieBreakPolicy(req.TieBreakPolicy)
	if err != nil {
		return apperrors.WithMetadata(apperrors.CodeInvalidExamPolicy, err.Error(), map[string]string{
			"Reason": "tie-break policy must be AllThree or ClosestPair",
		})
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	policy, err := h.svc.RegisterExamPolicy(ctx, domain.ExamPolicy{
		ExamID:    c.Param("examId"),
		Threshold: *req.Threshold,
		MinMark:   *req.MinMark,
		MaxMark:   *req.MaxMark,
		TieBreak:  tieBreak,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newPolicyResponse(policy))
}

func (h *handler) getPolicy(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	policy, err := h.svc.GetExamPolicy(ctx, c.Param("examId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newPolicyResponse(policy))
}

func (h *handler) listScripts(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	scripts, err := h.svc.ListScriptsByExam(ctx, c.Param("examId"))
	if err != nil {
		return err
	}
	out := make([]scriptResponse, 0, len(scripts))
	for _, script := range scripts {
		out = append(out, newScriptResponse(script))
	}
	return c.JSON(http.StatusOK, map[string]any{"scripts": out})
}

func (h *handler) createScript(c echo.Context) error {
	var req createScriptRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	requiredSlots := defaultRequiredSlots
	if req.RequiredSlots != nil {
		requiredSlots = *req.RequiredSlots
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	script, err := h.svc.CreateScript(ctx, req.ExamID, req.StudentID, requiredSlots)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newScriptResponse(script))
}

func (h *handler) getScript(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	script, err := h.svc.GetScript(ctx, c.Param("scriptId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newScriptResponse(script))
}

func (h *handler) setRemarks(c echo.Context) error {
	var req remarksRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	script, err := h.svc.SetRemarks(ctx, c.Param("scriptId"), req.Remarks)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newScriptResponse(script))
}

func (h *handler) assignExaminer(c echo.Context) error {
	slot, err := slotParam(c)
	if err != nil {
		return err
	}
	var req examinerRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	script, err := h.svc.AssignExaminer(ctx, c.Param("scriptId"), slot, req.ExaminerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newScriptResponse(script))
}

func (h *handler) reassignExaminer(c echo.Context) error {
	slot, err := slotParam(c)
	if err != nil {
		return err
	}
	var req reassignRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	script, err := h.svc.ReassignExaminer(ctx, c.Param("scriptId"), slot, req.ExaminerID, req.ActorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newScriptResponse(script))
}

func (h *handler) submitMark(c echo.Context) error {
	slot, err := slotParam(c)
	if err != nil {
		return err
	}
	var req markRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	entry, err := h.svc.SubmitMark(ctx, c.Param("scriptId"), slot, req.ExaminerID, *req.Mark)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newEntryResponse(entry))
}

func (h *handler) activeMarks(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	marks, err := h.svc.GetActiveMarks(ctx, c.Param("scriptId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"marks": activeMarksResponse(marks)})
}

func (h *handler) gradeHistory(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	entries, err := h.svc.GetGradeHistory(ctx, c.Param("scriptId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": newEntryResponses(entries)})
}

func (h *handler) scriptCases(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	cases, err := h.svc.ListCasesForScript(ctx, c.Param("scriptId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"cases": newCaseResponses(cases)})
}

func (h *handler) finalize(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	result, err := h.svc.TryFinalize(ctx, c.Param("scriptId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newResultResponse(result))
}

func (h *handler) result(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	result, err := h.svc.GetFinalResult(ctx, c.Param("scriptId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newResultResponse(result))
}

func (h *handler) archive(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	script, err := h.svc.ArchiveScript(ctx, c.Param("scriptId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newScriptResponse(script))
}

func (h *handler) openCases(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	cases, err := h.svc.ListOpenCases(ctx, strings.TrimSpace(c.QueryParam("examId")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"cases": newCaseResponses(cases)})
}

func (h *handler) getCase(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	found, err := h.svc.GetCase(ctx, c.Param("caseId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newCaseResponse(found))
}

func (h *handler) override(c echo.Context) error {
	var req overrideRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	resolved, err := h.svc.ResolveByOverride(ctx, c.Param("caseId"), *req.FinalMark, req.ActorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newCaseResponse(resolved))
}

func (h *handler) tieBreak(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	flagged, err := h.svc.ResolveByTieBreak(ctx, c.Param("caseId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newCaseResponse(flagged))
}
