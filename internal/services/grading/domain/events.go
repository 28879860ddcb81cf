package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventTypeScriptFinalized is emitted once per script after finalization.
const EventTypeScriptFinalized = "grading.script.finalized"

// OutboxEvent is an integration event waiting for at-least-once delivery.
type OutboxEvent struct {
	ID            string
	ScriptID      string
	Type          string
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// ScriptFinalized is the payload of EventTypeScriptFinalized. Consumers
// deduplicate by ScriptID.
type ScriptFinalized struct {
	EventID     string             `json:"eventId"`
	ScriptID    string             `json:"scriptId"`
	ExamID      string             `json:"examId"`
	StudentID   string             `json:"studentId"`
	FinalMark   float64            `json:"finalMark"`
	Method      FinalizationMethod `json:"method"`
	FinalizedAt time.Time          `json:"finalizedAt"`
	ExaminerIDs []string           `json:"examinerIds"`
}

func newScriptFinalizedEvent(eventID string, result FinalResult) (OutboxEvent, error) {
	payload, err := json.Marshal(ScriptFinalized{
		EventID:     eventID,
		ScriptID:    result.ScriptID,
		ExamID:      result.ExamID,
		StudentID:   result.StudentID,
		FinalMark:   result.FinalMark,
		Method:      result.Method,
		FinalizedAt: result.FinalizedAt,
		ExaminerIDs: result.ExaminerIDs,
	})
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("encode script finalized event: %w", err)
	}
	return OutboxEvent{
		ID:            eventID,
		ScriptID:      result.ScriptID,
		Type:          EventTypeScriptFinalized,
		Payload:       payload,
		NextAttemptAt: result.FinalizedAt,
		CreatedAt:     result.FinalizedAt,
	}, nil
}
