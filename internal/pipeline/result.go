// Package pipeline wires validation, scenario resolution, message preparation
// and dispatch into the single Process entry point, and classifies outcomes
// into the closed taxonomy callers use to decide retry vs. drop vs. alert.
package pipeline

import (
	"net/http"

	"github.com/frethen/casenotify/internal/faults"
)

// Status is the closed outcome taxonomy of one pipeline invocation.
type Status string

const (
	// StatusSuccess means every requested message was dispatched.
	StatusSuccess Status = "success"
	// StatusSkipped means the event was intentionally not processed
	// (malformed payload, connectivity probe, unimplemented scenario).
	StatusSkipped Status = "skipped"
	// StatusAborted means an explicit business rule vetoed the notification.
	StatusAborted Status = "aborted"
	// StatusFailure means processing failed; Retryable says whether the
	// caller should re-enqueue the event.
	StatusFailure Status = "failure"
	// StatusNotPossible means the event was structurally unusable.
	StatusNotPossible Status = "not_possible"
)

// Cause names a probable reason for a non-success outcome together with the
// side suspected of causing it, to help operators triage schema drift.
type Cause struct {
	Side   string `json:"side"` // "sender" or "receiver"
	Reason string `json:"reason"`
}

// Detail is the structured explanation attached to a result.
type Detail struct {
	Message string  `json:"message,omitempty"`
	Causes  []Cause `json:"causes,omitempty"`
}

// Result is the only artifact outliving a pipeline call.
type Result struct {
	Status      Status      `json:"status"`
	Description string      `json:"description"`
	Detail      Detail      `json:"detail,omitzero"`
	Kind        faults.Kind `json:"kind,omitempty"`
	Retryable   bool        `json:"retryable"`
}

// HTTPStatus maps the result onto the synchronous webhook response code.
// Failures caused by the input itself answer 422; downstream failures answer
// 400 so the producer's retry policy can tell them apart.
func (r Result) HTTPStatus() int {
	switch r.Status {
	case StatusSuccess:
		return http.StatusAccepted
	case StatusSkipped, StatusAborted, StatusNotPossible:
		return http.StatusPartialContent
	case StatusFailure:
		switch r.Kind {
		case faults.KindBadInput, faults.KindBadReference:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusBadRequest
		}
	default:
		return http.StatusNotImplemented
	}
}
