// Package lifecycle is the single authority for document and page status
// transitions. Every component routes status changes through Check so the
// legal edges live in exactly one place.
package lifecycle

import "vera/internal/fault"

// Status is the shared vocabulary for documents and pages.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusOCRDone    Status = "ocr_done"
	StatusValidated  Status = "validated"
	StatusSummarized Status = "summarized"
	StatusExported   Status = "exported"
	StatusCanceled   Status = "canceled"
	StatusFailed     Status = "failed"
)

// EventType is the closed audit vocabulary.
type EventType string

const (
	EventUploaded          EventType = "uploaded"
	EventOCRStarted        EventType = "ocr_started"
	EventOCRDone           EventType = "ocr_done"
	EventOCRFailed         EventType = "ocr_failed"
	EventOCRCanceled       EventType = "ocr_canceled"
	EventFieldsUpdated     EventType = "fields_updated"
	EventValidated         EventType = "validated"
	EventSummarized        EventType = "summarized"
	EventExported          EventType = "exported"
	EventRetentionDeleted  EventType = "retention_deleted"
	EventRetentionArchived EventType = "retention_archived"
)

// edges holds the legal forward transitions. canceled and failed are
// absorbing: nothing leads out of them.
var edges = map[Status][]Status{
	StatusUploaded:   {StatusProcessing, StatusCanceled, StatusFailed},
	StatusProcessing: {StatusOCRDone, StatusCanceled, StatusFailed},
	StatusOCRDone:    {StatusValidated},
	StatusValidated:  {StatusSummarized, StatusExported},
	StatusSummarized: {StatusExported},
	StatusExported:   {StatusExported},
}

// Check returns nil when from → to is a legal edge, otherwise an
// invalid_transition fault. State is never mutated here; callers persist the
// new status only after Check passes.
func Check(from, to Status) error {
	if from == to && from != StatusExported {
		return fault.New(fault.InvalidTransition, "document already %s", from)
	}
	for _, next := range edges[from] {
		if next == to {
			return nil
		}
	}
	return fault.New(fault.InvalidTransition, "cannot transition from %s to %s", from, to)
}

// Terminal reports whether a status accepts no further recognition work.
func Terminal(s Status) bool {
	return s == StatusCanceled || s == StatusFailed
}

// Cancelable reports whether a cancel request is valid against this status.
func Cancelable(s Status) bool {
	return s == StatusUploaded || s == StatusProcessing
}

// ReviewableOrLater reports whether a document has left active orchestration;
// only these statuses are eligible for retention.
func ReviewableOrLater(s Status) bool {
	return s != StatusUploaded && s != StatusProcessing
}

// Validatable reports whether validated content may be read (summary, export).
func Validatable(s Status) bool {
	return s == StatusValidated || s == StatusSummarized
}

// AtLeastOCRDone reports whether a page has finished recognition.
func AtLeastOCRDone(s Status) bool {
	switch s {
	case StatusOCRDone, StatusValidated, StatusSummarized, StatusExported:
		return true
	}
	return false
}

// Aggregate derives a document-level status from its pages' statuses.
// The document reaches validated only when every page is validated or later,
// and ocr_done when every page has at least finished recognition. Absorbing
// page states dominate.
func Aggregate(pages []Status) Status {
	if len(pages) == 0 {
		return StatusUploaded
	}
	allValidated, allOCRDone := true, true
	for _, s := range pages {
		if Terminal(s) {
			return s
		}
		if s == StatusProcessing {
			return StatusProcessing
		}
		if !AtLeastOCRDone(s) {
			allOCRDone = false
		}
		if s != StatusValidated && s != StatusSummarized && s != StatusExported {
			allValidated = false
		}
	}
	switch {
	case allValidated:
		return StatusValidated
	case allOCRDone:
		return StatusOCRDone
	default:
		return StatusUploaded
	}
}
