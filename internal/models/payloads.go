package models

// These structs define the JSON payloads exchanged with the background job
// runner and the function entrypoints.

// WorkDescriptor is the unit of background work handed to the job runner:
// one document's recognition pass.
type WorkDescriptor struct {
	DocumentID string `json:"documentId"`
}

// RetentionResponse is the output of a retention run.
type RetentionResponse struct {
	Status    string `json:"status"`
	Reclaimed int    `json:"reclaimed"`
}
