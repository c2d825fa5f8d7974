package models

import "github.com/Lllllllleong/ecommpipeline/internal/wizard"

// These structs define the JSON payloads for HTTP requests and responses
// between the wizard front end and the wizard Cloud Functions.

// UploadResponse is the output of the schema-upload function.
type UploadResponse struct {
	SessionID string             `json:"sessionId"`
	Step      string             `json:"step"`
	View      wizard.ConfirmView `json:"view"`
}

// ConfirmResponse is the output of the schema-confirm function.
type ConfirmResponse struct {
	SessionID string             `json:"sessionId"`
	Step      string             `json:"step"`
	View      wizard.ConfirmView `json:"view"`
	Advice    []wizard.Advice    `json:"advice,omitempty"`
}

// RemapRequest redirects one field of a session's mapping.
type RemapRequest struct {
	SessionID string `json:"sessionId"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// SubmitRequest is the input for the pipeline-submit function.
type SubmitRequest struct {
	SessionID string `json:"sessionId"`
}

// SubmitResponse is the output of the pipeline-submit function.
type SubmitResponse struct {
	SessionID   string `json:"sessionId"`
	Step        string `json:"step"`
	PipelineRef string `json:"pipelineRef,omitempty"`
}
