package models

import "time"

// Session is the Firestore record of one integration wizard run. The mapping
// document is stored as its JSON encoding so that key order survives.
type Session struct {
	ID           string    `firestore:"-"`
	Name         string    `firestore:"name,omitempty"`
	Filename     string    `firestore:"filename,omitempty"`
	SourceURI    string    `firestore:"sourceUri,omitempty"`
	Step         string    `firestore:"step"`
	Mapping      string    `firestore:"mapping,omitempty"`
	Submitting   bool      `firestore:"submitting"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	PipelineRef  string    `firestore:"pipelineRef,omitempty"` // For traceability
	CreatedAt    time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt,omitempty"`
}
