package wizard

import (
	"context"
	"fmt"
)

// Submit creates the pipeline from the store's document. Only one submission
// runs at a time; a concurrent call returns ErrSubmissionInFlight without
// contacting the pipeline service. The wizard moves to the one-record step
// only when the pipeline service confirms creation. Either way the in-flight
// flag is cleared before Submit returns.
func (w *Wizard) Submit(ctx context.Context) (string, error) {
	if !w.submitting.CompareAndSwap(false, true) {
		return "", ErrSubmissionInFlight
	}
	defer w.submitting.Store(false)

	doc, loaded := w.store.Get()
	if !loaded {
		return "", ErrNoSchemaLoaded
	}
	name := w.store.Name()
	logCtx := w.logger.With("integration", name)
	logCtx.Info("Submitting confirmed schema.", "fieldCount", doc.Len())

	ref, err := w.creator.CreatePipeline(ctx, name, doc)
	if err != nil {
		logCtx.Error("Pipeline creation failed.", "error", err)
		return "", fmt.Errorf("pipeline submission failed: %w", err)
	}

	w.mu.Lock()
	w.step = StepOneRecord
	w.pipelineRef = ref
	w.mu.Unlock()

	logCtx.Info("Pipeline created.", "pipelineRef", ref)
	return ref, nil
}

// Submitting reports whether a submission is outstanding.
func (w *Wizard) Submitting() bool {
	return w.submitting.Load()
}
