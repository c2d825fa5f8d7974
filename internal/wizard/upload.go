package wizard

import (
	"context"
	"fmt"
	"time"
)

// SelectFile makes file the pending upload, replacing any earlier selection.
// A file with a disallowed extension is rejected and the earlier selection kept.
func (w *Wizard) SelectFile(file SpreadsheetFile) error {
	if file == nil {
		return ErrNoFile
	}
	if !w.config.Accepts(file.Name()) {
		return fmt.Errorf("%w: %s (accepted: %v)", ErrUnsupportedFile, file.Name(), w.config.AllowedExtensions)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = file
	return nil
}

// PendingFile returns the file the next Upload will send, or nil.
func (w *Wizard) PendingFile() SpreadsheetFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// Upload sends the pending spreadsheet to the inference service and installs
// the returned document in the store. On failure the store and the step are
// left as they were and the upload may be retried. On success the wizard
// moves to the confirm step once the transition delay has passed; a cancelled
// context shortens the delay but does not undo the transition.
func (w *Wizard) Upload(ctx context.Context) error {
	file := w.PendingFile()
	if file == nil {
		return ErrNoFile
	}
	logCtx := w.logger.With("filename", file.Name())
	logCtx.Info("Uploading spreadsheet for schema inference.")

	spreadsheet, err := file.Open(ctx)
	if err != nil {
		logCtx.Error("Failed to open spreadsheet.", "error", err)
		return fmt.Errorf("failed to open %s: %w", file.Name(), err)
	}
	defer spreadsheet.Close()

	doc, err := w.inferrer.InferSchema(ctx, file.Name(), spreadsheet)
	if err != nil {
		logCtx.Warn("Schema inference failed. Store left unchanged.", "error", err)
		return fmt.Errorf("schema upload failed: %w", err)
	}

	w.store.Replace(doc)
	logCtx.Info("Inferred schema installed.", "fieldCount", doc.Len())

	if w.config.TransitionDelay > 0 {
		timer := time.NewTimer(w.config.TransitionDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	w.advance(StepConfirm)
	return nil
}
