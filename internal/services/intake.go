package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/Lllllllleong/ecommpipeline/internal/gcp"
	"github.com/Lllllllleong/ecommpipeline/internal/models"
	"github.com/Lllllllleong/ecommpipeline/internal/wizard"
)

// GCSEvent is the payload of a storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket     string `json:"bucket"`
	Name       string `json:"name"`
	Generation string `json:"generation"`
}

// URI returns the gs:// URI of the object.
func (e GCSEvent) URI() string {
	return fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name)
}

// intakeSessionID derives the session id from the object version, so every
// redelivery of the same event maps to the same session.
func intakeSessionID(e GCSEvent) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(e.URI()+"#"+e.Generation)).String()
}

type IntakeConfig struct {
	// Prefix limits intake to objects under it. Empty means the whole bucket.
	Prefix string
}

// IntakeFunction starts a wizard session for every spreadsheet dropped into a bucket.
type IntakeFunction struct {
	sessions SessionRepository
	backends WizardBackends
	open     func(bucket, object string) wizard.SpreadsheetFile
	config   IntakeConfig
}

func NewIntake(ctx context.Context) (*IntakeFunction, error) {
	envConfig, err := LoadWizardEnvConfig()
	if err != nil {
		return nil, err
	}
	sessions, err := newSessionRepository(ctx, envConfig)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	backends, err := newBackends(ctx, envConfig, false)
	if err != nil {
		return nil, err
	}

	f := &IntakeFunction{
		sessions: sessions,
		backends: backends,
		open: func(bucket, object string) wizard.SpreadsheetFile {
			return gcp.NewGCSFile(storageClient, bucket, object)
		},
		config: IntakeConfig{Prefix: gcp.GetEnv("INTAKE_PREFIX", "")},
	}
	slog.Info("Spreadsheet intake logic initialized.", "prefix", f.config.Prefix)
	return f, nil
}

// Process infers the schema of a newly finalized spreadsheet into a session.
// Redeliveries of an event whose session already holds a schema are skipped;
// redeliveries after a failed inference retry it on the same session.
func (f *IntakeFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name, "generation", e.Generation)
	if !strings.HasPrefix(e.Name, f.config.Prefix) || !f.backends.Config.Accepts(e.Name) {
		logCtx.Info("Object is not an intake spreadsheet. Skipping.")
		return nil
	}

	session, err := f.startSession(ctx, e)
	if err != nil {
		logCtx.Error("Failed to create session.", "error", err)
		return err
	}
	logCtx = logCtx.With("sessionId", session.ID)
	if session.Mapping != "" || session.Step != wizard.StepUpload.String() {
		logCtx.Info("Duplicate delivery. Session already holds a schema. Skipping.")
		return nil
	}

	w, err := f.backends.restore(session, logCtx)
	if err != nil {
		return f.handleError(ctx, logCtx, session.ID, "failed to restore wizard", err)
	}
	if err := w.SelectFile(f.open(e.Bucket, e.Name)); err != nil {
		return f.handleError(ctx, logCtx, session.ID, "spreadsheet rejected", err)
	}
	if err := w.Upload(ctx); err != nil {
		return f.handleError(ctx, logCtx, session.ID, "schema inference failed", err)
	}

	session, err = f.sessions.Mutate(ctx, session.ID, func(s *models.Session) error {
		s.ErrorDetails = ""
		return capture(s, w)
	})
	if err != nil {
		logCtx.Error("Failed to save inferred schema.", "error", err)
		return err
	}
	logCtx.Info("Spreadsheet intake complete. Session awaits confirmation.", "step", session.Step)
	return nil
}

// startSession creates the event's session, or returns the existing one on redelivery.
func (f *IntakeFunction) startSession(ctx context.Context, e GCSEvent) (*models.Session, error) {
	filename := path.Base(e.Name)
	session := &models.Session{
		ID:        intakeSessionID(e),
		Name:      strings.TrimSuffix(filename, path.Ext(filename)),
		Filename:  filename,
		SourceURI: e.URI(),
		Step:      wizard.StepUpload.String(),
	}
	err := f.sessions.Create(ctx, session)
	if errors.Is(err, ErrSessionExists) {
		return f.sessions.Get(ctx, session.ID)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("Created wizard session.", "sessionId", session.ID, "sourceUri", session.SourceURI)
	return session, nil
}

func (f *IntakeFunction) handleError(ctx context.Context, logCtx *slog.Logger, sessionID, message string, originalErr error) error {
	logCtx.Error("Spreadsheet intake failed.", "stage", message, "error", originalErr)
	_, err := f.sessions.Mutate(ctx, sessionID, func(s *models.Session) error {
		s.ErrorDetails = fmt.Sprintf("%s: %v", message, originalErr)
		return nil
	})
	if err != nil {
		logCtx.Error("CRITICAL: Failed to record intake failure on the session.", "saveError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}
