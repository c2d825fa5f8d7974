package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/ecommpipeline/internal/models"
	"github.com/Lllllllleong/ecommpipeline/internal/wizard"
)

// UploadRequest is a spreadsheet posted to the schema-upload function.
type UploadRequest struct {
	// SessionID is empty for a new integration.
	SessionID string
	Name      string
	Filename  string
	Data      []byte
}

// UploadFunction holds dependencies for the schema upload step.
type UploadFunction struct {
	sessions SessionRepository
	backends WizardBackends
}

// NewUpload creates a new UploadFunction instance from the environment.
func NewUpload(ctx context.Context) (*UploadFunction, error) {
	config, err := LoadWizardEnvConfig()
	if err != nil {
		return nil, err
	}
	sessions, err := newSessionRepository(ctx, config)
	if err != nil {
		return nil, err
	}
	backends, err := newBackends(ctx, config, false)
	if err != nil {
		return nil, err
	}

	slog.Info("Schema upload logic initialized.", "schemaServiceUrl", config.SchemaServiceURL)
	return NewUploadFunction(sessions, backends), nil
}

func NewUploadFunction(sessions SessionRepository, backends WizardBackends) *UploadFunction {
	return &UploadFunction{sessions: sessions, backends: backends}
}

// Process uploads the spreadsheet for schema inference and stores the result
// in the session. A failed upload of a new integration creates no session.
// A session with a submission in progress is not touched.
func (f *UploadFunction) Process(ctx context.Context, req *UploadRequest) (*models.UploadResponse, error) {
	logCtx := slog.With("sessionId", req.SessionID, "filename", req.Filename)
	if req.Filename == "" || len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: a spreadsheet file is required", ErrInvalidRequest)
	}

	session := &models.Session{Step: wizard.StepUpload.String()}
	if req.SessionID != "" {
		var err error
		if session, err = f.sessions.Get(ctx, req.SessionID); err != nil {
			logCtx.Warn("Could not load session.", "error", err)
			return nil, err
		}
		if session.Submitting {
			logCtx.Info("Submission in progress. Rejecting upload.")
			return nil, ErrSessionBusy
		}
	}

	w, err := f.backends.restore(session, logCtx)
	if err != nil {
		logCtx.Error("Failed to restore wizard.", "error", err)
		return nil, err
	}
	if req.Name != "" {
		w.Store().SetName(req.Name)
	}
	if err := w.SelectFile(wizard.NewMemoryFile(req.Filename, req.Data)); err != nil {
		logCtx.Warn("Spreadsheet rejected.", "error", err)
		return nil, err
	}

	uploadErr := w.Upload(ctx)
	if session.ID == "" {
		if uploadErr != nil {
			return nil, uploadErr
		}
		if err := capture(session, w); err != nil {
			return nil, err
		}
		session.Filename = req.Filename
		if err := f.sessions.Create(ctx, session); err != nil {
			logCtx.Error("Failed to create session.", "error", err)
			return nil, err
		}
	} else {
		session, err = f.sessions.Mutate(ctx, session.ID, func(s *models.Session) error {
			if uploadErr != nil {
				s.ErrorDetails = uploadErr.Error()
				return nil
			}
			if err := capture(s, w); err != nil {
				return err
			}
			s.Filename = req.Filename
			s.ErrorDetails = ""
			return nil
		})
		if err != nil {
			logCtx.Warn("Could not store upload result.", "error", err)
			return nil, err
		}
	}
	if uploadErr != nil {
		return nil, uploadErr
	}

	logCtx.Info("Schema upload complete.", "sessionId", session.ID, "step", session.Step)
	return &models.UploadResponse{
		SessionID: session.ID,
		Step:      session.Step,
		View:      w.View(),
	}, nil
}
