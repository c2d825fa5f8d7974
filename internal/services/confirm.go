package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/ecommpipeline/internal/models"
	"github.com/Lllllllleong/ecommpipeline/internal/wizard"
)

// ConfirmFunction renders a session's mapping and applies remaps to it.
type ConfirmFunction struct {
	sessions SessionRepository
	backends WizardBackends
}

func NewConfirm(ctx context.Context) (*ConfirmFunction, error) {
	config, err := LoadWizardEnvConfig()
	if err != nil {
		return nil, err
	}
	sessions, err := newSessionRepository(ctx, config)
	if err != nil {
		return nil, err
	}
	backends, err := newBackends(ctx, config, true)
	if err != nil {
		return nil, err
	}

	slog.Info("Schema confirm logic initialized.", "mappingAdvice", config.MappingAdvice)
	return NewConfirmFunction(sessions, backends), nil
}

func NewConfirmFunction(sessions SessionRepository, backends WizardBackends) *ConfirmFunction {
	return &ConfirmFunction{sessions: sessions, backends: backends}
}

// View returns the confirm view of a session, with mapping advice when asked for.
func (f *ConfirmFunction) View(ctx context.Context, sessionID string, advise bool) (*models.ConfirmResponse, error) {
	logCtx := slog.With("sessionId", sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}
	session, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		logCtx.Warn("Could not load session.", "error", err)
		return nil, err
	}
	w, err := f.backends.restore(session, logCtx)
	if err != nil {
		logCtx.Error("Failed to restore wizard.", "error", err)
		return nil, err
	}

	res := &models.ConfirmResponse{SessionID: session.ID, Step: session.Step, View: w.View()}
	if advise {
		if res.Advice, err = w.Advise(ctx); err != nil {
			return nil, err
		}
		logCtx.Info("Mapping advice ready.", "suggestionCount", len(res.Advice))
	}
	return res, nil
}

// Remap points one field at a new value. The read, the remap and the write
// happen in one repository transaction, so a remap never races a submission.
func (f *ConfirmFunction) Remap(ctx context.Context, req *models.RemapRequest) (*models.ConfirmResponse, error) {
	logCtx := slog.With("sessionId", req.SessionID, "field", req.Key)
	if req.SessionID == "" || req.Key == "" {
		return nil, fmt.Errorf("%w: sessionId and key are required", ErrInvalidRequest)
	}

	var w *wizard.Wizard
	session, err := f.sessions.Mutate(ctx, req.SessionID, func(s *models.Session) error {
		restored, err := f.backends.restore(s, logCtx)
		if err != nil {
			return err
		}
		if err := restored.Remap(req.Key, req.Value); err != nil {
			return err
		}
		w = restored
		return capture(s, restored)
	})
	if err != nil {
		logCtx.Warn("Remap rejected.", "error", err)
		return nil, err
	}

	logCtx.Info("Field remapped.", "content", req.Value)
	return &models.ConfirmResponse{SessionID: session.ID, Step: session.Step, View: w.View()}, nil
}
