package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/ecommpipeline/internal/models"
)

// SubmitFunction creates the pipeline for a confirmed session.
type SubmitFunction struct {
	sessions SessionRepository
	backends WizardBackends
}

func NewSubmit(ctx context.Context) (*SubmitFunction, error) {
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

	slog.Info("Pipeline submit logic initialized.", "pipelineServiceUrl", config.PipelineServiceURL, "workflowId", config.PipelineWorkflowID)
	return NewSubmitFunction(sessions, backends), nil
}

func NewSubmitFunction(sessions SessionRepository, backends WizardBackends) *SubmitFunction {
	return &SubmitFunction{sessions: sessions, backends: backends}
}

// Process claims the session's submission slot, creates the pipeline and
// releases the slot whatever the outcome. A session that already has a
// submission in progress fails with ErrSessionBusy.
func (f *SubmitFunction) Process(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResponse, error) {
	logCtx := slog.With("sessionId", req.SessionID)
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}

	session, err := f.sessions.ClaimSubmission(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionBusy) {
			logCtx.Info("Submission already in progress. Rejecting duplicate.")
		} else {
			logCtx.Warn("Could not claim session for submission.", "error", err)
		}
		return nil, err
	}

	outcome, submitErr := f.submit(ctx, logCtx, session)
	// The claim must be released even when the caller has gone away.
	if err := f.sessions.ReleaseSubmission(context.WithoutCancel(ctx), session.ID, outcome); err != nil {
		logCtx.Error("CRITICAL: Failed to release submission claim.", "error", err)
		if submitErr == nil {
			submitErr = err
		}
	}
	if submitErr != nil {
		return nil, submitErr
	}

	logCtx.Info("Pipeline submission complete.", "pipelineRef", outcome.PipelineRef)
	return &models.SubmitResponse{SessionID: session.ID, Step: outcome.Step, PipelineRef: outcome.PipelineRef}, nil
}

func (f *SubmitFunction) submit(ctx context.Context, logCtx *slog.Logger, session *models.Session) (SubmissionOutcome, error) {
	outcome := SubmissionOutcome{Step: session.Step, PipelineRef: session.PipelineRef}
	w, err := f.backends.restore(session, logCtx)
	if err != nil {
		logCtx.Error("Failed to restore wizard.", "error", err)
		outcome.ErrorDetails = err.Error()
		return outcome, err
	}
	if _, err := w.Submit(ctx); err != nil {
		outcome.ErrorDetails = err.Error()
		return outcome, err
	}
	outcome.Step = w.Step().String()
	outcome.PipelineRef = w.PipelineRef()
	return outcome, nil
}
