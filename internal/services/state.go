package services

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/ecommpipeline/internal/models"
	"github.com/Lllllllleong/ecommpipeline/internal/schema"
	"github.com/Lllllllleong/ecommpipeline/internal/wizard"
)

// WizardBackends are the collaborators a session's wizard is rebuilt with for
// the duration of one request. Advisor is optional.
type WizardBackends struct {
	Inferrer wizard.SchemaInferrer
	Creator  wizard.PipelineCreator
	Advisor  wizard.FieldAdvisor
	Config   wizard.Config
}

func (b WizardBackends) restore(s *models.Session, logger *slog.Logger) (*wizard.Wizard, error) {
	store := schema.NewStore()
	store.SetName(s.Name)
	if s.Mapping != "" {
		var doc schema.MappingDocument
		if err := json.Unmarshal([]byte(s.Mapping), &doc); err != nil {
			return nil, fmt.Errorf("session %s holds a corrupt mapping: %w", s.ID, err)
		}
		store.Replace(doc)
	}

	w, err := wizard.New(wizard.Deps{
		Store:    store,
		Inferrer: b.Inferrer,
		Creator:  b.Creator,
		Advisor:  b.Advisor,
		Logger:   logger,
	}, b.Config)
	if err != nil {
		return nil, err
	}

	step := wizard.StepUpload
	if s.Step != "" {
		if step, err = wizard.ParseStep(s.Step); err != nil {
			return nil, fmt.Errorf("session %s: %w", s.ID, err)
		}
	}
	w.Restore(step, s.PipelineRef)
	return w, nil
}

// capture copies the wizard's state back into the session record.
func capture(s *models.Session, w *wizard.Wizard) error {
	doc, loaded := w.Store().Get()
	if loaded {
		encoded, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode mapping: %w", err)
		}
		s.Mapping = string(encoded)
	} else {
		s.Mapping = ""
	}
	s.Name = w.Store().Name()
	s.Step = w.Step().String()
	s.PipelineRef = w.PipelineRef()
	return nil
}
