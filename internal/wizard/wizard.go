// Package wizard drives the integration wizard: upload a spreadsheet, confirm
// the inferred schema, create the pipeline.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/ecommpipeline/internal/schema"
)

var (
	ErrNoFile             = errors.New("no spreadsheet selected")
	ErrUnsupportedFile    = errors.New("unsupported spreadsheet type")
	ErrNoSchemaLoaded     = errors.New("no schema loaded")
	ErrReservedField      = errors.New("field is reserved")
	ErrUnknownField       = errors.New("unknown field")
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrNoAdvisor          = errors.New("mapping advice is not configured")
)

// Step is the wizard page the user is on.
type Step int

const (
	StepUpload Step = iota
	StepConfirm
	StepOneRecord
)

func (s Step) String() string {
	switch s {
	case StepUpload:
		return "upload"
	case StepConfirm:
		return "confirm"
	case StepOneRecord:
		return "one_record"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// ParseStep is the inverse of Step.String.
func ParseStep(s string) (Step, error) {
	for _, step := range []Step{StepUpload, StepConfirm, StepOneRecord} {
		if step.String() == s {
			return step, nil
		}
	}
	return StepUpload, fmt.Errorf("unknown wizard step %q", s)
}

// SchemaInferrer turns a spreadsheet into a mapping document.
type SchemaInferrer interface {
	InferSchema(ctx context.Context, filename string, spreadsheet io.Reader) (schema.MappingDocument, error)
}

// PipelineCreator provisions a pipeline from a confirmed mapping document and
// returns a reference to it (possibly empty).
type PipelineCreator interface {
	CreatePipeline(ctx context.Context, name string, doc schema.MappingDocument) (string, error)
}

// Config tunes the wizard.
type Config struct {
	// AllowedExtensions lists accepted spreadsheet extensions, lower case with the dot.
	AllowedExtensions []string
	// TransitionDelay is how long the upload result stays on screen before
	// the wizard moves to the confirm step.
	TransitionDelay time.Duration
	// AdviceConcurrency bounds concurrent advisor calls.
	AdviceConcurrency int
}

// DefaultConfig matches the interactive wizard.
func DefaultConfig() Config {
	return Config{
		AllowedExtensions: []string{".xls", ".xlsx"},
		TransitionDelay:   2 * time.Second,
		AdviceConcurrency: 5,
	}
}

// Deps are the collaborators of a wizard. Advisor and Logger are optional.
type Deps struct {
	Store    *schema.Store
	Inferrer SchemaInferrer
	Creator  PipelineCreator
	Advisor  FieldAdvisor
	Logger   *slog.Logger
}

// Wizard sequences the steps of one session. The schema itself lives in the
// Store; the wizard only tracks the step, the pending file and the in-flight
// submission.
type Wizard struct {
	store    *schema.Store
	inferrer SchemaInferrer
	creator  PipelineCreator
	advisor  FieldAdvisor
	config   Config
	logger   *slog.Logger

	mu          sync.Mutex
	step        Step
	pending     SpreadsheetFile
	pipelineRef string

	submitting atomic.Bool
}

// New returns a wizard positioned on the upload step.
func New(deps Deps, config Config) (*Wizard, error) {
	if deps.Store == nil || deps.Inferrer == nil || deps.Creator == nil {
		return nil, fmt.Errorf("wizard requires a store, a schema inferrer and a pipeline creator")
	}
	if config.AdviceConcurrency <= 0 {
		config.AdviceConcurrency = DefaultConfig().AdviceConcurrency
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Wizard{
		store:    deps.Store,
		inferrer: deps.Inferrer,
		creator:  deps.Creator,
		advisor:  deps.Advisor,
		config:   config,
		logger:   logger,
	}, nil
}

// Restore positions the wizard on a previously persisted step.
func (w *Wizard) Restore(step Step, pipelineRef string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.step = step
	w.pipelineRef = pipelineRef
}

// Step returns the current step.
func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// PipelineRef returns the reference of the last created pipeline.
func (w *Wizard) PipelineRef() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pipelineRef
}

// Store returns the session's schema store.
func (w *Wizard) Store() *schema.Store {
	return w.store
}

func (w *Wizard) advance(step Step) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.step = step
}
