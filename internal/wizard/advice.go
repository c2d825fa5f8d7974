package wizard

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/ecommpipeline/internal/schema"
)

// FieldAdvisor suggests which known value a field should be mapped to.
// An empty suggestion means no opinion.
type FieldAdvisor interface {
	AdviseField(ctx context.Context, card schema.Card, candidates []string) (string, error)
}

// Advice is a suggested remap. It is never applied automatically.
type Advice struct {
	Key       string `json:"key"`
	Current   string `json:"current"`
	Suggested string `json:"suggested"`
}

// Advise asks the advisor about every card concurrently and returns the
// suggestions that differ from the current content and name a known candidate.
func (w *Wizard) Advise(ctx context.Context) ([]Advice, error) {
	if w.advisor == nil {
		return nil, ErrNoAdvisor
	}
	view := w.View()
	if !view.Loaded {
		return nil, ErrNoSchemaLoaded
	}

	results := make([]Advice, len(view.Cards))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(w.config.AdviceConcurrency)

	for i, card := range view.Cards {
		eg.Go(func() error {
			suggestion, err := w.advisor.AdviseField(gctx, card, view.Candidates)
			if err != nil {
				return fmt.Errorf("field %s: %w", card.Key, err)
			}
			if suggestion == "" || suggestion == card.Content || !slices.Contains(view.Candidates, suggestion) {
				return nil
			}
			results[i] = Advice{Key: card.Key, Current: card.Content, Suggested: suggestion}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		w.logger.Warn("Mapping advice failed.", "error", err)
		return nil, fmt.Errorf("mapping advice failed: %w", err)
	}

	advice := make([]Advice, 0, len(results))
	for _, a := range results {
		if a.Key != "" {
			advice = append(advice, a)
		}
	}
	return advice, nil
}
