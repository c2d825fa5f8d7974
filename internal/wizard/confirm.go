package wizard

import (
	"github.com/Lllllllleong/ecommpipeline/internal/schema"
)

// ConfirmView is what the confirm step renders. Loaded is false when the step
// was reached before any schema was uploaded.
type ConfirmView struct {
	Loaded     bool          `json:"loaded"`
	Name       string        `json:"name,omitempty"`
	Cards      []schema.Card `json:"cards"`
	Candidates []string      `json:"candidates"`
}

// View renders the store's current document.
func (w *Wizard) View() ConfirmView {
	doc, loaded := w.store.Get()
	if !loaded {
		return ConfirmView{Name: w.store.Name(), Cards: []schema.Card{}, Candidates: []string{}}
	}
	cards := schema.Cards(doc)
	return ConfirmView{
		Loaded:     true,
		Name:       w.store.Name(),
		Cards:      cards,
		Candidates: schema.Candidates(cards),
	}
}

// Remap redirects the field stored under key to value. The store is the only
// copy of the mapping, so the next View shows value and the last remap wins.
func (w *Wizard) Remap(key, value string) error {
	if key == schema.HeadersKey {
		return ErrReservedField
	}
	if w.store.SetFieldContent(key, value) {
		w.logger.Debug("Field remapped.", "field", key, "content", value)
		return nil
	}
	if _, loaded := w.store.Get(); !loaded {
		return ErrNoSchemaLoaded
	}
	return ErrUnknownField
}
