package schema

// Card is the editable rendering of one field entry.
type Card struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Cards renders every entry of doc except the reserved headers key, in document order.
func Cards(doc MappingDocument) []Card {
	cards := make([]Card, 0, doc.Len())
	for _, key := range doc.keys {
		if key == HeadersKey {
			continue
		}
		entry, ok := doc.fields[key]
		if !ok {
			continue
		}
		cards = append(cards, Card{Key: key, Title: entry.Title, Content: entry.Content})
	}
	return cards
}

// Candidates projects the non-empty content of every rendered card. These are
// the known values a field can be redirected to. Duplicates are kept.
func Candidates(cards []Card) []string {
	values := make([]string, 0, len(cards))
	for _, card := range cards {
		if card.Content != "" {
			values = append(values, card.Content)
		}
	}
	return values
}
