package schema

import "sync"

// Store holds the mapping document and display name of one wizard session.
// Create one per session with NewStore and pass it to the steps that need it.
// Every mutation goes through the Store's methods, so entries are never
// modified by callers directly.
type Store struct {
	mu     sync.RWMutex
	doc    MappingDocument
	loaded bool
	name   string
}

// NewStore returns an empty store. Get reports loaded=false until the first Replace.
func NewStore() *Store {
	return &Store{}
}

// Get returns a copy of the current document and whether one has been installed.
func (s *Store) Get() (MappingDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return MappingDocument{}, false
	}
	return s.doc.Clone(), true
}

// Replace installs a copy of doc, discarding the previous document.
func (s *Store) Replace(doc MappingDocument) {
	doc = doc.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.loaded = true
}

// SetFieldContent sets the content of the entry stored under key and leaves
// every other entry untouched. It reports false and changes nothing when key
// is absent.
func (s *Store) SetFieldContent(key, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return false
	}
	return s.doc.setContent(key, content)
}

// Name returns the display name of the integration.
func (s *Store) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetName sets the display name of the integration.
func (s *Store) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// Reset drops the document and the display name at the end of a session.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = MappingDocument{}
	s.loaded = false
	s.name = ""
}
