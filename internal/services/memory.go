package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/ecommpipeline/internal/models"
)

// MemorySessions is a process-local SessionRepository for running the
// functions without Firestore (SESSION_STORE=memory).
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	now      func() time.Time
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]models.Session), now: time.Now}
}

func (m *MemorySessions) Create(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := s.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := m.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	s.ID = id
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	m.sessions[id] = *s
	return nil
}

func (m *MemorySessions) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return &s, nil
}

func (m *MemorySessions) Mutate(ctx context.Context, id string, fn func(s *models.Session) error) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if stored.Submitting {
		return nil, ErrSessionBusy
	}
	s := stored
	if err := fn(&s); err != nil {
		return nil, err
	}
	s.ID = id
	s.Submitting = false
	s.PipelineRef = stored.PipelineRef
	s.CreatedAt = stored.CreatedAt
	s.UpdatedAt = m.now()
	m.sessions[id] = s
	return &s, nil
}

func (m *MemorySessions) ClaimSubmission(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.Submitting {
		return nil, ErrSessionBusy
	}
	s.Submitting = true
	s.UpdatedAt = m.now()
	m.sessions[id] = s
	return &s, nil
}

func (m *MemorySessions) ReleaseSubmission(ctx context.Context, id string, outcome SubmissionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Submitting = false
	s.Step = outcome.Step
	s.PipelineRef = outcome.PipelineRef
	s.ErrorDetails = outcome.ErrorDetails
	s.UpdatedAt = m.now()
	m.sessions[id] = s
	return nil
}
