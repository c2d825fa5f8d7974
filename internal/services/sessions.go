package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/ecommpipeline/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionBusy     = errors.New("session already has a submission in progress")
)

// SubmissionOutcome is what releasing a submission claim writes back.
type SubmissionOutcome struct {
	Step         string
	PipelineRef  string
	ErrorDetails string
}

// SessionRepository persists wizard sessions between function invocations.
// Only ClaimSubmission and ReleaseSubmission write the submitting flag.
type SessionRepository interface {
	// Create stores a new session. An empty ID is replaced by a random one;
	// an ID already in use fails with ErrSessionExists.
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	// Mutate reads the session, applies fn and writes the wizard fields back
	// atomically. It fails with ErrSessionBusy while a submission is in
	// progress. fn may run more than once.
	Mutate(ctx context.Context, id string, fn func(s *models.Session) error) (*models.Session, error)
	// ClaimSubmission sets the submitting flag if it is clear and returns the
	// session as it was read. It fails with ErrSessionBusy otherwise.
	ClaimSubmission(ctx context.Context, id string) (*models.Session, error)
	// ReleaseSubmission clears the flag and records the outcome. The mapping
	// is left as it is stored.
	ReleaseSubmission(ctx context.Context, id string, outcome SubmissionOutcome) error
}

// FirestoreSessions keeps one Firestore document per session.
type FirestoreSessions struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

func NewFirestoreSessions(client *firestore.Client, collection string) *FirestoreSessions {
	return &FirestoreSessions{client: client, collection: collection, now: time.Now}
}

func (r *FirestoreSessions) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

func (r *FirestoreSessions) Create(ctx context.Context, s *models.Session) error {
	id := s.ID
	if id == "" {
		id = uuid.NewString()
	}
	s.CreatedAt = r.now()
	s.UpdatedAt = s.CreatedAt
	if _, err := r.doc(id).Create(ctx, s); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s", ErrSessionExists, id)
		}
		return fmt.Errorf("failed to create session document: %w", err)
	}
	s.ID = id
	return nil
}

func (r *FirestoreSessions) Get(ctx context.Context, id string) (*models.Session, error) {
	snap, err := r.doc(id).Get(ctx)
	if err != nil {
		return nil, notFoundOr(err, id)
	}
	return decodeSession(snap)
}

func (r *FirestoreSessions) Mutate(ctx context.Context, id string, fn func(s *models.Session) error) (*models.Session, error) {
	ref := r.doc(id)
	var mutated *models.Session
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return notFoundOr(err, id)
		}
		s, err := decodeSession(snap)
		if err != nil {
			return err
		}
		if s.Submitting {
			return ErrSessionBusy
		}
		if err := fn(s); err != nil {
			return err
		}
		s.Submitting = false
		s.UpdatedAt = r.now()
		mutated = s
		return tx.Update(ref, []firestore.Update{
			{Path: "name", Value: s.Name},
			{Path: "filename", Value: s.Filename},
			{Path: "sourceUri", Value: s.SourceURI},
			{Path: "step", Value: s.Step},
			{Path: "mapping", Value: s.Mapping},
			{Path: "errorDetails", Value: s.ErrorDetails},
			{Path: "updatedAt", Value: s.UpdatedAt},
		})
	})
	if err != nil {
		return nil, err
	}
	return mutated, nil
}

func (r *FirestoreSessions) ClaimSubmission(ctx context.Context, id string) (*models.Session, error) {
	ref := r.doc(id)
	var claimed *models.Session
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return notFoundOr(err, id)
		}
		s, err := decodeSession(snap)
		if err != nil {
			return err
		}
		if s.Submitting {
			return ErrSessionBusy
		}
		claimed = s
		return tx.Update(ref, []firestore.Update{
			{Path: "submitting", Value: true},
			{Path: "updatedAt", Value: r.now()},
		})
	})
	if err != nil {
		return nil, err
	}
	claimed.Submitting = true
	return claimed, nil
}

func (r *FirestoreSessions) ReleaseSubmission(ctx context.Context, id string, outcome SubmissionOutcome) error {
	_, err := r.doc(id).Update(ctx, []firestore.Update{
		{Path: "submitting", Value: false},
		{Path: "step", Value: outcome.Step},
		{Path: "pipelineRef", Value: outcome.PipelineRef},
		{Path: "errorDetails", Value: outcome.ErrorDetails},
		{Path: "updatedAt", Value: r.now()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to release submission on session %s: %w", id, err)
	}
	return nil
}

func decodeSession(snap *firestore.DocumentSnapshot) (*models.Session, error) {
	var s models.Session
	if err := snap.DataTo(&s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", snap.Ref.ID, err)
	}
	s.ID = snap.Ref.ID
	return &s, nil
}

func notFoundOr(err error, id string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return fmt.Errorf("failed to read session %s: %w", id, err)
}
