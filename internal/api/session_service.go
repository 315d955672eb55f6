package api

import (
	"context"

	"dooriq/internal/queue"
)

// SessionReader abstracts the store operations needed for API queries.
type SessionReader interface {
	ListSessions(ctx context.Context, statuses ...queue.Status) ([]*queue.Session, error)
	GetSession(ctx context.Context, sessionID string) (*queue.Session, error)
	Health(ctx context.Context) (queue.HealthSummary, error)
}

// SessionService exposes read-only session operations returning API DTOs.
type SessionService struct {
	store SessionReader
}

// NewSessionService constructs a SessionService around the provided reader.
func NewSessionService(store SessionReader) *SessionService {
	if store == nil {
		return nil
	}
	return &SessionService{store: store}
}

// List returns sessions filtered by status.
func (s *SessionService) List(ctx context.Context, statuses ...queue.Status) ([]SessionView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	sessions, err := s.store.ListSessions(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromSessions(sessions), nil
}

// Describe fetches a single session. A missing session yields (nil, nil).
func (s *SessionService) Describe(ctx context.Context, sessionID string) (*SessionView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return nil, err
	}
	view := FromSession(session)
	return &view, nil
}

// Health returns aggregate store diagnostics.
func (s *SessionService) Health(ctx context.Context) (HealthView, error) {
	if s == nil || s.store == nil {
		return HealthView{}, nil
	}
	health, err := s.store.Health(ctx)
	if err != nil {
		return HealthView{}, err
	}
	return FromHealth(health), nil
}
