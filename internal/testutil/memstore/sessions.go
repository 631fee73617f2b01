package memstore

import (
	"context"
	"rover/internal/usage/repository"
	"rover/pkg/model"
	"slices"
	"time"
)

type sessionRow = model.UsageSession

type sessions struct{ *Store }

// Sessions returns the store as a SessionRepository.
func (s *Store) Sessions() repository.SessionRepository {
	return sessions{s}
}

// SeedSession stores a session as is, for building usage histories.
func (s *Store) SeedSession(deviceID string, start time.Time, end *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := &sessionRow{ID: newID(), DeviceID: deviceID, StartTime: start, EndTime: end}
	s.data.sessions.insert(row.ID, row)
}

func copySession(row *sessionRow) *model.UsageSession {
	cp := *row
	return &cp
}

func (r sessions) Open(ctx context.Context, session *model.UsageSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("sessions.Open"); err != nil {
		return err
	}
	session.ID = newID()
	r.data.sessions.insert(session.ID, copySession(session))
	return nil
}

func (r sessions) CloseOpen(ctx context.Context, deviceID string, now time.Time) ([]*model.UsageSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("sessions.CloseOpen"); err != nil {
		return nil, err
	}
	var closed []*model.UsageSession
	for _, row := range r.data.sessions.all() {
		if row.DeviceID == deviceID && row.EndTime == nil {
			row.EndTime = timePtr(now)
			closed = append(closed, copySession(row))
		}
	}
	return closed, nil
}

func (r sessions) FindSince(ctx context.Context, deviceID string, since time.Time) ([]*model.UsageSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("sessions.FindSince"); err != nil {
		return nil, err
	}
	out := []*model.UsageSession{}
	for _, row := range r.data.sessions.all() {
		if row.DeviceID != deviceID {
			continue
		}
		if row.EndTime == nil || row.EndTime.After(since) {
			out = append(out, copySession(row))
		}
	}
	slices.SortStableFunc(out, func(a, b *model.UsageSession) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out, nil
}
