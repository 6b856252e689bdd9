// Package session runs aggregation sessions: one scan buffer and one task
// per session, checked against the shared package history.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/aggregation/internal/aggregation"
	"example.com/backstage/services/aggregation/internal/cache"
	"example.com/backstage/services/aggregation/internal/metrics"
	"example.com/backstage/services/aggregation/internal/model"
	"example.com/backstage/services/aggregation/internal/repository"
)

var (
	ErrSessionExists   = errors.New("session already open")
	ErrSessionNotFound = errors.New("session not found")
)

// Manager owns the open sessions
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	settings   Settings
	processor  *aggregation.Processor
	aggregates repository.AggregateRepository
	buffers    repository.BufferRepository
	tasks      repository.TaskRepository
	publisher  cache.Publisher
	now        func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source used by Open, Restore and Tick
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager. Packages are checked against
// aggregates; tasks and buffers are persisted so sessions survive a restart.
func NewManager(settings Settings, aggregates repository.AggregateRepository, buffers repository.BufferRepository,
	tasks repository.TaskRepository, publisher cache.Publisher, opts ...Option) *Manager {
	m := &Manager{
		sessions:   make(map[string]*Session),
		settings:   settings,
		aggregates: aggregates,
		buffers:    buffers,
		tasks:      tasks,
		publisher:  publisher,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.processor = aggregation.NewProcessor(aggregates, aggregation.WithClock(func() time.Time { return m.now() }))
	return m
}

// Settings returns the settings new sessions are created with
func (m *Manager) Settings() Settings {
	return m.settings
}

// Open starts a session for task
func (m *Manager) Open(ctx context.Context, task model.Task) (*Session, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[task.ID]; ok {
		return nil, errors.Wrapf(ErrSessionExists, "task %s", task.ID)
	}

	now := m.now().UTC()
	rec, err := taskRecord(&task)
	if err != nil {
		return nil, err
	}
	rec.StartedAt = now
	if err := m.tasks.Save(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "failed to save task")
	}

	s := newSession(&task, m.settings, m.processor, m.aggregates, m.buffers, m.publisher, now)
	m.sessions[task.ID] = s
	metrics.GetMetricsCollector().SetActiveSessions(len(m.sessions))

	log.Info().
		Str("session_id", task.ID).
		Str("gtin", task.GTIN).
		Int("packs_in_box", task.NumPacksInBox).
		Msg("Session opened")
	return s, nil
}

// Get returns an open session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "task %s", id)
	}
	return s, nil
}

// List returns the open sessions ordered by id
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Close ends a session and deletes everything stored for its task: the
// committed packages, the buffer records and the task record. The deletes
// share one transaction; on failure the session stays open.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	// wait for an in-flight frame or check
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Wrapf(ErrSessionNotFound, "task %s", id)
	}

	err = m.tasks.Delete(ctx, id, func(tx *gorm.DB) error {
		if err := m.aggregates.DeleteByTaskTx(tx, id); err != nil {
			return errors.Wrap(err, "failed to delete packages")
		}
		return errors.Wrap(m.buffers.ClearTx(tx, id), "failed to clear buffer")
	})
	if err != nil {
		return errors.Wrap(err, "failed to close session")
	}
	s.closed = true

	m.mu.Lock()
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()
	metrics.GetMetricsCollector().SetActiveSessions(count)

	if err := m.publisher.Forget(ctx, id); err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("Failed to forget session")
	}

	log.Info().Str("session_id", id).Msg("Session closed")
	return nil
}

// Restore reopens the sessions whose tasks were saved and reloads their
// buffers. It returns the number of sessions restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	records, err := m.tasks.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list tasks")
	}

	now := m.now().UTC()
	restored := 0
	for _, rec := range records {
		task, err := taskFromRecord(rec)
		if err != nil {
			return restored, err
		}

		m.mu.Lock()
		if _, ok := m.sessions[task.ID]; ok {
			m.mu.Unlock()
			continue
		}
		s := newSession(task, m.settings, m.processor, m.aggregates, m.buffers, m.publisher, rec.StartedAt)
		m.sessions[task.ID] = s
		m.mu.Unlock()

		if err := s.restore(ctx, now); err != nil {
			return restored, err
		}
		m.restoreLastResult(ctx, s)
		restored++

		log.Info().
			Str("session_id", task.ID).
			Int("buffered", s.Len()).
			Msg("Session restored")
	}

	metrics.GetMetricsCollector().SetActiveSessions(len(m.List()))
	return restored, nil
}

// restoreLastResult picks up the result published before a restart
func (m *Manager) restoreLastResult(ctx context.Context, s *Session) {
	result, err := m.publisher.LastResult(ctx, s.ID())
	if err != nil {
		log.Warn().Err(err).Str("session_id", s.ID()).Msg("Failed to load last check result")
		return
	}
	if result == nil {
		return
	}
	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()
}

// Tick evicts and evaluates every open session. It is driven by the
// scheduler so sessions progress when no frames arrive.
func (m *Manager) Tick(ctx context.Context) []Outcome {
	now := m.now()
	var outcomes []Outcome
	buffered := 0
	for _, s := range m.List() {
		outcome, err := s.Tick(ctx, now)
		if err != nil {
			log.Error().Err(err).Str("session_id", s.ID()).Msg("Session tick failed")
			continue
		}
		if outcome != nil {
			outcomes = append(outcomes, *outcome)
		}
		buffered += s.Len()
	}
	metrics.GetMetricsCollector().SetBufferedCodes(buffered)
	return outcomes
}
