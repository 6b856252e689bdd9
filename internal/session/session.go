package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/aggregation/internal/aggregation"
	"example.com/backstage/services/aggregation/internal/cache"
	"example.com/backstage/services/aggregation/internal/classifier"
	"example.com/backstage/services/aggregation/internal/metrics"
	"example.com/backstage/services/aggregation/internal/model"
	"example.com/backstage/services/aggregation/internal/repository"
	"example.com/backstage/services/aggregation/internal/scanbuffer"
)

// Trigger names what started a check
type Trigger string

const (
	TriggerStable     Trigger = "stable"
	TriggerInactivity Trigger = "inactivity"
	TriggerManual     Trigger = "manual"
)

// Outcome is a check run by a session
type Outcome struct {
	SessionID string                  `json:"session_id"`
	Trigger   Trigger                 `json:"trigger"`
	Result    aggregation.CheckResult `json:"result"`
}

// View is a read-only picture of a session
type View struct {
	ID         string                      `json:"id"`
	Task       model.Task                  `json:"task"`
	State      scanbuffer.State            `json:"state"`
	Codes      []classifier.ClassifiedCode `json:"codes"`
	Expected   int                         `json:"expected"`
	StableMs   int64                       `json:"stable_ms"`
	StartedAt  time.Time                   `json:"started_at"`
	LastResult *aggregation.CheckResult    `json:"last_result,omitempty"`
}

// Session aggregates codes for one task. Frames, ticks and manual checks
// are serialized by one mutex, so the read-then-commit sequence of a check
// never interleaves with buffer changes.
type Session struct {
	mu         sync.Mutex
	task       *model.Task
	buffer     *scanbuffer.Buffer
	settings   Settings
	processor  *aggregation.Processor
	aggregates repository.AggregateRepository
	buffers    repository.BufferRepository
	publisher  cache.Publisher
	startedAt  time.Time
	lastResult *aggregation.CheckResult
	closed     bool
}

func newSession(task *model.Task, settings Settings, processor *aggregation.Processor,
	aggregates repository.AggregateRepository, buffers repository.BufferRepository,
	publisher cache.Publisher, startedAt time.Time) *Session {
	if !settings.PersistBuffer {
		buffers = nil
	}
	return &Session{
		task:       task,
		buffer:     scanbuffer.New(),
		settings:   settings,
		processor:  processor,
		aggregates: aggregates,
		buffers:    buffers,
		publisher:  publisher,
		startedAt:  startedAt,
	}
}

// ID returns the session id, which is the task id
func (s *Session) ID() string {
	return s.task.ID
}

// Task returns a copy of the session's task
func (s *Session) Task() model.Task {
	return *s.task
}

// Observe merges one frame of decoded codes, evicts codes that left the
// view and runs a check when the trigger fires. An empty frame still
// evicts. The returned outcome is nil when no check ran.
func (s *Session) Observe(ctx context.Context, frame []classifier.RawCode, now time.Time) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.Wrapf(ErrSessionNotFound, "task %s", s.ID())
	}

	codes := classifier.ClassifyAll(frame)
	metrics.GetMetricsCollector().RecordFrame(len(codes))

	var added []classifier.ClassifiedCode
	for _, code := range codes {
		if s.buffer.Observe(code, now) {
			added = append(added, code)
		}
	}
	for i := range added {
		// pick up the timestamps the buffer assigned
		added[i].FirstSeenAt = now
		added[i].LastSeenAt = now
	}

	evicted := s.buffer.EvictStale(now, s.settings.StaleTTL)
	if len(evicted) > 0 {
		metrics.GetMetricsCollector().IncrementCounter(metrics.CounterCodesEvicted, int64(len(evicted)))
	}

	if err := s.persist(ctx, added, evicted); err != nil {
		return nil, err
	}
	if len(added) > 0 || len(evicted) > 0 {
		s.publishSnapshot(ctx)
		log.Debug().
			Str("session_id", s.ID()).
			Int("added", len(added)).
			Int("evicted", len(evicted)).
			Int("buffered", s.buffer.Len()).
			Msg("Buffer changed")
	}

	return s.evaluate(ctx, now), nil
}

// Tick evicts stale codes and evaluates the trigger without a new frame
func (s *Session) Tick(ctx context.Context, now time.Time) (*Outcome, error) {
	return s.Observe(ctx, nil, now)
}

// CheckNow runs a check on the current buffer regardless of the trigger
func (s *Session) CheckNow(ctx context.Context, now time.Time) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Outcome{}, errors.Wrapf(ErrSessionNotFound, "task %s", s.ID())
	}
	return s.runCheck(ctx, now, TriggerManual), nil
}

// Snapshot returns the current view of the session
func (s *Session) Snapshot(now time.Time) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := View{
		ID:        s.ID(),
		Task:      *s.task,
		State:     s.buffer.State(now, s.task.ExpectedCodes(), s.settings.CoolingPeriod),
		Codes:     s.buffer.Snapshot(),
		Expected:  s.task.ExpectedCodes(),
		StableMs:  s.buffer.StableFor(now).Milliseconds(),
		StartedAt: s.startedAt,
	}
	if s.lastResult != nil {
		result := *s.lastResult
		view.LastResult = &result
	}
	return view
}

// Len returns the number of buffered codes
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Len()
}

// Packages lists the packages committed for the session's task
func (s *Session) Packages(ctx context.Context) ([]model.AggregatePackage, error) {
	return s.aggregates.ListByTask(ctx, s.task.ID)
}

// restore loads persisted buffer records
func (s *Session) restore(ctx context.Context, now time.Time) error {
	if s.buffers == nil {
		return nil
	}
	records, err := s.buffers.List(ctx, s.ID())
	if err != nil {
		return errors.Wrap(err, "failed to load buffer")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		code, err := fromRecord(rec)
		if err != nil {
			return err
		}
		s.buffer.Restore(code, now)
	}
	return nil
}

// evaluate runs a check if the trigger fires. Callers hold the lock.
func (s *Session) evaluate(ctx context.Context, now time.Time) *Outcome {
	n := s.buffer.Len()
	if n == 0 || s.buffer.CheckTriggered() {
		return nil
	}

	stable := s.buffer.StableFor(now)
	var trigger Trigger
	switch {
	case n >= s.task.ExpectedCodes() && stable >= s.settings.CoolingPeriod:
		trigger = TriggerStable
	case s.settings.InactivityTimeout > 0 && stable >= s.settings.InactivityTimeout:
		trigger = TriggerInactivity
	default:
		return nil
	}

	outcome := s.runCheck(ctx, now, trigger)
	return &outcome
}

// runCheck checks the buffer and applies the outcome. Callers hold the lock.
func (s *Session) runCheck(ctx context.Context, now time.Time, trigger Trigger) Outcome {
	var clearBuffer func(tx *gorm.DB) error
	if s.buffers != nil {
		clearBuffer = func(tx *gorm.DB) error {
			return s.buffers.ClearTx(tx, s.ID())
		}
	}

	result := s.processor.Check(ctx, s.buffer.Snapshot(), s.task, clearBuffer)

	switch {
	case result.Success:
		// the persisted records went with the commit transaction
		s.buffer.Clear(now)
	case result.IsStorageFailure():
		// keep scan state across transient storage faults
	case trigger == TriggerInactivity || s.settings.RejectPolicy == RejectClear:
		s.buffer.Clear(now)
		s.logPersistError(s.clearRecords(ctx))
	case s.settings.RejectPolicy == RejectDropInvalid:
		removed := s.buffer.Remove(now, result.InvalidCodes...)
		s.logPersistError(s.persist(ctx, nil, removed))
	}
	if s.buffer.Len() > 0 {
		s.buffer.MarkChecked()
	}

	s.lastResult = &result
	if err := s.publisher.PublishResult(ctx, s.ID(), result); err != nil {
		metrics.GetMetricsCollector().RecordError(metrics.ErrorTypePublish)
		log.Error().Err(err).Str("session_id", s.ID()).Msg("Failed to publish check result")
	} else {
		metrics.GetMetricsCollector().IncrementCounter(metrics.CounterEventsPublished, 1)
	}
	s.publishSnapshot(ctx)

	return Outcome{SessionID: s.ID(), Trigger: trigger, Result: result}
}

// persist mirrors membership changes into the buffer records
func (s *Session) persist(ctx context.Context, added []classifier.ClassifiedCode, removed []string) error {
	if s.buffers == nil {
		return nil
	}
	if len(added) > 0 {
		records, err := toRecords(s.ID(), added)
		if err != nil {
			return err
		}
		if err := s.buffers.Upsert(ctx, records); err != nil {
			return errors.Wrap(err, "failed to persist buffered codes")
		}
	}
	if len(removed) > 0 {
		if err := s.buffers.Delete(ctx, s.ID(), removed); err != nil {
			return errors.Wrap(err, "failed to remove buffered codes")
		}
	}
	return nil
}

func (s *Session) clearRecords(ctx context.Context) error {
	if s.buffers == nil {
		return nil
	}
	return errors.Wrap(s.buffers.Clear(ctx, s.ID()), "failed to clear buffered codes")
}

func (s *Session) logPersistError(err error) {
	if err != nil {
		metrics.GetMetricsCollector().RecordError(metrics.ErrorTypeDatabase)
		log.Error().Err(err).Str("session_id", s.ID()).Msg("Failed to update buffer records")
	}
}

func (s *Session) publishSnapshot(ctx context.Context) {
	if err := s.publisher.PublishSnapshot(ctx, s.ID(), s.buffer.Snapshot()); err != nil {
		metrics.GetMetricsCollector().RecordError(metrics.ErrorTypePublish)
		log.Error().Err(err).Str("session_id", s.ID()).Msg("Failed to publish snapshot")
	}
}
