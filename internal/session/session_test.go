package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/backstage/services/aggregation/config"
	"example.com/backstage/services/aggregation/internal/aggregation"
	"example.com/backstage/services/aggregation/internal/cache"
	"example.com/backstage/services/aggregation/internal/classifier"
	"example.com/backstage/services/aggregation/internal/db"
	"example.com/backstage/services/aggregation/internal/gs1"
	"example.com/backstage/services/aggregation/internal/model"
	"example.com/backstage/services/aggregation/internal/repository"
	"example.com/backstage/services/aggregation/internal/scanbuffer"
)

const (
	taskGTIN  = "04600605032541"
	otherGTIN = "04600605099999"
	boxSSCC   = "046000000000000017"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func productRaw(gtin, serial string) classifier.RawCode {
	return classifier.RawCode{
		Value:     gs1.FNC1 + "01" + gtin + "21" + serial + gs1.FNC1 + "93" + "Xy9z",
		Symbology: gs1.DataMatrix,
	}
}

func boxRaw(sscc string) classifier.RawCode {
	return classifier.RawCode{Value: sscc, Symbology: gs1.Code128}
}

func defaultSettings() Settings {
	return Settings{
		StaleTTL:      300 * time.Millisecond,
		CoolingPeriod: 500 * time.Millisecond,
		RejectPolicy:  RejectRetain,
		PersistBuffer: true,
	}
}

type fixture struct {
	db         *gorm.DB
	aggregates repository.AggregateRepository
	buffers    repository.BufferRepository
	tasks      repository.TaskRepository
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + uuid.New().String() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })

	return &fixture{
		db:         gdb,
		aggregates: repository.NewAggregateRepository(gdb),
		buffers:    repository.NewBufferRepository(gdb),
		tasks:      repository.NewTaskRepository(gdb),
		clock:      t0,
	}
}

func (f *fixture) manager(settings Settings, publisher cache.Publisher) *Manager {
	if publisher == nil {
		publisher = &cache.RedisPublisher{}
	}
	return NewManager(settings, f.aggregates, f.buffers, f.tasks, publisher,
		WithClock(func() time.Time { return f.clock }))
}

func (f *fixture) bufferRecords(t *testing.T, sessionID string) []string {
	t.Helper()
	records, err := f.buffers.List(context.Background(), sessionID)
	require.NoError(t, err)
	raws := make([]string, 0, len(records))
	for _, r := range records {
		raws = append(raws, r.RawValue)
	}
	return raws
}

func testTask(id string, packs int) model.Task {
	return model.Task{ID: id, GTIN: taskGTIN, NumPacksInBox: packs}
}

func TestStableTriggerCommitsPackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.manager(defaultSettings(), nil)

	s, err := m.Open(ctx, testTask("task-1", 2))
	require.NoError(t, err)

	frame := []classifier.RawCode{productRaw(taskGTIN, "S1"), productRaw(taskGTIN, "S2"), boxRaw(boxSSCC)}

	outcome, err := s.Observe(ctx, frame, t0)
	require.NoError(t, err)
	require.Nil(t, outcome)
	require.Len(t, f.bufferRecords(t, "task-1"), 3)

	outcome, err = s.Observe(ctx, frame, t0.Add(200*time.Millisecond))
	require.NoError(t, err)
	require.Nil(t, outcome, "cooling period not reached")
	require.Equal(t, scanbuffer.StateFilling, s.Snapshot(t0.Add(200*time.Millisecond)).State)

	outcome, err = s.Observe(ctx, frame, t0.Add(500*time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, TriggerStable, outcome.Trigger)
	require.True(t, outcome.Result.Success, outcome.Result.Reason)

	require.Zero(t, s.Len())
	require.Empty(t, f.bufferRecords(t, "task-1"))

	packages, err := s.Packages(ctx)
	require.NoError(t, err)
	require.Len(t, packages, 1)
	require.Len(t, packages[0].Codes, 2)
	require.Equal(t, boxSSCC, packages[0].SSCC)
}

func TestRejectedSetIsNotRecheckedUntilItChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.manager(defaultSettings(), nil)
	s, err := m.Open(ctx, testTask("task-1", 2))
	require.NoError(t, err)

	wrong := productRaw(otherGTIN, "S2")
	frame := []classifier.RawCode{productRaw(taskGTIN, "S1"), wrong, boxRaw(boxSSCC)}

	_, err = s.Observe(ctx, frame, t0)
	require.NoError(t, err)
	outcome, err := s.Observe(ctx, frame, t0.Add(600*time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, aggregation.KindGTINMismatch, outcome.Result.Kind)
	require.Equal(t, []string{wrong.Value}, outcome.Result.InvalidCodes)

	// retain policy keeps everything, and the same set is not checked again
	require.Equal(t, 3, s.Len())
	require.Equal(t, scanbuffer.StateChecked, s.Snapshot(t0.Add(700*time.Millisecond)).State)
	for i := 7; i < 12; i++ {
		outcome, err = s.Observe(ctx, frame, t0.Add(time.Duration(i)*100*time.Millisecond))
		require.NoError(t, err)
		require.Nil(t, outcome)
	}

	// replacing the wrong pack changes the set and re-arms the trigger
	fixed := []classifier.RawCode{productRaw(taskGTIN, "S1"), productRaw(taskGTIN, "S3"), boxRaw(boxSSCC)}
	now := t0.Add(1200 * time.Millisecond)
	_, err = s.Observe(ctx, fixed, now)
	require.NoError(t, err)
	_, err = s.Observe(ctx, fixed, now.Add(400*time.Millisecond))
	require.NoError(t, err)
	// the wrong pack has left the view
	require.Equal(t, 3, s.Len())

	_, err = s.Observe(ctx, fixed, now.Add(650*time.Millisecond))
	require.NoError(t, err)
	outcome, err = s.Observe(ctx, fixed, now.Add(900*time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.True(t, outcome.Result.Success, outcome.Result.Reason)
}

func TestEvictionForgetsCodesThatLeftTheView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.manager(defaultSettings(), nil)
	s, err := m.Open(ctx, testTask("task-1", 2))
	require.NoError(t, err)

	a, b := productRaw(taskGTIN, "S1"), productRaw(taskGTIN, "S2")
	_, err = s.Observe(ctx, []classifier.RawCode{a, b}, t0)
	require.NoError(t, err)
	_, err = s.Observe(ctx, []classifier.RawCode{a}, t0.Add(200*time.Millisecond))
	require.NoError(t, err)

	// empty frames still evict
	_, err = s.Observe(ctx, nil, t0.Add(400*time.Millisecond))
	require.NoError(t, err)

	view := s.Snapshot(t0.Add(400 * time.Millisecond))
	require.Len(t, view.Codes, 1)
	require.Equal(t, a.Value, view.Codes[0].RawValue)
	require.Equal(t, []string{a.Value}, f.bufferRecords(t, "task-1"))
}

func TestRejectPolicies(t *testing.T) {
	wrong := productRaw(otherGTIN, "S2")
	frame := []classifier.RawCode{productRaw(taskGTIN, "S1"), wrong, boxRaw(boxSSCC)}

	cases := []struct {
		policy    RejectPolicy
		remaining int
	}{
		{RejectRetain, 3},
		{RejectClear, 0},
		{RejectDropInvalid, 2},
	}

	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			settings := defaultSettings()
			settings.RejectPolicy = tc.policy
			m := f.manager(settings, nil)
			s, err := m.Open(ctx, testTask("task-1", 2))
			require.NoError(t, err)

			_, err = s.Observe(ctx, frame, t0)
			require.NoError(t, err)
			outcome, err := s.Observe(ctx, frame, t0.Add(500*time.Millisecond))
			require.NoError(t, err)
			require.NotNil(t, outcome)
			require.False(t, outcome.Result.Success)

			require.Equal(t, tc.remaining, s.Len())
			require.Len(t, f.bufferRecords(t, "task-1"), tc.remaining)
			if tc.policy == RejectDropInvalid {
				view := s.Snapshot(t0.Add(500 * time.Millisecond))
				for _, c := range view.Codes {
					require.NotEqual(t, wrong.Value, c.RawValue)
				}
			}
		})
	}
}

func TestInactivityTimeoutChecksIncompleteSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settings := defaultSettings()
	settings.StaleTTL = 0
	settings.InactivityTimeout = time.Second
	m := f.manager(settings, nil)
	s, err := m.Open(ctx, testTask("task-1", 2))
	require.NoError(t, err)

	_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S1"), boxRaw(boxSSCC)}, t0)
	require.NoError(t, err)

	outcome, err := s.Tick(ctx, t0.Add(900*time.Millisecond))
	require.NoError(t, err)
	require.Nil(t, outcome)

	outcome, err = s.Tick(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, TriggerInactivity, outcome.Trigger)
	require.Equal(t, aggregation.KindPackCount, outcome.Result.Kind)
	require.Contains(t, outcome.Result.Reason, "expected 2, found 1")

	// inactivity failures always start over
	require.Zero(t, s.Len())
	require.Empty(t, f.bufferRecords(t, "task-1"))
}

func TestCheckNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.manager(defaultSettings(), nil)
	s, err := m.Open(ctx, testTask("task-1", 1))
	require.NoError(t, err)

	_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S1"), boxRaw(boxSSCC)}, t0)
	require.NoError(t, err)

	outcome, err := s.CheckNow(ctx, t0.Add(10*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, TriggerManual, outcome.Trigger)
	require.True(t, outcome.Result.Success, outcome.Result.Reason)

	view := s.Snapshot(t0.Add(20 * time.Millisecond))
	require.NotNil(t, view.LastResult)
	require.True(t, view.LastResult.Success)
	require.Equal(t, scanbuffer.StateEmpty, view.State)
}

func TestManagerLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.manager(defaultSettings(), nil)

	_, err := m.Open(ctx, model.Task{ID: "bad"})
	require.Error(t, err)

	s, err := m.Open(ctx, testTask("task-1", 1))
	require.NoError(t, err)

	_, err = m.Open(ctx, testTask("task-1", 1))
	require.ErrorIs(t, err, ErrSessionExists)

	_, err = m.Get("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	got, err := m.Get("task-1")
	require.NoError(t, err)
	require.Same(t, s, got)

	_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S1"), boxRaw(boxSSCC)}, t0)
	require.NoError(t, err)
	outcome, err := s.CheckNow(ctx, t0)
	require.NoError(t, err)
	require.True(t, outcome.Result.Success, outcome.Result.Reason)

	require.NoError(t, m.Close(ctx, "task-1"))
	require.Empty(t, m.List())

	packages, err := f.aggregates.ListByTask(ctx, "task-1")
	require.NoError(t, err)
	require.Empty(t, packages)
	_, err = f.tasks.FindByID(ctx, "task-1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	// a stale handle cannot write into a closed session
	_, err = s.Observe(ctx, []classifier.RawCode{boxRaw(boxSSCC)}, t0)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.CheckNow(ctx, t0)
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.ErrorIs(t, m.Close(ctx, "task-1"), ErrSessionNotFound)
}

func TestRestoreReloadsSessionsAndBuffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settings := defaultSettings()
	settings.StaleTTL = 0

	first := f.manager(settings, nil)
	s, err := first.Open(ctx, testTask("task-1", 2))
	require.NoError(t, err)
	_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S1"), boxRaw(boxSSCC)}, t0)
	require.NoError(t, err)

	// a new process over the same database
	second := f.manager(settings, nil)
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	restored, err := second.Get("task-1")
	require.NoError(t, err)
	require.Equal(t, 2, restored.Len())
	require.Equal(t, 2, restored.Task().NumPacksInBox)

	// the restored buffer completes the box
	now := t0.Add(time.Minute)
	_, err = restored.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S2")}, now)
	require.NoError(t, err)
	outcome, err := restored.Observe(ctx, nil, now.Add(500*time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.True(t, outcome.Result.Success, outcome.Result.Reason)

	n, err = second.Restore(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "already open sessions are skipped")
}

func TestBufferNotPersistedWhenDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settings := defaultSettings()
	settings.PersistBuffer = false
	m := f.manager(settings, nil)
	s, err := m.Open(ctx, testTask("task-1", 1))
	require.NoError(t, err)

	_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S1")}, t0)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	require.Empty(t, f.bufferRecords(t, "task-1"))
}

func TestManagerTickUsesClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.manager(defaultSettings(), nil)
	s, err := m.Open(ctx, testTask("task-1", 1))
	require.NoError(t, err)

	_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S1")}, t0)
	require.NoError(t, err)

	f.clock = t0.Add(time.Second)
	outcomes := m.Tick(ctx)
	require.Empty(t, outcomes)
	require.Zero(t, s.Len(), "tick evicted the stale code")
}

// MockPublisher records what a session publishes
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishSnapshot(ctx context.Context, sessionID string, codes []classifier.ClassifiedCode) error {
	args := m.Called(ctx, sessionID, codes)
	return args.Error(0)
}

func (m *MockPublisher) PublishResult(ctx context.Context, sessionID string, result aggregation.CheckResult) error {
	args := m.Called(ctx, sessionID, result)
	return args.Error(0)
}

func (m *MockPublisher) LastResult(ctx context.Context, sessionID string) (*aggregation.CheckResult, error) {
	args := m.Called(ctx, sessionID)
	result, _ := args.Get(0).(*aggregation.CheckResult)
	return result, args.Error(1)
}

func (m *MockPublisher) Forget(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

func TestSessionPublishesResultsAndSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	publisher := new(MockPublisher)
	publisher.On("PublishSnapshot", mock.Anything, "task-1", mock.Anything).Return(nil)
	publisher.On("PublishResult", mock.Anything, "task-1", mock.MatchedBy(func(r aggregation.CheckResult) bool {
		return r.Success
	})).Return(nil).Once()
	publisher.On("Forget", mock.Anything, "task-1").Return(nil).Once()

	m := f.manager(defaultSettings(), publisher)
	s, err := m.Open(ctx, testTask("task-1", 1))
	require.NoError(t, err)

	_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S1"), boxRaw(boxSSCC)}, t0)
	require.NoError(t, err)
	_, err = s.CheckNow(ctx, t0)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, "task-1"))

	publisher.AssertExpectations(t)
	publisher.AssertNumberOfCalls(t, "PublishSnapshot", 2)
}

func TestParseRejectPolicy(t *testing.T) {
	p, err := ParseRejectPolicy("")
	require.NoError(t, err)
	require.Equal(t, RejectRetain, p)

	p, err = ParseRejectPolicy("drop_invalid")
	require.NoError(t, err)
	require.Equal(t, RejectDropInvalid, p)

	_, err = ParseRejectPolicy("shred")
	require.Error(t, err)

	s, err := SettingsFromConfig(config.ScanConfig{
		StaleTTL:      time.Second,
		CoolingPeriod: 2 * time.Second,
		RejectPolicy:  "clear",
		PersistBuffer: true,
	})
	require.NoError(t, err)
	require.Equal(t, RejectClear, s.RejectPolicy)
	require.Equal(t, 2*time.Second, s.CoolingPeriod)
}

// failingTasks fails every delete after the caller's work ran in the
// transaction
type failingTasks struct {
	repository.TaskRepository
}

func (r failingTasks) Delete(ctx context.Context, id string, inTx func(tx *gorm.DB) error) error {
	return r.TaskRepository.Delete(ctx, id, func(tx *gorm.DB) error {
		if err := inTx(tx); err != nil {
			return err
		}
		return errors.New("disk full")
	})
}

func TestCloseFailureKeepsSessionAndData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := NewManager(defaultSettings(), f.aggregates, f.buffers, failingTasks{f.tasks}, &cache.RedisPublisher{},
		WithClock(func() time.Time { return f.clock }))

	s, err := m.Open(ctx, testTask("task-1", 1))
	require.NoError(t, err)
	_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S1"), boxRaw(boxSSCC)}, t0)
	require.NoError(t, err)
	outcome, err := s.CheckNow(ctx, t0)
	require.NoError(t, err)
	require.True(t, outcome.Result.Success, outcome.Result.Reason)
	_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S2")}, t0)
	require.NoError(t, err)

	err = m.Close(ctx, "task-1")
	require.ErrorContains(t, err, "disk full")

	got, err := m.Get("task-1")
	require.NoError(t, err)
	require.Same(t, s, got)
	_, err = s.Observe(ctx, nil, t0)
	require.NoError(t, err, "session is still open")

	packages, err := f.aggregates.ListByTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, packages, 1)
	require.Len(t, f.bufferRecords(t, "task-1"), 1)
	_, err = f.tasks.FindByID(ctx, "task-1")
	require.NoError(t, err)
}

func TestRestorePicksUpLastPublishedResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.manager(defaultSettings(), nil)
	_, err := first.Open(ctx, testTask("task-1", 2))
	require.NoError(t, err)

	last := &aggregation.CheckResult{
		Kind:         aggregation.KindPackCount,
		Reason:       "pack count mismatch: expected 2, found 1",
		InvalidCodes: []string{},
		CheckedAt:    t0,
	}
	publisher := new(MockPublisher)
	publisher.On("LastResult", mock.Anything, "task-1").Return(last, nil).Once()

	second := f.manager(defaultSettings(), publisher)
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	s, err := second.Get("task-1")
	require.NoError(t, err)
	view := s.Snapshot(t0)
	require.NotNil(t, view.LastResult)
	require.Equal(t, last.Reason, view.LastResult.Reason)
	publisher.AssertExpectations(t)
}

func TestSessionsRacingForOneSSCCCommitOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.manager(defaultSettings(), nil)

	sessions := make([]*Session, 2)
	for i, id := range []string{"task-1", "task-2"} {
		s, err := m.Open(ctx, testTask(id, 1))
		require.NoError(t, err)
		// distinct products, same box label
		_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, id), boxRaw(boxSSCC)}, t0)
		require.NoError(t, err)
		sessions[i] = s
	}

	outcomes := make([]Outcome, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			outcome, err := s.CheckNow(ctx, t0)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i, s)
	}
	wg.Wait()

	successes := 0
	for _, outcome := range outcomes {
		if outcome.Result.Success {
			successes++
			continue
		}
		require.Contains(t, []aggregation.FailureKind{aggregation.KindDuplicateSSCC, aggregation.KindStorage},
			outcome.Result.Kind, outcome.Result.Reason)
	}
	require.Equal(t, 1, successes)

	var count int64
	require.NoError(t, f.db.Model(&model.AggregatePackage{}).Where("sscc = ?", boxSSCC).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestConcurrentChecksOnOneSessionCommitOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.manager(defaultSettings(), nil)

	s, err := m.Open(ctx, testTask("task-1", 1))
	require.NoError(t, err)
	_, err = s.Observe(ctx, []classifier.RawCode{productRaw(taskGTIN, "S1"), boxRaw(boxSSCC)}, t0)
	require.NoError(t, err)

	var (
		mu        sync.Mutex
		successes int
		wg        sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.CheckNow(ctx, t0)
			assert.NoError(t, err)
			if outcome.Result.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	packages, err := s.Packages(ctx)
	require.NoError(t, err)
	require.Len(t, packages, 1)
}
