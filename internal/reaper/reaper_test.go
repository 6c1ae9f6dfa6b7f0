package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/orchestrator"
	"github.com/toolscout/catalogd/internal/storage"
)

// --- Fixtures ---

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock   *clock
	locker  *orchestrator.MemoryLocker
	reports *storage.MemoryReportStore
	reaper  *Reaper
}

func newFixture(opts ...Option) *fixture {
	c := &clock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	f := &fixture{
		clock:   c,
		locker:  orchestrator.NewMemoryLocker().WithClock(c.Now),
		reports: storage.NewMemoryReportStore(),
	}
	f.reaper = New(f.locker, f.reports, append([]Option{WithClock(c.Now)}, opts...)...)
	return f
}

func (f *fixture) acquire(t *testing.T, kind domain.JobKind, holder, runID string) {
	t.Helper()
	ok, err := f.locker.Acquire(context.Background(), kind, holder, runID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

type recordingArchive struct {
	mu      sync.Mutex
	reports []domain.RunReport
}

func (a *recordingArchive) ArchiveRunReport(_ context.Context, r domain.RunReport) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, r)
	return nil
}

// --- Sweep ---

func TestRunNow_LiveLease_Untouched(t *testing.T) {
	f := newFixture()
	f.acquire(t, domain.JobDiscovery, "replica-a", "run-1")

	status, err := f.reaper.RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Status{}, status)
	ok, _ := f.locker.Acquire(context.Background(), domain.JobDiscovery, "replica-b", "run-2", time.Minute)
	assert.False(t, ok)
}

func TestRunNow_ExpiredLeaseNoReport_WritesFailedReport(t *testing.T) {
	f := newFixture()
	f.acquire(t, domain.JobDiscovery, "replica-a", "run-1")
	f.clock.Advance(5 * time.Minute)

	status, err := f.reaper.RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Status{LeasesReaped: 1, ReportsWritten: 1}, status)

	got, err := f.reports.LatestReport(context.Background(), domain.JobDiscovery)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.RunID)
	assert.False(t, got.Success)
	assert.Equal(t, []string{AbandonedError}, got.Errors)
	assert.Equal(t, (5 * time.Minute).Milliseconds(), got.DurationMs)

	leases, _ := f.locker.ExpiredLeases(context.Background())
	assert.Empty(t, leases, "lease released")
}

func TestRunNow_ExpiredLeaseOlderReport_Replaced(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.reports.SaveReport(ctx, domain.RunReport{
		RunID: "run-0", Kind: domain.JobRefresh, Timestamp: f.clock.Now().Add(-time.Hour), Success: true,
	}))
	f.acquire(t, domain.JobRefresh, "replica-a", "run-1")
	f.clock.Advance(5 * time.Minute)

	status, err := f.reaper.RunNow(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, status.ReportsWritten)
	got, _ := f.reports.LatestReport(ctx, domain.JobRefresh)
	assert.Equal(t, "run-1", got.RunID)
	assert.False(t, got.Success)
}

func TestRunNow_RunReportedBeforeLeaseLapsed_ReportKept(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.acquire(t, domain.JobRefresh, "replica-a", "run-1")
	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.reports.SaveReport(ctx, domain.RunReport{
		RunID: "run-1", Kind: domain.JobRefresh, Timestamp: f.clock.Now(), Success: true,
	}))
	f.clock.Advance(5 * time.Minute)

	status, err := f.reaper.RunNow(ctx)

	require.NoError(t, err)
	assert.Equal(t, Status{LeasesReaped: 1}, status)
	got, _ := f.reports.LatestReport(ctx, domain.JobRefresh)
	assert.True(t, got.Success)
}

func TestRunNow_ReleasedLease_KindRunnableAgain(t *testing.T) {
	f := newFixture()
	f.acquire(t, domain.JobManualRefresh, "replica-a", "run-1")
	f.clock.Advance(5 * time.Minute)

	_, err := f.reaper.RunNow(context.Background())
	require.NoError(t, err)

	ok, err := f.locker.Heartbeat(context.Background(), domain.JobManualRefresh, "replica-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "the dead holder lost its lease")
}

func TestRunNow_SaveFails_LeaseKeptForNextSweep(t *testing.T) {
	f := newFixture()
	f.acquire(t, domain.JobDiscovery, "replica-a", "run-1")
	f.clock.Advance(5 * time.Minute)
	f.reports.FailWith(errors.New("connection refused"))

	status, err := f.reaper.RunNow(context.Background())

	require.NoError(t, err)
	assert.Zero(t, status.LeasesReaped)
	leases, _ := f.locker.ExpiredLeases(context.Background())
	assert.Len(t, leases, 1)

	f.reports.FailWith(nil)
	status, err = f.reaper.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.LeasesReaped)
}

func TestRunNow_ArchivesAbandonedReport(t *testing.T) {
	archive := &recordingArchive{}
	f := newFixture(WithArchiver(archive))
	f.acquire(t, domain.JobDiscovery, "replica-a", "run-1")
	f.clock.Advance(5 * time.Minute)

	_, err := f.reaper.RunNow(context.Background())

	require.NoError(t, err)
	require.Len(t, archive.reports, 1)
	assert.Equal(t, "run-1", archive.reports[0].RunID)
}

// racingLeases runs afterList between listing expired leases and the
// release, the window in which a holder can come back.
type racingLeases struct {
	*orchestrator.MemoryLocker
	afterList func()
}

func (l *racingLeases) ExpiredLeases(ctx context.Context) ([]domain.JobLease, error) {
	leases, err := l.MemoryLocker.ExpiredLeases(ctx)
	l.afterList()
	return leases, err
}

func TestRunNow_SameHolderReacquiredNewRun_LeaseKept(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.acquire(t, domain.JobDiscovery, "replica-a", "run-1")
	f.clock.Advance(5 * time.Minute)
	leases := &racingLeases{MemoryLocker: f.locker, afterList: func() {
		f.acquire(t, domain.JobDiscovery, "replica-a", "run-2")
	}}
	r := New(leases, f.reports, WithClock(f.clock.Now))

	status, err := r.RunNow(ctx)

	require.NoError(t, err)
	assert.Equal(t, Status{ReportsWritten: 1}, status)
	got, _ := f.reports.LatestReport(ctx, domain.JobDiscovery)
	assert.Equal(t, "run-1", got.RunID, "abandoned run still recorded")
	ok, err := f.locker.Acquire(ctx, domain.JobDiscovery, "replica-b", "run-3", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "run-2 still holds the kind")
	alive, err := f.locker.Heartbeat(ctx, domain.JobDiscovery, "replica-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestRunNow_HeartbeatResumedAfterListing_LeaseKept(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.acquire(t, domain.JobRefresh, "replica-a", "run-1")
	f.clock.Advance(5 * time.Minute)
	leases := &racingLeases{MemoryLocker: f.locker, afterList: func() {
		ok, err := f.locker.Heartbeat(ctx, domain.JobRefresh, "replica-a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}}
	r := New(leases, f.reports, WithClock(f.clock.Now))

	status, err := r.RunNow(ctx)

	require.NoError(t, err)
	assert.Zero(t, status.LeasesReaped)
	ok, _ := f.locker.Acquire(ctx, domain.JobRefresh, "replica-b", "run-2", time.Minute)
	assert.False(t, ok)
}

type failingLeases struct{ orchestrator.MemoryLocker }

func (*failingLeases) ExpiredLeases(context.Context) ([]domain.JobLease, error) {
	return nil, errors.New("redis: connection refused")
}

func TestRunNow_ListFails_ReturnsError(t *testing.T) {
	r := New(&failingLeases{}, storage.NewMemoryReportStore())

	_, err := r.RunNow(context.Background())

	assert.ErrorContains(t, err, "list expired leases")
}

// --- Lifecycle ---

func TestNew_IntervalFloor(t *testing.T) {
	r := New(orchestrator.NewMemoryLocker(), storage.NewMemoryReportStore(), WithInterval(time.Millisecond))

	assert.Equal(t, time.Second, r.interval)
}

func TestStart_Stop(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.reaper.Start(ctx)
	f.reaper.Stop()
}

func TestStop_BeforeStart_DoesNotPanic(t *testing.T) {
	newFixture().reaper.Stop()
}
