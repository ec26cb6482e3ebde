package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cragcoach/internal/climbing"
	"cragcoach/internal/testutil"
)

type recordingRefresher struct {
	mu     sync.Mutex
	calls  [][]any
	batch  int
	failed map[climbing.UserID]bool
}

func (r *recordingRefresher) BulkRefresh(_ context.Context, userIDs []any, batchSize int) map[climbing.UserID]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userIDs)
	r.batch = batchSize
	out := make(map[climbing.UserID]bool, len(userIDs))
	for _, raw := range userIDs {
		uid := raw.(climbing.UserID)
		out[uid] = !r.failed[uid]
	}
	return out
}

type failingUsers struct{}

func (failingUsers) ListActiveUsers(context.Context, time.Time) ([]climbing.UserID, error) {
	return nil, errors.New("db down")
}

func newRepo(now time.Time) *testutil.FakeRepository {
	repo := testutil.NewFakeRepository()
	repo.Ticks[climbing.MustUserID(1)] = []climbing.Tick{{Date: now.AddDate(0, 0, -2).Format("2006-01-02"), RouteName: "Roof", Grade: "V4"}}
	repo.Ticks[climbing.MustUserID(2)] = []climbing.Tick{{Date: now.AddDate(0, 0, -30).Format("2006-01-02"), RouteName: "Slab", Grade: "V2"}}
	repo.Chats[climbing.MustUserID(3)] = []climbing.ChatTurn{{Role: "user", Content: "hi", CreatedAt: now.Add(-time.Hour)}}
	return repo
}

func TestRunOnceRefreshesActiveUsers(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	refresher := &recordingRefresher{failed: map[climbing.UserID]bool{"3": true}}
	sched := New(Config{BatchSize: 7}, newRepo(now), refresher, nil, WithClock(func() time.Time { return now }))

	summary, err := sched.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, refresher.calls, 1)
	assert.Equal(t, []any{climbing.UserID("1"), climbing.UserID("3")}, refresher.calls[0])
	assert.Equal(t, 7, refresher.batch)
	assert.Equal(t, 2, summary.Users)
	assert.Equal(t, 1, summary.Refreshed)
	assert.Equal(t, []climbing.UserID{"3"}, summary.Failed)

	last, runs := sched.LastRun()
	assert.Equal(t, summary, last)
	assert.Equal(t, 1, runs)
}

func TestRunOnceWithoutActiveUsersSkipsRefresh(t *testing.T) {
	refresher := &recordingRefresher{}
	sched := New(Config{}, testutil.NewFakeRepository(), refresher, nil)

	summary, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Users)
	assert.Empty(t, refresher.calls)
}

func TestRunOnceListFailure(t *testing.T) {
	refresher := &recordingRefresher{}
	sched := New(Config{}, failingUsers{}, refresher, nil)

	_, err := sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Empty(t, refresher.calls)
}

func TestStartDisabled(t *testing.T) {
	sched := New(Config{Enabled: false}, testutil.NewFakeRepository(), &recordingRefresher{}, nil)
	require.NoError(t, sched.Start(context.Background()))
	assert.True(t, sched.Next().IsZero())
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	sched := New(Config{Enabled: true, Spec: "not a cron"}, testutil.NewFakeRepository(), &recordingRefresher{}, nil)
	err := sched.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a cron")
}

func TestStartSchedulesAndStopsWithContext(t *testing.T) {
	sched := New(Config{Enabled: true, Spec: "@every 1h"}, testutil.NewFakeRepository(), &recordingRefresher{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(ctx))
	assert.False(t, sched.Next().IsZero())

	cancel()
	select {
	case <-sched.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
	sched.Stop()
}
