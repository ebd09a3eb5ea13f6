package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustlayer/internal/audit/domain"
)

func shortRetention() domain.RetentionPolicy {
	p := domain.DefaultRetentionPolicy()
	p.ArchiveAfter = time.Hour
	return p
}

func TestSweepRetention_Lifecycle(t *testing.T) {
	r, _, repo := newTestRecorder(t, WithRetention(shortRetention()))
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := r.Record(ctx, loginEvent("u-1"))
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	res, err := r.SweepRetention(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)

	archiveAt := t0.Add(time.Hour)
	res, err = r.SweepRetention(ctx, archiveAt)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Archived: 3}, res)

	res, err = r.SweepRetention(ctx, archiveAt)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res, "second sweep at the same instant is a no-op")

	rec, err := repo.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StateArchived, rec.Archival.State)
	require.NotNil(t, rec.Archival.ArchivedAt)
	assert.Equal(t, archiveAt, *rec.Archival.ArchivedAt)

	deleteAt := t0.AddDate(0, 12, 0)
	res, err = r.SweepRetention(ctx, deleteAt)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Deleted: 3}, res)

	res, err = r.SweepRetention(ctx, deleteAt.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)

	rec, err = repo.GetByID(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeleted, rec.Archival.State)
	assert.NoError(t, r.Verify(rec), "archival changes keep the seal valid")
}

func TestSweepRetention_SkipsStraightToDeletedInOneSweep(t *testing.T) {
	r, _, _ := newTestRecorder(t, WithRetention(shortRetention()))
	ctx := context.Background()
	_, err := r.Record(ctx, loginEvent("u-1"))
	require.NoError(t, err)

	res, err := r.SweepRetention(ctx, t0.AddDate(5, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Archived: 1, Deleted: 1}, res)
}

func TestSweepRetention_ConcurrentSweepersApplyEachTransitionOnce(t *testing.T) {
	r, _, repo := newTestRecorder(t, WithRetention(shortRetention()))
	ctx := context.Background()
	const n = 40
	for i := 0; i < n; i++ {
		_, err := r.Record(ctx, loginEvent("u-1"))
		require.NoError(t, err)
	}

	now := t0.AddDate(2, 0, 0)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		archived int
		deleted  int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.SweepRetention(ctx, now)
			assert.NoError(t, err)
			mu.Lock()
			archived += res.Archived
			deleted += res.Deleted
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, n, archived)
	assert.Equal(t, n, deleted)
	all, err := repo.Search(ctx, domain.Filter{States: []domain.ArchivalState{domain.StateDeleted}})
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestMemoryRepository_TransitionRejectsBackward(t *testing.T) {
	_, _, repo := newTestRecorder(t)
	_, err := repo.Transition(context.Background(), "x", domain.StateArchived, domain.StateActive, t0)
	assert.Error(t, err)
}

func TestScheduler_Run(t *testing.T) {
	r, clk, repo := newTestRecorder(t, WithRetention(shortRetention()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec, err := r.Record(ctx, loginEvent("u-1"))
	require.NoError(t, err)

	s := NewScheduler(r, 30*time.Minute, clk, nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	clk.Advance(30 * time.Minute)
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	clk.Advance(30 * time.Minute)

	require.Eventually(t, func() bool {
		got, err := repo.GetByID(context.Background(), rec.ID)
		return err == nil && got.Archival.State == domain.StateArchived
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_RejectsNonPositiveInterval(t *testing.T) {
	r, clk, _ := newTestRecorder(t)
	assert.Error(t, NewScheduler(r, 0, clk, nil).Run(context.Background()))
}
