package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/portalclaw/internal/domain/mode"
	"github.com/Nyukimin/portalclaw/internal/domain/task"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/persistence/fsutil"
)

func TestJSONTaskRepository_ListMissingFile(t *testing.T) {
	repo := NewJSONTaskRepository(filepath.Join(t.TempDir(), "tasks.json"))

	tasks, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestJSONTaskRepository_EnqueueAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewJSONTaskRepository(filepath.Join(t.TempDir(), "tasks.json"))
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tk := task.NewTask(task.NewID(now), "@agents", now).WithMode(mode.Hybrid)
	require.NoError(t, repo.Enqueue(ctx, tk))
	assert.Error(t, repo.Enqueue(ctx, tk), "duplicate id should be rejected")

	err := repo.Update(ctx, func(tasks []task.Task) ([]task.Task, error) {
		started, err := tasks[0].Start(now.Add(time.Second))
		if err != nil {
			return nil, err
		}
		tasks[0] = started
		return tasks, nil
	})
	require.NoError(t, err)

	tasks, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.StatusRunning, tasks[0].Status())
	assert.Equal(t, now.Add(time.Second), tasks[0].StartedAt().UTC())
	m, ok := tasks[0].Mode()
	assert.True(t, ok)
	assert.Equal(t, mode.Hybrid, m)
}

func TestJSONTaskRepository_UpdateErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.json")
	repo := NewJSONTaskRepository(path)
	now := time.Now()

	require.NoError(t, repo.Enqueue(ctx, task.NewTask(task.NewID(now), "@tasks", now)))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = repo.Update(ctx, func([]task.Task) ([]task.Task, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestJSONTaskRepository_ConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	repo := NewJSONTaskRepository(filepath.Join(t.TempDir(), "tasks.json"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now()
			assert.NoError(t, repo.Enqueue(ctx, task.NewTask(task.NewID(now), "@agents", now)))
		}()
	}
	wg.Wait()

	tasks, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 20)
}

func TestJSONTaskRepository_TwoWritersOnOneFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.json")
	// 別プロセスの書き手と同じく、mutex を共有しない2つのインスタンス
	repos := []*JSONTaskRepository{NewJSONTaskRepository(path), NewJSONTaskRepository(path)}

	var wg sync.WaitGroup
	for _, repo := range repos {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				now := time.Now()
				assert.NoError(t, repo.Enqueue(ctx, task.NewTask(task.NewID(now), "@agents", now)))
			}()
		}
	}
	wg.Wait()

	tasks, err := repos[0].List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 100, "no enqueued task may be lost between writers")
}

func TestJSONTaskRepository_PendingTaskClaimedOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.json")
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tk := task.NewTask(task.NewID(now), "@agents", now)
	require.NoError(t, NewJSONTaskRepository(path).Enqueue(ctx, tk))

	claim := func(repo *JSONTaskRepository) error {
		return repo.Update(ctx, func(tasks []task.Task) ([]task.Task, error) {
			for i, existing := range tasks {
				if existing.ID().Equals(tk.ID()) {
					started, err := existing.Start(now)
					if err != nil {
						return nil, err
					}
					tasks[i] = started
				}
			}
			return tasks, nil
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		repo := NewJSONTaskRepository(path)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = claim(repo)
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, task.ErrInvalidTransition)
			failed++
		}
	}
	assert.Equal(t, 1, failed, "exactly one writer may move the task to running")
}

func TestJSONTaskRepository_UpdateHonorsContextWhileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	held, err := fsutil.Lock(context.Background(), path+".lock")
	require.NoError(t, err)
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = NewJSONTaskRepository(path).Enqueue(ctx, task.NewTask(task.NewID(time.Now()), "@agents", time.Now()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJSONTaskRepository_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewJSONTaskRepository(path).List(context.Background())
	assert.Error(t, err)
}
