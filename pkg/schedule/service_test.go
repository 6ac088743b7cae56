package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runRecorder struct {
	mu   sync.Mutex
	jobs []Job
	err  error
	ran  chan string
}

func newRunRecorder() *runRecorder {
	return &runRecorder{ran: make(chan string, 16)}
}

func (r *runRecorder) run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	err := r.err
	r.mu.Unlock()
	r.ran <- job.ID
	return err
}

func (r *runRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func setupService(t *testing.T, recorder *runRecorder) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	svc, err := NewService(Config{
		Path:   path,
		Runner: recorder.run,
		Logger: zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Stop() })
	return svc, path
}

func waitForRun(t *testing.T, recorder *runRecorder) string {
	t.Helper()
	select {
	case id := <-recorder.ran:
		return id
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for job run")
		return ""
	}
}

func TestNewService(t *testing.T) {
	t.Run("should require a store path", func(t *testing.T) {
		_, err := NewService(Config{Runner: newRunRecorder().run})
		assert.ErrorContains(t, err, "store path is required")
	})

	t.Run("should require a runner", func(t *testing.T) {
		_, err := NewService(Config{Path: "jobs.json"})
		assert.ErrorContains(t, err, "runner is required")
	})
}

func TestAdd(t *testing.T) {
	t.Run("should validate and persist the job", func(t *testing.T) {
		recorder := newRunRecorder()
		svc, path := setupService(t, recorder)

		job, err := svc.Add(AddParams{
			Name:   "standup",
			Prompt: "summarize yesterday's commits",
			Spec:   Spec{Kind: KindCron, Cron: "0 9 * * 1-5"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		require.NotNil(t, job.State.NextRun)
		assert.True(t, job.State.NextRun.After(time.Now()))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "standup")
	})

	t.Run("should reject invalid schedules", func(t *testing.T) {
		recorder := newRunRecorder()
		svc, _ := setupService(t, recorder)

		_, err := svc.Add(AddParams{Name: "x", Prompt: "y", Spec: Spec{Kind: KindCron, Cron: "bad"}})
		assert.ErrorContains(t, err, "invalid schedule")
	})

	t.Run("should require name and prompt", func(t *testing.T) {
		recorder := newRunRecorder()
		svc, _ := setupService(t, recorder)

		_, err := svc.Add(AddParams{Prompt: "p", Spec: Spec{Kind: KindEvery, Every: "1h"}})
		assert.ErrorContains(t, err, "name is required")

		_, err = svc.Add(AddParams{Name: "n", Spec: Spec{Kind: KindEvery, Every: "1h"}})
		assert.ErrorContains(t, err, "prompt is required")
	})
}

func TestTimerDispatch(t *testing.T) {
	t.Run("should fire an overdue one-shot immediately and disable it", func(t *testing.T) {
		recorder := newRunRecorder()
		svc, _ := setupService(t, recorder)

		job, err := svc.Add(AddParams{
			Name:    "overdue",
			Prompt:  "run me",
			Enabled: true,
			Spec:    Spec{Kind: KindAt, At: "2020-01-01T00:00:00Z"},
		})
		require.NoError(t, err)

		ranID := waitForRun(t, recorder)
		assert.Equal(t, job.ID, ranID)

		// state settles after the runner returns
		require.Eventually(t, func() bool {
			got := svc.Get(job.ID)
			return got != nil && got.State.LastStatus == "ok"
		}, 2*time.Second, 10*time.Millisecond)

		got := svc.Get(job.ID)
		assert.False(t, got.Enabled)
		assert.Nil(t, got.State.NextRun)
	})

	t.Run("should delete a delete-after-run job on success", func(t *testing.T) {
		recorder := newRunRecorder()
		svc, _ := setupService(t, recorder)

		job, err := svc.Add(AddParams{
			Name:           "once",
			Prompt:         "and done",
			Enabled:        true,
			DeleteAfterRun: true,
			Spec:           Spec{Kind: KindAt, At: "2020-01-01T00:00:00Z"},
		})
		require.NoError(t, err)

		waitForRun(t, recorder)
		require.Eventually(t, func() bool {
			return svc.Get(job.ID) == nil
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("should record failures and keep the job", func(t *testing.T) {
		recorder := newRunRecorder()
		recorder.err = errors.New("engine unavailable")
		svc, _ := setupService(t, recorder)

		job, err := svc.Add(AddParams{
			Name:           "flaky",
			Prompt:         "will fail",
			Enabled:        true,
			DeleteAfterRun: true,
			Spec:           Spec{Kind: KindAt, At: "2020-01-01T00:00:00Z"},
		})
		require.NoError(t, err)

		waitForRun(t, recorder)
		require.Eventually(t, func() bool {
			got := svc.Get(job.ID)
			return got != nil && got.State.LastStatus == "error"
		}, 2*time.Second, 10*time.Millisecond)

		got := svc.Get(job.ID)
		assert.Contains(t, got.State.LastError, "engine unavailable")
		assert.Equal(t, 1, got.State.ConsecutiveErrors)
	})
}

func TestManualRun(t *testing.T) {
	t.Run("should run a job on demand and reschedule it", func(t *testing.T) {
		recorder := newRunRecorder()
		svc, _ := setupService(t, recorder)

		job, err := svc.Add(AddParams{
			Name:    "interval",
			Prompt:  "tick",
			Enabled: true,
			Spec:    Spec{Kind: KindEvery, Every: "1h"},
		})
		require.NoError(t, err)

		require.NoError(t, svc.Run(job.ID))
		assert.Equal(t, 1, recorder.count())
		assert.Equal(t, "tick", recorder.jobs[0].Prompt)

		got := svc.Get(job.ID)
		require.NotNil(t, got.State.NextRun)
		assert.True(t, got.State.NextRun.After(time.Now().Add(50*time.Minute)))
	})

	t.Run("should error for unknown jobs", func(t *testing.T) {
		recorder := newRunRecorder()
		svc, _ := setupService(t, recorder)
		assert.ErrorContains(t, svc.Run("nope"), "job not found")
	})
}

func TestPersistence(t *testing.T) {
	t.Run("should reload jobs from disk", func(t *testing.T) {
		recorder := newRunRecorder()
		path := filepath.Join(t.TempDir(), "jobs.json")
		logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)

		svc, err := NewService(Config{Path: path, Runner: recorder.run, Logger: logger})
		require.NoError(t, err)
		job, err := svc.Add(AddParams{
			Name:   "durable",
			Prompt: "persist me",
			Spec:   Spec{Kind: KindEvery, Every: "24h"},
		})
		require.NoError(t, err)
		require.NoError(t, svc.Stop())

		reloaded, err := NewService(Config{Path: path, Runner: recorder.run, Logger: logger})
		require.NoError(t, err)
		defer reloaded.Stop()

		got := reloaded.Get(job.ID)
		require.NotNil(t, got)
		assert.Equal(t, "durable", got.Name)
		assert.Equal(t, "persist me", got.Prompt)
	})
}

func TestRemoveAndEnable(t *testing.T) {
	t.Run("should remove a job", func(t *testing.T) {
		recorder := newRunRecorder()
		svc, _ := setupService(t, recorder)

		job, err := svc.Add(AddParams{Name: "temp", Prompt: "x", Spec: Spec{Kind: KindEvery, Every: "1h"}})
		require.NoError(t, err)

		require.NoError(t, svc.Remove(job.ID))
		assert.Nil(t, svc.Get(job.ID))
		assert.ErrorContains(t, svc.Remove(job.ID), "job not found")
	})

	t.Run("should disable and re-enable a job", func(t *testing.T) {
		recorder := newRunRecorder()
		svc, _ := setupService(t, recorder)

		job, err := svc.Add(AddParams{
			Name:    "toggle",
			Prompt:  "x",
			Enabled: true,
			Spec:    Spec{Kind: KindEvery, Every: "1h"},
		})
		require.NoError(t, err)

		require.NoError(t, svc.Enable(job.ID, false))
		got := svc.Get(job.ID)
		assert.False(t, got.Enabled)
		assert.Nil(t, got.State.NextRun)

		require.NoError(t, svc.Enable(job.ID, true))
		got = svc.Get(job.ID)
		assert.True(t, got.Enabled)
		assert.NotNil(t, got.State.NextRun)
	})

	t.Run("should list jobs in creation order", func(t *testing.T) {
		recorder := newRunRecorder()
		svc, _ := setupService(t, recorder)

		first, err := svc.Add(AddParams{Name: "first", Prompt: "1", Spec: Spec{Kind: KindEvery, Every: "1h"}})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		second, err := svc.Add(AddParams{Name: "second", Prompt: "2", Spec: Spec{Kind: KindEvery, Every: "1h"}})
		require.NoError(t, err)

		jobs := svc.List()
		require.Len(t, jobs, 2)
		assert.Equal(t, first.ID, jobs[0].ID)
		assert.Equal(t, second.ID, jobs[1].ID)
	})
}
