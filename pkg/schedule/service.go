package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunFunc executes a due job's prompt. The scheduler records the error
// in the job state; it does not retry.
type RunFunc func(ctx context.Context, job Job) error

// Config configures the scheduler service.
type Config struct {
	Path    string // jobs JSON file
	Runner  RunFunc
	Logger  zerolog.Logger
	OnEvent func(Event) // optional observer
}

// Service owns the job registry and the timers that fire them.
type Service struct {
	path    string
	runner  RunFunc
	log     zerolog.Logger
	onEvent func(Event)

	mu      sync.Mutex
	jobs    map[string]*Job
	timers  map[string]*time.Timer
	running map[string]bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService loads the registry from disk. Call Start to arm timers.
func NewService(cfg Config) (*Service, error) {
	if cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		path:    cfg.Path,
		runner:  cfg.Runner,
		log:     cfg.Logger,
		onEvent: cfg.OnEvent,
		jobs:    make(map[string]*Job),
		timers:  make(map[string]*time.Timer),
		running: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := s.load(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to load jobs, starting empty")
	}
	s.log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler initialized")
	return s, nil
}

// Start arms timers for all enabled jobs.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Enabled {
			s.armLocked(job)
		}
	}
}

// Stop cancels all timers and persists the registry.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.cancel()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	if err := s.persistLocked(); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist jobs on shutdown")
		return err
	}
	s.log.Info().Msg("Scheduler stopped")
	return nil
}

// Add validates, persists and arms a new job.
func (s *Service) Add(params AddParams) (*Job, error) {
	if params.Name == "" {
		return nil, errors.New("job name is required")
	}
	if params.Prompt == "" {
		return nil, errors.New("job prompt is required")
	}
	next, err := params.Spec.Next(time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, errors.New("scheduler is stopped")
	}

	now := time.Now()
	job := &Job{
		ID:             uuid.NewString(),
		Name:           params.Name,
		Prompt:         params.Prompt,
		Session:        params.Session,
		Enabled:        params.Enabled,
		DeleteAfterRun: params.DeleteAfterRun,
		Spec:           params.Spec,
		Created:        now,
		Updated:        now,
		State:          State{NextRun: &next},
	}
	s.jobs[job.ID] = job

	if err := s.persistLocked(); err != nil {
		delete(s.jobs, job.ID)
		return nil, fmt.Errorf("persist job: %w", err)
	}
	if job.Enabled {
		s.armLocked(job)
	}

	s.log.Info().Str("job_id", job.ID).Str("name", job.Name).Time("next_run", next).Msg("Job added")
	s.emit(Event{Action: EventAdded, JobID: job.ID, JobName: job.Name, NextRun: &next})
	return s.snapshot(job), nil
}

// Remove cancels and deletes a job.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	s.disarmLocked(id)
	delete(s.jobs, id)
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("persist jobs: %w", err)
	}

	s.log.Info().Str("job_id", id).Str("name", job.Name).Msg("Job removed")
	s.emit(Event{Action: EventRemoved, JobID: id, JobName: job.Name})
	return nil
}

// Enable toggles a job, arming or disarming its timer.
func (s *Service) Enable(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.Enabled == enabled {
		return nil
	}
	job.Enabled = enabled
	job.Updated = time.Now()

	s.disarmLocked(id)
	if enabled {
		next, err := job.Spec.Next(time.Now())
		if err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
		job.State.NextRun = &next
		s.armLocked(job)
	} else {
		job.State.NextRun = nil
	}
	return s.persistLocked()
}

// List returns jobs sorted by creation time.
func (s *Service) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *s.snapshot(job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Created.Before(jobs[j].Created) })
	return jobs
}

// Get returns a job copy, or nil when unknown.
func (s *Service) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	return s.snapshot(job)
}

// Run executes a job immediately, regardless of its schedule. It blocks
// until the run finishes.
func (s *Service) Run(id string) error {
	s.mu.Lock()
	_, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	s.execute(id)
	return nil
}

// armLocked starts the timer for a job's next run. Overdue jobs fire
// immediately.
func (s *Service) armLocked(job *Job) {
	if job.State.NextRun == nil {
		s.log.Warn().Str("job_id", job.ID).Msg("Cannot arm job without a next run time")
		return
	}
	delay := time.Until(*job.State.NextRun)
	if delay < 0 {
		delay = 0
	}
	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() { s.execute(id) })
	s.log.Debug().Str("job_id", id).Dur("delay", delay).Msg("Job armed")
}

func (s *Service) disarmLocked(id string) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

// execute runs a job and updates its state. One-shot jobs are disabled
// after running so a stale timestamp cannot refire; DeleteAfterRun jobs
// are dropped entirely on success.
func (s *Service) execute(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || s.stopped {
		s.mu.Unlock()
		return
	}
	if s.running[id] {
		s.mu.Unlock()
		s.log.Debug().Str("job_id", id).Msg("Job already running, skipping")
		return
	}
	s.running[id] = true
	run := *s.snapshot(job)
	s.mu.Unlock()

	s.log.Info().Str("job_id", id).Str("name", run.Name).Msg("Running job")
	start := time.Now()
	err := s.runner(s.ctx, run)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)

	job, ok = s.jobs[id]
	if !ok {
		return
	}

	job.State.LastRun = &start
	job.State.LastDurationMs = elapsed.Milliseconds()
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		job.State.ConsecutiveErrors++
		s.log.Error().Str("job_id", id).Err(err).Int("consecutive_errors", job.State.ConsecutiveErrors).Msg("Job failed")
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
		job.State.ConsecutiveErrors = 0
		s.log.Info().Str("job_id", id).Dur("duration", elapsed).Msg("Job finished")
	}

	if job.DeleteAfterRun && err == nil {
		s.disarmLocked(id)
		delete(s.jobs, id)
		if persistErr := s.persistLocked(); persistErr != nil {
			s.log.Error().Err(persistErr).Msg("Failed to persist after job delete")
		}
		s.emit(Event{Action: EventFinished, JobID: id, JobName: job.Name, Status: "ok", DurationMs: elapsed.Milliseconds()})
		s.emit(Event{Action: EventRemoved, JobID: id, JobName: job.Name})
		return
	}

	s.disarmLocked(id)
	if job.Spec.Kind == KindAt {
		job.Enabled = false
		job.State.NextRun = nil
	} else if job.Enabled {
		next, calcErr := job.Spec.Next(time.Now())
		if calcErr != nil {
			s.log.Error().Str("job_id", id).Err(calcErr).Msg("Failed to compute next run")
			job.State.NextRun = nil
		} else {
			job.State.NextRun = &next
			s.armLocked(job)
		}
	}

	if persistErr := s.persistLocked(); persistErr != nil {
		s.log.Error().Err(persistErr).Msg("Failed to persist job state")
	}

	event := Event{
		Action:     EventFinished,
		JobID:      id,
		JobName:    job.Name,
		Status:     job.State.LastStatus,
		Error:      job.State.LastError,
		DurationMs: elapsed.Milliseconds(),
		NextRun:    job.State.NextRun,
	}
	s.emit(event)
}

func (s *Service) emit(event Event) {
	if s.onEvent != nil {
		s.onEvent(event)
	}
}

// snapshot copies a job so callers cannot mutate registry state.
func (s *Service) snapshot(job *Job) *Job {
	cp := *job
	if job.State.NextRun != nil {
		next := *job.State.NextRun
		cp.State.NextRun = &next
	}
	if job.State.LastRun != nil {
		last := *job.State.LastRun
		cp.State.LastRun = &last
	}
	return &cp
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read jobs file: %w", err)
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("parse jobs file: %w", err)
	}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return nil
}

// persistLocked writes the registry atomically via a temp file rename.
func (s *Service) persistLocked() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Created.Before(jobs[j].Created) })

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create jobs directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace jobs file: %w", err)
	}
	return nil
}
