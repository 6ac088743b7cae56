// Package schedule runs prompts on a timetable: one-shot "at" jobs,
// fixed "every" intervals, and five-field cron expressions. Jobs are
// persisted as JSON and dispatched into a runner callback when due.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind selects how a job's next run is computed.
type Kind string

const (
	KindAt    Kind = "at"
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Spec is the schedule part of a job.
type Spec struct {
	Kind  Kind   `json:"kind"`
	At    string `json:"at,omitempty"`    // RFC 3339 timestamp
	Every string `json:"every,omitempty"` // Go duration, e.g. "30m"
	Cron  string `json:"cron,omitempty"`  // five-field cron expression
	TZ    string `json:"tz,omitempty"`    // IANA zone for cron evaluation
}

// Next computes the first run time strictly after from. For one-shot
// "at" specs the stored timestamp is returned even when it is already
// past, so an overdue job fires immediately on startup.
func (s Spec) Next(from time.Time) (time.Time, error) {
	switch s.Kind {
	case KindAt:
		if s.At == "" {
			return time.Time{}, fmt.Errorf("'at' schedule requires a timestamp")
		}
		at, err := time.Parse(time.RFC3339, s.At)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		return at, nil

	case KindEvery:
		if s.Every == "" {
			return time.Time{}, fmt.Errorf("'every' schedule requires an interval")
		}
		interval, err := time.ParseDuration(s.Every)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid interval: %w", err)
		}
		if interval <= 0 {
			return time.Time{}, fmt.Errorf("interval must be positive")
		}
		return from.Add(interval), nil

	case KindCron:
		if s.Cron == "" {
			return time.Time{}, fmt.Errorf("'cron' schedule requires an expression")
		}
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		sched, err := parser.Parse(s.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		if s.TZ != "" {
			loc, err := time.LoadLocation(s.TZ)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
			}
			from = from.In(loc)
		}
		return sched.Next(from), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %q", s.Kind)
	}
}

// State is the mutable runtime part of a job.
type State struct {
	NextRun           *time.Time `json:"next_run,omitempty"`
	LastRun           *time.Time `json:"last_run,omitempty"`
	LastStatus        string     `json:"last_status,omitempty"` // "ok" or "error"
	LastError         string     `json:"last_error,omitempty"`
	LastDurationMs    int64      `json:"last_duration_ms,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors,omitempty"`
}

// Job is a scheduled prompt.
type Job struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Prompt         string    `json:"prompt"`
	Session        string    `json:"session,omitempty"` // empty runs isolated
	Enabled        bool      `json:"enabled"`
	DeleteAfterRun bool      `json:"delete_after_run,omitempty"`
	Spec           Spec      `json:"spec"`
	Created        time.Time `json:"created"`
	Updated        time.Time `json:"updated"`
	State          State     `json:"state"`
}

// AddParams describes a job to create.
type AddParams struct {
	Name           string `json:"name"`
	Prompt         string `json:"prompt"`
	Session        string `json:"session,omitempty"`
	Enabled        bool   `json:"enabled"`
	DeleteAfterRun bool   `json:"delete_after_run,omitempty"`
	Spec           Spec   `json:"spec"`
}

// EventAction categorizes scheduler events.
type EventAction string

const (
	EventAdded    EventAction = "added"
	EventRemoved  EventAction = "removed"
	EventFinished EventAction = "finished"
)

// Event reports a job lifecycle change to the optional observer.
type Event struct {
	Action     EventAction `json:"action"`
	JobID      string      `json:"job_id"`
	JobName    string      `json:"job_name"`
	Status     string      `json:"status,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms,omitempty"`
	NextRun    *time.Time  `json:"next_run,omitempty"`
}
