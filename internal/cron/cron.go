package cron

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Schedule describes when a job fires: a single future timestamp ("at"), a
// fixed interval ("every"), or a crontab expression ("cron").
type Schedule struct {
	Kind    string `json:"kind"` // at | every | cron
	AtMs    int64  `json:"atMs,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	Expr    string `json:"expr,omitempty"`
}

// Payload is what a job does when it fires: run a message through the agent
// and, optionally, deliver the result to a channel.
type Payload struct {
	Kind    string `json:"kind"` // agent_turn
	Message string `json:"message"`
	Deliver bool   `json:"deliver"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// JobState is the mutable execution record of a job.
type JobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs"`
	LastRunAtMs int64  `json:"lastRunAtMs"`
	LastStatus  string `json:"lastStatus,omitempty"` // ok | error
	LastError   string `json:"lastError,omitempty"`
}

type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun"`
}

// OnJob is invoked synchronously on the scheduler worker for each due job.
// The returned string (a result summary) is currently informational only.
type OnJob func(job Job) (string, error)

// Status is a snapshot for the status command.
type Status struct {
	Enabled      bool  `json:"enabled"`
	Jobs         int   `json:"jobs"`
	NextWakeAtMs int64 `json:"next_wake_at_ms"`
}

// Service owns the job table and runs the scheduling worker. All table
// access goes through one mutex; mutations wake the worker so it can rescan
// the minimum next-fire deadline.
type Service struct {
	storePath string
	logger    *slog.Logger

	mu    sync.Mutex
	jobs  []*Job
	onJob OnJob

	runMu   sync.Mutex
	running bool
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewService loads the job store at storePath (missing or corrupt stores
// start empty) and returns a stopped service.
func NewService(storePath string, onJob OnJob, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		storePath: storePath,
		onJob:     onJob,
		logger:    logger.With("component", "cron"),
		wake:      make(chan struct{}, 1),
	}
	s.loadStore()
	return s
}

// SetOnJob replaces the job-fire callback.
func (s *Service) SetOnJob(cb OnJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJob = cb
}

// Start recomputes every enabled job's next fire time and launches the
// worker. Calling Start on a running service is a no-op.
func (s *Service) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})

	s.mu.Lock()
	now := nowMs()
	for _, j := range s.jobs {
		if j.Enabled {
			j.State.NextRunAtMs = computeNextRunMs(j.Schedule, now)
		}
	}
	s.saveStoreLocked()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop()
}

// Stop signals the worker and waits for it to exit.
func (s *Service) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.done)
	s.wg.Wait()
}

// ListJobs returns jobs sorted by next fire time. Disabled jobs are included
// only when includeDisabled is set.
func (s *Service) ListJobs(includeDisabled bool) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if includeDisabled || j.Enabled {
			jobs = append(jobs, *j)
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].State.NextRunAtMs < jobs[b].State.NextRunAtMs
	})
	return jobs
}

// AddJob creates an enabled job, persists the table, and wakes the worker.
func (s *Service) AddJob(name string, schedule Schedule, message string, deliver bool, channel, to string, deleteAfterRun bool) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMs()
	j := &Job{
		ID:       uuid.NewString()[:8],
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Payload: Payload{
			Kind:    "agent_turn",
			Message: message,
			Deliver: deliver,
			Channel: channel,
			To:      to,
		},
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		DeleteAfterRun: deleteAfterRun,
	}
	j.State.NextRunAtMs = computeNextRunMs(schedule, now)

	s.jobs = append(s.jobs, j)
	s.saveStoreLocked()
	s.notifyWorker()
	return *j
}

// RemoveJob deletes a job by id. Returns false if no such job exists.
func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs {
		if j.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			s.saveStoreLocked()
			s.notifyWorker()
			return true
		}
	}
	return false
}

// EnableJob toggles a job. Enabling recomputes the next fire time from now;
// disabling zeroes it.
func (s *Service) EnableJob(id string, enabled bool) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			j.Enabled = enabled
			j.UpdatedAtMs = nowMs()
			if enabled {
				j.State.NextRunAtMs = computeNextRunMs(j.Schedule, nowMs())
			} else {
				j.State.NextRunAtMs = 0
			}
			s.saveStoreLocked()
			s.notifyWorker()
			out := *j
			return &out, true
		}
	}
	return nil, false
}

// RunJobNow fires a job immediately on the caller's goroutine. Disabled jobs
// are skipped unless force is set.
func (s *Service) RunJobNow(id string, force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			if !force && !j.Enabled {
				return false
			}
			s.executeJob(j)
			s.saveStoreLocked()
			s.notifyWorker()
			return true
		}
	}
	return false
}

// Status reports worker state and the earliest pending deadline.
func (s *Service) Status() Status {
	s.runMu.Lock()
	running := s.running
	s.runMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	var nextWake int64
	for _, j := range s.jobs {
		if !j.Enabled || j.State.NextRunAtMs <= 0 {
			continue
		}
		if nextWake == 0 || j.State.NextRunAtMs < nextWake {
			nextWake = j.State.NextRunAtMs
		}
	}
	return Status{Enabled: running, Jobs: len(s.jobs), NextWakeAtMs: nextWake}
}

func (s *Service) notifyWorker() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) runLoop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		var nextWake int64
		for _, j := range s.jobs {
			if !j.Enabled || j.State.NextRunAtMs <= 0 {
				continue
			}
			if nextWake == 0 || j.State.NextRunAtMs < nextWake {
				nextWake = j.State.NextRunAtMs
			}
		}
		s.mu.Unlock()

		if nextWake == 0 {
			if !s.waitFor(500 * time.Millisecond) {
				return
			}
			continue
		}

		now := nowMs()
		if now < nextWake {
			if !s.waitFor(time.Duration(nextWake-now) * time.Millisecond) {
				return
			}
			continue
		}

		s.mu.Lock()
		// Snapshot the due set first: the table can change while executeJob
		// has the mutex released around its callback.
		var due []*Job
		for _, j := range s.jobs {
			if j.Enabled && j.State.NextRunAtMs > 0 && nowMs() >= j.State.NextRunAtMs {
				due = append(due, j)
			}
		}
		for _, j := range due {
			s.executeJob(j)
		}
		// One-shot jobs that asked for removal disappear once they succeed.
		kept := s.jobs[:0]
		for _, j := range s.jobs {
			if j.Schedule.Kind == "at" && j.DeleteAfterRun && j.State.LastStatus == "ok" {
				continue
			}
			kept = append(kept, j)
		}
		s.jobs = kept
		s.saveStoreLocked()
		s.mu.Unlock()
	}
}

// waitFor sleeps until the duration elapses, a mutation wakes the worker, or
// the service stops. Returns false only on stop.
func (s *Service) waitFor(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.done:
		return false
	case <-s.wake:
		return true
	case <-timer.C:
		return true
	}
}

// executeJob fires one job inside its own failure boundary: callback errors
// and panics are captured into the job state, never propagated. s.mu must be
// held on entry; it is released while the callback runs, so a job's agent
// turn can call back into the service (list/add/remove), and re-acquired to
// record the outcome.
func (s *Service) executeJob(job *Job) {
	cb := s.onJob
	snapshot := *job
	start := nowMs()
	s.mu.Unlock()

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = errors.New("panic in job callback")
				s.logger.Error("job callback panicked", "job_id", snapshot.ID, "panic", r)
			}
		}()
		if cb != nil {
			_, runErr = cb(snapshot)
		}
	}()

	s.mu.Lock()
	if runErr != nil {
		job.State.LastStatus = "error"
		job.State.LastError = runErr.Error()
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
	}
	job.State.LastRunAtMs = start
	job.UpdatedAtMs = nowMs()

	if job.Schedule.Kind == "at" {
		if !job.DeleteAfterRun {
			job.Enabled = false
			job.State.NextRunAtMs = 0
		}
	} else {
		// Recompute from now: a stall yields one fire, not a backlog.
		job.State.NextRunAtMs = computeNextRunMs(job.Schedule, nowMs())
	}
}

func computeNextRunMs(s Schedule, now int64) int64 {
	switch s.Kind {
	case "at":
		if s.AtMs > now {
			return s.AtMs
		}
		return 0
	case "every":
		if s.EveryMs > 0 {
			return now + s.EveryMs
		}
		return 0
	case "cron":
		return nextCronRunMs(s.Expr, now)
	}
	return 0
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
