package devcluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Async job states as reported by the async-query plugin.
const (
	JobStatusWaiting   = "WAITING"
	JobStatusRunning   = "RUNNING"
	JobStatusSuccess   = "SUCCESS"
	JobStatusFailed    = "FAILED"
	JobStatusCancelled = "CANCELLED"
)

var (
	errJobNotFound = errors.New("job not found")
	errJobFinished = errors.New("can't cancel job which has already finished")
)

// job is one async query.
type job struct {
	id        string
	sessionID string
	status    string
	result    *tabular
	err       string
	finished  time.Time
}

func (j *job) terminal() bool {
	switch j.status {
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// jobSnapshot is a copy of a job safe to read without the store lock.
type jobSnapshot struct {
	ID        string
	SessionID string
	Status    string
	Result    *tabular
	Error     string
}

// runFunc executes one job's SQL.
type runFunc func(ctx context.Context, sql string) (*tabular, error)

// jobStore tracks async jobs. Jobs run on their own goroutine and finished
// jobs are forgotten after ttl.
type jobStore struct {
	mu      sync.Mutex
	jobs    map[string]*job
	cancels sync.Map // job id -> context.CancelFunc
	run     runFunc
	delay   time.Duration
	ttl     time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

func newJobStore(run runFunc, delay, ttl time.Duration) *jobStore {
	return &jobStore{
		jobs:  make(map[string]*job),
		run:   run,
		delay: delay,
		ttl:   ttl,
		now:   time.Now,
	}
}

// submit starts sql in the background and returns the job and session ids.
// An empty sessionID opens a new session.
func (s *jobStore) submit(sql, sessionID string) (string, string) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	j := &job{id: uuid.NewString(), sessionID: sessionID, status: JobStatusWaiting}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancels.Store(j.id, cancel)

	s.mu.Lock()
	s.sweepLocked()
	s.jobs[j.id] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(ctx, j.id, sql)
	return j.id, j.sessionID
}

func (s *jobStore) execute(ctx context.Context, id, sql string) {
	defer s.wg.Done()
	defer s.cancels.Delete(id)

	if !s.transition(id, JobStatusRunning) {
		return
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}
	}

	result, err := s.run(ctx, sql)

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.terminal() {
		return
	}
	switch {
	case ctx.Err() != nil:
		j.status = JobStatusCancelled
	case err != nil:
		j.status = JobStatusFailed
		j.err = err.Error()
	default:
		j.status = JobStatusSuccess
		j.result = result
	}
	j.finished = s.now()
}

// transition moves a non-terminal job to status.
func (s *jobStore) transition(id, status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.terminal() {
		return false
	}
	j.status = status
	return true
}

// get returns a snapshot of job id.
func (s *jobStore) get(id string) (jobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return jobSnapshot{}, errJobNotFound
	}
	return jobSnapshot{ID: j.id, SessionID: j.sessionID, Status: j.status, Result: j.result, Error: j.err}, nil
}

// cancel stops a job that has not finished.
func (s *jobStore) cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return errJobNotFound
	}
	if j.terminal() {
		s.mu.Unlock()
		return errJobFinished
	}
	j.status = JobStatusCancelled
	j.finished = s.now()
	s.mu.Unlock()

	if fn, ok := s.cancels.LoadAndDelete(id); ok {
		fn.(context.CancelFunc)()
	}
	return nil
}

// sweepLocked drops finished jobs older than ttl. Callers hold s.mu.
func (s *jobStore) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, j := range s.jobs {
		if j.terminal() && j.finished.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

// close cancels every running job and waits for the runners to exit.
func (s *jobStore) close() {
	s.cancels.Range(func(_, fn any) bool {
		fn.(context.CancelFunc)()
		return true
	})
	s.wg.Wait()
}
