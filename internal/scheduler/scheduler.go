// Package scheduler runs the background poller that periodically calls the
// Sync Dispatcher's Pull for every enabled connection, generalizing the
// teacher's per-source job-ticker pattern to per-connection granularity.
// The dispatcher itself still owns the per-triple mutual-exclusion lock, so
// this package only needs to decide when a connection is due for another
// pull, not whether one is already in flight.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/macjediwizard/calsync/internal/dispatcher"
	"github.com/macjediwizard/calsync/internal/notify"
	"github.com/macjediwizard/calsync/internal/store"
)

const (
	healthLogInterval = 5 * time.Minute
	staleMultiplier    = 2 // a connection is stale if its last sync is older than staleMultiplier * interval
)

// Job tracks one connection's periodic pull ticker.
type Job struct {
	connectionID string
	userID       string
	interval     time.Duration
	ticker       *time.Ticker
	stopCh       chan struct{}
	nextPullAt   time.Time
}

// Scheduler manages background pull jobs, one per enabled connection.
type Scheduler struct {
	store      *store.Store
	dispatcher *dispatcher.Dispatcher
	notifier   *notify.Notifier
	interval   time.Duration

	mu      sync.RWMutex
	jobs    map[string]*Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a Scheduler that polls every enabled connection on a shared
// interval. notifier may be nil to disable stale/recovery alerting.
func New(s *store.Store, d *dispatcher.Dispatcher, notifier *notify.Notifier, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      s,
		dispatcher: d,
		notifier:   notifier,
		interval:   interval,
		jobs:       make(map[string]*Job),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start loads every enabled connection and starts its pull job.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	conns, err := s.store.GetAllEnabledConnections()
	if err != nil {
		return err
	}

	for _, conn := range conns {
		s.AddJob(conn.UserID, conn.ID, s.interval)
	}

	s.wg.Add(1)
	go s.healthLogRoutine()

	s.wg.Add(1)
	go s.staleDetectionRoutine()

	log.Printf("scheduler started with %d jobs", len(conns))
	return nil
}

// Stop gracefully shuts down all jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()

	s.mu.Lock()
	for _, job := range s.jobs {
		close(job.stopCh)
		job.ticker.Stop()
	}
	s.jobs = make(map[string]*Job)
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("scheduler stopped")
}

// AddJob adds or replaces a pull job for a connection.
func (s *Scheduler) AddJob(userID, connectionID string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.jobs[connectionID]; exists {
		close(existing.stopCh)
		existing.ticker.Stop()
	}

	job := &Job{
		connectionID: connectionID,
		userID:       userID,
		interval:     interval,
		ticker:       time.NewTicker(interval),
		stopCh:       make(chan struct{}),
		nextPullAt:   time.Now(),
	}
	s.jobs[connectionID] = job

	s.wg.Add(1)
	go s.runJob(job)

	log.Printf("added pull job for connection %s with interval %v", connectionID, interval)
}

// RemoveJob removes a connection's pull job and clears its alert state.
func (s *Scheduler) RemoveJob(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[connectionID]; exists {
		close(job.stopCh)
		job.ticker.Stop()
		delete(s.jobs, connectionID)
		log.Printf("removed pull job for connection %s", connectionID)
	}

	if s.notifier != nil {
		s.notifier.ClearStaleState(connectionID)
	}
}

// TriggerPull manually triggers an immediate pull for a connection outside
// its regular ticker cadence.
func (s *Scheduler) TriggerPull(userID, connectionID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executePull(userID, connectionID)
	}()
}

// GetJobCount returns the number of active jobs.
func (s *Scheduler) GetJobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Scheduler) runJob(job *Job) {
	defer s.wg.Done()

	s.executePull(job.userID, job.connectionID)
	s.updateNextPullAt(job.connectionID)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-job.stopCh:
			return
		case <-job.ticker.C:
			s.executePull(job.userID, job.connectionID)
			s.updateNextPullAt(job.connectionID)
		}
	}
}

func (s *Scheduler) updateNextPullAt(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, exists := s.jobs[connectionID]; exists {
		job.nextPullAt = time.Now().Add(job.interval)
	}
}

// executePull calls the dispatcher's Pull for every calendar on the
// connection. The dispatcher's own per-triple lock makes this safe to call
// even if a prior pull for the same connection is still running: triples
// still in flight come back "already_running" rather than running twice.
func (s *Scheduler) executePull(userID, connectionID string) {
	conn, err := s.store.GetConnectionForUser(connectionID, userID)
	if err != nil {
		log.Printf("scheduler: failed to load connection %s: %v", connectionID, err)
		return
	}
	if !conn.SyncEnabled {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, defaultPullTimeout)
	defer cancel()

	results, err := s.dispatcher.Pull(ctx, userID, dispatcher.PullRequest{ConnectionIDs: []string{connectionID}})
	if err != nil {
		log.Printf("scheduler: pull failed for connection %s: %v", connectionID, err)
		s.recordFailure(conn.ID, conn.PlatformType, userID)
		return
	}

	failures := 0
	for _, r := range results {
		if r.Status == "error" {
			failures++
		}
	}
	if failures > 0 && failures == len(results) {
		s.recordFailure(conn.ID, conn.PlatformType, userID)
		return
	}

	s.recordRecovery(conn.ID, conn.PlatformType, userID)
}

func (s *Scheduler) recordFailure(connectionID, platformType, userID string) {
	if s.notifier == nil || !s.notifier.IsEnabled() {
		return
	}
	email := s.lookupUserEmail(userID)
	s.notifier.SendStaleAlert(s.ctx, connectionID, platformType, email, s.interval*staleMultiplier, s.interval*staleMultiplier)
}

func (s *Scheduler) recordRecovery(connectionID, platformType, userID string) {
	if s.notifier == nil || !s.notifier.IsEnabled() {
		return
	}
	email := s.lookupUserEmail(userID)
	s.notifier.SendRecoveryAlert(s.ctx, connectionID, platformType, email)
}

func (s *Scheduler) lookupUserEmail(userID string) string {
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return ""
	}
	return user.Email
}

const defaultPullTimeout = 30 * time.Minute

func (s *Scheduler) healthLogRoutine() {
	defer s.wg.Done()

	ticker := time.NewTicker(healthLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.logHealth()
		}
	}
}

func (s *Scheduler) logHealth() {
	s.mu.RLock()
	jobCount := len(s.jobs)
	s.mu.RUnlock()
	log.Printf("[scheduler health] active jobs: %d", jobCount)
}

func (s *Scheduler) staleDetectionRoutine() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkStaleConnections()
		}
	}
}

// checkStaleConnections warns about connections that haven't completed a
// pull in more than staleMultiplier times their poll interval.
func (s *Scheduler) checkStaleConnections() {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, job := range jobs {
		conn, err := s.store.GetConnectionForUser(job.connectionID, job.userID)
		if err != nil || !conn.SyncEnabled {
			continue
		}

		staleThreshold := job.interval * staleMultiplier
		var timeSinceSync time.Duration
		if conn.LastSyncAt != nil {
			timeSinceSync = now.Sub(*conn.LastSyncAt)
		} else {
			timeSinceSync = now.Sub(conn.CreatedAt)
		}

		if timeSinceSync > staleThreshold {
			log.Printf("[stale warning] connection %s (%s) hasn't synced in %v (threshold %v)",
				job.connectionID, conn.PlatformType, timeSinceSync.Round(time.Minute), staleThreshold)
			s.recordFailure(conn.ID, conn.PlatformType, job.userID)
		}
	}
}

// GetNextPullAt returns the next scheduled pull time for a connection.
// Returns the zero time if the job doesn't exist.
func (s *Scheduler) GetNextPullAt(connectionID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if job, exists := s.jobs[connectionID]; exists {
		return job.nextPullAt
	}
	return time.Time{}
}
