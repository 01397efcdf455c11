/**
 * @description
 * Cron scheduler for the payout resume job. After a restart (or a crashed progression
 * goroutine) payouts can sit in ACCEPTED, PENDING or SUBMITTED with nothing driving
 * them forward; the resume job finds those and schedules them again.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultResumeSchedule   = "@every 1m"
	DefaultResumeStaleAfter = 5 * time.Minute
	resumeBatchSize         = 200
)

type staleResumer interface {
	ResumeStale(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// ResumeJob re-schedules progression for payouts that stopped moving.
type ResumeJob struct {
	payouts    staleResumer
	staleAfter time.Duration
	now        func() time.Time
}

func NewResumeJob(payouts staleResumer, staleAfter time.Duration) *ResumeJob {
	if staleAfter <= 0 {
		staleAfter = DefaultResumeStaleAfter
	}
	return &ResumeJob{payouts: payouts, staleAfter: staleAfter, now: time.Now}
}

// Run executes one pass of the job.
func (j *ResumeJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := j.now().Add(-j.staleAfter)
	scheduled, err := j.payouts.ResumeStale(ctx, cutoff, resumeBatchSize)
	if err != nil {
		log.Printf("level=error component=scheduler job=resume_stale_payouts msg=\"resume failed\" err=%v", err)
		return
	}
	if scheduled > 0 {
		log.Printf("level=info component=scheduler job=resume_stale_payouts msg=\"resumed stale payouts\" count=%d cutoff=%s", scheduled, cutoff.UTC().Format(time.RFC3339))
	}
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	resume   *ResumeJob
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(resume *ResumeJob, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultResumeSchedule
	}
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		resume:   resume,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddJob(s.schedule, s.resume); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule resume job\" schedule=%q err=%v", s.schedule, err)
		return err
	}
	log.Printf("level=info component=scheduler msg=\"scheduled resume job\" schedule=%q", s.schedule)
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
