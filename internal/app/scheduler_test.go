package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

type resumerStub struct {
	cutoff time.Time
	limit  int
	calls  int
	err    error
}

func (s *resumerStub) ResumeStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	s.calls++
	s.cutoff = olderThan
	s.limit = limit
	return 1, s.err
}

func TestResumeJobUsesStaleCutoff(t *testing.T) {
	stub := &resumerStub{}
	job := NewResumeJob(stub, 10*time.Minute)
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	job.Run()

	if stub.calls != 1 {
		t.Fatalf("expected one resume call, got %d", stub.calls)
	}
	if want := now.Add(-10 * time.Minute); !stub.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, stub.cutoff)
	}
	if stub.limit != resumeBatchSize {
		t.Fatalf("expected batch size %d, got %d", resumeBatchSize, stub.limit)
	}
}

func TestResumeJobSurvivesErrors(t *testing.T) {
	stub := &resumerStub{err: errors.New("db down")}
	NewResumeJob(stub, 0).Run()
	if stub.calls != 1 {
		t.Fatalf("expected one resume call, got %d", stub.calls)
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	s := NewScheduler(NewResumeJob(&resumerStub{}, time.Minute), "every other tuesday")
	if err := s.Start(); err == nil {
		t.Fatal("expected invalid schedule to fail")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(NewResumeJob(&resumerStub{}, time.Minute), "")
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
