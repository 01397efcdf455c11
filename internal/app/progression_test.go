package app

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/transfa/payout-service/internal/domain"
	"github.com/transfa/payout-service/internal/store"
)

func TestParseProgressionPath(t *testing.T) {
	tests := []struct {
		raw     string
		want    []domain.PayoutStatus
		wantErr bool
	}{
		{raw: "", want: []domain.PayoutStatus{}},
		{raw: "SUBMITTED>COMPLETED", want: []domain.PayoutStatus{domain.StatusSubmitted, domain.StatusCompleted}},
		{raw: " pending > submitted > failed ", want: []domain.PayoutStatus{domain.StatusPending, domain.StatusSubmitted, domain.StatusFailed}},
		{raw: "CANCELLED", want: []domain.PayoutStatus{domain.StatusCancelled}},
		{raw: "SUBMITTED>PENDING", wantErr: true},
		{raw: "COMPLETED>FAILED", wantErr: true},
		{raw: "REJECTED", wantErr: true},
		{raw: "SETTLED", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseProgressionPath(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseProgressionPaths(t *testing.T) {
	paths, err := ParseProgressionPaths("mtn_momo_zmb=SUBMITTED; AIRTEL_OAPI_ZMB=PENDING>SUBMITTED>CANCELLED;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 2 || len(paths["MTN_MOMO_ZMB"]) != 1 || len(paths["AIRTEL_OAPI_ZMB"]) != 3 {
		t.Fatalf("unexpected paths %v", paths)
	}

	if _, err := ParseProgressionPaths("MTN_MOMO_ZMB"); err == nil {
		t.Fatal("expected error for entry without '='")
	}
	if _, err := ParseProgressionPaths("MTN_MOMO_ZMB=COMPLETED>SUBMITTED"); err == nil {
		t.Fatal("expected error for backward path")
	}
}

func TestProgressionPolicyPathFor(t *testing.T) {
	policy := ProgressionPolicy{Paths: map[string][]domain.PayoutStatus{"ZAMTEL_ZMB": {domain.StatusFailed}}}
	if got := policy.PathFor("zamtel_zmb"); !reflect.DeepEqual(got, []domain.PayoutStatus{domain.StatusFailed}) {
		t.Fatalf("unexpected override path %v", got)
	}
	if got := policy.PathFor("MTN_MOMO_ZMB"); !reflect.DeepEqual(got, DefaultProgressionPath) {
		t.Fatalf("expected default path, got %v", got)
	}
}

func TestRemainingSteps(t *testing.T) {
	path := []domain.PayoutStatus{domain.StatusPending, domain.StatusSubmitted, domain.StatusCompleted}
	if got := remainingSteps(domain.StatusAccepted, path); len(got) != 3 {
		t.Fatalf("expected full path from ACCEPTED, got %v", got)
	}
	if got := remainingSteps(domain.StatusSubmitted, path); !reflect.DeepEqual(got, []domain.PayoutStatus{domain.StatusCompleted}) {
		t.Fatalf("expected only COMPLETED from SUBMITTED, got %v", got)
	}
	if got := remainingSteps(domain.StatusSubmitted, []domain.PayoutStatus{domain.StatusPending}); got != nil {
		t.Fatalf("expected nothing left, got %v", got)
	}
}

func TestOperatorOf(t *testing.T) {
	tests := map[string]string{
		"MTN_MOMO_ZMB":    "MTN",
		"airtel_oapi_uga": "AIRTEL",
		"ZAMTEL":          "ZAMTEL",
		"":                "CORRESPONDENT",
	}
	for in, want := range tests {
		if got := operatorOf(in); got != want {
			t.Fatalf("operatorOf(%q) = %q, want %q", in, got, want)
		}
	}
}

type advanceCall struct {
	payoutID string
	status   domain.PayoutStatus
	fields   store.AdvanceFields
}

type stubAdvancer struct {
	mu    sync.Mutex
	calls []advanceCall
	done  chan struct{}
}

func (s *stubAdvancer) Advance(ctx context.Context, payoutID string, next domain.PayoutStatus, fields store.AdvanceFields) (domain.PayoutRecord, bool, error) {
	s.mu.Lock()
	s.calls = append(s.calls, advanceCall{payoutID: payoutID, status: next, fields: fields})
	s.mu.Unlock()
	if next.IsTerminal() && s.done != nil {
		close(s.done)
	}
	return domain.PayoutRecord{PayoutID: payoutID, Status: next}, true, nil
}

func TestProgressorScheduleRunsPathOnce(t *testing.T) {
	advancer := &stubAdvancer{done: make(chan struct{})}
	p := NewProgressor(advancer, ProgressionPolicy{StepDelay: 5 * time.Millisecond})
	p.newRef = func() string { return "REF123" }
	defer p.Stop()

	rec := domain.PayoutRecord{PayoutID: "2", Status: domain.StatusAccepted, Correspondent: "MTN_MOMO_ZMB"}
	if !p.Schedule(rec) {
		t.Fatal("expected first schedule to start")
	}
	if p.Schedule(rec) {
		t.Fatal("expected second schedule to be deduplicated while in flight")
	}

	select {
	case <-advancer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progression")
	}
	p.Stop()

	advancer.mu.Lock()
	defer advancer.mu.Unlock()
	if len(advancer.calls) != 2 {
		t.Fatalf("expected two advances, got %d", len(advancer.calls))
	}
	if advancer.calls[0].status != domain.StatusSubmitted || advancer.calls[0].fields.CorrespondentIDs["MTN_INIT"] != "REF123" {
		t.Fatalf("unexpected first advance %+v", advancer.calls[0])
	}
	if advancer.calls[1].status != domain.StatusCompleted || advancer.calls[1].fields.CorrespondentIDs["MTN_FINAL"] != "REF123" {
		t.Fatalf("unexpected second advance %+v", advancer.calls[1])
	}
}

func TestProgressorSkipsTerminalAndStopped(t *testing.T) {
	p := NewProgressor(&stubAdvancer{}, ProgressionPolicy{StepDelay: time.Hour})
	if p.Schedule(domain.PayoutRecord{PayoutID: "x", Status: domain.StatusCompleted}) {
		t.Fatal("terminal records must not be scheduled")
	}

	if !p.Schedule(domain.PayoutRecord{PayoutID: "y", Status: domain.StatusAccepted}) {
		t.Fatal("expected schedule to start")
	}
	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel a pending step")
	}

	if p.Schedule(domain.PayoutRecord{PayoutID: "z", Status: domain.StatusAccepted}) {
		t.Fatal("stopped progressor must not schedule")
	}
}

func TestProgressorStopRacesSchedule(t *testing.T) {
	advancer := &stubAdvancer{}
	p := NewProgressor(advancer, ProgressionPolicy{StepDelay: time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Schedule(domain.PayoutRecord{PayoutID: fmt.Sprintf("p-%d", i), Status: domain.StatusAccepted})
		}(i)
	}
	p.Stop()
	wg.Wait()

	advancer.mu.Lock()
	calls := len(advancer.calls)
	advancer.mu.Unlock()

	if p.Schedule(domain.PayoutRecord{PayoutID: "late", Status: domain.StatusAccepted}) {
		t.Fatal("stopped progressor must not schedule")
	}
	time.Sleep(20 * time.Millisecond)

	advancer.mu.Lock()
	defer advancer.mu.Unlock()
	if len(advancer.calls) != calls {
		t.Fatalf("progression kept running after Stop: %d advances before, %d after", calls, len(advancer.calls))
	}
}

func TestDefaultProgressionFitsCallbackWindow(t *testing.T) {
	p := NewProgressor(&stubAdvancer{}, ProgressionPolicy{})
	defer p.Stop()
	if p.policy.StepDelay != DefaultStepDelay {
		t.Fatalf("expected default step delay, got %s", p.policy.StepDelay)
	}
	if total := DefaultStepDelay * time.Duration(len(DefaultProgressionPath)); total >= 2*time.Second {
		t.Fatalf("default path takes %s", total)
	}
}
