package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payout-service/internal/domain"
	"github.com/transfa/payout-service/internal/store"
)

// DefaultStepDelay keeps a full default path (two steps) inside a 2s callback window.
const DefaultStepDelay = 500 * time.Millisecond

// DefaultProgressionPath is followed by accepted payouts without a correspondent override.
var DefaultProgressionPath = []domain.PayoutStatus{domain.StatusSubmitted, domain.StatusCompleted}

// ProgressionPolicy simulates correspondent-network latency: after each StepDelay the payout
// moves to the next status of its path. A path may stop at a non-terminal status.
type ProgressionPolicy struct {
	StepDelay   time.Duration
	DefaultPath []domain.PayoutStatus
	Paths       map[string][]domain.PayoutStatus
}

// PathFor returns the path configured for correspondent.
func (p ProgressionPolicy) PathFor(correspondent string) []domain.PayoutStatus {
	if path, ok := p.Paths[strings.ToUpper(strings.TrimSpace(correspondent))]; ok {
		return path
	}
	if p.DefaultPath == nil {
		return DefaultProgressionPath
	}
	return p.DefaultPath
}

// ParseProgressionPath parses "SUBMITTED>COMPLETED". The path must be a valid forward walk
// from ACCEPTED. An empty string is an empty path.
func ParseProgressionPath(raw string) ([]domain.PayoutStatus, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []domain.PayoutStatus{}, nil
	}

	path := make([]domain.PayoutStatus, 0, 3)
	current := domain.StatusAccepted
	for _, part := range strings.Split(raw, ">") {
		status, ok := domain.ParseStatus(part)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", strings.TrimSpace(part))
		}
		if !current.CanTransitionTo(status) {
			return nil, fmt.Errorf("cannot move from %s to %s", current, status)
		}
		path = append(path, status)
		current = status
	}
	return path, nil
}

// ParseProgressionPaths parses "CORR=STATUS>STATUS;CORR2=STATUS".
func ParseProgressionPaths(raw string) (map[string][]domain.PayoutStatus, error) {
	paths := make(map[string][]domain.PayoutStatus)
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		code, rawPath, ok := strings.Cut(item, "=")
		code = strings.ToUpper(strings.TrimSpace(code))
		if !ok || code == "" {
			return nil, fmt.Errorf("progression entry %q must be CORRESPONDENT=PATH", item)
		}
		path, err := ParseProgressionPath(rawPath)
		if err != nil {
			return nil, fmt.Errorf("progression path for %s: %w", code, err)
		}
		paths[code] = path
	}
	return paths, nil
}

type payoutAdvancer interface {
	Advance(ctx context.Context, payoutID string, next domain.PayoutStatus, fields store.AdvanceFields) (domain.PayoutRecord, bool, error)
}

// Progressor drives accepted payouts along their progression path in the background.
type Progressor struct {
	advancer payoutAdvancer
	policy   ProgressionPolicy
	newRef   func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewProgressor creates a progressor; Stop must be called to release its goroutines.
func NewProgressor(advancer payoutAdvancer, policy ProgressionPolicy) *Progressor {
	if policy.StepDelay <= 0 {
		policy.StepDelay = DefaultStepDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Progressor{
		advancer: advancer,
		policy:   policy,
		newRef:   newCorrespondentRef,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// Schedule starts progression for rec unless it is terminal, has nothing left to do,
// or is already being progressed.
func (p *Progressor) Schedule(rec domain.PayoutRecord) bool {
	if rec.Status.IsTerminal() {
		return false
	}
	steps := remainingSteps(rec.Status, p.policy.PathFor(rec.Correspondent))
	if len(steps) == 0 {
		return false
	}

	// Stop cancels under mu, so wg.Add below never races wg.Wait.
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return false
	}
	if _, busy := p.inflight[rec.PayoutID]; busy {
		p.mu.Unlock()
		return false
	}
	p.inflight[rec.PayoutID] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.release(rec.PayoutID)
		p.run(rec, steps)
	}()
	return true
}

func (p *Progressor) release(payoutID string) {
	p.mu.Lock()
	delete(p.inflight, payoutID)
	p.mu.Unlock()
}

func (p *Progressor) run(rec domain.PayoutRecord, steps []domain.PayoutStatus) {
	timer := time.NewTimer(p.policy.StepDelay)
	defer timer.Stop()

	for i, next := range steps {
		if i > 0 {
			timer.Reset(p.policy.StepDelay)
		}
		select {
		case <-p.ctx.Done():
			return
		case <-timer.C:
		}

		updated, _, err := p.advancer.Advance(p.ctx, rec.PayoutID, next, p.fieldsFor(rec.Correspondent, next))
		if err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				log.Printf("level=info component=progression msg=\"payout advanced elsewhere; stopping\" payout_id=%s target=%s", rec.PayoutID, next)
				return
			}
			if p.ctx.Err() == nil {
				log.Printf("level=error component=progression msg=\"advance failed\" payout_id=%s target=%s err=%v", rec.PayoutID, next, err)
			}
			return
		}
		if updated.Status.IsTerminal() {
			return
		}
	}
}

func (p *Progressor) fieldsFor(correspondent string, next domain.PayoutStatus) store.AdvanceFields {
	operator := operatorOf(correspondent)
	switch next {
	case domain.StatusSubmitted:
		return store.AdvanceFields{CorrespondentIDs: map[string]string{operator + "_INIT": p.newRef()}}
	case domain.StatusCompleted:
		return store.AdvanceFields{CorrespondentIDs: map[string]string{operator + "_FINAL": p.newRef()}}
	case domain.StatusUnknownError:
		msg := domain.UnknownInternalErrorMessage
		return store.AdvanceFields{ErrorMessage: &msg}
	default:
		return store.AdvanceFields{}
	}
}

// Stop cancels every pending step and waits for the workers to exit.
func (p *Progressor) Stop() {
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

// remainingSteps drops the leading path entries the record has already reached or passed.
func remainingSteps(current domain.PayoutStatus, path []domain.PayoutStatus) []domain.PayoutStatus {
	for i, step := range path {
		if current.CanTransitionTo(step) {
			return path[i:]
		}
	}
	return nil
}

func operatorOf(correspondent string) string {
	code := strings.ToUpper(strings.TrimSpace(correspondent))
	if operator, _, ok := strings.Cut(code, "_"); ok && operator != "" {
		return operator
	}
	if code == "" {
		return "CORRESPONDENT"
	}
	return code
}

func newCorrespondentRef() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
}
