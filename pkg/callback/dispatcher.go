/**
 * @description
 * This package delivers payout status callbacks to the caller's registered URL.
 * Deliveries are queued on a buffered channel and POSTed by a fixed pool of workers
 * so the submission path never waits on the receiver.
 *
 * Key features:
 * - Bodies are encoded once at enqueue time with bytedance/sonic.
 * - Outbound calls go through a sony/gobreaker circuit breaker.
 * - Failed deliveries are retried in the background with exponential backoff,
 *   then dropped with an error log.
 * - Optional HMAC-SHA256 body signature in the X-Callback-Signature header.
 */

package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sony/gobreaker"
)

const SignatureHeader = "X-Callback-Signature"

// Config controls the dispatcher. Zero values fall back to the defaults below.
type Config struct {
	URL           string
	SigningSecret string
	Workers       int
	QueueSize     int
	MaxAttempts   int
	Timeout       time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

const (
	defaultWorkers     = 4
	defaultQueueSize   = 1024
	defaultMaxAttempts = 5
	defaultTimeout     = 10 * time.Second
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 60 * time.Second
)

type task struct {
	key     string
	body    []byte
	attempt int
}

// Dispatcher is a fire-and-forget callback sender.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	queue   chan task
}

// NewDispatcher creates a dispatcher; call Run to start delivering.
func NewDispatcher(cfg Config) *Dispatcher {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	settings := gobreaker.Settings{
		Name:        "PayoutCallback",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("level=warn component=callback msg=\"circuit breaker state changed\" breaker=%s from=%s to=%s", name, from, to)
		},
	}

	return &Dispatcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		queue:   make(chan task, cfg.QueueSize),
	}
}

// Enabled reports whether a callback URL is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.cfg.URL != ""
}

// Enqueue schedules payload for delivery without blocking. It returns false when the
// dispatcher is disabled, the payload cannot be encoded, or the queue is full.
func (d *Dispatcher) Enqueue(key string, payload interface{}) bool {
	if !d.Enabled() {
		return false
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		log.Printf("level=error component=callback msg=\"encode callback failed\" key=%s err=%v", key, err)
		return false
	}
	return d.offer(task{key: key, body: body})
}

func (d *Dispatcher) offer(t task) bool {
	select {
	case d.queue <- t:
		return true
	default:
		log.Printf("level=warn component=callback msg=\"callback queue full; dropping\" key=%s attempt=%d", t.key, t.attempt)
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and they have exited.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.queue:
			d.process(ctx, worker, t)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, worker int, t task) {
	err := d.deliver(ctx, t.body)
	if err == nil {
		log.Printf("level=info component=callback msg=\"callback delivered\" key=%s attempt=%d worker=%d", t.key, t.attempt+1, worker)
		return
	}

	t.attempt++
	if t.attempt >= d.cfg.MaxAttempts {
		log.Printf("level=error component=callback msg=\"callback dropped after max attempts\" key=%s attempts=%d err=%v", t.key, t.attempt, err)
		return
	}

	delay := d.backoff(t.attempt)
	log.Printf("level=warn component=callback msg=\"callback delivery failed; retrying\" key=%s attempt=%d retry_in=%s err=%v", t.key, t.attempt, delay, err)
	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		d.offer(t)
	})
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	if attempt > 30 {
		return d.cfg.MaxBackoff
	}
	delay := d.cfg.BaseBackoff << (attempt - 1)
	if delay <= 0 || delay > d.cfg.MaxBackoff {
		return d.cfg.MaxBackoff
	}
	return delay
}

func (d *Dispatcher) deliver(ctx context.Context, body []byte) error {
	_, err := d.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build callback request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if d.cfg.SigningSecret != "" {
			req.Header.Set(SignatureHeader, Sign(d.cfg.SigningSecret, body))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("callback receiver returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("callback circuit breaker rejected request: %w", err)
	}
	return err
}

// Sign returns the base64 HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
