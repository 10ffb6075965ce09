package gravity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"vawter.tech/stopper"
)

// Default polling behavior for readiness verification
const (
	// DefaultProbeInterval is the pause between readiness checks
	DefaultProbeInterval = 250 * time.Millisecond
	// DefaultProbeTimeout bounds a single HTTP probe request
	DefaultProbeTimeout = 2 * time.Second
)

// LogTailer provides backend-native log content for a service since a
// given time. Every ProcessManager satisfies it.
type LogTailer interface {
	TailLog(ctx context.Context, name string, since time.Time) (string, error)
}

// Verifier polls a started service until it signals ready or a bounded
// deadline elapses. A service is ready once it answers application-level
// requests, which is distinct from merely having a process running.
type Verifier struct {
	// Interval is the pause between checks
	Interval time.Duration
	// Client issues HTTP probe requests
	Client *http.Client
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithInterval sets the polling interval
func WithInterval(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.Interval = d
	}
}

// WithHTTPClient sets the probe HTTP client
func WithHTTPClient(c *http.Client) VerifierOption {
	return func(v *Verifier) {
		v.Client = c
	}
}

// NewVerifier creates a Verifier with default settings
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		Interval: DefaultProbeInterval,
		Client:   &http.Client{Timeout: DefaultProbeTimeout},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check performs a single readiness check without waiting. Services
// without a readiness spec are considered ready.
func (v *Verifier) Check(ctx context.Context, svc Service, since time.Time, logs LogTailer) bool {
	switch svc.Readiness.Kind {
	case ReadinessHTTP:
		return v.probe(ctx, svc.Readiness.URL)
	case ReadinessLogMarker:
		tail, err := logs.TailLog(ctx, svc.Name, since)
		return err == nil && strings.Contains(tail, svc.Readiness.Marker)
	default:
		return true
	}
}

// Await polls until the service is ready or its deadline elapses. On
// timeout it fetches the service log since the start timestamp and
// returns it inside a ReadinessError so the caller can present an
// actionable diagnostic rather than a bare timeout.
func (v *Verifier) Await(ctx context.Context, svc Service, since time.Time, logs LogTailer) error {
	if svc.Readiness.Kind == ReadinessNone {
		return nil
	}

	timeout := time.Duration(svc.Readiness.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultStartupTimeoutSeconds * time.Second
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(v.Interval)
	defer ticker.Stop()

	for {
		if v.Check(ctx, svc, since, logs) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return v.timeoutError(ctx, svc, since, timeout, logs)
		case <-ticker.C:
		}
	}
}

func (v *Verifier) timeoutError(ctx context.Context, svc Service, since time.Time, timeout time.Duration, logs LogTailer) error {
	tail, err := logs.TailLog(ctx, svc.Name, since)
	if err != nil {
		tail = fmt.Sprintf("(log unavailable: %v)", err)
	}
	return &ReadinessError{Service: svc.Name, Timeout: timeout, Log: tail}
}

// AwaitAll verifies every service with a readiness spec concurrently, so
// the total wait is bounded by the slowest service rather than the sum.
// Pollers share no mutable state; each reports only its terminal result.
// The first failure stops the umbrella and abandons still-pending
// pollers without forcing their probes to terminate.
func (v *Verifier) AwaitAll(ctx context.Context, services []Service, since time.Time, logs LogTailer) error {
	sctx := stopper.WithContext(ctx)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, svc := range services {
		if svc.Readiness.Kind == ReadinessNone {
			continue
		}
		wg.Add(1)
		sctx.Go(func(sctx *stopper.Context) error {
			defer wg.Done()
			if err := v.Await(sctx, svc, since, logs); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				sctx.Stop(100 * time.Millisecond)
			}
			return nil
		})
	}

	wg.Wait()
	sctx.Stop(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	return firstErr
}

// probe issues one HTTP request; any 2xx response means ready and every
// other outcome, connection errors included, means not yet.
func (v *Verifier) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := v.Client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
