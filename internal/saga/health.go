package saga

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/observability"
)

// CheckResult is the journaled outcome of one health check request.
type CheckResult struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// OK reports a 2xx response.
func (r CheckResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r CheckResult) String() string {
	if r.Error != "" {
		return r.Error
	}
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}

// HealthChecker issues a single health check request. Transport failures belong in
// CheckResult.Error; the returned error is reserved for cancellation.
type HealthChecker interface {
	Check(ctx context.Context, url string) (CheckResult, error)
}

// HTTPHealthChecker checks with a plain GET.
type HTTPHealthChecker struct {
	client *http.Client
}

// NewHTTPHealthChecker creates a checker whose requests time out after timeout.
func NewHTTPHealthChecker(timeout time.Duration) *HTTPHealthChecker {
	return &HTTPHealthChecker{client: &http.Client{Timeout: timeout}}
}

// Check implements HealthChecker.
func (p *HTTPHealthChecker) Check(ctx context.Context, url string) (CheckResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CheckResult{Error: err.Error()}, nil
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return CheckResult{}, ctx.Err()
		}
		return CheckResult{Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return CheckResult{StatusCode: resp.StatusCode}, nil
}

const opHealthCheck = "health.check"

// waitForHealthCheck checks until a 2xx answer. The deadline is checked
// after every failed check, so a zero deadline fails after the first one.
func (s *Saga) waitForHealthCheck(ctx context.Context, sub durable.Substrate, obs observability.Observer, app string, deadline time.Duration) error {
	start, err := sub.Now(ctx)
	if err != nil {
		return err
	}
	url, err := s.settings.HealthCheckURL(app)
	if err != nil {
		return newStepError(StepWaitForHealthCheck, HealthCheckFailed, "cannot build health check URL", err)
	}

	for attempt := 1; ; attempt++ {
		result, err := durable.Call(ctx, sub, opHealthCheck, func(ctx context.Context) (CheckResult, error) {
			return s.checker.Check(ctx, url)
		})
		if err != nil {
			return fail(ctx, StepWaitForHealthCheck, HealthCheckFailed, "health check request failed", err)
		}
		if result.OK() {
			return nil
		}

		now, err := sub.Now(ctx)
		if err != nil {
			return err
		}
		if elapsed := now.Sub(start); elapsed >= deadline {
			se := newStepError(StepWaitForHealthCheck, HealthCheckFailed,
				fmt.Sprintf("%s not healthy after %s (%d checks)", url, elapsed.Round(time.Second), attempt), nil)
			se.Response = result.String()
			return se
		}

		obs.Event(observability.Event{
			Type:     observability.EventWaiting,
			Step:     StepWaitForHealthCheck,
			Resource: url,
			Message:  fmt.Sprintf("health check returned %s", result),
		})

		if err := s.checkAppExists(ctx, sub, StepWaitForHealthCheck, app); err != nil {
			return err
		}
		if _, err := durable.Sleep(ctx, sub, s.timeouts.HealthPollInterval); err != nil {
			return err
		}
	}
}
