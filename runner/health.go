package runner

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// CheckFunc probes a dependent service once. A nil return means ready.
type CheckFunc func(ctx context.Context) error

// HealthPoller is the bounded-retry readiness gate for an optionally
// started dependent service.
type HealthPoller struct {
	log log.Logger
}

// NewHealthPoller creates a health poller
func NewHealthPoller(logger log.Logger) *HealthPoller {
	if logger == nil {
		logger = log.New()
	}
	return &HealthPoller{log: logger}
}

// WaitUntilReady sleeps initialDelay, then invokes check up to maxAttempts
// times with a fixed interval between attempts. Exhausting all attempts is
// NOT an error: the poller logs a warning and lets the caller proceed
// without confirmed readiness. Do not tighten this without confirming
// intent with the service owners.
func (p *HealthPoller) WaitUntilReady(ctx context.Context, check CheckFunc, maxAttempts int, interval, initialDelay time.Duration) {
	if initialDelay > 0 {
		sleepCtx(ctx, initialDelay)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			p.log.Warn("Health polling interrupted, proceeding without confirmed readiness", "error", ctx.Err())
			return
		}

		err := check(ctx)
		if err == nil {
			p.log.Info("Dependent service is ready", "attempts", attempt)
			return
		}
		p.log.Debug("Dependent service not ready yet", "attempt", attempt, "maxAttempts", maxAttempts, "error", err)

		if attempt < maxAttempts {
			sleepCtx(ctx, interval)
		}
	}

	p.log.Warn("Dependent service never reported ready, proceeding anyway", "attempts", maxAttempts)
}

// HTTPCheck probes a URL with a GET request; any non-2xx response or
// transport error counts as not-ready.
func HTTPCheck(url string) CheckFunc {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("health endpoint returned status %s", resp.Status)
		}
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
