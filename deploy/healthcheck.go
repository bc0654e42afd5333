package deploy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/skiff-cd/skiff/domain"
)

// healthCheck is stage 7: poll the project's endpoint with a fixed number of
// retries and a constant delay. Any HTTP response, including error statuses,
// proves the process is accepting connections; only transport failures and
// timeouts count against the retry budget.
//
// Exhausting the budget fails the deployment even though the process may be
// running; there is no automatic rollback to the previous version.
func (d *Deployer) healthCheck(ctx context.Context, project *domain.Project, deployment *domain.Deployment) error {
	if project.Port == nil {
		deployment.Log("no port assigned, skipping health check")
		return nil
	}

	// A misconfigured retry count must never make the budget unbounded:
	// uint64(0-1) would allow ~2^64 attempts.
	maxAttempts := max(d.config.HealthCheckRetries, 1)

	url := fmt.Sprintf("http://127.0.0.1:%d/", *project.Port)
	deployment.Log("health checking %s (%d attempts, %s apart)",
		url, maxAttempts, d.config.HealthCheckDelay)

	client := &http.Client{Timeout: d.config.HealthCheckDelay}
	attempt := 0

	backoff := retry.WithMaxRetries(uint64(maxAttempts-1),
		retry.NewConstant(d.config.HealthCheckDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			deployment.Log("health check attempt %d failed: %v", attempt, err)
			return retry.RetryableError(err)
		}
		resp.Body.Close()

		deployment.Log("health check passed (HTTP %d after %d attempt(s))", resp.StatusCode, attempt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("health check failed after %d attempts over %s: %w",
			attempt, time.Duration(attempt)*d.config.HealthCheckDelay, err)
	}
	return nil
}
