package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is the minimal interface for a dependency capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// BuildReadinessChecks assembles the per-dependency probes served by /readyz.
// Nil dependencies are skipped so workers can reuse the subset they carry.
func BuildReadinessChecks(pool Pinger, rdb *redis.Client, vector Pinger, extractorURL string) map[string]func(ctx context.Context) error {
	checks := make(map[string]func(ctx context.Context) error, 4)
	if pool != nil {
		checks["db"] = pool.Ping
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if vector != nil {
		checks["qdrant"] = vector.Ping
	}
	if extractorURL != "" {
		checks["extractor"] = httpCheck(extractorURL + "/healthz")
	}
	return checks
}

// httpCheck probes a URL and requires a 2xx.
func httpCheck(url string) func(ctx context.Context) error {
	client := &http.Client{Timeout: 2 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("status %d from %s", resp.StatusCode, url)
		}
		return nil
	}
}
