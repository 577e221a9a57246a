package server

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// WaitForHealthy polls baseURL's /health endpoint until it returns 200 OK or
// ctx is done. baseURL is the server's base URL, e.g. "http://localhost:8080".
func WaitForHealthy(ctx context.Context, baseURL string) error {
	healthURL := strings.TrimSuffix(baseURL, "/") + "/health"
	client := &http.Client{Timeout: time.Second}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
