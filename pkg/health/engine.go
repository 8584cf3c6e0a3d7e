package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// enginePayload is the subset of the engine's health response the checker
// reads. Unknown fields are ignored so the monitor and the engine can
// skew versions.
type enginePayload struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// EngineChecker probes the health endpoint of a running replication
// engine. Checkpoint files cannot tell a stalled engine from one that
// finished and exited; the endpoint can.
type EngineChecker struct {
	// URL is the engine health endpoint
	URL string

	// Client is the HTTP client used for probes
	Client *http.Client
}

// NewEngineChecker builds a checker for the engine's metrics address.
// A bare host:port is completed to http://host:port/healthz.
func NewEngineChecker(addr string) *EngineChecker {
	url := addr
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	if !strings.HasSuffix(url, "/healthz") && !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/healthz"
	}

	return &EngineChecker{
		URL: url,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Check probes the endpoint and folds the reported status into the
// result message. The endpoint answers 200 when every engine component
// is healthy and 503 otherwise, so the status code alone decides.
func (e *EngineChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("bad engine URL: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("engine unreachable: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	var payload enginePayload
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)

	healthy := resp.StatusCode == http.StatusOK
	message := fmt.Sprintf("engine %s", payload.Status)
	switch {
	case payload.Status == "":
		message = fmt.Sprintf("engine returned HTTP %d", resp.StatusCode)
	case healthy && payload.Uptime != "":
		message = fmt.Sprintf("engine %s, up %s", payload.Status, payload.Uptime)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *EngineChecker) Type() CheckType {
	return CheckTypeEngine
}

// WithTimeout sets the probe timeout
func (e *EngineChecker) WithTimeout(timeout time.Duration) *EngineChecker {
	e.Client.Timeout = timeout
	return e
}
