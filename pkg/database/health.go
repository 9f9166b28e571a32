package database

import (
	"context"
	"time"
)

// HealthStatus describes the database connection state for health checks.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health pings the pool and reports connection status with latency.
func Health(ctx context.Context, c *Client) (HealthStatus, error) {
	start := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		return HealthStatus{Connected: false, Error: err.Error()}, err
	}
	return HealthStatus{
		Connected: true,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
