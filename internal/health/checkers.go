// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ManuGH/pubsub-bridge/internal/persistence/sqlite"
)

// PingChecker turns any ping function into a Checker. A failing ping is
// reported as unhealthy unless Optional is set, then as degraded.
type PingChecker struct {
	CheckName string
	Ping      func(ctx context.Context) error
	Optional  bool
}

func (c *PingChecker) Name() string { return c.CheckName }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if err := c.Ping(ctx); err != nil {
		status := StatusUnhealthy
		if c.Optional {
			status = StatusDegraded
		}
		return CheckResult{Status: status, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// NewRedisChecker wraps a Redis health probe such as cache.RedisCache.HealthCheck.
func NewRedisChecker(ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{CheckName: "redis", Ping: ping}
}

// SQLiteChecker pings the job store database and runs a quick integrity check.
type SQLiteChecker struct {
	DB *sql.DB
}

func (c *SQLiteChecker) Name() string { return "sqlite" }

func (c *SQLiteChecker) Check(ctx context.Context) CheckResult {
	if err := c.DB.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	issues, err := sqlite.VerifyIntegrity(ctx, c.DB, "quick")
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if len(issues) > 0 {
		return CheckResult{Status: StatusDegraded, Message: issues[0]}
	}
	return CheckResult{Status: StatusHealthy}
}

// WorkerChecker reports whether the queue worker has polled recently.
type WorkerChecker struct {
	// LastPoll returns the time of the most recent poll, zero if none yet.
	LastPoll func() time.Time
	MaxAge   time.Duration
	Clock    clock.Clock
}

func (c *WorkerChecker) Name() string { return "worker" }

func (c *WorkerChecker) Check(_ context.Context) CheckResult {
	last := c.LastPoll()
	if last.IsZero() {
		return CheckResult{Status: StatusDegraded, Message: "worker has not polled yet"}
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.New()
	}
	if age := clk.Since(last); c.MaxAge > 0 && age > c.MaxAge {
		return CheckResult{Status: StatusUnhealthy, Message: "worker stalled", Error: age.String()}
	}
	return CheckResult{Status: StatusHealthy}
}
