// Package health aggregates component liveness checks for the service
// health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Component string `json:"component"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the aggregated service health.
type Report struct {
	Status     Status        `json:"status"`
	Components []CheckResult `json:"components,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager runs all checkers concurrently and folds their results into one
// report: any unhealthy component makes the service unhealthy, otherwise
// any degraded component makes it degraded.
type Manager struct {
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger, checkers ...Checker) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{checkers: checkers, timeout: 5 * time.Second, logger: logger}
}

func (m *Manager) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	results := make([]CheckResult, len(m.checkers))
	var wg sync.WaitGroup
	for i, c := range m.checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = c.Check(ctx)
		}(i, c)
	}
	wg.Wait()

	report := Report{Status: StatusHealthy, Components: results, CheckedAt: time.Now().UTC()}
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
			m.logger.Warn("Component unhealthy",
				zap.String("component", r.Component), zap.String("error", r.Error))
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// degradedLatency marks a dependency as degraded when it answers slower
// than this.
const degradedLatency = 100 * time.Millisecond

func resultFor(component string, start time.Time, err error) CheckResult {
	elapsed := time.Since(start)
	result := CheckResult{
		Component: component,
		LatencyMS: elapsed.Milliseconds(),
	}
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	case elapsed > degradedLatency:
		result.Status = StatusDegraded
	default:
		result.Status = StatusHealthy
	}
	return result
}

// DatabaseChecker pings the sqlite store.
type DatabaseChecker struct {
	db *sqlx.DB
}

func NewDatabaseChecker(db *sqlx.DB) *DatabaseChecker { return &DatabaseChecker{db: db} }

func (c *DatabaseChecker) Name() string { return "database" }

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	return resultFor("database", start, c.db.PingContext(ctx))
}

// RedisChecker pings the event mirror's Redis.
type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(client *redis.Client) *RedisChecker { return &RedisChecker{client: client} }

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	return resultFor("redis", start, c.client.Ping(ctx).Err())
}
