// Package budget enforces per-platform weekly API budgets.
//
// Every paid API call (Gemini, ElevenLabs, RAWG, SerpAPI) must pass through
// the Ledger before execution. State lives in Redis under
//
//	budget:{platform}:{operation}:week:{YYYY-Www}
//
// with a 7-day TTL, so weekly budgets reset themselves at the ISO calendar
// week boundary without a cleanup job.
package budget

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qanatlabs/qanat/internal/models"
)

// TTL is the lifetime of every ledger key. Entries from week W expire before
// they could ever collide with week W+1 queries.
const TTL = 7 * 24 * time.Hour

// totalOp is the pseudo operation tracking a platform's aggregate spend.
const totalOp = "total"

// Unlimited disables the ceiling check. Used until SetLimit is called.
const Unlimited int64 = -1

// DefaultCosts is the built-in per-operation unit cost table, overridden by
// the shared budgets document when available.
var DefaultCosts = map[string]int64{
	"gemini_script":         50,
	"gemini_validate":       30,
	"gemini_metadata":       20,
	"gemini_clip_plan":      15,
	"gemini_planner":        25,
	"gemini_embedding":      5,
	"elevenlabs_per_minute": 100,
	"rawg_fetch":            2,
	"serpapi_search":        10,
}

// checkAndConsume atomically verifies the weekly ceiling and increments both
// the total and the per-operation counter, or does nothing. Returning the
// decision and the increment from one script closes the check-then-act race
// between concurrent step processes.
var checkAndConsume = redis.NewScript(`
local units = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl   = tonumber(ARGV[3])
local total = tonumber(redis.call('GET', KEYS[1]) or '0')
if limit >= 0 and total + units > limit then
  return -1
end
total = redis.call('INCRBY', KEYS[1], units)
redis.call('EXPIRE', KEYS[1], ttl)
redis.call('INCRBY', KEYS[2], units)
redis.call('EXPIRE', KEYS[2], ttl)
return total
`)

// Ledger enforces one platform's weekly budget. A nil Redis client puts the
// ledger in permissive mode from the start; any Redis failure at call time
// degrades the same way. Budget overrun is preferred over a stalled pipeline.
type Ledger struct {
	platform string
	client   *redis.Client
	timeout  time.Duration

	mu    sync.RWMutex
	limit int64
	costs map[string]int64
	obs   Observer
}

// Observer receives budget check outcomes, e.g. to feed Prometheus counters.
type Observer interface {
	BudgetCheck(platform, operation string, units int64, allowed bool)
}

// NewLedger creates a ledger for one platform. The limit starts at Unlimited;
// call SetLimit with the value from the budgets document before relying on
// enforcement.
func NewLedger(platform string, client *redis.Client, opTimeout time.Duration) *Ledger {
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	costs := make(map[string]int64, len(DefaultCosts))
	for op, c := range DefaultCosts {
		costs[op] = c
	}
	return &Ledger{
		platform: platform,
		client:   client,
		timeout:  opTimeout,
		limit:    Unlimited,
		costs:    costs,
	}
}

// SetObserver registers an observer for check outcomes. Optional.
func (l *Ledger) SetObserver(o Observer) {
	l.mu.Lock()
	l.obs = o
	l.mu.Unlock()
}

func (l *Ledger) observe(operation string, units int64, allowed bool) {
	l.mu.RLock()
	o := l.obs
	l.mu.RUnlock()
	if o != nil {
		o.BudgetCheck(l.platform, operation, units, allowed)
	}
}

// SetLimit sets the weekly ceiling in units.
func (l *Ledger) SetLimit(weeklyUnits int64) {
	l.mu.Lock()
	l.limit = weeklyUnits
	l.mu.Unlock()
	log.Printf("[Bouncer] budget limit set: %s = %d units/week", l.platform, weeklyUnits)
}

// SetCosts overrides entries of the default cost table.
func (l *Ledger) SetCosts(costs map[string]int64) {
	l.mu.Lock()
	for op, c := range costs {
		l.costs[op] = c
	}
	l.mu.Unlock()
}

// Cost returns the unit cost of an operation, defaulting to 1 for unknown
// operations.
func (l *Ledger) Cost(operation string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.costs[operation]; ok {
		return c
	}
	return 1
}

// Limit returns the configured weekly ceiling.
func (l *Ledger) Limit() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limit
}

// CheckAndConsume atomically consumes units for an operation if the weekly
// ceiling allows it. units <= 0 means the operation's default cost. A false
// return consumed nothing; it is an expected outcome, not an error.
//
// When Redis is unreachable the ledger logs a warning and allows the call.
func (l *Ledger) CheckAndConsume(ctx context.Context, operation string, units int64) bool {
	if units <= 0 {
		units = l.Cost(operation)
	}

	if l.client == nil {
		log.Printf("[Bouncer] redis unavailable - PERMISSIVE: allowing %s/%s (%d units)",
			l.platform, operation, units)
		l.observe(operation, units, true)
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	week := weekKey(time.Now())
	keys := []string{l.key(totalOp, week), l.key(operation, week)}
	ttlSec := int64(TTL / time.Second)

	total, err := checkAndConsume.Run(ctx, l.client, keys, units, l.Limit(), ttlSec).Int64()
	if err != nil {
		log.Printf("[Bouncer] redis error during budget check - PERMISSIVE: %v", err)
		l.observe(operation, units, true)
		return true
	}
	if total < 0 {
		used, _ := l.usedWeek(ctx, week)
		log.Printf("[Bouncer] BUDGET DENIED: %s/%s - requested %d, used %d/%d",
			l.platform, operation, units, used, l.Limit())
		l.observe(operation, units, false)
		return false
	}

	log.Printf("[Bouncer] budget ok: %s/%s consumed %d units (total: %d/%s)",
		l.platform, operation, units, total, limitString(l.Limit()))
	l.observe(operation, units, true)
	return true
}

// Check is the read-only dry run of CheckAndConsume. The result is advisory
// only: another process may consume budget between Check and CheckAndConsume,
// so never substitute it for the atomic call.
func (l *Ledger) Check(ctx context.Context, operation string, units int64) bool {
	if units <= 0 {
		units = l.Cost(operation)
	}
	limit := l.Limit()
	if l.client == nil || limit == Unlimited {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	used, err := l.usedWeek(ctx, weekKey(time.Now()))
	if err != nil {
		return true
	}
	return used+units <= limit
}

// Used returns the total units consumed this week. Zero when Redis is
// unreachable.
func (l *Ledger) Used(ctx context.Context) int64 {
	if l.client == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	used, err := l.usedWeek(ctx, weekKey(time.Now()))
	if err != nil {
		return 0
	}
	return used
}

// Remaining returns the units left this week, or the full limit when Redis
// is unreachable.
func (l *Ledger) Remaining(ctx context.Context) int64 {
	limit := l.Limit()
	if limit == Unlimited {
		return 0
	}
	if l.client == nil {
		return limit
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	used, err := l.usedWeek(ctx, weekKey(time.Now()))
	if err != nil {
		return limit
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// UsageReport is the weekly spend broken down by operation.
type UsageReport struct {
	Platform   string           `json:"platform"`
	Week       string           `json:"week"`
	Operations map[string]int64 `json:"operations"`
	Total      int64            `json:"total"`
	Limit      int64            `json:"limit"`
	Remaining  int64            `json:"remaining"`
}

// Report builds the usage report for the current ISO week.
func (l *Ledger) Report(ctx context.Context) UsageReport {
	week := weekKey(time.Now())
	report := UsageReport{
		Platform:   l.platform,
		Week:       week,
		Operations: map[string]int64{},
		Limit:      l.Limit(),
	}
	if l.client == nil {
		report.Remaining = report.Limit
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	l.mu.RLock()
	ops := make([]string, 0, len(l.costs))
	for op := range l.costs {
		ops = append(ops, op)
	}
	l.mu.RUnlock()

	for _, op := range ops {
		used, err := l.client.Get(ctx, l.key(op, week)).Int64()
		if err != nil {
			continue
		}
		if used > 0 {
			report.Operations[op] = used
		}
	}

	total, err := l.usedWeek(ctx, week)
	if err != nil {
		log.Printf("[Bouncer] failed to build usage report: %v", err)
		report.Remaining = report.Limit
		return report
	}
	report.Total = total
	if report.Limit >= 0 && total < report.Limit {
		report.Remaining = report.Limit - total
	}
	return report
}

// Exhausted builds the user-facing denial for a false CheckAndConsume so the
// caller can halt this platform's generation with full context.
func (l *Ledger) Exhausted(ctx context.Context, operation string, units int64) *models.BudgetExhaustedError {
	if units <= 0 {
		units = l.Cost(operation)
	}
	return &models.BudgetExhaustedError{
		Platform:  l.platform,
		Operation: operation,
		Requested: units,
		Remaining: l.Remaining(ctx),
	}
}

func (l *Ledger) usedWeek(ctx context.Context, week string) (int64, error) {
	used, err := l.client.Get(ctx, l.key(totalOp, week)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return used, err
}

func (l *Ledger) key(operation, week string) string {
	return fmt.Sprintf("budget:%s:%s:week:%s", l.platform, operation, week)
}

// weekKey returns the ISO-8601 week identifier, e.g. "2026-W35". Budgets
// reset at the calendar week boundary, not a rolling window from first use.
func weekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func limitString(limit int64) string {
	if limit == Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", limit)
}
