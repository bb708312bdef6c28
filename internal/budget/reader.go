package budget

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"

	"github.com/qanatlabs/qanat/internal/config"
)

// cacheKey is the shared Redis key holding the cached budgets document.
const cacheKey = "budgets:config:json"

// Reader resolves the budgets document through an ordered fallback chain:
//
//	in-process memo -> Redis cache -> remote document store -> local file -> built-in default
//
// Tiers 3 and 4 repopulate the Redis cache on success. No tier failure
// escapes the reader; the built-in tier always succeeds.
type Reader struct {
	platform string
	cache    *redis.Client // may be nil
	http     *http.Client
	src      config.BudgetSource

	mu      sync.Mutex
	memo    *Document
	memoAt  time.Time
	watcher *fsnotify.Watcher
}

// NewReader creates a reader for one platform. cache may be nil, in which
// case the Redis tier is skipped. The local fallback file is watched so
// edits invalidate the in-process memo without a restart.
func NewReader(platform string, cache *redis.Client, src config.BudgetSource) *Reader {
	if src.CacheTTL <= 0 {
		src.CacheTTL = time.Hour
	}
	r := &Reader{
		platform: platform,
		cache:    cache,
		src:      src,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	r.watchLocal()
	return r
}

// Load resolves the budgets document. It never fails; the built-in fallback
// is the final tier. The lock is not held while external tiers are fetched,
// so a slow remote store never stalls concurrent memoized reads.
func (r *Reader) Load(ctx context.Context) *Document {
	r.mu.Lock()
	if r.memo != nil && time.Since(r.memoAt) < r.src.CacheTTL {
		doc := r.memo
		r.mu.Unlock()
		return doc
	}
	r.mu.Unlock()

	doc := r.resolve(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remember(doc)
}

// resolve walks the external tiers in order. Concurrent callers may resolve
// in parallel; the last one to finish wins the memo.
func (r *Reader) resolve(ctx context.Context) *Document {
	if doc := r.loadFromCache(ctx); doc != nil {
		return doc
	}
	if doc := r.loadFromRemote(ctx); doc != nil {
		r.populateCache(ctx, doc)
		return doc
	}
	if doc := r.loadFromLocal(); doc != nil {
		r.populateCache(ctx, doc)
		return doc
	}
	log.Printf("[BudgetReader] all budget sources failed - using built-in fallback")
	return FallbackDocument()
}

// Reload drops the memo and the Redis cache entry, then resolves again.
func (r *Reader) Reload(ctx context.Context) *Document {
	r.mu.Lock()
	r.memo = nil
	r.mu.Unlock()
	if r.cache != nil {
		if err := r.cache.Del(ctx, cacheKey).Err(); err != nil && err != redis.Nil {
			log.Printf("[BudgetReader] failed to drop cache entry: %v", err)
		}
	}
	return r.Load(ctx)
}

// WeeklyBudget returns this platform's weekly allocation in units.
func (r *Reader) WeeklyBudget(ctx context.Context) int64 {
	if p, ok := r.Load(ctx).Platforms[r.platform]; ok {
		return p.WeeklyUnits
	}
	return 1000
}

// Cost returns the unit cost for an operation, defaulting to 1.
func (r *Reader) Cost(ctx context.Context, operation string) int64 {
	if c, ok := r.Load(ctx).APICosts[operation]; ok {
		return c
	}
	return 1
}

// Costs returns a copy of the full cost table.
func (r *Reader) Costs(ctx context.Context) map[string]int64 {
	src := r.Load(ctx).APICosts
	costs := make(map[string]int64, len(src))
	for op, c := range src {
		costs[op] = c
	}
	return costs
}

// PlatformEnabled reports whether this platform is switched on in the
// budgets document. Unknown platforms default to enabled.
func (r *Reader) PlatformEnabled(ctx context.Context) bool {
	if p, ok := r.Load(ctx).Platforms[r.platform]; ok {
		return p.Enabled
	}
	return true
}

// Alerts returns the notification escalation thresholds.
func (r *Reader) Alerts(ctx context.Context) AlertThresholds {
	a := r.Load(ctx).Alerts
	if a.WarnAtPercent == 0 && a.CriticalAtPercent == 0 {
		return AlertThresholds{WarnAtPercent: 80, CriticalAtPercent: 95}
	}
	return a
}

// Close stops the local file watcher.
func (r *Reader) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// remember must be called with r.mu held.
func (r *Reader) remember(doc *Document) *Document {
	r.memo = doc
	r.memoAt = time.Now()
	return doc
}

func (r *Reader) loadFromCache(ctx context.Context) *Document {
	if r.cache == nil {
		return nil
	}
	data, err := r.cache.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return nil
	}
	doc, err := ParseDocument(data)
	if err != nil {
		log.Printf("[BudgetReader] cached budgets document is malformed, dropping: %v", err)
		r.cache.Del(ctx, cacheKey)
		return nil
	}
	return doc
}

func (r *Reader) loadFromRemote(ctx context.Context) *Document {
	if r.src.RemoteURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.src.RemoteURL, nil)
	if err != nil {
		return nil
	}
	if r.src.RemoteUser != "" {
		req.SetBasicAuth(r.src.RemoteUser, r.src.RemotePassword)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		log.Printf("[BudgetReader] remote fetch failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[BudgetReader] remote store returned %d for budgets document", resp.StatusCode)
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	doc, err := ParseDocument(data)
	if err != nil {
		log.Printf("[BudgetReader] remote budgets document rejected: %v", err)
		return nil
	}
	log.Printf("[BudgetReader] budgets document loaded from remote store")
	return doc
}

func (r *Reader) loadFromLocal() *Document {
	if r.src.LocalPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.src.LocalPath)
	if err != nil {
		return nil
	}
	doc, err := ParseDocument(data)
	if err != nil {
		log.Printf("[BudgetReader] local budgets file rejected: %v", err)
		return nil
	}
	log.Printf("[BudgetReader] budgets document loaded from local file: %s", r.src.LocalPath)
	return doc
}

func (r *Reader) populateCache(ctx context.Context, doc *Document) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey, data, r.src.CacheTTL).Err(); err != nil {
		log.Printf("[BudgetReader] failed to populate cache: %v", err)
	}
}

// watchLocal invalidates the memo when the local fallback file changes.
// Watcher setup is best effort; a missing directory just disables it.
func (r *Reader) watchLocal() {
	if r.src.LocalPath == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := watcher.Add(filepath.Dir(r.src.LocalPath)); err != nil {
		watcher.Close()
		return
	}
	r.watcher = watcher

	target := filepath.Clean(r.src.LocalPath)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					r.mu.Lock()
					r.memo = nil
					r.mu.Unlock()
					log.Printf("[BudgetReader] local budgets file changed, memo invalidated")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[BudgetReader] watcher error: %v", err)
			}
		}
	}()
}
