package budget

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qanatlabs/qanat/internal/config"
)

const localDoc = `{
	"version": 3,
	"total_weekly_units": 4000,
	"platforms": {
		"youtube": {"weekly_units": 1500, "priority": 1, "enabled": true},
		"tiktok": {"weekly_units": 500, "priority": 2, "enabled": false}
	},
	"api_costs": {"gemini_script": 40},
	"alerts": {"warn_at_percent": 70, "critical_at_percent": 90}
}`

func writeLocalDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "budgets.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(localDoc))
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Version)
	assert.Equal(t, int64(1500), doc.Platforms["youtube"].WeeklyUnits)
	assert.False(t, doc.Platforms["tiktok"].Enabled)

	_, err = ParseDocument([]byte("{not json"))
	assert.Error(t, err)

	_, err = ParseDocument([]byte(`{"version": 1}`))
	assert.Error(t, err, "document without platforms must be rejected")
}

func TestReaderFallsThroughToLocalFile(t *testing.T) {
	// Remote store is up but failing; no Redis cache; local file is valid.
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer remote.Close()

	r := NewReader("youtube", nil, config.BudgetSource{
		RemoteURL: remote.URL,
		LocalPath: writeLocalDoc(t, localDoc),
		CacheTTL:  time.Hour,
	})
	defer r.Close()

	ctx := context.Background()
	doc := r.Load(ctx)
	assert.Equal(t, int64(1500), doc.Platforms["youtube"].WeeklyUnits)

	// Second call within the TTL is served from the memo: same document,
	// no re-fetch observable as an identical pointer.
	again := r.Load(ctx)
	assert.Same(t, doc, again)
}

func TestReaderPrefersRemote(t *testing.T) {
	var gotAuth bool
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		gotAuth = ok && user == "pi" && pass == "secret"
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(localDoc))
	}))
	defer remote.Close()

	r := NewReader("youtube", nil, config.BudgetSource{
		RemoteURL:      remote.URL,
		RemoteUser:     "pi",
		RemotePassword: "secret",
		CacheTTL:       time.Hour,
	})
	defer r.Close()

	doc := r.Load(context.Background())
	assert.True(t, gotAuth, "remote fetch must carry basic auth")
	assert.Equal(t, int64(1500), doc.Platforms["youtube"].WeeklyUnits)
}

func TestReaderBuiltInFallback(t *testing.T) {
	// Nothing configured: every external tier is absent.
	r := NewReader("youtube", nil, config.BudgetSource{CacheTTL: time.Hour})
	defer r.Close()

	ctx := context.Background()
	doc := r.Load(ctx)
	assert.Equal(t, int64(2000), doc.Platforms["youtube"].WeeklyUnits)
	assert.Equal(t, int64(2000), r.WeeklyBudget(ctx))
	assert.Equal(t, int64(50), r.Cost(ctx, "gemini_script"))
	assert.Equal(t, int64(1), r.Cost(ctx, "unknown_api"))
	assert.True(t, r.PlatformEnabled(ctx))
	assert.Equal(t, 80, r.Alerts(ctx).WarnAtPercent)
}

func TestReaderPlatformAccessors(t *testing.T) {
	r := NewReader("tiktok", nil, config.BudgetSource{
		LocalPath: writeLocalDoc(t, localDoc),
		CacheTTL:  time.Hour,
	})
	defer r.Close()

	ctx := context.Background()
	assert.Equal(t, int64(500), r.WeeklyBudget(ctx))
	assert.False(t, r.PlatformEnabled(ctx))
	assert.Equal(t, 70, r.Alerts(ctx).WarnAtPercent)
	assert.Equal(t, int64(40), r.Cost(ctx, "gemini_script"))
}

func TestReaderLoadDoesNotSerializeRemoteFetches(t *testing.T) {
	// A slow remote must not stall other loads behind the reader lock.
	var inFlight, maxInFlight atomic.Int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		inFlight.Add(-1)
		_, _ = w.Write([]byte(localDoc))
	}))
	defer remote.Close()

	r := NewReader("youtube", nil, config.BudgetSource{
		RemoteURL: remote.URL,
		CacheTTL:  time.Hour,
	})
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := r.Load(context.Background())
			assert.Equal(t, int64(1500), doc.Platforms["youtube"].WeeklyUnits)
		}()
	}
	wg.Wait()

	assert.Greater(t, int(maxInFlight.Load()), 1, "concurrent loads must fetch in parallel")

	// Afterwards the memo serves everyone without another fetch.
	doc := r.Load(context.Background())
	assert.Same(t, doc, r.Load(context.Background()))
}

func TestReaderReload(t *testing.T) {
	path := writeLocalDoc(t, localDoc)
	r := NewReader("youtube", nil, config.BudgetSource{
		LocalPath: path,
		CacheTTL:  time.Hour,
	})
	defer r.Close()

	ctx := context.Background()
	assert.Equal(t, int64(1500), r.WeeklyBudget(ctx))

	updated := `{
		"version": 4,
		"platforms": {"youtube": {"weekly_units": 900, "priority": 1, "enabled": true}},
		"api_costs": {},
		"alerts": {"warn_at_percent": 80, "critical_at_percent": 95}
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	doc := r.Reload(ctx)
	assert.Equal(t, 4, doc.Version)
	assert.Equal(t, int64(900), r.WeeklyBudget(ctx))
}
