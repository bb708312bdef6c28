package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/qanatlabs/qanat/internal/budget"
	"github.com/qanatlabs/qanat/internal/config"
	"github.com/qanatlabs/qanat/internal/database"
	"github.com/qanatlabs/qanat/internal/events"
	"github.com/qanatlabs/qanat/internal/metrics"
	"github.com/qanatlabs/qanat/internal/models"
	"github.com/qanatlabs/qanat/internal/notify"
	"github.com/qanatlabs/qanat/internal/rag"
	"github.com/qanatlabs/qanat/internal/telemetry"
)

// app wires the shared components one CLI invocation needs. Pipeline steps
// are short-lived processes: everything is built on startup and torn down
// when the command exits.
type app struct {
	cfg      *config.Config
	rdb      *redis.Client
	reader   *budget.Reader
	ledger   *budget.Ledger
	store    *database.Store
	ragMgr   *rag.Manager
	pub      *events.Publisher
	notifier *notify.Notifier
	mets     *metrics.Metrics

	shutdownTelemetry func(context.Context) error
}

// newApp builds the shared components. withDB controls whether Postgres is
// dialed; budget-only commands work without it.
func newApp(ctx context.Context, withDB bool) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if platformFlag != "" {
		cfg.Platform = platformFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	a := &app{
		cfg:      cfg,
		rdb:      newRedisClient(cfg.Redis),
		notifier: notify.NewNotifier(cfg.Notify.MattermostWebhookURL, cfg.Notify.Channel),
		mets:     metrics.NewMetrics(),
	}

	a.reader = budget.NewReader(cfg.Platform, a.rdb, cfg.Budgets)
	a.ledger = budget.NewLedger(cfg.Platform, a.rdb, cfg.Redis.OpTimeout)
	a.ledger.SetLimit(a.reader.WeeklyBudget(ctx))
	a.ledger.SetCosts(a.reader.Costs(ctx))
	a.ledger.SetObserver(budgetObserver{a.mets})

	if withDB {
		store, err := database.Open(cfg.Database.DSN, cfg.Database.EmbeddingDimension, cfg.Database.MaxOpenConns)
		if err != nil {
			a.close()
			return nil, err
		}
		a.store = store
		a.ragMgr = rag.NewManager(store, store, cfg.Database.EmbeddingDimension)
	}

	if pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.StreamName); err != nil {
		log.Printf("[App] NATS unavailable, step events disabled: %v", err)
	} else {
		a.pub = pub
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTelemetry(ctx, "qanat", cfg.Platform, cfg.Telemetry.Endpoint)
		if err != nil {
			log.Printf("[App] telemetry init failed, tracing disabled: %v", err)
		} else {
			a.shutdownTelemetry = shutdown
		}
	}

	return a, nil
}

// newRedisClient dials Redis. A bad URL or unreachable server yields a nil
// client, which puts the budget ledger in permissive mode.
func newRedisClient(cfg config.RedisConfig) *redis.Client {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Printf("[App] invalid redis url, budget enforcement disabled: %v", err)
		return nil
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.OpTimeout > 0 {
		opts.ReadTimeout = cfg.OpTimeout
		opts.WriteTimeout = cfg.OpTimeout
	}
	return redis.NewClient(opts)
}

func (a *app) close() {
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownTelemetry(ctx); err != nil {
			log.Printf("[App] telemetry shutdown: %v", err)
		}
		cancel()
	}
	a.pub.Close()
	if a.store != nil {
		a.store.Close()
	}
	if a.reader != nil {
		a.reader.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}

// runStep executes one pipeline step with tracing, metrics and event
// publishing around it. The step's JSON result goes to stdout.
func (a *app) runStep(ctx context.Context, step string, fn func(ctx context.Context) (any, error)) error {
	ctx, span := telemetry.StartSpan(ctx, "step."+step,
		attribute.String("platform", a.cfg.Platform))
	defer span.End()

	a.mets.StepRuns.WithLabelValues(step, a.cfg.Platform).Inc()
	start := time.Now()

	out, err := fn(ctx)
	success := err == nil

	a.mets.StepDuration.
		WithLabelValues(step, a.cfg.Platform, strconv.FormatBool(success)).
		Observe(time.Since(start).Seconds())
	if !success {
		a.mets.StepErrors.WithLabelValues(step, a.cfg.Platform).Inc()
	}
	a.mets.BudgetRemaining.WithLabelValues(a.cfg.Platform).Set(float64(a.ledger.Remaining(ctx)))

	a.pub.PublishStep(ctx, events.StepEvent{Step: step, Platform: a.cfg.Platform, Success: success})
	if perr := metrics.Push(a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.JobName, a.cfg.Platform); perr != nil {
		log.Printf("[App] %v", perr)
	}

	if err != nil {
		a.notifyIfExhausted(ctx, step, err)
		return err
	}
	return printJSON(out)
}

// notifyIfExhausted escalates budget denials to Mattermost so a human sees
// that this platform's generation halted for the week.
func (a *app) notifyIfExhausted(ctx context.Context, step string, err error) {
	var exhausted *models.BudgetExhaustedError
	if !errors.As(err, &exhausted) {
		return
	}
	msg := fmt.Sprintf("🚨 step `%s` halted: %s\n%s", step, exhausted.Error(), a.ledger.FormatStatus(ctx))
	if nerr := a.notifier.Post(ctx, msg); nerr != nil {
		log.Printf("[App] failed to send budget alert: %v", nerr)
	}
}

// budgetObserver feeds ledger decisions into Prometheus.
type budgetObserver struct {
	mets *metrics.Metrics
}

func (o budgetObserver) BudgetCheck(platform, operation string, units int64, allowed bool) {
	o.mets.BudgetChecksTotal.WithLabelValues(platform, operation).Inc()
	if allowed {
		o.mets.BudgetUnitsConsumed.WithLabelValues(platform, operation).Add(float64(units))
	} else {
		o.mets.BudgetDenialsTotal.WithLabelValues(platform, operation).Inc()
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
