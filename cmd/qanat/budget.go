package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

func newBudgetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect and exercise the weekly budget ledger",
	}

	cmd.AddCommand(newBudgetStatusCommand())
	cmd.AddCommand(newBudgetCheckCommand())
	cmd.AddCommand(newBudgetConsumeCommand())
	cmd.AddCommand(newBudgetReloadCommand())

	return cmd
}

func newBudgetStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show this week's usage report for the platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			report := a.ledger.Report(ctx)
			display := a.ledger.FormatStatus(ctx)
			alertBudgetThresholds(ctx, a, report.Total, report.Limit, display)
			return printJSON(struct {
				Report  any    `json:"report"`
				Display string `json:"display"`
			}{report, display})
		},
	}
}

// alertBudgetThresholds escalates to Mattermost when weekly spend crosses
// the warn or critical percentage from the budgets document.
func alertBudgetThresholds(ctx context.Context, a *app, total, limit int64, display string) {
	if limit <= 0 {
		return
	}
	thresholds := a.reader.Alerts(ctx)
	pct := int(float64(total) / float64(limit) * 100)

	var prefix string
	switch {
	case pct >= thresholds.CriticalAtPercent:
		prefix = "🚨 budget critical"
	case pct >= thresholds.WarnAtPercent:
		prefix = "⚠️ budget warning"
	default:
		return
	}
	if err := a.notifier.Post(ctx, fmt.Sprintf("%s (%d%%)\n%s", prefix, pct, display)); err != nil {
		log.Printf("[App] failed to send budget alert: %v", err)
	}
}

func newBudgetCheckCommand() *cobra.Command {
	var units int64
	cmd := &cobra.Command{
		Use:   "check <operation>",
		Short: "Dry-run a budget check without consuming units",
		Long: `Reports whether the operation would currently be allowed. Advisory only:
another process may consume budget before the real call happens.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			operation := args[0]
			return printJSON(struct {
				Platform  string `json:"platform"`
				Operation string `json:"operation"`
				Units     int64  `json:"units"`
				Allowed   bool   `json:"allowed"`
				Remaining int64  `json:"remaining"`
			}{
				Platform:  a.cfg.Platform,
				Operation: operation,
				Units:     unitsOrCost(a, operation, units),
				Allowed:   a.ledger.Check(ctx, operation, units),
				Remaining: a.ledger.Remaining(ctx),
			})
		},
	}
	cmd.Flags().Int64Var(&units, "units", 0, "Units to check (default: the operation's cost)")
	return cmd
}

func newBudgetConsumeCommand() *cobra.Command {
	var units int64
	cmd := &cobra.Command{
		Use:   "consume <operation>",
		Short: "Atomically consume units for an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			operation := args[0]
			allowed := a.ledger.CheckAndConsume(ctx, operation, units)
			if !allowed {
				a.notifyIfExhausted(ctx, "budget consume", a.ledger.Exhausted(ctx, operation, units))
			}
			return printJSON(struct {
				Platform  string `json:"platform"`
				Operation string `json:"operation"`
				Units     int64  `json:"units"`
				Consumed  bool   `json:"consumed"`
				Remaining int64  `json:"remaining"`
			}{
				Platform:  a.cfg.Platform,
				Operation: operation,
				Units:     unitsOrCost(a, operation, units),
				Consumed:  allowed,
				Remaining: a.ledger.Remaining(ctx),
			})
		},
	}
	cmd.Flags().Int64Var(&units, "units", 0, "Units to consume (default: the operation's cost)")
	return cmd
}

func newBudgetReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Drop the cached budgets document and resolve it again",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			doc := a.reader.Reload(ctx)
			a.ledger.SetLimit(a.reader.WeeklyBudget(ctx))
			a.ledger.SetCosts(a.reader.Costs(ctx))
			return printJSON(doc)
		},
	}
}

func unitsOrCost(a *app, operation string, units int64) int64 {
	if units > 0 {
		return units
	}
	return a.ledger.Cost(operation)
}
