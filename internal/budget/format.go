package budget

import (
	"context"
	"fmt"
	"strings"
)

// FormatStatus renders a human-readable budget line for notification
// messages. Presentation only; never used for enforcement.
//
//	🟢 **Youtube** budget: 150/2000 units [█░░░░░░░░░] 8% — 1850 remaining
func (l *Ledger) FormatStatus(ctx context.Context) string {
	report := l.Report(ctx)

	if report.Limit <= 0 {
		return fmt.Sprintf("📊 **%s** budget: unlimited", titleCase(l.platform))
	}

	pct := float64(report.Total) / float64(report.Limit) * 100
	filled := int(pct / 10)
	if filled > 10 {
		filled = 10
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)

	emoji := "🟢"
	switch {
	case pct >= 95:
		emoji = "🔴"
	case pct >= 80:
		emoji = "🟡"
	}

	return fmt.Sprintf("%s **%s** budget: %d/%d units [%s] %.0f%% — %d remaining",
		emoji, titleCase(l.platform), report.Total, report.Limit, bar, pct, report.Remaining)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
