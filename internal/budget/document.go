package budget

import (
	"encoding/json"
	"fmt"
)

// PlatformBudget is one platform's allocation in the budgets document.
type PlatformBudget struct {
	WeeklyUnits int64 `json:"weekly_units"`
	Priority    int   `json:"priority"`
	Enabled     bool  `json:"enabled"`
}

// AlertThresholds are the percentages at which budget notifications escalate.
type AlertThresholds struct {
	WarnAtPercent     int `json:"warn_at_percent"`
	CriticalAtPercent int `json:"critical_at_percent"`
}

// Document is the shared budgets.json config: authored externally, read-only
// from the pipeline's perspective.
type Document struct {
	Version          int                       `json:"version"`
	TotalWeeklyUnits int64                     `json:"total_weekly_units"`
	Platforms        map[string]PlatformBudget `json:"platforms"`
	APICosts         map[string]int64          `json:"api_costs"`
	Alerts           AlertThresholds           `json:"alerts"`
}

// ParseDocument decodes and validates a budgets document. Malformed documents
// are rejected so a corrupt remote file falls through to the next tier.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse budgets document: %w", err)
	}
	if len(doc.Platforms) == 0 {
		return nil, fmt.Errorf("budgets document has no platforms")
	}
	for name, p := range doc.Platforms {
		if p.WeeklyUnits < 0 {
			return nil, fmt.Errorf("platform %s has negative weekly_units", name)
		}
	}
	return &doc, nil
}

// FallbackDocument is the built-in tier of the config chain; it always
// succeeds, so the loader never fails outward.
func FallbackDocument() *Document {
	return &Document{
		Version:          1,
		TotalWeeklyUnits: 5000,
		Platforms: map[string]PlatformBudget{
			"youtube":   {WeeklyUnits: 2000, Priority: 1, Enabled: true},
			"tiktok":    {WeeklyUnits: 1000, Priority: 2, Enabled: true},
			"instagram": {WeeklyUnits: 1000, Priority: 3, Enabled: true},
			"x":         {WeeklyUnits: 1000, Priority: 4, Enabled: true},
		},
		APICosts: map[string]int64{
			"gemini_script":         50,
			"gemini_validate":       30,
			"gemini_metadata":       20,
			"gemini_clip_plan":      15,
			"gemini_planner":        25,
			"gemini_embedding":      5,
			"elevenlabs_per_minute": 100,
			"rawg_fetch":            2,
			"serpapi_search":        10,
		},
		Alerts: AlertThresholds{WarnAtPercent: 80, CriticalAtPercent: 95},
	}
}
