package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qanatlabs/qanat/internal/budget"
	"github.com/qanatlabs/qanat/internal/config"
	"github.com/qanatlabs/qanat/internal/models"
)

// EpisodePlan is the planner step's output: what the next episode covers.
type EpisodePlan struct {
	ContentType string    `json:"content_type"`
	Title       string    `json:"title"`
	Outline     string    `json:"outline"`
	Games       []string  `json:"games,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ScriptLister reports recently generated scripts. The planner consults it
// so already-covered topics are not proposed again.
type ScriptLister interface {
	RecentScripts(ctx context.Context, contentType string, limit int) ([]models.GeneratedScript, error)
}

// Planner decides what the next episode should cover based on the content
// type calendar, the current game slate and the topics already covered.
type Planner struct {
	ledger  *budget.Ledger
	llm     TextGenerator
	scripts ScriptLister
}

// NewPlanner creates a planner step. scripts may be nil when no script
// history is available.
func NewPlanner(ledger *budget.Ledger, llm TextGenerator, scripts ScriptLister) *Planner {
	return &Planner{ledger: ledger, llm: llm, scripts: scripts}
}

// Plan produces an episode plan for the given content type. games is the
// candidate slate the prompt is built from; it may be empty for event-driven
// content types.
func (p *Planner) Plan(ctx context.Context, contentTypeID string, games []models.Game) (*EpisodePlan, error) {
	ct, err := config.ContentTypeByID(contentTypeID)
	if err != nil {
		return nil, err
	}

	covered, err := p.coveredTopics(ctx, ct.ID)
	if err != nil {
		return nil, err
	}

	if !p.ledger.CheckAndConsume(ctx, "gemini_planner", 0) {
		return nil, p.ledger.Exhausted(ctx, "gemini_planner", 0)
	}

	outline, err := p.llm.Generate(ctx, plannerPrompt(ct, games, covered))
	if err != nil {
		return nil, fmt.Errorf("planner generation failed: %w", err)
	}

	plan := &EpisodePlan{
		ContentType: ct.ID,
		Title:       ct.DisplayName,
		Outline:     outline,
		GeneratedAt: time.Now().UTC(),
	}
	for _, g := range games {
		plan.Games = append(plan.Games, g.Title)
	}
	return plan, nil
}

// coveredTopics lists recent episode titles for the content type.
func (p *Planner) coveredTopics(ctx context.Context, contentTypeID string) ([]string, error) {
	if p.scripts == nil {
		return nil, nil
	}
	recent, err := p.scripts.RecentScripts(ctx, contentTypeID, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to load covered topics: %w", err)
	}
	titles := make([]string, 0, len(recent))
	for _, sc := range recent {
		titles = append(titles, sc.Title)
	}
	return titles, nil
}

func plannerPrompt(ct config.ContentType, games []models.Game, covered []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "أنت مخطط محتوى لقناة ألعاب عربية. خطط حلقة من نوع \"%s\".\n", ct.DisplayName)
	fmt.Fprintf(&b, "Format description: %s\n", ct.Description)
	if len(games) > 0 {
		b.WriteString("الألعاب المرشحة:\n")
		for _, g := range games {
			fmt.Fprintf(&b, "- %s", g.Title)
			if g.GamePass {
				b.WriteString(" (متوفرة على Game Pass)")
			}
			if g.ArabicSupport.HasArabic {
				fmt.Fprintf(&b, " (تدعم العربية: %s)", g.ArabicSupport.ArabicType)
			}
			b.WriteString("\n")
		}
	}
	if len(covered) > 0 {
		b.WriteString("مواضيع تمت تغطيتها في حلقات سابقة، لا تكررها:\n")
		for _, title := range covered {
			fmt.Fprintf(&b, "- %s\n", title)
		}
	}
	b.WriteString("\nاكتب مخططاً للحلقة: ترتيب الفقرات، وأي الألعاب تستحق وقتاً أطول، وزاوية الطرح.")
	return b.String()
}
