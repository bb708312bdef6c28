package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/qanatlabs/qanat/internal/embedding"
	"github.com/qanatlabs/qanat/internal/models"
	"github.com/qanatlabs/qanat/internal/rag"
)

func newRAGCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rag",
		Short: "Maintain and query the vector knowledge store",
	}

	cmd.AddCommand(newRAGUpdateCommand())
	cmd.AddCommand(newRAGSearchCommand())
	cmd.AddCommand(newRAGFeedbackCommand())
	cmd.AddCommand(newRAGStatsCommand())

	return cmd
}

func newRAGUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Embed feedback entries that have not been ingested yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			embedder, err := embedding.NewGemini(ctx, a.cfg.Gemini.APIKey, a.cfg.Gemini.EmbeddingModel)
			if err != nil {
				return err
			}
			defer embedder.Close()

			return a.runStep(ctx, "rag_update", func(ctx context.Context) (any, error) {
				return ingestUnappliedFeedback(ctx, a, embedder)
			})
		},
	}
}

type updateResult struct {
	Processed int `json:"processed"`
}

func ingestUnappliedFeedback(ctx context.Context, a *app, embedder embedding.Generator) (*updateResult, error) {
	pending, err := a.store.UnappliedFeedback(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return &updateResult{}, nil
	}

	units := a.ledger.Cost("gemini_embedding") * int64(len(pending))
	if !a.ledger.CheckAndConsume(ctx, "gemini_embedding", units) {
		return nil, a.ledger.Exhausted(ctx, "gemini_embedding", units)
	}

	texts := make([]string, len(pending))
	for i, fb := range pending {
		texts[i] = fb.FeedbackText
	}
	vecs, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}

	var result updateResult
	for i, fb := range pending {
		vec := vecs[i]
		fbID := fb.ID
		_, err = a.ragMgr.StoreEmbedding(ctx, rag.EmbeddingInput{
			SourceType:     models.SourceFeedback,
			SourceID:       &fbID,
			ContentText:    fb.FeedbackText,
			ContentSummary: fmt.Sprintf("[%s] %s", fb.FeedbackType, fb.ScriptTitle),
			Embedding:      vec,
			Metadata: map[string]string{
				"script_id":     fb.ScriptID.String(),
				"feedback_type": string(fb.FeedbackType),
			},
		})
		if err != nil {
			return nil, err
		}
		if err := a.store.MarkFeedbackApplied(ctx, fb.ID); err != nil {
			return nil, err
		}
		result.Processed++
	}
	return &result, nil
}

func newRAGSearchCommand() *cobra.Command {
	var (
		topK       int
		threshold  float64
		sourceType string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored content by semantic similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			embedder, err := embedding.NewGemini(ctx, a.cfg.Gemini.APIKey, a.cfg.Gemini.EmbeddingModel)
			if err != nil {
				return err
			}
			defer embedder.Close()

			if !a.ledger.CheckAndConsume(ctx, "gemini_embedding", 0) {
				return a.ledger.Exhausted(ctx, "gemini_embedding", 0)
			}
			vec, err := embedder.EmbedQuery(ctx, args[0])
			if err != nil {
				return err
			}

			results, err := a.ragMgr.SearchSimilar(ctx, vec, rag.SearchParams{
				TopK:       topK,
				Threshold:  threshold,
				SourceType: models.SourceType(sourceType),
			})
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 5, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity (0 disables the floor)")
	cmd.Flags().StringVar(&sourceType, "type", "", "Restrict to one source type (script, feedback, game, validation)")
	return cmd
}

func newRAGFeedbackCommand() *cobra.Command {
	var (
		fbType string
		text   string
		source string
	)
	cmd := &cobra.Command{
		Use:   "feedback <script-id>",
		Short: "Record feedback on a script and embed it immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			scriptID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid script id %q: %w", args[0], err)
			}

			embedder, err := embedding.NewGemini(ctx, a.cfg.Gemini.APIKey, a.cfg.Gemini.EmbeddingModel)
			if err != nil {
				return err
			}
			defer embedder.Close()

			if !a.ledger.CheckAndConsume(ctx, "gemini_embedding", 0) {
				return a.ledger.Exhausted(ctx, "gemini_embedding", 0)
			}
			vec, err := embedder.EmbedDocument(ctx, text)
			if err != nil {
				return err
			}

			id, err := a.ragMgr.StoreFeedback(ctx, rag.FeedbackInput{
				ScriptID:     scriptID,
				FeedbackType: models.FeedbackType(fbType),
				FeedbackText: text,
				Embedding:    vec,
				Source:       source,
			})
			if err != nil {
				return err
			}
			a.mets.FeedbackEntries.WithLabelValues(fbType).Inc()
			return printJSON(struct {
				ID uuid.UUID `json:"id"`
			}{id})
		},
	}
	cmd.Flags().StringVar(&fbType, "type", "note", "Feedback type: approval, rejection, edit, note, auto")
	cmd.Flags().StringVar(&text, "text", "", "Feedback text (required)")
	cmd.Flags().StringVar(&source, "source", "", "Feedback source (default mattermost)")
	cmd.MarkFlagRequired("text")
	return cmd
}

func newRAGStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show embedding counts per source type",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			stats := make(map[string]int64)
			for _, st := range []models.SourceType{
				models.SourceScript, models.SourceFeedback, models.SourceGame, models.SourceValidation,
			} {
				count, err := a.store.CountEmbeddings(ctx, st)
				if err != nil {
					return err
				}
				stats[string(st)] = count
			}
			total, err := a.store.CountEmbeddings(ctx, "")
			if err != nil {
				return err
			}
			stats["total"] = total
			return printJSON(stats)
		},
	}
}
