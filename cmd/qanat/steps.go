package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/qanatlabs/qanat/internal/agent"
	"github.com/qanatlabs/qanat/internal/embedding"
)

func newPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <content-type>",
		Short: "Plan the next episode for a content type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			llm, err := agent.NewGeminiText(ctx, a.cfg.Gemini)
			if err != nil {
				return err
			}
			defer llm.Close()

			return a.runStep(ctx, "plan", func(ctx context.Context) (any, error) {
				games, err := a.store.RecentGames(ctx, 20)
				if err != nil {
					return nil, err
				}
				return agent.NewPlanner(a.ledger, llm, a.store).Plan(ctx, args[0], games)
			})
		},
	}
}

func newWriteCommand() *cobra.Command {
	var (
		topic string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "write <content-type>",
		Short: "Generate and store an episode script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			llm, err := agent.NewGeminiText(ctx, a.cfg.Gemini)
			if err != nil {
				return err
			}
			defer llm.Close()

			embedder, err := embedding.NewGemini(ctx, a.cfg.Gemini.APIKey, a.cfg.Gemini.EmbeddingModel)
			if err != nil {
				return err
			}
			defer embedder.Close()

			writer := agent.NewWriter(a.ledger, llm, a.ragMgr, embedder, a.store)
			return a.runStep(ctx, "write", func(ctx context.Context) (any, error) {
				script, err := writer.Write(ctx, args[0], topic, force)
				if err != nil {
					return nil, err
				}
				msg := fmt.Sprintf("✍️ سكريبت جديد بانتظار المراجعة: **%s** (%d كلمة)\n`qanat validate --script-id %s`",
					script.Title, script.WordCount, script.ID)
				if nerr := a.notifier.Post(ctx, msg); nerr != nil {
					log.Printf("[App] failed to send review request: %v", nerr)
				}
				return script, nil
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Episode topic (required)")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the near-duplicate check")
	cmd.MarkFlagRequired("topic")
	return cmd
}

func newValidateCommand() *cobra.Command {
	var scriptID string
	cmd := &cobra.Command{
		Use:   "validate [content-type]",
		Short: "Score a draft script and accept or reject it",
		Long: `Validates a script with Gemini. Pass --script-id to validate a specific
script, or a content type argument to validate its latest script.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			llm, err := agent.NewGeminiText(ctx, a.cfg.Gemini)
			if err != nil {
				return err
			}
			defer llm.Close()

			validator := agent.NewValidator(a.ledger, llm, a.store, a.store)
			return a.runStep(ctx, "validate", func(ctx context.Context) (any, error) {
				id, err := resolveScriptID(ctx, a, scriptID, args)
				if err != nil {
					return nil, err
				}
				return validator.Validate(ctx, id)
			})
		},
	}
	cmd.Flags().StringVar(&scriptID, "script-id", "", "Script UUID to validate")
	return cmd
}

func resolveScriptID(ctx context.Context, a *app, scriptID string, args []string) (uuid.UUID, error) {
	if scriptID != "" {
		id, err := uuid.Parse(scriptID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid script id %q: %w", scriptID, err)
		}
		return id, nil
	}
	if len(args) == 0 {
		return uuid.Nil, fmt.Errorf("either --script-id or a content type argument is required")
	}
	script, err := a.store.LatestScript(ctx, args[0])
	if err != nil {
		return uuid.Nil, err
	}
	return script.ID, nil
}
