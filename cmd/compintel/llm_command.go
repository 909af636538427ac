package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"compintel/internal/pipeline"
)

func newLLMCommand(ctx *commandContext) *cobra.Command {
	llmCmd := &cobra.Command{
		Use:   "llm",
		Short: "LLM provider utilities",
	}
	llmCmd.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Send a short health-check prompt to the configured model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.loggerFor(cfg)
			if err != nil {
				return err
			}
			client, err := pipeline.NewLLMClient(cfg, logger, nil, nil)
			if err != nil {
				return err
			}
			if err := client.HealthCheck(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "LLM reachable: provider=%s model=%s\n", client.Provider(), client.Model())
			return nil
		},
	})
	return llmCmd
}
