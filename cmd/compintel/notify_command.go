package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"compintel/internal/notifications"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:         "notify",
		Short:       "Run summary email utilities",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test email using the [notifications] settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.inspectConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !notifications.Configured(cfg) {
				fmt.Fprintln(out, "Notifications disabled; set notifications.enabled, smtp_host and to")
				return nil
			}
			logger, err := ctx.loggerFor(cfg)
			if err != nil {
				return err
			}
			svc := notifications.NewService(cfg, notifications.WithLogger(logger))
			if err := svc.TestNotification(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "Test notification sent to %d recipients\n", len(cfg.Notifications.To))
			return nil
		},
	})
	return notifyCmd
}
