package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"compintel/internal/articles"
	"compintel/internal/config"
	"compintel/internal/logging"
	"compintel/internal/pipeline"
	"compintel/internal/rowstatus"
	"compintel/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var competitor string
	cmd := &cobra.Command{
		Use:         "status",
		Short:       "Show row counts per competitor and status on the input worksheet",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.inspectConfig()
			if err != nil {
				return err
			}
			return withTracker(cmd, cfg, func(tracker *rowstatus.Tracker) error {
				counts, err := tracker.CompetitorCounts(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(counts) == 0 {
					fmt.Fprintf(out, "Worksheet %q has no rows\n", cfg.Store.InputWorksheet)
					return nil
				}
				fmt.Fprintln(out, renderStatusTable(counts, competitor))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&competitor, "competitor", "", "Only show this competitor")
	cmd.AddCommand(newStatusResetCommand(ctx))
	return cmd
}

func newStatusResetCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var competitor string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Move rows in a status back to UNPROCESSED so the next run retries them",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, ok := articles.ParseStatus(statusFlag)
			if !ok || from == articles.StatusUnprocessed {
				return fmt.Errorf("--status must be one of DONE, ERROR, SKIP (got %q)", statusFlag)
			}
			cfg, err := ctx.inspectConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			lock, err := pipeline.AcquireLock(cfg.LockPath())
			if err != nil {
				return err
			}
			defer lock.Release()

			return withTracker(cmd, cfg, func(tracker *rowstatus.Tracker) error {
				n, err := tracker.Reset(cmd.Context(), from, strings.TrimSpace(competitor))
				if err != nil {
					return err
				}
				scope := "all competitors"
				if competitor != "" {
					scope = competitor
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d %s rows to UNPROCESSED (%s)\n", n, from.Label(), scope)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Status to reset: DONE, ERROR, or SKIP")
	cmd.Flags().StringVar(&competitor, "competitor", "", "Only reset rows of this competitor")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func withTracker(cmd *cobra.Command, cfg *config.Config, fn func(*rowstatus.Tracker) error) error {
	wb, err := store.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer wb.Close()
	table, err := wb.Table(cmd.Context(), cfg.Store.InputWorksheet)
	if err != nil {
		return err
	}
	return fn(rowstatus.New(table,
		rowstatus.WithMinBodyChars(cfg.Extract.MinBodyChars),
		rowstatus.WithLogger(logging.NewNop()),
	))
}

func renderStatusTable(counts map[string]map[articles.Status]int, only string) string {
	statuses := articles.AllStatuses()
	headers := []string{"Competitor"}
	for _, status := range statuses {
		headers = append(headers, status.Label())
	}
	view := newTableView(append(headers, "Total")...).numericFrom(1)

	totals := make(map[articles.Status]int, len(statuses))
	for _, name := range rowstatus.SortedCompetitors(counts) {
		if only != "" && name != only {
			continue
		}
		label := name
		if label == "" {
			label = "(blank)"
		}
		row := []string{label}
		sum := 0
		for _, status := range statuses {
			n := counts[name][status]
			totals[status] += n
			sum += n
			row = append(row, strconv.Itoa(n))
		}
		view.add(append(row, strconv.Itoa(sum))...)
	}
	if only == "" && len(view.rows) > 1 {
		footer := []string{"Total"}
		sum := 0
		for _, status := range statuses {
			sum += totals[status]
			footer = append(footer, strconv.Itoa(totals[status]))
		}
		view.footer = append(footer, strconv.Itoa(sum))
	}
	return view.render()
}
