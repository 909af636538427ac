package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"compintel/internal/competitors"
)

func newCompetitorsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "competitors",
		Short:       "List the competitor rule table",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.inspectConfig()
			if err != nil {
				return err
			}
			table, err := competitors.Load(cfg.Paths.CompetitorsFile)
			if err != nil {
				return err
			}
			source := "built-in table"
			if cfg.Paths.CompetitorsFile != "" {
				source = cfg.Paths.CompetitorsFile
			}
			view := newTableView("Competitor", "Business", "Aliases", "Clauses").wrap(2)
			for _, rule := range table.Rules() {
				view.add(
					rule.Name,
					rule.BusinessLabel(),
					strings.Join(rule.Aliases, ", "),
					ruleClauses(rule),
				)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d competitors from %s\n", table.Len(), source)
			fmt.Fprintln(out, view.render())
			return nil
		},
	}
}

func ruleClauses(rule competitors.Rule) string {
	var parts []string
	if n := len(rule.Notes); n > 0 {
		parts = append(parts, fmt.Sprintf("notes:%d", n))
	}
	if n := len(rule.ExcludePartners); n > 0 {
		parts = append(parts, fmt.Sprintf("exclude_partners:%d", n))
	}
	if n := len(rule.IncludeKeywords); n > 0 {
		parts = append(parts, fmt.Sprintf("include:%d", n))
	}
	if n := len(rule.ExcludeKeywords); n > 0 {
		parts = append(parts, fmt.Sprintf("exclude:%d", n))
	}
	return strings.Join(parts, " ")
}
