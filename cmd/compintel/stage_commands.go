package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"compintel/internal/articles"
	"compintel/internal/metrics"
	"compintel/internal/pipeline"
)

func newStageCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newRunCommand(ctx),
		newCrawlCommand(ctx),
		newExtractCommand(ctx),
		newMatchCommand(ctx),
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts pipeline.Options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl news, extract partnerships, and match partners against the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.SkipCrawl, "skip-crawl", false, "Skip the news crawl")
	cmd.Flags().BoolVar(&opts.SkipMatch, "skip-match", false, "Skip registry matching")
	return cmd
}

func newCrawlCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Collect news articles into the crawl worksheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, ctx, pipeline.Options{SkipExtract: true, SkipMatch: true})
		},
	}
}

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var competitor string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract partnerships from unprocessed rows with the LLM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, ctx, pipeline.Options{SkipCrawl: true, SkipMatch: true, Competitor: competitor})
		},
	}
	cmd.Flags().StringVar(&competitor, "competitor", "", "Only process rows of this competitor")
	return cmd
}

func newMatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "match",
		Short: "Match extracted partners against the DART corporate registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, ctx, pipeline.Options{SkipCrawl: true, SkipExtract: true})
		},
	}
}

func runPipeline(cmd *cobra.Command, ctx *commandContext, opts pipeline.Options) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.loggerFor(cfg)
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics.New()),
	)
	if err != nil {
		return err
	}
	result, runErr := p.Run(cmd.Context(), opts)
	if len(result.Ran) > 0 {
		printRunResult(cmd.OutOrStdout(), result, opts)
	}
	return runErr
}

func printRunResult(out io.Writer, result pipeline.Result, opts pipeline.Options) {
	stages := newTableView("Stage", "State", "Detail").wrap(2)
	for _, row := range [][]string{
		stageRow(pipeline.StageCrawl, opts.SkipCrawl, result,
			fmt.Sprintf("%d saved, %d duplicates, %d failed searches", result.Crawl.Saved, result.Crawl.Duplicates, result.Crawl.FailedQuery)),
		stageRow(pipeline.StageExtract, opts.SkipExtract, result,
			fmt.Sprintf("%d records; batches %d done, %d error, %d skip",
				result.Records,
				result.Batches[articles.StatusDone],
				result.Batches[articles.StatusError],
				result.Batches[articles.StatusSkip])),
		stageRow(pipeline.StageMatch, opts.SkipMatch, result,
			fmt.Sprintf("%d matched, %d unmatched, %d review candidates", result.Match.Matched, result.Match.Unmatched, result.Match.Strong)),
	} {
		stages.add(row...)
	}
	fmt.Fprintf(out, "Run %s finished in %s\n", result.RunID, result.Duration.Round(time.Millisecond))
	fmt.Fprintln(out, stages.render())
	if len(result.Units) > 0 {
		units := newTableView("Competitor", "Batches", "Done", "Error", "Skip", "Records").numericFrom(1)
		for _, unit := range result.Units {
			units.add(
				unit.Unit,
				strconv.Itoa(unit.Batches),
				strconv.Itoa(unit.RowStatus[articles.StatusDone]),
				strconv.Itoa(unit.RowStatus[articles.StatusError]),
				strconv.Itoa(unit.RowStatus[articles.StatusSkip]),
				strconv.Itoa(unit.Records),
			)
		}
		fmt.Fprintln(out, units.render())
	}
}

func stageRow(stage string, skipped bool, result pipeline.Result, detail string) []string {
	switch {
	case skipped:
		return []string{stage, "skipped", ""}
	case !result.Ran[stage]:
		return []string{stage, "not run", ""}
	case result.Failed[stage] != nil:
		return []string{stage, "failed", result.Failed[stage].Error()}
	default:
		return []string{stage, "ok", detail}
	}
}
