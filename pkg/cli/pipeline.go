package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/ymparistovahti/vahti/pkg/cli/config"
	"github.com/ymparistovahti/vahti/pkg/pipeline"
	"github.com/ymparistovahti/vahti/pkg/scheduler"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

func cmdRunPipeline() *cli.Command {
	var repoCfg config.Repository
	var gwCfg config.Gateway
	var llmCfg config.LLM
	var budgetCfg config.Budget

	var flags []cli.Flag
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, gwCfg.Flags()...)
	flags = append(flags, llmCfg.Flags()...)
	flags = append(flags, budgetCfg.Flags()...)

	return &cli.Command{
		Name:  "run-pipeline",
		Usage: "Run one full pipeline cycle: discover, fetch, extract, triage, case build",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()
			ctx = logging.With(ctx, logger)

			repo, err := repoCfg.Configure()
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logger.Error("failed to close repository", "error", err.Error())
				}
			}()

			var classifier pipeline.Classifier
			llmClient, err := llmCfg.Configure(ctx)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if llmClient != nil {
				classifier = llmClient
			} else {
				logger.Warn("no LLM credentials configured, triage and case build will idle")
			}

			pipe := pipeline.New(repo, gwCfg.Configure(), classifier, repoCfg.StorageDir(),
				pipeline.WithBudget(budgetCfg.MonthlyEUR()))
			sched := scheduler.New(repo, pipe,
				scheduler.WithBudget(budgetCfg.MonthlyEUR()))

			report, err := sched.Tick(ctx)
			if err != nil {
				return err
			}
			if report.Failed > 0 {
				return goerr.New("pipeline finished with source failures",
					goerr.V("failed", report.Failed))
			}
			return nil
		},
	}
}
