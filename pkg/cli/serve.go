package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/ymparistovahti/vahti/pkg/cli/config"
	httpctrl "github.com/ymparistovahti/vahti/pkg/controller/http"
	"github.com/ymparistovahti/vahti/pkg/pipeline"
	"github.com/ymparistovahti/vahti/pkg/scheduler"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

func cmdServe() *cli.Command {
	var addr string
	var sentryDSN string
	var repoCfg config.Repository
	var gwCfg config.Gateway
	var llmCfg config.LLM
	var budgetCfg config.Budget

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Ops HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("VAHTI_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "sentry-dsn",
			Usage:       "Sentry DSN for scheduler error reporting",
			Sources:     cli.EnvVars("VAHTI_SENTRY_DSN"),
			Destination: &sentryDSN,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, gwCfg.Flags()...)
	flags = append(flags, llmCfg.Flags()...)
	flags = append(flags, budgetCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the ingestion scheduler and ops endpoint",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			if sentryDSN != "" {
				if err := sentry.Init(sentry.ClientOptions{Dsn: sentryDSN}); err != nil {
					return cli.Exit(goerr.Wrap(err, "failed to init sentry").Error(), 2)
				}
				defer sentry.Flush(2 * time.Second)
				logger.Info("sentry error reporting enabled")
			}

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

			gw := gwCfg.Configure()
			pipe := pipeline.New(repo, gw, classifier, repoCfg.StorageDir(),
				pipeline.WithBudget(budgetCfg.MonthlyEUR()))
			sched := scheduler.New(repo, pipe,
				scheduler.WithTickInterval(budgetCfg.TickInterval()),
				scheduler.WithBudget(budgetCfg.MonthlyEUR()))

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(repo, budgetCfg.MonthlyEUR()),
				ReadHeaderTimeout: 30 * time.Second,
			}

			runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("ops endpoint listening", "addr", addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "ops server failed")
				}
			}()

			schedDone := make(chan error, 1)
			go func() {
				schedDone <- sched.Run(runCtx)
			}()

			select {
			case err := <-errCh:
				sentry.CaptureException(err)
				cancel()
				<-schedDone
				return err
			case err := <-schedDone:
				if err != nil {
					sentry.CaptureException(err)
				}
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if serr := server.Shutdown(shutdownCtx); serr != nil {
					logger.Error("failed to shut down ops server", "error", serr.Error())
				}
				return err
			}
		},
	}
}
