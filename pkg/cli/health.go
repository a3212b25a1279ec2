package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/ymparistovahti/vahti/pkg/cli/config"
	"github.com/ymparistovahti/vahti/pkg/scheduler"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

func cmdHealth() *cli.Command {
	var repoCfg config.Repository
	var budgetCfg config.Budget

	var flags []cli.Flag
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, budgetCfg.Flags()...)

	return &cli.Command{
		Name:  "health",
		Usage: "Show per-source health, cooldown state and monthly LLM spend",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, err := repoCfg.Configure()
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			report, err := scheduler.BuildHealth(ctx, repo, budgetCfg.MonthlyEUR(), time.Now().UTC())
			if err != nil {
				return err
			}

			printHealth(report)

			if report.HasFailures() {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func printHealth(report *scheduler.HealthReport) {
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	bad := color.New(color.FgRed)

	fmt.Printf("%-22s %-18s %-10s %-17s %s\n",
		"MUNICIPALITY", "PLATFORM", "FAILURES", "LAST SUCCESS", "STATE")
	for _, s := range report.Sources {
		lastSuccess := "never"
		if s.LastSuccessAt != nil {
			lastSuccess = s.LastSuccessAt.Format("2006-01-02 15:04")
		}

		state := ok.Sprint("ok")
		switch {
		case !s.Enabled:
			state = "disabled"
		case s.InCooldown:
			state = bad.Sprintf("cooldown until %s", s.NextAttemptAt.Format("15:04"))
		case s.Stale:
			state = warn.Sprint("stale (>72h)")
		case s.ConsecutiveFailures > 0:
			state = warn.Sprintf("failing: %s", truncateStr(s.LastError, 40))
		}

		fmt.Printf("%-22s %-18s %-10d %-17s %s\n",
			s.Municipality, s.Platform, s.ConsecutiveFailures, lastSuccess, state)
	}

	fmt.Println()
	for status, n := range report.Documents {
		fmt.Printf("documents %-10s %d\n", status, n)
	}

	fmt.Println()
	spend := fmt.Sprintf("LLM spend this month: %.2f / %.2f EUR", report.MonthToDateEUR, report.BudgetEUR)
	if report.BudgetExhausted {
		bad.Printf("%s (budget exhausted, documents paused)\n", spend)
	} else {
		fmt.Println(spend)
	}
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
