package cli

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/ymparistovahti/vahti/pkg/cli/config"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// Run executes the CLI and returns the process exit code: 0 on success,
// 1 on partial failures, 2 on configuration errors.
func Run(ctx context.Context, args []string, version string) int {
	var loggerCfg config.Logger

	app := &cli.Command{
		Name:    "vahti",
		Usage:   "Municipal environmental decision watchdog",
		Version: version,
		Flags:   loggerCfg.Flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := loggerCfg.Configure(); err != nil {
				return ctx, cli.Exit(err.Error(), 2)
			}
			logging.Default().Debug("starting vahti", "logger", loggerCfg)
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmdServe(),
			cmdRunDiscover(),
			cmdRunPipeline(),
			cmdHealth(),
			cmdMigrate(),
			cmdSeed(),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		logging.Default().Error("command failed", "error", err.Error())
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		return 1
	}
	return 0
}
