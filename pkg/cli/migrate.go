package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/ymparistovahti/vahti/pkg/cli/config"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

func cmdMigrate() *cli.Command {
	var repoCfg config.Repository

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Create or update the database schema",
		Flags:   repoCfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			// Opening the store applies the schema.
			repo, err := repoCfg.Configure()
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if err := repo.Close(); err != nil {
				return err
			}
			logging.Default().Info("database schema is up to date")
			return nil
		},
	}
}
