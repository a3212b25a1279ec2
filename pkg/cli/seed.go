package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"

	"github.com/ymparistovahti/vahti/pkg/cli/config"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// seedFile is the TOML shape of a source seed file
type seedFile struct {
	Sources []seedSource `toml:"source"`
}

type seedSource struct {
	Municipality string            `toml:"municipality"`
	Platform     string            `toml:"platform"`
	BaseURL      string            `toml:"base_url"`
	ListingPaths []string          `toml:"listing_paths"`
	Paths        seedPaths         `toml:"paths"`
	BodyPatterns map[string]string `toml:"body_patterns"`
	PDFPattern   string            `toml:"pdf_pattern"`
}

type seedPaths struct {
	Meetings         string `toml:"meetings"`
	Agendas          string `toml:"agendas"`
	OfficerDecisions string `toml:"officer_decisions"`
	Announcements    string `toml:"announcements"`
}

func cmdSeed() *cli.Command {
	var filePath string
	var repoCfg config.Repository

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "file",
			Usage:       "TOML file with source definitions",
			Value:       "seed/lapland.toml",
			Sources:     cli.EnvVars("VAHTI_SEED_FILE"),
			Destination: &filePath,
		},
	}
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:  "seed",
		Usage: "Load sources from a seed file, skipping ones that already exist",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			data, err := os.ReadFile(filePath)
			if err != nil {
				return cli.Exit(goerr.Wrap(err, "failed to read seed file",
					goerr.V("path", filePath)).Error(), 2)
			}
			var seed seedFile
			if err := toml.Unmarshal(data, &seed); err != nil {
				return cli.Exit(goerr.Wrap(err, "failed to parse seed file",
					goerr.V("path", filePath)).Error(), 2)
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

			added, skipped := 0, 0
			for _, entry := range seed.Sources {
				platform, err := types.ParsePlatform(entry.Platform)
				if err != nil {
					return cli.Exit(goerr.Wrap(err, "invalid seed entry",
						goerr.V("municipality", entry.Municipality)).Error(), 2)
				}

				existing, err := repo.Source().GetByEndpoint(ctx, entry.Municipality, entry.BaseURL)
				if err != nil {
					return err
				}
				if existing != nil {
					skipped++
					continue
				}

				src := &model.Source{
					Municipality: entry.Municipality,
					Platform:     platform,
					BaseURL:      entry.BaseURL,
					Enabled:      true,
					Config: model.SourceConfig{
						ListingPaths: entry.ListingPaths,
						Paths: model.DocPaths{
							Meetings:         entry.Paths.Meetings,
							Agendas:          entry.Paths.Agendas,
							OfficerDecisions: entry.Paths.OfficerDecisions,
							Announcements:    entry.Paths.Announcements,
						},
						BodyPatterns: entry.BodyPatterns,
						PDFPattern:   entry.PDFPattern,
					},
				}
				if _, err := repo.Source().Create(ctx, src); err != nil {
					return err
				}
				added++
				logger.Info("seeded source",
					"municipality", entry.Municipality, "platform", entry.Platform)
			}

			logger.Info("seeding finished", "added", added, "skipped", skipped)
			return nil
		},
	}
}
