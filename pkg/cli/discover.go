package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ymparistovahti/vahti/pkg/cli/config"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/pipeline"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

func cmdRunDiscover() *cli.Command {
	var sourceID int64
	var repoCfg config.Repository
	var gwCfg config.Gateway

	flags := []cli.Flag{
		&cli.Int64Flag{
			Name:        "source",
			Usage:       "Run discovery for one source ID only",
			Destination: &sourceID,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, gwCfg.Flags()...)

	return &cli.Command{
		Name:  "run-discover",
		Usage: "Discover documents from enabled sources",
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

			pipe := pipeline.New(repo, gwCfg.Configure(), nil, repoCfg.StorageDir())

			var sources []*model.Source
			if sourceID != 0 {
				src, err := repo.Source().Get(ctx, sourceID)
				if err != nil {
					return cli.Exit(goerr.Wrap(err, "unknown source").Error(), 2)
				}
				sources = []*model.Source{src}
			} else {
				sources, err = repo.Source().ListEnabled(ctx)
				if err != nil {
					return err
				}
			}

			eg, egCtx := errgroup.WithContext(ctx)
			eg.SetLimit(8)
			reports := make([]*pipeline.DiscoverReport, len(sources))
			for i, src := range sources {
				eg.Go(func() error {
					reports[i] = pipe.RunDiscover(egCtx, src)
					return nil
				})
			}
			if err := eg.Wait(); err != nil {
				return err
			}

			failed := 0
			totalNew := 0
			for _, r := range reports {
				if r == nil {
					continue
				}
				totalNew += r.New
				if r.Err != nil {
					failed++
				}
			}
			logger.Info("discover run finished",
				"sources", len(sources), "new", totalNew, "failed", failed)

			if failed > 0 {
				return goerr.New("discover finished with failures",
					goerr.V("failed", failed), goerr.V("sources", len(sources)))
			}
			return nil
		},
	}
}
