package connector

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/gateway"
)

// Fetcher is the slice of the Gateway the connectors need
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*gateway.Response, error)
}

// Connector discovers documents from one upstream platform. A connector
// never fails the whole run for a single unparseable item; it skips it
// and continues. A whole-page failure propagates as the discover error.
type Connector interface {
	Platform() types.Platform
	Discover(ctx context.Context) ([]model.DocumentRef, error)
}

// New constructs the connector for a source's platform
func New(src *model.Source, fetcher Fetcher) (Connector, error) {
	switch src.Platform {
	case types.PlatformCloudNC:
		return &CloudNC{src: src, fetcher: fetcher}, nil
	case types.PlatformDynasty:
		return &Dynasty{src: src, fetcher: fetcher}, nil
	case types.PlatformTWeb:
		return &TWeb{src: src, fetcher: fetcher}, nil
	case types.PlatformMunicipalWebsite:
		return &MunicipalWebsite{src: src, fetcher: fetcher}, nil
	default:
		return nil, goerr.New("unsupported platform",
			goerr.V("platform", src.Platform), goerr.V("sourceID", src.ID))
	}
}
