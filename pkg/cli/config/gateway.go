package config

import (
	"time"

	"github.com/urfave/cli/v3"
	"github.com/ymparistovahti/vahti/pkg/gateway"
)

// Gateway holds outbound HTTP configuration
type Gateway struct {
	contactEmail string
	rateSeconds  float64
}

// Flags returns CLI flags for gateway configuration
func (g *Gateway) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "contact-email",
			Usage:       "Contact address embedded into the User-Agent",
			Value:       "ops@example.org",
			Sources:     cli.EnvVars("VAHTI_CONTACT_EMAIL"),
			Destination: &g.contactEmail,
		},
		&cli.FloatFlag{
			Name:        "rate-interval",
			Usage:       "Minimum seconds between requests to the same host",
			Value:       1.0,
			Sources:     cli.EnvVars("VAHTI_RATE_INTERVAL"),
			Destination: &g.rateSeconds,
		},
	}
}

// Configure builds the process-wide gateway
func (g *Gateway) Configure() *gateway.Gateway {
	return gateway.New(
		gateway.WithContact(g.contactEmail),
		gateway.WithRateInterval(time.Duration(g.rateSeconds*float64(time.Second))),
	)
}
