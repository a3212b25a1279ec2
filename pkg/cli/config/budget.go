package config

import (
	"time"

	"github.com/urfave/cli/v3"
)

// Budget holds the LLM spend ceiling and scheduler cadence
type Budget struct {
	monthlyEUR  float64
	tickSeconds int64
}

// Flags returns CLI flags for budget and cadence configuration
func (b *Budget) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.FloatFlag{
			Name:        "monthly-budget-eur",
			Usage:       "Monthly LLM budget in euro",
			Value:       10.0,
			Sources:     cli.EnvVars("VAHTI_MONTHLY_BUDGET_EUR"),
			Destination: &b.monthlyEUR,
		},
		&cli.Int64Flag{
			Name:        "tick-interval",
			Usage:       "Scheduler tick interval in seconds",
			Value:       900,
			Sources:     cli.EnvVars("VAHTI_TICK_INTERVAL"),
			Destination: &b.tickSeconds,
		},
	}
}

// MonthlyEUR returns the configured monthly budget
func (b *Budget) MonthlyEUR() float64 {
	return b.monthlyEUR
}

// TickInterval returns the configured scheduler cadence
func (b *Budget) TickInterval() time.Duration {
	return time.Duration(b.tickSeconds) * time.Second
}
