package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/m-mizutani/gollem/llm/openai"
	"github.com/urfave/cli/v3"
	"github.com/ymparistovahti/vahti/pkg/service/llm"
)

// LLM holds configuration for the classification model clients
type LLM struct {
	provider       string
	openaiAPIKey   string
	geminiProject  string
	geminiLocation string
	triageModel    string
	caseModel      string
}

// Flags returns CLI flags for LLM configuration
func (l *LLM) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "LLM provider (openai, gemini)",
			Value:       "openai",
			Sources:     cli.EnvVars("VAHTI_LLM_PROVIDER"),
			Destination: &l.provider,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &l.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("VAHTI_GEMINI_PROJECT"),
			Destination: &l.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "europe-north1",
			Sources:     cli.EnvVars("VAHTI_GEMINI_LOCATION"),
			Destination: &l.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "triage-model",
			Usage:       "Model for the triage pass",
			Value:       "gpt-4o-mini",
			Sources:     cli.EnvVars("VAHTI_TRIAGE_MODEL"),
			Destination: &l.triageModel,
		},
		&cli.StringFlag{
			Name:        "case-model",
			Usage:       "Model for the case-build pass",
			Value:       "gpt-4o",
			Sources:     cli.EnvVars("VAHTI_CASE_MODEL"),
			Destination: &l.caseModel,
		},
	}
}

// LogAttrs returns log attributes describing the configuration. The API
// key itself never reaches the log.
func (l *LLM) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("provider", l.provider),
		slog.Bool("openai_key_set", l.openaiAPIKey != ""),
		slog.String("triage_model", l.triageModel),
		slog.String("case_model", l.caseModel),
	}
}

// Configure creates the classification client. Returns nil when no
// provider credentials are configured; the LLM stages then idle.
func (l *LLM) Configure(ctx context.Context) (*llm.Client, error) {
	switch l.provider {
	case "openai":
		if l.openaiAPIKey == "" {
			return nil, nil
		}
		triageClient, err := openai.New(ctx, l.openaiAPIKey, openai.WithModel(l.triageModel))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create OpenAI triage client")
		}
		caseClient, err := openai.New(ctx, l.openaiAPIKey, openai.WithModel(l.caseModel))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create OpenAI case-build client")
		}
		return llm.New(triageClient, l.triageModel,
			llm.WithCaseClient(caseClient, l.caseModel))

	case "gemini":
		if l.geminiProject == "" {
			return nil, nil
		}
		client, err := l.geminiClient(ctx)
		if err != nil {
			return nil, err
		}
		return llm.New(client, l.triageModel)

	default:
		return nil, goerr.New("unknown LLM provider", goerr.V("provider", l.provider))
	}
}

func (l *LLM) geminiClient(ctx context.Context) (gollem.LLMClient, error) {
	client, err := gemini.New(ctx, l.geminiProject, l.geminiLocation)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini client")
	}
	return client, nil
}
