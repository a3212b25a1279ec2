package llm

import (
	_ "embed"
	"math"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
)

//go:embed prompt/triage_system.md
var triageSystemPrompt string

//go:embed prompt/case_build_system.md
var caseBuildSystemPrompt string

// ErrResponseParse marks an unparseable model response. The caller may
// retry; the service itself already makes two attempts before returning it.
var ErrResponseParse = goerr.New("unparseable LLM response")

const (
	// parseAttempts is how many calls are made in total before an
	// unparseable response is given up (one call plus one retry)
	parseAttempts = 2

	// callTimeout bounds one model call
	callTimeout = 60 * time.Second

	// triageMaxTokens bounds the triage prompt
	triageMaxTokens = 4000
	// caseBuildMaxTokens bounds the case-build prompt
	caseBuildMaxTokens = 8000

	// charsPerToken is the rough Finnish-text token density used for
	// truncation and cost projection
	charsPerToken = 3

	// truncationMarker replaces cut text in over-long prompts
	truncationMarker = "\n\n[...]\n\n"
)

// Client runs the two classification passes against an LLM provider.
// The triage and case-build passes may use different models.
type Client struct {
	triageLLM   gollem.LLMClient
	caseLLM     gollem.LLMClient
	triageModel string
	caseModel   string
}

// Option configures a Client
type Option func(*Client)

// WithCaseClient sets a separate, stronger client for the case-build pass
func WithCaseClient(llmClient gollem.LLMClient, modelTag string) Option {
	return func(c *Client) {
		c.caseLLM = llmClient
		c.caseModel = modelTag
	}
}

// New creates a Client. The case-build pass uses the same client as
// triage unless overridden.
func New(llmClient gollem.LLMClient, modelTag string, opts ...Option) (*Client, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}
	c := &Client{
		triageLLM:   llmClient,
		caseLLM:     llmClient,
		triageModel: modelTag,
		caseModel:   modelTag,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EstimateTokens approximates the token count of a prompt
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / charsPerToken))
}

// modelRates are per-token EUR rates, converted from USD per 1M tokens
var modelRates = map[string]struct{ prompt, completion float64 }{
	"gpt-4o-mini": {0.15 * 0.92 / 1e6, 0.60 * 0.92 / 1e6},
	"gpt-4o":      {2.50 * 0.92 / 1e6, 10.00 * 0.92 / 1e6},
}

// EstimateCost estimates the EUR cost of a call. Unknown models use the
// cheap-tier rates.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	rate, ok := modelRates[model]
	if !ok {
		rate = modelRates["gpt-4o-mini"]
	}
	return float64(promptTokens)*rate.prompt + float64(completionTokens)*rate.completion
}

// truncate cuts text to roughly maxTokens worth of characters, marking
// the cut. The second return reports whether anything was removed.
func truncate(text string, maxTokens int) (string, bool) {
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text, false
	}
	return text[:maxChars] + truncationMarker, true
}

// delimit wraps untrusted document text in explicit delimiters so the
// prompt and the content cannot bleed into each other.
func delimit(text string) string {
	var sb strings.Builder
	sb.WriteString("<<<DOCUMENT>>>\n")
	sb.WriteString(text)
	sb.WriteString("\n<<<END DOCUMENT>>>")
	return sb.String()
}
