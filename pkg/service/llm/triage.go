package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

// TriageInput is the bounded document context for the first pass
type TriageInput struct {
	DocumentID   int64
	Municipality string
	Body         string
	Title        string
	MeetingDate  *time.Time
	Headings     []string
	Text         string
}

type triageResponse struct {
	Categories      []string `json:"categories"`
	RelevanceScore  float64  `json:"relevance_score"`
	CandidateReason string   `json:"candidate_reason"`
}

// Triage runs the cheap classification pass. The returned usage record
// is non-nil whenever a model call was made, including on parse failure.
func (c *Client) Triage(ctx context.Context, in TriageInput) (*model.TriageResult, *model.LLMUsage, error) {
	prompt := c.buildTriagePrompt(in)

	session, err := c.triageLLM.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(triageSchema()),
		gollem.WithSessionSystemPrompt(triageSystemPrompt),
	)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create triage session")
	}

	var usage *model.LLMUsage
	var lastErr error
	for attempt := 0; attempt < parseAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		resp, err := session.GenerateContent(callCtx, gollem.Text(prompt))
		cancel()
		if err != nil {
			return nil, usage, goerr.Wrap(err, "triage generation failed",
				goerr.V("documentID", in.DocumentID))
		}
		usage = c.usageRecord(in.DocumentID, types.StageTriage, c.triageModel, prompt, resp)

		var parsed triageResponse
		if err := json.Unmarshal([]byte(firstText(resp)), &parsed); err != nil {
			lastErr = goerr.Wrap(ErrResponseParse, "triage response is not the expected schema",
				goerr.V("documentID", in.DocumentID), goerr.V("response", firstText(resp)))
			continue
		}

		return &model.TriageResult{
			Categories:      types.ParseCategories(parsed.Categories),
			RelevanceScore:  parsed.RelevanceScore,
			CandidateReason: parsed.CandidateReason,
		}, usage, nil
	}
	return nil, usage, lastErr
}

// ProjectedTriageCost estimates the cost of triaging the given input,
// for the budget gate.
func (c *Client) ProjectedTriageCost(in TriageInput) float64 {
	prompt := c.buildTriagePrompt(in)
	return EstimateCost(c.triageModel, EstimateTokens(triageSystemPrompt+prompt), 500)
}

func (c *Client) buildTriagePrompt(in TriageInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Municipality: %s\n", in.Municipality)
	fmt.Fprintf(&sb, "Body: %s\n", orUnknown(in.Body))
	fmt.Fprintf(&sb, "Title: %s\n", in.Title)
	if in.MeetingDate != nil {
		fmt.Fprintf(&sb, "Meeting date: %s\n", in.MeetingDate.Format("2006-01-02"))
	}
	if len(in.Headings) > 0 {
		sb.WriteString("Headings:\n")
		for _, h := range in.Headings {
			fmt.Fprintf(&sb, "- %s\n", h)
		}
	}
	sb.WriteString("\n")

	text := in.Text
	if len(text) > 2000 {
		text = text[:2000]
	}
	sb.WriteString(delimit(text))

	// Metadata already spent some of the window; keep the whole prompt
	// under the triage token ceiling.
	prompt, _ := truncate(sb.String(), triageMaxTokens)
	return prompt
}

func triageSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "TriageResponse",
		Description: "First-pass environmental relevance classification",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"categories": {
				Type:        gollem.TypeArray,
				Description: "Matching environmental categories, empty if none",
				Items: &gollem.Parameter{
					Type: gollem.TypeString,
					Enum: []string{"zoning", "permits_extraction", "water_wetlands", "industry_infrastructure"},
				},
				Required: true,
			},
			"relevance_score": {
				Type:        gollem.TypeNumber,
				Description: "Relevance between 0 and 1",
				Required:    true,
			},
			"candidate_reason": {
				Type:        gollem.TypeString,
				Description: "One sentence naming the environmental decision found",
				Required:    true,
			},
		},
	}
}

// usageRecord builds the accounting row for one call. Token counts are
// estimated from prompt and response size; the estimate errs high so
// the budget gate stays conservative.
func (c *Client) usageRecord(docID int64, stage types.Stage, modelTag, prompt string, resp *gollem.Response) *model.LLMUsage {
	promptTokens := EstimateTokens(prompt)
	completionTokens := EstimateTokens(firstText(resp))
	return &model.LLMUsage{
		DocumentID:       docID,
		Model:            modelTag,
		Stage:            stage,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		EstimatedCostEUR: EstimateCost(modelTag, promptTokens, completionTokens),
	}
}

func firstText(resp *gollem.Response) string {
	if resp == nil || len(resp.Texts) == 0 {
		return ""
	}
	return resp.Texts[0]
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
