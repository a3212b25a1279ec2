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

// CaseBuildInput is the document context for the second pass
type CaseBuildInput struct {
	DocumentID   int64
	Municipality string
	Body         string
	Title        string
	MeetingDate  *time.Time
	Categories   []types.Category
	SourceURL    string
	Text         string
}

type caseBuildResponse struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Status   string `json:"status"`
	Timeline []struct {
		EventType string `json:"event_type"`
		EventTime string `json:"event_time"`
	} `json:"timeline"`
	Evidence []struct {
		Page      int    `json:"page"`
		Snippet   string `json:"snippet"`
		SourceURL string `json:"source_url"`
	} `json:"evidence"`
	Entities         []string `json:"entities"`
	Locations        []string `json:"locations"`
	Confidence       string   `json:"confidence"`
	ConfidenceReason string   `json:"confidence_reason"`
}

// BuildCase runs the stronger extraction pass over a triage candidate
func (c *Client) BuildCase(ctx context.Context, in CaseBuildInput) (*model.CaseDraft, *model.LLMUsage, error) {
	prompt, truncated := c.buildCasePrompt(in)

	session, err := c.caseLLM.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(caseBuildSchema()),
		gollem.WithSessionSystemPrompt(caseBuildSystemPrompt),
	)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create case-build session")
	}

	var usage *model.LLMUsage
	var lastErr error
	for attempt := 0; attempt < parseAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		resp, err := session.GenerateContent(callCtx, gollem.Text(prompt))
		cancel()
		if err != nil {
			return nil, usage, goerr.Wrap(err, "case-build generation failed",
				goerr.V("documentID", in.DocumentID))
		}
		usage = c.usageRecord(in.DocumentID, types.StageCaseBuild, c.caseModel, prompt, resp)

		var parsed caseBuildResponse
		if err := json.Unmarshal([]byte(firstText(resp)), &parsed); err != nil {
			lastErr = goerr.Wrap(ErrResponseParse, "case-build response is not the expected schema",
				goerr.V("documentID", in.DocumentID), goerr.V("response", firstText(resp)))
			continue
		}
		if parsed.Headline == "" || len(parsed.Evidence) == 0 {
			lastErr = goerr.Wrap(ErrResponseParse, "case-build response missing headline or evidence",
				goerr.V("documentID", in.DocumentID))
			continue
		}

		return c.toDraft(&parsed, in, truncated), usage, nil
	}
	return nil, usage, lastErr
}

// ProjectedCaseBuildCost estimates the cost of the case-build call, for
// the budget gate.
func (c *Client) ProjectedCaseBuildCost(in CaseBuildInput) float64 {
	prompt, _ := c.buildCasePrompt(in)
	return EstimateCost(c.caseModel, EstimateTokens(caseBuildSystemPrompt+prompt), 1500)
}

func (c *Client) buildCasePrompt(in CaseBuildInput) (string, bool) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Municipality: %s\n", in.Municipality)
	fmt.Fprintf(&sb, "Body: %s\n", orUnknown(in.Body))
	fmt.Fprintf(&sb, "Title: %s\n", in.Title)
	if in.MeetingDate != nil {
		fmt.Fprintf(&sb, "Meeting date: %s\n", in.MeetingDate.Format("2006-01-02"))
	}
	cats := make([]string, 0, len(in.Categories))
	for _, cat := range in.Categories {
		cats = append(cats, cat.String())
	}
	fmt.Fprintf(&sb, "Categories: %s\n", strings.Join(cats, ", "))
	fmt.Fprintf(&sb, "Source URL: %s\n\n", in.SourceURL)

	head := sb.String()
	budget := caseBuildMaxTokens - EstimateTokens(head)
	text, truncated := truncate(in.Text, budget)
	return head + delimit(text), truncated
}

func (c *Client) toDraft(parsed *caseBuildResponse, in CaseBuildInput, truncated bool) *model.CaseDraft {
	draft := &model.CaseDraft{
		Headline:         parsed.Headline,
		Summary:          parsed.Summary,
		Status:           types.CaseStatus(parsed.Status).Normalize(),
		Entities:         parsed.Entities,
		Locations:        parsed.Locations,
		Confidence:       types.Confidence(parsed.Confidence).Normalize(),
		ConfidenceReason: parsed.ConfidenceReason,
		Truncated:        truncated,
	}

	for _, item := range parsed.Timeline {
		eventType := types.EventType(item.EventType)
		if !eventType.IsValid() || eventType == types.EventEvidenceAdded {
			eventType = types.EventTimeline
		}
		var eventTime *time.Time
		if t, err := time.Parse("2006-01-02", item.EventTime); err == nil {
			tt := t.UTC()
			eventTime = &tt
		}
		draft.Timeline = append(draft.Timeline, model.DraftEvent{
			EventType: eventType,
			EventTime: eventTime,
		})
	}

	for _, ev := range parsed.Evidence {
		if ev.Snippet == "" {
			continue
		}
		sourceURL := ev.SourceURL
		if sourceURL == "" {
			sourceURL = in.SourceURL
		}
		draft.Evidence = append(draft.Evidence, model.DraftEvidence{
			Page:      ev.Page,
			Snippet:   ev.Snippet,
			SourceURL: sourceURL,
		})
	}
	return draft
}

func caseBuildSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "CaseBuildResponse",
		Description: "Structured environmental case extracted from a document",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"headline": {
				Type:        gollem.TypeString,
				Description: "Actionable Finnish headline with key figures and deadline",
				Required:    true,
			},
			"summary": {
				Type:        gollem.TypeString,
				Description: "Markdown summary in Finnish, deadline first",
				Required:    true,
			},
			"status": {
				Type:     gollem.TypeString,
				Enum:     []string{"proposed", "approved", "unknown"},
				Required: true,
			},
			"timeline": {
				Type: gollem.TypeArray,
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"event_type": {
							Type:     gollem.TypeString,
							Enum:     []string{"approved", "published_notice", "complaint_window", "next_handling"},
							Required: true,
						},
						"event_time": {
							Type:        gollem.TypeString,
							Description: "ISO date (2025-02-15)",
							Required:    true,
						},
					},
				},
			},
			"evidence": {
				Type:        gollem.TypeArray,
				Description: "Exact quotes from the document with page numbers",
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"page":       {Type: gollem.TypeInteger, Required: true},
						"snippet":    {Type: gollem.TypeString, Required: true},
						"source_url": {Type: gollem.TypeString},
					},
				},
				Required: true,
			},
			"entities": {
				Type:        gollem.TypeArray,
				Description: "Applicants, companies, permit numbers",
				Items:       &gollem.Parameter{Type: gollem.TypeString},
			},
			"locations": {
				Type:        gollem.TypeArray,
				Description: "Place names and areas",
				Items:       &gollem.Parameter{Type: gollem.TypeString},
			},
			"confidence": {
				Type:     gollem.TypeString,
				Enum:     []string{"high", "medium", "low"},
				Required: true,
			},
			"confidence_reason": {
				Type:     gollem.TypeString,
				Required: true,
			},
		},
	}
}
