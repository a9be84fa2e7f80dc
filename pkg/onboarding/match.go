package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/webtosite/webtosite/pkg/provider/ai"
)

// Template match sources, in order of preference.
const (
	MatchSourceModel   = "model"
	MatchSourceKeyword = "keyword"
	MatchSourceDefault = "default"
)

// TemplateMatch is the outcome of template selection.
type TemplateMatch struct {
	Slug       string  `json:"slug"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

const matchSystemPrompt = `You match businesses to website templates. Score every template you
are given and respond with a single JSON object of the form
{"candidates":[{"slug":"...","confidence":0.0,"reasoning":"..."}]}.
Confidence is a number between 0 and 1. Only use slugs from the list.
Do not write prose outside the JSON object.`

type matchCandidate struct {
	Slug       string  `json:"slug"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// matchTemplate picks a template for the business. Model scoring is
// preferred, keyword matching on the industry covers model failures,
// and the first catalog entry is the final fallback.
func (o *Onboarder) matchTemplate(ctx context.Context, templates []TemplateInfo, description, industry string) TemplateMatch {
	if o.ai != nil && description != "" {
		match, err := o.modelMatch(ctx, templates, description, industry)
		if err == nil {
			return match
		}

		o.logger.Warn("Model template match failed, falling back to keywords", "error", err)
	}

	if match, ok := keywordMatch(templates, industry); ok {
		return match
	}

	return defaultMatch(templates)
}

func (o *Onboarder) modelMatch(ctx context.Context, templates []TemplateInfo, description, industry string) (TemplateMatch, error) {
	var sb strings.Builder

	sb.WriteString("Templates:\n")

	for _, tpl := range templates {
		sb.WriteString(fmt.Sprintf("- %s: %s", tpl.Slug, tpl.Name))

		if len(tpl.Industries) > 0 {
			sb.WriteString(" (industries: " + strings.Join(tpl.Industries, ", ") + ")")
		}

		if tpl.Description != "" {
			sb.WriteString(" " + tpl.Description)
		}

		sb.WriteString("\n")
	}

	sb.WriteString("\nBusiness:\n")
	sb.WriteString(description)

	completion, err := ai.CompleteWithRetry(ctx, o.logger, o.retry, o.ai, ai.CompletionRequest{
		Model: o.cfg.MatchModel,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: matchSystemPrompt},
			{Role: ai.RoleUser, Content: sb.String()},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return TemplateMatch{}, err
	}

	candidates, err := parseCandidates(completion.Content)
	if err != nil {
		return TemplateMatch{}, err
	}

	known := make(map[string]TemplateInfo, len(templates))
	for _, tpl := range templates {
		known[tpl.Slug] = tpl
	}

	var valid []matchCandidate

	for _, cand := range candidates {
		if _, ok := known[cand.Slug]; ok {
			valid = append(valid, cand)
		}
	}

	if len(valid) == 0 {
		return TemplateMatch{}, fmt.Errorf("model returned no known template slug")
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Confidence > valid[j].Confidence
	})

	// Within the top confidence tier, a template whose industries
	// cover the business's industry wins.
	best := valid[0]

	for _, cand := range valid[1:] {
		if cand.Confidence != best.Confidence {
			break
		}

		if !matchesIndustry(known[best.Slug], industry) && matchesIndustry(known[cand.Slug], industry) {
			best = cand
		}
	}

	return TemplateMatch{
		Slug:       best.Slug,
		Confidence: best.Confidence,
		Source:     MatchSourceModel,
		Reasoning:  best.Reasoning,
	}, nil
}

func keywordMatch(templates []TemplateInfo, industry string) (TemplateMatch, bool) {
	if strings.TrimSpace(industry) == "" {
		return TemplateMatch{}, false
	}

	for _, tpl := range templates {
		if matchesIndustry(tpl, industry) {
			return TemplateMatch{Slug: tpl.Slug, Confidence: 0.5, Source: MatchSourceKeyword}, true
		}
	}

	return TemplateMatch{}, false
}

func defaultMatch(templates []TemplateInfo) TemplateMatch {
	slug := "flexify"
	if len(templates) > 0 {
		slug = templates[0].Slug
	}

	return TemplateMatch{Slug: slug, Source: MatchSourceDefault}
}

func matchesIndustry(tpl TemplateInfo, industry string) bool {
	token := strings.ToLower(strings.TrimSpace(industry))
	if token == "" {
		return false
	}

	for _, ind := range tpl.Industries {
		ind = strings.ToLower(strings.TrimSpace(ind))
		if ind == "" {
			continue
		}

		if strings.Contains(ind, token) || strings.Contains(token, ind) {
			return true
		}
	}

	return false
}

func parseCandidates(content string) ([]matchCandidate, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var envelope struct {
		Candidates []matchCandidate `json:"candidates"`
	}

	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("decoding match response: %w", err)
	}

	if len(envelope.Candidates) > 0 {
		return envelope.Candidates, nil
	}

	var single matchCandidate
	if err := json.Unmarshal([]byte(raw), &single); err == nil && single.Slug != "" {
		return []matchCandidate{single}, nil
	}

	return nil, fmt.Errorf("model response names no candidates")
}

func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start < 0 || end <= start {
		return ""
	}

	return content[start : end+1]
}
