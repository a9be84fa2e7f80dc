package onboarding

import (
	"regexp"
	"strings"

	"github.com/webtosite/webtosite/pkg/models"
)

var listSeparator = regexp.MustCompile(`[,;]`)

// ProcessAnswers distills free-form interview answers into a brief.
// Keys are matched loosely so "Business Name", "business-name" and
// "business_name" all land in the same field; unknown keys are ignored.
func ProcessAnswers(answers map[string]string) models.Brief {
	var brief models.Brief

	for key, value := range answers {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch normalizeAnswerKey(key) {
		case "business_name", "company_name", "company", "name":
			brief.BusinessName = value
		case "tagline", "slogan", "motto":
			brief.Tagline = value
		case "industry", "business_type", "sector":
			brief.Industry = value
		case "services", "offerings", "products", "what_do_you_offer":
			brief.Services = splitList(value)
		case "target_audience", "audience", "customers", "who_are_your_customers":
			brief.TargetAudience = value
		case "unique_selling_points", "selling_points", "usps", "strengths", "what_makes_you_different":
			brief.SellingPoints = splitList(value)
		case "team", "team_members", "staff":
			brief.Team = splitList(value)
		case "location", "city", "service_area":
			brief.Location = value
		case "language":
			brief.Language = value
		case "phone", "phone_number":
			brief.Contact.Phone = value
		case "email", "email_address":
			brief.Contact.Email = value
		case "address", "street_address":
			brief.Contact.Address = value
		}
	}

	return brief
}

func normalizeAnswerKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.Trim(key, "?_")

	return key
}

func splitList(value string) []string {
	var items []string

	for _, part := range listSeparator.Split(value, -1) {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}

	return items
}

func businessFromBrief(brief models.Brief) models.BusinessInfo {
	return models.BusinessInfo{
		Name:                brief.BusinessName,
		Tagline:             brief.Tagline,
		Industry:            brief.Industry,
		Services:            brief.Services,
		TargetAudience:      brief.TargetAudience,
		UniqueSellingPoints: brief.SellingPoints,
		Location:            brief.Location,
		ContactInfo:         brief.Contact,
	}
}

// describeBusiness renders business info as prompt text for template
// matching. Only filled fields appear.
func describeBusiness(business models.BusinessInfo, summary string) string {
	var sb strings.Builder

	writeField := func(label, value string) {
		if value != "" {
			sb.WriteString(label)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\n")
		}
	}

	writeField("Business", business.Name)
	writeField("Tagline", business.Tagline)
	writeField("Industry", business.Industry)
	writeField("Services", strings.Join(business.Services, ", "))
	writeField("Target audience", business.TargetAudience)
	writeField("Unique selling points", strings.Join(business.UniqueSellingPoints, ", "))
	writeField("Location", business.Location)
	writeField("Summary", summary)

	return strings.TrimSpace(sb.String())
}
