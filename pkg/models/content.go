package models

// ContactInfo holds the business contact details surfaced on contact
// pages and in footers.
type ContactInfo struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"   validate:"omitempty,email"`
	Address string `json:"address,omitempty"`
}

// BusinessInfo describes the business a site is generated for.
type BusinessInfo struct {
	Name                string      `json:"name"                          validate:"required"`
	Tagline             string      `json:"tagline,omitempty"`
	Industry            string      `json:"industry,omitempty"`
	Services            []string    `json:"services,omitempty"`
	TargetAudience      string      `json:"targetAudience,omitempty"`
	UniqueSellingPoints []string    `json:"uniqueSellingPoints,omitempty"`
	Location            string      `json:"location,omitempty"`
	ContactInfo         ContactInfo `json:"contactInfo"`
}

// LanguageSpec selects the primary content language plus optional
// additional languages.
type LanguageSpec struct {
	Primary    string   `json:"primary,omitempty"`
	Additional []string `json:"additional,omitempty"`
}

// Tone steers the voice of generated copy.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"
)

// PageSpec names one page to generate content for.
type PageSpec struct {
	Slug     string   `json:"slug"               validate:"required"`
	Title    string   `json:"title"              validate:"required"`
	Sections []string `json:"sections,omitempty"`
}

// SEOSpec carries page metadata within search-engine length limits.
type SEOSpec struct {
	MetaTitle       string   `json:"metaTitle,omitempty"       validate:"omitempty,max=60"`
	MetaDescription string   `json:"metaDescription,omitempty" validate:"omitempty,max=160"`
	Keywords        []string `json:"keywords,omitempty"`
}

// SourceAnalysis is attached to copy-variant contexts and records what
// the analyzer learned from the scraped source site.
type SourceAnalysis struct {
	URL              string   `json:"url"`
	Summary          string   `json:"summary,omitempty"`
	DetectedIndustry string   `json:"detectedIndustry,omitempty"`
	Palette          []string `json:"palette,omitempty"`
	LogoURL          string   `json:"logoUrl,omitempty"`
	SocialLinks      []string `json:"socialLinks,omitempty"`
}

// VoiceInterview is attached to voice-variant contexts and preserves
// the raw interview answers the brief was distilled from.
type VoiceInterview struct {
	Answers map[string]string `json:"answers"`
}

// ContentContext is the input contract of the content generator.
type ContentContext struct {
	Business       BusinessInfo    `json:"business"                 validate:"required"`
	Language       LanguageSpec    `json:"language"`
	Tone           Tone            `json:"tone,omitempty"           validate:"omitempty,oneof=professional friendly casual formal"`
	Pages          []PageSpec      `json:"pages,omitempty"          validate:"dive"`
	SEO            SEOSpec         `json:"seo"`
	SourceAnalysis *SourceAnalysis `json:"sourceAnalysis,omitempty"`
	VoiceInterview *VoiceInterview `json:"voiceInterview,omitempty"`
}

// Brief is the structured summary distilled from voice interview
// answers before contexts are built.
type Brief struct {
	BusinessName   string      `json:"businessName"`
	Tagline        string      `json:"tagline,omitempty"`
	Industry       string      `json:"industry,omitempty"`
	Services       []string    `json:"services,omitempty"`
	TargetAudience string      `json:"targetAudience,omitempty"`
	SellingPoints  []string    `json:"sellingPoints,omitempty"`
	Team           []string    `json:"team,omitempty"`
	Location       string      `json:"location,omitempty"`
	Language       string      `json:"language,omitempty"`
	Contact        ContactInfo `json:"contact"`
}
