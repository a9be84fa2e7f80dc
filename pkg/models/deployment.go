package models

// DefaultPages are the pages a deployment provisions when the caller
// does not name its own set.
var DefaultPages = []string{"home", "about", "services", "contact", "blog"}

// Template selects the theme installed on the target site.
type Template struct {
	Slug      string `json:"slug"                validate:"required"`
	Skin      string `json:"skin,omitempty"`
	Variation string `json:"variation,omitempty"`
}

// PluginSpec names a plugin to install and optionally activate.
type PluginSpec struct {
	Slug     string         `json:"slug"             validate:"required"`
	Activate bool           `json:"activate"`
	Config   map[string]any `json:"config,omitempty"`
}

// DemoContent controls page scaffolding and slot substitution.
type DemoContent struct {
	Import       bool              `json:"import"`
	Pages        []string          `json:"pages,omitempty"`
	ContentSlots map[string]string `json:"contentSlots,omitempty"`
}

// Branding carries site-wide visual identity. Colors are six-digit hex
// with a leading hash.
type Branding struct {
	PrimaryColor   string `json:"primaryColor,omitempty"   validate:"omitempty,hexcolor6"`
	SecondaryColor string `json:"secondaryColor,omitempty" validate:"omitempty,hexcolor6"`
	LogoURL        string `json:"logoUrl,omitempty"        validate:"omitempty,url"`
	FaviconURL     string `json:"faviconUrl,omitempty"     validate:"omitempty,url"`
}

// DeploymentContext describes everything the applicator pushes onto a
// freshly provisioned site.
type DeploymentContext struct {
	Template    Template     `json:"template"              validate:"required"`
	Plugins     []PluginSpec `json:"plugins,omitempty"     validate:"dive"`
	DemoContent DemoContent  `json:"demoContent"`
	Branding    Branding     `json:"branding"`
	Features    []string     `json:"features,omitempty"`
}

// Normalize fills defaulted fields in place. Page lists default to
// DefaultPages when demo content import is requested with no explicit
// set.
func (d *DeploymentContext) Normalize() {
	if d.DemoContent.Import && len(d.DemoContent.Pages) == 0 {
		d.DemoContent.Pages = append([]string(nil), DefaultPages...)
	}
}

// MergeDeploymentContexts layers override on top of base. Non-zero
// override fields win; zero fields keep the base value. Merging a
// context with itself returns an equal context.
func MergeDeploymentContexts(base, override DeploymentContext) DeploymentContext {
	merged := base

	if override.Template.Slug != "" {
		merged.Template.Slug = override.Template.Slug
	}

	if override.Template.Skin != "" {
		merged.Template.Skin = override.Template.Skin
	}

	if override.Template.Variation != "" {
		merged.Template.Variation = override.Template.Variation
	}

	if len(override.Plugins) > 0 {
		merged.Plugins = override.Plugins
	}

	if override.DemoContent.Import {
		merged.DemoContent.Import = true
	}

	if len(override.DemoContent.Pages) > 0 {
		merged.DemoContent.Pages = override.DemoContent.Pages
	}

	if len(override.DemoContent.ContentSlots) > 0 {
		merged.DemoContent.ContentSlots = override.DemoContent.ContentSlots
	}

	if override.Branding.PrimaryColor != "" {
		merged.Branding.PrimaryColor = override.Branding.PrimaryColor
	}

	if override.Branding.SecondaryColor != "" {
		merged.Branding.SecondaryColor = override.Branding.SecondaryColor
	}

	if override.Branding.LogoURL != "" {
		merged.Branding.LogoURL = override.Branding.LogoURL
	}

	if override.Branding.FaviconURL != "" {
		merged.Branding.FaviconURL = override.Branding.FaviconURL
	}

	if len(override.Features) > 0 {
		merged.Features = override.Features
	}

	return merged
}
