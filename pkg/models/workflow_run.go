// Package models defines the core domain models shared by the
// provisioning workflows, the onboarding analyzers, the deployment
// applicator and the AI proxy.
package models

import "time"

// WorkflowKind identifies one of the provisioning pipelines.
type WorkflowKind string

const (
	WorkflowDomainSiteCopy  WorkflowKind = "domain_site_copy"  // scrape an existing site, rebuild it on a new domain
	WorkflowDomainSiteVoice WorkflowKind = "domain_site_voice" // build from interview answers on a new domain
	WorkflowSimpleSite      WorkflowKind = "simple_site"       // host-managed site without a custom domain
)

// StepID names a milestone a run has passed. IDs are past tense; the
// live progress stream uses the gerund stage names from the progress
// package instead.
type StepID string

const (
	StepConfigValidated     StepID = "config_validated"
	StepDomainChecked       StepID = "domain_checked"
	StepDomainRegistered    StepID = "domain_registered"
	StepSiteCreated         StepID = "site_created"
	StepSiteReady           StepID = "site_ready"
	StepDomainMapped        StepID = "domain_mapped"
	StepZoneCreated         StepID = "cloudflare_zone_created"
	StepDNSRecordsSet       StepID = "dns_records_set"
	StepNameserversUpdated  StepID = "nameservers_updated"
	StepSecurityConfigured  StepID = "security_configured"
	StepSSLActive           StepID = "ssl_active"
	StepSSLPending          StepID = "ssl_pending"
	StepDeploymentApplied   StepID = "deployment_applied"
	StepContentGenerated    StepID = "content_generated"
	StepContentPushed       StepID = "content_pushed"
	StepAnswersProcessed    StepID = "answers_processed"
	StepSiteScraped         StepID = "site_scraped"
	StepBrandExtracted      StepID = "brand_extracted"
	StepSiteAnalyzed        StepID = "site_analyzed"
	StepTemplateMatched     StepID = "template_matched"
	StepContextsBuilt       StepID = "contexts_built"
	StepCancelled           StepID = "cancelled"
)

// provisionStepOrder is the canonical milestone order for the
// domain+site pipelines. ssl_active and ssl_pending share a slot
// because a run records exactly one of them.
var provisionStepOrder = map[StepID]int{
	StepConfigValidated:    0,
	StepDomainChecked:      1,
	StepDomainRegistered:   2,
	StepSiteCreated:        3,
	StepSiteReady:          4,
	StepDomainMapped:       5,
	StepZoneCreated:        6,
	StepDNSRecordsSet:      7,
	StepNameserversUpdated: 8,
	StepSecurityConfigured: 9,
	StepSSLActive:          10,
	StepSSLPending:         10,
	StepDeploymentApplied:  11,
	StepContentGenerated:   12,
	StepContentPushed:      13,
}

// onboardingStepOrder is the canonical milestone order for the
// onboarding analyzers. Each variant records a subsequence of it.
var onboardingStepOrder = map[StepID]int{
	StepAnswersProcessed: 0,
	StepSiteScraped:      1,
	StepBrandExtracted:   2,
	StepSiteAnalyzed:     3,
	StepTemplateMatched:  4,
	StepContextsBuilt:    5,
}

// ProvisionStepIndex returns the canonical position of a provisioning
// milestone, or -1 when the id is not part of the provisioning order.
func ProvisionStepIndex(id StepID) int {
	if idx, ok := provisionStepOrder[id]; ok {
		return idx
	}

	return -1
}

// OnboardingStepIndex returns the canonical position of an onboarding
// milestone, or -1 when the id is not part of the onboarding order.
func OnboardingStepIndex(id StepID) int {
	if idx, ok := onboardingStepOrder[id]; ok {
		return idx
	}

	return -1
}

// StepRecord is one milestone entry in a run's step log.
type StepRecord struct {
	Step    StepID         `json:"step"`
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	At      time.Time      `json:"at"`
}

// WorkflowRun is the summary returned by a pipeline.
type WorkflowRun struct {
	ID         string         `json:"id"`
	Kind       WorkflowKind   `json:"kind"`
	Steps      []StepRecord   `json:"steps"`
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// RecordStep appends a successful milestone.
func (r *WorkflowRun) RecordStep(step StepID, data map[string]any) {
	r.Steps = append(r.Steps, StepRecord{
		Step:    step,
		Success: true,
		Data:    data,
		At:      time.Now().UTC(),
	})
}

// RecordFailure appends a failed milestone.
func (r *WorkflowRun) RecordFailure(step StepID, err error) {
	r.RecordFailureData(step, nil, err)
}

// RecordFailureData appends a failed milestone that still carries step
// data, such as the per-task detail of a partially applied phase.
func (r *WorkflowRun) RecordFailureData(step StepID, data map[string]any, err error) {
	rec := StepRecord{
		Step: step,
		Data: data,
		At:   time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	r.Steps = append(r.Steps, rec)
}

// StepIDs returns the ids of all recorded milestones in order.
func (r *WorkflowRun) StepIDs() []StepID {
	ids := make([]StepID, 0, len(r.Steps))
	for _, s := range r.Steps {
		ids = append(ids, s.Step)
	}

	return ids
}

// HasStep reports whether a milestone with the given id was recorded.
func (r *WorkflowRun) HasStep(step StepID) bool {
	for _, s := range r.Steps {
		if s.Step == step {
			return true
		}
	}

	return false
}
