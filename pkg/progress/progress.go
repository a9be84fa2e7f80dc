// Package progress carries live step events from a running workflow to
// its listeners.
package progress

import (
	"encoding/json"
	"time"
)

// Stage identifies one live workflow phase. The set is versioned with
// the run schema; listeners must tolerate unknown values.
type Stage string

const (
	StageValidatingConfig    Stage = "validating_config"
	StageCheckingDomain      Stage = "checking_domain"
	StageRegisteringDomain   Stage = "registering_domain"
	StageCreatingSite        Stage = "creating_site"
	StageWaitingForSite      Stage = "waiting_for_site"
	StageMappingDomain       Stage = "mapping_domain"
	StageCreatingZone        Stage = "creating_cloudflare_zone"
	StageSettingDNSRecords   Stage = "setting_dns_records"
	StageUpdatingNameservers Stage = "updating_nameservers"
	StageConfiguringSecurity Stage = "configuring_security"
	StageCheckingSSL         Stage = "checking_ssl"
	StageApplyingDeployment  Stage = "applying_deployment"
	StageGeneratingContent   Stage = "generating_content"
	StagePushingContent      Stage = "pushing_content"

	StageProcessingAnswers Stage = "processing_answers"
	StageScrapingSite      Stage = "scraping_site"
	StageExtractingBrand   Stage = "extracting_brand"
	StageAnalyzingSite     Stage = "analyzing_site"
	StageMatchingTemplate  Stage = "matching_template"
	StageBuildingContexts  Stage = "building_contexts"

	StageComplete Stage = "complete"
	StageError    Stage = "error"
)

// Event is one progress notification. Payload entries are flattened
// next to the reserved step, timestamp and message keys on the wire.
type Event struct {
	Step      Stage
	Timestamp time.Time
	Message   string
	Payload   map[string]any
}

func NewEvent(step Stage, message string, payload map[string]any) Event {
	return Event{
		Step:      step,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Payload:   payload,
	}
}

func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Payload)+3)

	for key, value := range e.Payload {
		switch key {
		case "step", "timestamp", "message":
			continue
		}

		flat[key] = value
	}

	flat["step"] = string(e.Step)
	flat["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	flat["message"] = e.Message

	return json.Marshal(flat)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	if step, ok := flat["step"].(string); ok {
		e.Step = Stage(step)
	}

	if raw, ok := flat["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			e.Timestamp = ts
		}
	}

	if message, ok := flat["message"].(string); ok {
		e.Message = message
	}

	delete(flat, "step")
	delete(flat, "timestamp")
	delete(flat, "message")

	if len(flat) > 0 {
		e.Payload = flat
	}

	return nil
}
