// Package events defines the event types published on the platform bus
// for provisioning run lifecycle and proxy usage notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the bus topic all platform events are published on.
const Topic = "webtosite.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events, shared by provisioning and onboarding runs.
	RunStartedEvent   EventType = "run.started"
	RunProgressEvent  EventType = "run.progress"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"

	// Proxy usage events.
	ProxyRequestEvent EventType = "proxy.request"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type RunStarted struct {
	BaseEvent

	Kind   string `json:"kind"`
	Domain string `json:"domain,omitempty"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

// RunProgress mirrors one live progress event onto the bus.
type RunProgress struct {
	BaseEvent

	Step    string         `json:"step"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (e RunProgress) GetType() EventType {
	return RunProgressEvent
}

type RunCompleted struct {
	BaseEvent

	Duration time.Duration  `json:"duration"`
	Steps    []string       `json:"steps"`
	Result   map[string]any `json:"result,omitempty"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
	Error    string        `json:"error"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

// ProxyRequest records one completed AI proxy call for downstream
// usage accounting.
type ProxyRequest struct {
	BaseEvent

	SiteID         string `json:"site_id"`
	Model          string `json:"model"`
	Vendor         string `json:"vendor"`
	TokensUsed     int    `json:"tokens_used"`
	ResponseStatus int    `json:"response_status"`
	LatencyMs      int64  `json:"latency_ms"`
}

func (e ProxyRequest) GetType() EventType {
	return ProxyRequestEvent
}

func NewBaseEvent(eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Metadata:  make(map[string]any),
	}
}
