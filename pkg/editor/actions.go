package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Action type discriminators the assistant may emit.
const (
	ActionUpdatePage     = "update_page"
	ActionCreatePage     = "create_page"
	ActionUpdateSettings = "update_settings"
)

var actionBlockPattern = regexp.MustCompile(`(?s):::action\s*\n(.*?)\n\s*:::`)

var errUnknownAction = errors.New("unknown action type")

// AppliedChange is the per-action outcome attached to the assistant
// message and returned to the caller.
type AppliedChange struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Result  any    `json:"result,omitempty"`
}

var pageStatuses = []any{"publish", "draft", "private", "pending"}

var actionSchemas = map[string]map[string]any{
	ActionUpdatePage: {
		"type":     "object",
		"required": []any{"type", "pageId", "updates"},
		"properties": map[string]any{
			"type":   map[string]any{"const": ActionUpdatePage},
			"pageId": map[string]any{"type": "integer", "minimum": 1},
			"updates": map[string]any{
				"type":                 "object",
				"minProperties":        1,
				"additionalProperties": false,
				"properties": map[string]any{
					"title":   map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
					"slug":    map[string]any{"type": "string"},
					"status":  map[string]any{"type": "string", "enum": pageStatuses},
				},
			},
		},
	},
	ActionCreatePage: {
		"type":     "object",
		"required": []any{"type", "page"},
		"properties": map[string]any{
			"type": map[string]any{"const": ActionCreatePage},
			"page": map[string]any{
				"type":                 "object",
				"required":             []any{"title"},
				"additionalProperties": false,
				"properties": map[string]any{
					"title":   map[string]any{"type": "string", "minLength": 1},
					"content": map[string]any{"type": "string"},
					"slug":    map[string]any{"type": "string"},
					"status":  map[string]any{"type": "string", "enum": pageStatuses},
				},
			},
		},
	},
	ActionUpdateSettings: {
		"type":     "object",
		"required": []any{"type", "settings"},
		"properties": map[string]any{
			"type": map[string]any{"const": ActionUpdateSettings},
			"settings": map[string]any{
				"type":                 "object",
				"minProperties":        1,
				"additionalProperties": false,
				"properties": map[string]any{
					"title":   map[string]any{"type": "string"},
					"tagline": map[string]any{"type": "string"},
				},
			},
		},
	},
}

type updatePageAction struct {
	PageID  int            `json:"pageId"`
	Updates map[string]any `json:"updates"`
}

type createPageAction struct {
	Page struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		Slug    string `json:"slug"`
		Status  string `json:"status"`
	} `json:"page"`
}

type updateSettingsAction struct {
	Settings map[string]any `json:"settings"`
}

// parseActions splits a model reply into the user-facing text and the
// decoded action payloads. Blocks that are not valid JSON are dropped.
func parseActions(logger *slog.Logger, content string) (string, []map[string]any) {
	matches := actionBlockPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(content), nil
	}

	var display strings.Builder

	actions := make([]map[string]any, 0, len(matches))
	last := 0

	for _, m := range matches {
		display.WriteString(content[last:m[0]])
		last = m[1]

		var payload map[string]any
		if err := json.Unmarshal([]byte(content[m[2]:m[3]]), &payload); err != nil {
			logger.Warn("Dropping malformed action block", "error", err)

			continue
		}

		actions = append(actions, payload)
	}

	display.WriteString(content[last:])

	return strings.TrimSpace(display.String()), actions
}

func validateAction(actionType string, payload map[string]any) error {
	schema, ok := actionSchemas[actionType]
	if !ok {
		return errUnknownAction
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return err
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return fmt.Errorf("invalid %s action: %s", actionType, strings.Join(problems, "; "))
}

// settingsUpdates translates the action vocabulary to WordPress
// setting names. The site stores its tagline under "description".
func settingsUpdates(settings map[string]any) map[string]any {
	updates := make(map[string]any, len(settings))

	for key, value := range settings {
		if key == "tagline" {
			key = "description"
		}

		updates[key] = value
	}

	return updates
}
