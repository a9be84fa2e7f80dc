// Package editor runs conversational site editing sessions: a
// persisted per-site transcript, model replies parsed for action
// blocks, and each action applied against the site's REST surface.
package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/persistence"
	"github.com/webtosite/webtosite/pkg/provider"
	"github.com/webtosite/webtosite/pkg/provider/ai"
	"github.com/webtosite/webtosite/pkg/provider/sitewp"
)

const (
	defaultModel = "gpt-4o-mini"

	editTemperature     = 0.7
	contentPreviewRunes = 200
	titleRunes          = 60
)

// SiteAPI is the slice of the WordPress client the editor drives.
type SiteAPI interface {
	BaseURL() string
	ListPages(ctx context.Context) ([]sitewp.Page, error)
	CreatePage(ctx context.Context, params sitewp.CreatePageParams) (*sitewp.Page, error)
	UpdatePage(ctx context.Context, pageID int, updates map[string]any) (*sitewp.Page, error)
	UpdateSettings(ctx context.Context, updates map[string]any) (map[string]any, error)
}

// SiteResolver maps a site id onto its REST client.
type SiteResolver func(ctx context.Context, siteID string) (SiteAPI, error)

// Config carries the editor's tunables.
type Config struct {
	// Model used for edit conversations, gpt-4o-mini when empty.
	Model string
}

// Editor owns edit session lifecycles.
type Editor struct {
	store   persistence.Persistence
	ai      ai.Client
	resolve SiteResolver
	model   string
	retry   provider.Retry
	logger  *slog.Logger
}

// SendResult is the outcome of one user turn.
type SendResult struct {
	Message string          `json:"message"`
	Changes []AppliedChange `json:"changes,omitempty"`
}

func NewEditor(store persistence.Persistence, client ai.Client, resolve SiteResolver, cfg Config, logger *slog.Logger) *Editor {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &Editor{
		store:   store,
		ai:      client,
		resolve: resolve,
		model:   model,
		retry:   provider.DefaultRetry(),
		logger:  logger.With("module", "editor"),
	}
}

// SetRetry overrides the model retry policy, mainly for tests.
func (e *Editor) SetRetry(retry provider.Retry) {
	e.retry = retry
}

// CreateSession opens a session against a site and persists the
// system prompt as its first message. An unreachable page list
// degrades to a bare prompt rather than failing the create.
func (e *Editor) CreateSession(ctx context.Context, userID, siteID string) (*models.EditSession, error) {
	session := &models.EditSession{
		UserID: strings.TrimSpace(userID),
		SiteID: strings.TrimSpace(siteID),
	}

	if session.UserID == "" || session.SiteID == "" {
		return nil, apperr.New(apperr.KindValidation, "user id and site id are required")
	}

	site, err := e.resolve(ctx, session.SiteID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "resolving site "+session.SiteID, err)
	}

	prompt := e.buildSystemPrompt(ctx, site)

	sessions := e.store.EditSessionRepository()
	if err := sessions.SaveSession(ctx, session); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "saving session", err)
	}

	if err := sessions.AppendMessage(ctx, &models.EditMessage{
		SessionID: session.ID,
		Role:      models.RoleSystem,
		Content:   prompt,
	}); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "saving system prompt", err)
	}

	e.logger.Info("Created edit session", "session_id", session.ID, "site_id", session.SiteID)

	return session, nil
}

// SendMessage appends a user turn, asks the model for a reply over the
// full transcript, applies any action blocks in source order and
// persists the assistant turn with the applied changes.
func (e *Editor) SendMessage(ctx context.Context, sessionID, userID, text string) (*SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.New(apperr.KindValidation, "message text is required")
	}

	session, err := e.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	sessions := e.store.EditSessionRepository()

	transcript, err := sessions.Messages(ctx, session.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading transcript", err)
	}

	if err := sessions.AppendMessage(ctx, &models.EditMessage{
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   text,
	}); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "saving user message", err)
	}

	if session.Title == "" {
		session.Title = truncateRunes(text, titleRunes)
		if err := sessions.SaveSession(ctx, session); err != nil {
			e.logger.Warn("Session title update failed", "session_id", session.ID, "error", err)
		}
	}

	prompt := make([]ai.Message, 0, len(transcript)+1)
	for _, msg := range transcript {
		prompt = append(prompt, ai.Message{Role: string(msg.Role), Content: msg.Content})
	}

	prompt = append(prompt, ai.Message{Role: ai.RoleUser, Content: text})

	temperature := editTemperature
	completion, err := ai.CompleteWithRetry(ctx, e.logger, e.retry, e.ai, ai.CompletionRequest{
		Model:       e.model,
		Messages:    prompt,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, apperr.FromProvider(err)
	}

	display, actions := parseActions(e.logger, completion.Content)
	changes := e.applyActions(ctx, session.SiteID, actions)

	assistant := &models.EditMessage{
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   completion.Content,
	}
	if len(changes) > 0 {
		assistant.Metadata = map[string]any{"changes": changes}
	}

	if err := sessions.AppendMessage(ctx, assistant); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "saving assistant message", err)
	}

	return &SendResult{Message: display, Changes: changes}, nil
}

// Sessions lists a user's sessions, most recently active first.
func (e *Editor) Sessions(ctx context.Context, userID string) ([]*models.EditSession, error) {
	sessions, err := e.store.EditSessionRepository().GetSessionsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "listing sessions", err)
	}

	return sessions, nil
}

// Transcript returns a session's messages in creation order.
func (e *Editor) Transcript(ctx context.Context, sessionID, userID string) ([]*models.EditMessage, error) {
	session, err := e.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	messages, err := e.store.EditSessionRepository().Messages(ctx, session.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading transcript", err)
	}

	return messages, nil
}

// ownedSession loads a session and hides other users' sessions behind
// not-found.
func (e *Editor) ownedSession(ctx context.Context, sessionID, userID string) (*models.EditSession, error) {
	session, err := e.store.EditSessionRepository().GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading session", err)
	}

	if session == nil || session.UserID != userID {
		return nil, apperr.Newf(apperr.KindNotFound, "session %s not found", sessionID)
	}

	return session, nil
}

func (e *Editor) buildSystemPrompt(ctx context.Context, site SiteAPI) string {
	pages, err := site.ListPages(ctx)
	if err != nil {
		e.logger.Warn("Page listing failed, using bare system prompt", "error", err)

		return systemPrompt(site.BaseURL(), nil)
	}

	return systemPrompt(site.BaseURL(), pages)
}

func (e *Editor) applyActions(ctx context.Context, siteID string, actions []map[string]any) []AppliedChange {
	if len(actions) == 0 {
		return nil
	}

	site, siteErr := e.resolve(ctx, siteID)
	changes := make([]AppliedChange, 0, len(actions))

	for _, payload := range actions {
		changes = append(changes, e.applyAction(ctx, site, siteErr, payload))
	}

	return changes
}

func (e *Editor) applyAction(ctx context.Context, site SiteAPI, siteErr error, payload map[string]any) AppliedChange {
	actionType, _ := payload["type"].(string)
	change := AppliedChange{Type: actionType}

	if _, known := actionSchemas[actionType]; !known {
		change.Error = errUnknownAction.Error()

		return change
	}

	if err := validateAction(actionType, payload); err != nil {
		change.Error = err.Error()

		return change
	}

	if siteErr != nil {
		change.Error = "site unavailable: " + siteErr.Error()

		return change
	}

	result, err := e.dispatch(ctx, site, actionType, payload)
	if err != nil {
		e.logger.Warn("Action failed", "action", actionType, "error", err)
		change.Error = err.Error()

		return change
	}

	change.Success = true
	change.Result = result

	return change
}

func (e *Editor) dispatch(ctx context.Context, site SiteAPI, actionType string, payload map[string]any) (any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	switch actionType {
	case ActionUpdatePage:
		var action updatePageAction
		if err := json.Unmarshal(encoded, &action); err != nil {
			return nil, err
		}

		page, err := site.UpdatePage(ctx, action.PageID, action.Updates)
		if err != nil {
			return nil, err
		}

		return pageSummary(page), nil

	case ActionCreatePage:
		var action createPageAction
		if err := json.Unmarshal(encoded, &action); err != nil {
			return nil, err
		}

		page, err := site.CreatePage(ctx, sitewp.CreatePageParams{
			Title:   action.Page.Title,
			Content: action.Page.Content,
			Slug:    action.Page.Slug,
			Status:  action.Page.Status,
		})
		if err != nil {
			return nil, err
		}

		return pageSummary(page), nil

	case ActionUpdateSettings:
		var action updateSettingsAction
		if err := json.Unmarshal(encoded, &action); err != nil {
			return nil, err
		}

		updates := settingsUpdates(action.Settings)
		if _, err := site.UpdateSettings(ctx, updates); err != nil {
			return nil, err
		}

		return map[string]any{"settings": updates}, nil
	}

	return nil, errUnknownAction
}

const actionGrammar = `
To change the site, include one or more action blocks in your reply. Each block must be exactly:

:::action
{"type":"...", ...}
:::

Supported actions:
- {"type":"update_page","pageId":<id>,"updates":{"title":"...","content":"...","slug":"...","status":"..."}} with any subset of updates
- {"type":"create_page","page":{"title":"...","content":"...","slug":"...","status":"..."}} with title required
- {"type":"update_settings","settings":{"title":"...","tagline":"..."}}

Page content is WordPress block markup. Everything outside action blocks is shown to the user as your reply.`

func systemPrompt(siteURL string, pages []sitewp.Page) string {
	var b strings.Builder

	b.WriteString("You are a site editing assistant for the WordPress site at ")
	b.WriteString(siteURL)
	b.WriteString(".\n\n")

	if len(pages) == 0 {
		b.WriteString("The page list is currently unavailable.\n")
	} else {
		b.WriteString("Current pages:\n")

		for _, page := range pages {
			fmt.Fprintf(&b, "- [ID:%d] %q — %s\n", page.ID, page.Title.Text(), contentPreview(page.Content.Text()))
		}
	}

	b.WriteString(actionGrammar)

	return b.String()
}

// contentPreview strips markup and collapses whitespace so page
// descriptors stay one line each.
func contentPreview(html string) string {
	text := html
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		text = doc.Text()
	}

	text = strings.Join(strings.Fields(text), " ")

	return truncateRunes(text, contentPreviewRunes)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit])
}

func pageSummary(page *sitewp.Page) map[string]any {
	return map[string]any{
		"id":    page.ID,
		"slug":  page.Slug,
		"link":  page.Link,
		"title": page.Title.Text(),
	}
}
