package editor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/editor"
	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/persistence/memory"
	"github.com/webtosite/webtosite/pkg/provider"
	"github.com/webtosite/webtosite/pkg/provider/ai"
	"github.com/webtosite/webtosite/pkg/provider/sitewp"
)

const batchReply = "Updating your home and creating a pricing page.\n" +
	":::action\n" +
	`{"type":"update_page","pageId":10,"updates":{"title":"Welcome Home"}}` + "\n" +
	":::\n" +
	":::action\n" +
	`{"type":"create_page","page":{"title":"Pricing","slug":"pricing"}}` + "\n" +
	":::"

type fakeModel struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []ai.CompletionRequest
}

func (f *fakeModel) Complete(_ context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	if f.err != nil {
		return nil, f.err
	}

	var content string
	if len(f.responses) > 0 {
		content = f.responses[0]
		if len(f.responses) > 1 {
			f.responses = f.responses[1:]
		}
	}

	return &ai.Completion{
		Content: content,
		Model:   req.Model,
		Usage:   ai.Usage{Prompt: 40, Completion: 80, Total: 120},
	}, nil
}

func (f *fakeModel) Vendor() string {
	return "fake"
}

func (f *fakeModel) lastRequest() ai.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.requests) == 0 {
		return ai.CompletionRequest{}
	}

	return f.requests[len(f.requests)-1]
}

type fakeSite struct {
	mu          sync.Mutex
	baseURL     string
	pages       []sitewp.Page
	listErr     error
	updateErr   error
	createErr   error
	settingsErr error
	updates     map[int]map[string]any
	created     []sitewp.CreatePageParams
	settings    map[string]any
	nextID      int
}

func newFakeSite(pages ...sitewp.Page) *fakeSite {
	return &fakeSite{
		baseURL: "https://acme.example",
		pages:   pages,
		updates: make(map[int]map[string]any),
		nextID:  100,
	}
}

func sitePages() []sitewp.Page {
	return []sitewp.Page{
		{
			ID:      10,
			Slug:    "home",
			Status:  "publish",
			Title:   sitewp.RenderedText{Raw: "Home"},
			Content: sitewp.RenderedText{Raw: "<p>Welcome to Acme Plumbing since 1999.</p>"},
		},
		{
			ID:      11,
			Slug:    "about",
			Status:  "publish",
			Title:   sitewp.RenderedText{Raw: "About"},
			Content: sitewp.RenderedText{Raw: "<p>Family owned and operated.</p>"},
		},
	}
}

func (f *fakeSite) BaseURL() string {
	return f.baseURL
}

func (f *fakeSite) ListPages(_ context.Context) ([]sitewp.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	return append([]sitewp.Page{}, f.pages...), nil
}

func (f *fakeSite) CreatePage(_ context.Context, params sitewp.CreatePageParams) (*sitewp.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}

	f.nextID++
	f.created = append(f.created, params)

	return &sitewp.Page{
		ID:     f.nextID,
		Slug:   params.Slug,
		Status: params.Status,
		Title:  sitewp.RenderedText{Raw: params.Title},
	}, nil
}

func (f *fakeSite) UpdatePage(_ context.Context, pageID int, updates map[string]any) (*sitewp.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErr != nil {
		return nil, f.updateErr
	}

	f.updates[pageID] = updates

	return &sitewp.Page{ID: pageID, Slug: "home", Title: sitewp.RenderedText{Raw: "Welcome Home"}}, nil
}

func (f *fakeSite) UpdateSettings(_ context.Context, updates map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.settingsErr != nil {
		return nil, f.settingsErr
	}

	f.settings = updates

	return updates, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEditor(t *testing.T, model *fakeModel, site *fakeSite) (*editor.Editor, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	resolve := func(_ context.Context, _ string) (editor.SiteAPI, error) {
		return site, nil
	}

	ed := editor.NewEditor(store, model, resolve, editor.Config{}, testLogger())
	ed.SetRetry(provider.Retry{
		InitialInterval: time.Millisecond,
		Multiplier:      1.5,
		MaxElapsedTime:  time.Second,
		MaxAttempts:     2,
	})

	return ed, store
}

func transcript(t *testing.T, store *memory.Persistence, sessionID string) []*models.EditMessage {
	t.Helper()

	messages, err := store.EditSessionRepository().Messages(context.Background(), sessionID)
	require.NoError(t, err)

	return messages
}

func TestCreateSession_BuildsPageInventoryPrompt(t *testing.T) {
	t.Parallel()

	ed, store := newEditor(t, &fakeModel{}, newFakeSite(sitePages()...))

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "site-1", session.SiteID)
	assert.False(t, session.CreatedAt.IsZero())

	messages := transcript(t, store, session.ID)
	require.Len(t, messages, 1)
	assert.Equal(t, models.RoleSystem, messages[0].Role)

	prompt := messages[0].Content
	assert.Contains(t, prompt, "https://acme.example")
	assert.Contains(t, prompt, `- [ID:10] "Home" — Welcome to Acme Plumbing since 1999.`)
	assert.Contains(t, prompt, `- [ID:11] "About" — Family owned and operated.`)
	assert.Contains(t, prompt, "update_page")
	assert.Contains(t, prompt, "create_page")
	assert.Contains(t, prompt, "update_settings")
}

func TestCreateSession_BarePromptWhenPagesUnavailable(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listErr = provider.NewError("wordpress", provider.KindUpstreamFailure, http.StatusInternalServerError, "boom")

	ed, store := newEditor(t, &fakeModel{}, site)

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err, "an unreachable page list must not fail the create")

	messages := transcript(t, store, session.ID)
	require.Len(t, messages, 1)

	prompt := messages[0].Content
	assert.Contains(t, prompt, "https://acme.example")
	assert.Contains(t, prompt, "currently unavailable")
	assert.NotContains(t, prompt, "[ID:")
	assert.Contains(t, prompt, "update_page", "the action grammar is always present")
}

func TestCreateSession_RequiresIdentifiers(t *testing.T) {
	t.Parallel()

	ed, _ := newEditor(t, &fakeModel{}, newFakeSite())

	_, err := ed.CreateSession(context.Background(), "", "site-1")
	require.True(t, apperr.IsKind(err, apperr.KindValidation), "got %v", err)

	_, err = ed.CreateSession(context.Background(), "user-1", "  ")
	require.True(t, apperr.IsKind(err, apperr.KindValidation), "got %v", err)
}

func TestCreateSession_ResolverFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	resolve := func(_ context.Context, _ string) (editor.SiteAPI, error) {
		return nil, errors.New("no credentials for site")
	}
	ed := editor.NewEditor(store, &fakeModel{}, resolve, editor.Config{}, testLogger())

	_, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.True(t, apperr.IsKind(err, apperr.KindConfiguration), "got %v", err)
}

func TestSendMessage_AppliesActionBatch(t *testing.T) {
	t.Parallel()

	site := newFakeSite(sitePages()...)
	site.createErr = provider.NewError("wordpress", provider.KindUpstreamFailure, http.StatusInternalServerError, "server error")

	model := &fakeModel{responses: []string{batchReply}}
	ed, store := newEditor(t, model, site)

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	result, err := ed.SendMessage(context.Background(), session.ID, "user-1", "Refresh the home page and add pricing")
	require.NoError(t, err, "a failed action must not fail the turn")

	assert.Equal(t, "Updating your home and creating a pricing page.", result.Message)
	require.Len(t, result.Changes, 2)

	first := result.Changes[0]
	assert.Equal(t, editor.ActionUpdatePage, first.Type)
	assert.True(t, first.Success)
	assert.Empty(t, first.Error)
	assert.NotNil(t, first.Result)

	second := result.Changes[1]
	assert.Equal(t, editor.ActionCreatePage, second.Type)
	assert.False(t, second.Success)
	assert.Contains(t, second.Error, "server error")
	assert.Nil(t, second.Result)

	assert.Equal(t, map[string]any{"title": "Welcome Home"}, site.updates[10])
	assert.Empty(t, site.created)

	messages := transcript(t, store, session.ID)
	require.Len(t, messages, 3)
	assert.Equal(t, models.RoleSystem, messages[0].Role)
	assert.Equal(t, models.RoleUser, messages[1].Role)
	assert.Equal(t, models.RoleAssistant, messages[2].Role)
	assert.Equal(t, batchReply, messages[2].Content, "the raw reply is what the model sees next turn")

	stored, ok := messages[2].Metadata["changes"].([]editor.AppliedChange)
	require.True(t, ok, "assistant metadata must carry the applied changes")
	require.Len(t, stored, 2)
	assert.True(t, stored[0].Success)
	assert.False(t, stored[1].Success)
}

func TestSendMessage_PlainReply(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []string{"Sure, what would you like to change?"}}
	ed, store := newEditor(t, model, newFakeSite(sitePages()...))

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	result, err := ed.SendMessage(context.Background(), session.ID, "user-1", "Hello")
	require.NoError(t, err)

	assert.Equal(t, "Sure, what would you like to change?", result.Message)
	assert.Empty(t, result.Changes)

	messages := transcript(t, store, session.ID)
	require.Len(t, messages, 3)
	assert.Nil(t, messages[2].Metadata, "no metadata without changes")
}

func TestSendMessage_DropsMalformedBlockKeepsValid(t *testing.T) {
	t.Parallel()

	reply := "Done.\n" +
		":::action\n" +
		"this is not json\n" +
		":::\n" +
		":::action\n" +
		`{"type":"update_page","pageId":11,"updates":{"content":"<p>New about.</p>"}}` + "\n" +
		":::"

	model := &fakeModel{responses: []string{reply}}
	site := newFakeSite(sitePages()...)
	ed, _ := newEditor(t, model, site)

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	result, err := ed.SendMessage(context.Background(), session.ID, "user-1", "Rewrite the about page")
	require.NoError(t, err)

	assert.Equal(t, "Done.", result.Message)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, editor.ActionUpdatePage, result.Changes[0].Type)
	assert.True(t, result.Changes[0].Success)
	assert.Equal(t, map[string]any{"content": "<p>New about.</p>"}, site.updates[11])
}

func TestSendMessage_UnknownActionType(t *testing.T) {
	t.Parallel()

	reply := ":::action\n" +
		`{"type":"delete_site"}` + "\n" +
		":::"

	model := &fakeModel{responses: []string{reply}}
	ed, _ := newEditor(t, model, newFakeSite(sitePages()...))

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	result, err := ed.SendMessage(context.Background(), session.ID, "user-1", "Tear it all down")
	require.NoError(t, err)

	require.Len(t, result.Changes, 1)
	assert.Equal(t, "delete_site", result.Changes[0].Type)
	assert.False(t, result.Changes[0].Success)
	assert.Equal(t, "unknown action type", result.Changes[0].Error)
}

func TestSendMessage_SchemaRejectsInvalidActions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		errPart string
	}{
		{
			name:    "update without page id",
			payload: `{"type":"update_page","updates":{"title":"x"}}`,
			errPart: "pageId",
		},
		{
			name:    "update with empty updates",
			payload: `{"type":"update_page","pageId":10,"updates":{}}`,
			errPart: "invalid update_page action",
		},
		{
			name:    "create without title",
			payload: `{"type":"create_page","page":{"slug":"pricing"}}`,
			errPart: "title",
		},
		{
			name:    "settings with unknown key",
			payload: `{"type":"update_settings","settings":{"colour":"red"}}`,
			errPart: "invalid update_settings action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			model := &fakeModel{responses: []string{":::action\n" + tt.payload + "\n:::"}}
			site := newFakeSite(sitePages()...)
			ed, _ := newEditor(t, model, site)

			session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
			require.NoError(t, err)

			result, err := ed.SendMessage(context.Background(), session.ID, "user-1", "Change things")
			require.NoError(t, err)

			require.Len(t, result.Changes, 1)
			assert.False(t, result.Changes[0].Success)
			assert.Contains(t, result.Changes[0].Error, tt.errPart)

			assert.Empty(t, site.updates, "rejected actions must not reach the site")
			assert.Empty(t, site.created)
			assert.Nil(t, site.settings)
		})
	}
}

func TestSendMessage_TranslatesTaglineSetting(t *testing.T) {
	t.Parallel()

	reply := "Updating your site identity.\n" +
		":::action\n" +
		`{"type":"update_settings","settings":{"title":"Acme Plumbing","tagline":"We fix pipes"}}` + "\n" +
		":::"

	model := &fakeModel{responses: []string{reply}}
	site := newFakeSite(sitePages()...)
	ed, _ := newEditor(t, model, site)

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	result, err := ed.SendMessage(context.Background(), session.ID, "user-1", "Rename the site")
	require.NoError(t, err)

	require.Len(t, result.Changes, 1)
	assert.True(t, result.Changes[0].Success)
	assert.Equal(t, map[string]any{"title": "Acme Plumbing", "description": "We fix pipes"}, site.settings)
}

func TestSendMessage_SiteUnavailableFailsActionsNotTurn(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	site := newFakeSite(sitePages()...)

	var resolves int
	resolve := func(_ context.Context, _ string) (editor.SiteAPI, error) {
		resolves++
		if resolves > 1 {
			return nil, errors.New("credentials expired")
		}

		return site, nil
	}

	model := &fakeModel{responses: []string{batchReply}}
	ed := editor.NewEditor(store, model, resolve, editor.Config{}, testLogger())

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	result, err := ed.SendMessage(context.Background(), session.ID, "user-1", "Refresh the home page")
	require.NoError(t, err)

	assert.Equal(t, "Updating your home and creating a pricing page.", result.Message)
	require.Len(t, result.Changes, 2)

	for _, change := range result.Changes {
		assert.False(t, change.Success)
		assert.Contains(t, change.Error, "site unavailable")
	}

	assert.Empty(t, site.updates, "nothing reaches the site without a client")
}

func TestSendMessage_TranscriptFeedsModel(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []string{"First reply.", "Second reply."}}
	ed, _ := newEditor(t, model, newFakeSite(sitePages()...))

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	_, err = ed.SendMessage(context.Background(), session.ID, "user-1", "First question")
	require.NoError(t, err)

	_, err = ed.SendMessage(context.Background(), session.ID, "user-1", "Second question")
	require.NoError(t, err)

	req := model.lastRequest()
	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, *req.Temperature, 0.0001)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, ai.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, ai.RoleUser, req.Messages[1].Role)
	assert.Equal(t, "First question", req.Messages[1].Content)
	assert.Equal(t, ai.RoleAssistant, req.Messages[2].Role)
	assert.Equal(t, "First reply.", req.Messages[2].Content)
	assert.Equal(t, ai.RoleUser, req.Messages[3].Role)
	assert.Equal(t, "Second question", req.Messages[3].Content)
}

func TestSendMessage_SessionOwnership(t *testing.T) {
	t.Parallel()

	ed, _ := newEditor(t, &fakeModel{responses: []string{"ok"}}, newFakeSite(sitePages()...))

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	_, err = ed.SendMessage(context.Background(), "no-such-session", "user-1", "hello")
	require.True(t, apperr.IsKind(err, apperr.KindNotFound), "got %v", err)

	_, err = ed.SendMessage(context.Background(), session.ID, "somebody-else", "hello")
	require.True(t, apperr.IsKind(err, apperr.KindNotFound), "another user's session stays hidden")
}

func TestSendMessage_RequiresText(t *testing.T) {
	t.Parallel()

	ed, _ := newEditor(t, &fakeModel{}, newFakeSite(sitePages()...))

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	_, err = ed.SendMessage(context.Background(), session.ID, "user-1", "   ")
	require.True(t, apperr.IsKind(err, apperr.KindValidation), "got %v", err)
}

func TestSendMessage_ModelFailureKeepsUserTurn(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	model.err = provider.NewError("openai", provider.KindUpstreamFailure, http.StatusBadGateway, "bad gateway")

	ed, store := newEditor(t, model, newFakeSite(sitePages()...))

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	_, err = ed.SendMessage(context.Background(), session.ID, "user-1", "Please update the site")
	require.True(t, apperr.IsKind(err, apperr.KindUpstream), "got %v", err)

	messages := transcript(t, store, session.ID)
	require.Len(t, messages, 2, "the user turn survives a model failure")
	assert.Equal(t, models.RoleUser, messages[1].Role)
	assert.Equal(t, "Please update the site", messages[1].Content)
}

func TestSendMessage_TitlesSessionFromFirstMessage(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []string{"ok", "ok"}}
	ed, store := newEditor(t, model, newFakeSite(sitePages()...))

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)
	assert.Empty(t, session.Title)

	longText := strings.Repeat("Make the hero section pop ", 5)
	_, err = ed.SendMessage(context.Background(), session.ID, "user-1", longText)
	require.NoError(t, err)

	titled, err := store.EditSessionRepository().GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.NotNil(t, titled)
	assert.Len(t, []rune(titled.Title), 60)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(longText), titled.Title[:20]))

	_, err = ed.SendMessage(context.Background(), session.ID, "user-1", "Another request")
	require.NoError(t, err)

	again, err := store.EditSessionRepository().GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, titled.Title, again.Title, "the title sticks after the first message")
}

func TestSessionsAndTranscript(t *testing.T) {
	t.Parallel()

	ed, _ := newEditor(t, &fakeModel{responses: []string{"ok"}}, newFakeSite(sitePages()...))

	session, err := ed.CreateSession(context.Background(), "user-1", "site-1")
	require.NoError(t, err)

	_, err = ed.SendMessage(context.Background(), session.ID, "user-1", "Hello")
	require.NoError(t, err)

	sessions, err := ed.Sessions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.ID, sessions[0].ID)

	messages, err := ed.Transcript(context.Background(), session.ID, "user-1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, models.RoleSystem, messages[0].Role)
	assert.Equal(t, models.RoleUser, messages[1].Role)
	assert.Equal(t, models.RoleAssistant, messages[2].Role)

	_, err = ed.Transcript(context.Background(), session.ID, "somebody-else")
	require.True(t, apperr.IsKind(err, apperr.KindNotFound), "got %v", err)
}
