package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtosite/webtosite/pkg/deploy"
	"github.com/webtosite/webtosite/pkg/editor"
	"github.com/webtosite/webtosite/pkg/onboarding"
	"github.com/webtosite/webtosite/pkg/persistence/memory"
	"github.com/webtosite/webtosite/pkg/provider"
	"github.com/webtosite/webtosite/pkg/provider/ai"
	"github.com/webtosite/webtosite/pkg/provider/cloudflare"
	"github.com/webtosite/webtosite/pkg/provider/firecrawl"
	"github.com/webtosite/webtosite/pkg/provider/instawp"
	"github.com/webtosite/webtosite/pkg/provider/sitewp"
	"github.com/webtosite/webtosite/pkg/proxy"
	"github.com/webtosite/webtosite/pkg/web"
	"github.com/webtosite/webtosite/pkg/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() provider.Retry {
	return provider.Retry{
		InitialInterval:     time.Millisecond,
		Multiplier:          1.5,
		RandomizationFactor: 0,
		MaxElapsedTime:      time.Second,
		MaxAttempts:         3,
	}
}

type fakeAI struct {
	mu    sync.Mutex
	reply ai.Completion
	err   error
	calls int
}

func (f *fakeAI) Complete(_ context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	reply := f.reply
	if reply.Model == "" {
		reply.Model = req.Model
	}

	return &reply, nil
}

func (f *fakeAI) Vendor() string { return "openai" }

type stubHost struct {
	mu        sync.Mutex
	site      instawp.Site
	createErr error
}

func (s *stubHost) CreateSite(_ context.Context, _ instawp.CreateSiteParams) (*instawp.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return nil, s.createErr
	}

	site := s.site

	return &site, nil
}

func (s *stubHost) WaitUntilReady(_ context.Context, _ int64) (*instawp.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	site := s.site

	return &site, nil
}

func (s *stubHost) MapDomain(_ context.Context, _ int64, _ string, _ instawp.DomainOptions) (*instawp.DomainMapping, error) {
	return &instawp.DomainMapping{ARecords: []string{"1.2.3.4"}}, nil
}

func (s *stubHost) GetSSLStatus(_ context.Context, _ int64) (*instawp.SSLStatus, error) {
	return &instawp.SSLStatus{Enabled: false, Status: "pending"}, nil
}

type stubDNS struct{}

func (stubDNS) EnsureZone(_ context.Context, name string) (*cloudflare.Zone, bool, error) {
	return &cloudflare.Zone{ID: "z1", Name: name, NameServers: []string{"ns1", "ns2"}}, true, nil
}

func (stubDNS) ReplaceARecords(_ context.Context, _, name string, ips []string, proxied bool) ([]cloudflare.DNSRecord, error) {
	records := make([]cloudflare.DNSRecord, 0, len(ips))
	for _, ip := range ips {
		records = append(records, cloudflare.DNSRecord{Type: "A", Name: name, Content: ip, Proxied: proxied})
	}

	return records, nil
}

func (stubDNS) ConfigureSecurity(_ context.Context, _ string) []cloudflare.SettingOutcome {
	return nil
}

type stubScraper struct{}

func (stubScraper) Scrape(_ context.Context, url string, _ firecrawl.ScrapeOptions) (*firecrawl.ScrapeResult, error) {
	return &firecrawl.ScrapeResult{
		Markdown: "# Alpha Plumbing\nEmergency repairs around the clock.",
		Metadata: firecrawl.Metadata{Title: "Alpha Plumbing", SourceURL: url},
	}, nil
}

type stubSite struct{}

func (stubSite) BaseURL() string { return "https://site.test" }

func (stubSite) ListPages(_ context.Context) ([]sitewp.Page, error) {
	return nil, nil
}

func (stubSite) CreatePage(_ context.Context, _ sitewp.CreatePageParams) (*sitewp.Page, error) {
	return &sitewp.Page{ID: 1}, nil
}

func (stubSite) UpdatePage(_ context.Context, pageID int, _ map[string]any) (*sitewp.Page, error) {
	return &sitewp.Page{ID: pageID}, nil
}

func (stubSite) UpdateSettings(_ context.Context, updates map[string]any) (map[string]any, error) {
	return updates, nil
}

type fixture struct {
	store *memory.Persistence
	host  *stubHost
	ai    *fakeAI
}

func newFixture() *fixture {
	return &fixture{
		store: memory.NewPersistence(),
		host: &stubHost{
			site: instawp.Site{ID: 101, WPURL: "https://s1.host", WPUsername: "u", WPPassword: "p"},
		},
		ai: &fakeAI{
			reply: ai.Completion{
				Content: "Done.",
				Usage:   ai.Usage{Prompt: 5, Completion: 7, Total: 12},
			},
		},
	}
}

// app assembles the full gateway around memory persistence and stub
// providers.
func (f *fixture) app(cfg web.Config) *fiber.App {
	logger := testLogger()

	provisioner := workflow.NewProvisioner(workflow.ProvisionerConfig{
		DNS:  stubDNS{},
		Host: f.host,
		Credentials: workflow.Credentials{
			HostAPIKey: "host-key",
			DNSAPIKey:  "cf-key",
			DNSEmail:   "ops@alpha.example",
		},
	}, logger)

	catalog := onboarding.NewCatalog("", logger)
	onboarder := onboarding.NewOnboarder(stubScraper{}, f.ai, catalog, onboarding.Config{}, logger)

	applicator := deploy.NewApplicator(deploy.NewContentGenerator(nil, "", logger), logger)

	editorService := editor.NewEditor(f.store, f.ai, func(_ context.Context, _ string) (editor.SiteAPI, error) {
		return stubSite{}, nil
	}, editor.Config{}, logger)
	editorService.SetRetry(fastRetry())

	proxyService := proxy.NewService(f.store, ai.NewRouter(f.ai, nil, nil), logger)
	proxyService.SetRetry(fastRetry())

	handlers := web.NewHandlers(provisioner, onboarder, applicator, editorService, proxyService, f.store, logger)

	return web.NewServer(handlers, nil, cfg).App()
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	defer func() { require.NoError(t, resp.Body.Close()) }()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

// sseFrames parses every data: frame of a finished stream body.
func sseFrames(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()

	defer func() { require.NoError(t, resp.Body.Close()) }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var frames []map[string]any

	for _, line := range strings.Split(string(raw), "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &frame), "frame %q", data)
		frames = append(frames, frame)
	}

	return frames
}

func frameSteps(frames []map[string]any) []string {
	steps := make([]string, 0, len(frames))
	for _, frame := range frames {
		step, _ := frame["step"].(string)
		steps = append(steps, step)
	}

	return steps
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	app := newFixture().app(web.Config{})

	resp := doJSON(t, app, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
}

func TestSimpleSiteWorkflow_StreamsStagesAndResult(t *testing.T) {
	t.Parallel()

	app := newFixture().app(web.Config{})

	resp := doJSON(t, app, http.MethodPost, "/api/workflows/simple-site", fiber.Map{
		"siteName": "demo-site",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/event-stream")

	frames := sseFrames(t, resp)
	steps := frameSteps(frames)

	require.NotEmpty(t, steps)
	assert.Equal(t, "validating_config", steps[0])
	assert.Contains(t, steps, "creating_site")
	assert.Contains(t, steps, "complete")
	assert.Equal(t, "result", steps[len(steps)-1])

	data, ok := frames[len(frames)-1]["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["success"])
}

func TestDomainSiteWorkflow_InvalidDomainFailsFast(t *testing.T) {
	t.Parallel()

	app := newFixture().app(web.Config{})

	resp := doJSON(t, app, http.MethodPost, "/api/workflows/domain-site", fiber.Map{
		"domain": "not a domain",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "validation_error", errBody["type"])
}

func TestDomainSiteWorkflow_StreamsFullPipeline(t *testing.T) {
	t.Parallel()

	app := newFixture().app(web.Config{})

	resp := doJSON(t, app, http.MethodPost, "/api/workflows/domain-site", fiber.Map{
		"domain": "alpha.example",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := sseFrames(t, resp)

	steps := frameSteps(frames)
	assert.Contains(t, steps, "mapping_domain")
	assert.Contains(t, steps, "creating_cloudflare_zone")
	assert.Contains(t, steps, "setting_dns_records")
	assert.Equal(t, "result", steps[len(steps)-1])

	var prev time.Time

	for _, frame := range frames {
		raw, ok := frame["timestamp"].(string)
		if !ok {
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, raw)
		require.NoError(t, err)
		assert.False(t, ts.Before(prev), "frame timestamps must not go backwards")
		prev = ts
	}
}

func TestSimpleSiteWorkflow_RunErrorEndsStreamWithErrorFrame(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.host.createErr = provider.NewError("instawp", provider.KindUpstreamFailure, 500, "boom")
	app := f.app(web.Config{})

	resp := doJSON(t, app, http.MethodPost, "/api/workflows/simple-site", fiber.Map{
		"siteName": "demo-site",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := sseFrames(t, resp)
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, "error", last["step"])
	assert.NotEmpty(t, last["error"])
}

func TestOnboardingVoice_UnmountedWithoutFlag(t *testing.T) {
	t.Parallel()

	app := newFixture().app(web.Config{})

	resp := doJSON(t, app, http.MethodPost, "/api/onboarding/voice", fiber.Map{
		"answers": map[string]string{"q1": "a plumbing business"},
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestOnboardingCopy_RejectsMissingURL(t *testing.T) {
	t.Parallel()

	app := newFixture().app(web.Config{})

	resp := doJSON(t, app, http.MethodPost, "/api/onboarding/copy", fiber.Map{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestApplyContexts_RequiresAtLeastOneContext(t *testing.T) {
	t.Parallel()

	app := newFixture().app(web.Config{})

	resp := doJSON(t, app, http.MethodPost, "/api/deploy/apply", fiber.Map{
		"credentials": fiber.Map{
			"siteUrl":  "https://s1.host",
			"username": "u",
			"password": "p",
		},
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, errBody["message"], "at least one")
}

func TestEditSessions_AnonymousPrincipalWithoutUserAuth(t *testing.T) {
	t.Parallel()

	f := newFixture()
	app := f.app(web.Config{})

	resp := doJSON(t, app, http.MethodPost, "/api/editor/sessions/", fiber.Map{
		"siteId": "101",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	session := decodeBody(t, resp)
	assert.Equal(t, "local", session["user_id"])
	assert.NotEmpty(t, session["id"])
}

func TestEditSessions_UserAuthRequiresHeader(t *testing.T) {
	t.Parallel()

	app := newFixture().app(web.Config{EnableUserAuth: true})

	resp := doJSON(t, app, http.MethodPost, "/api/editor/sessions/", fiber.Map{
		"siteId": "101",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "auth_error", errBody["type"])
}

func TestEditSessions_ConversationRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture()
	app := f.app(web.Config{EnableUserAuth: true})

	headers := map[string]string{"X-User-ID": "user-1"}

	resp := doJSON(t, app, http.MethodPost, "/api/editor/sessions/", fiber.Map{"siteId": "101"}, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	session := decodeBody(t, resp)
	sessionID, _ := session["id"].(string)
	require.NotEmpty(t, sessionID)

	resp = doJSON(t, app, http.MethodPost, "/api/editor/sessions/"+sessionID+"/messages", fiber.Map{
		"message": "Rename the home page",
	}, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody(t, resp)
	assert.Equal(t, "Done.", result["message"])

	resp = doJSON(t, app, http.MethodGet, "/api/editor/sessions/"+sessionID+"/messages", nil, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	transcript := decodeBody(t, resp)
	messages, ok := transcript["messages"].([]any)
	require.True(t, ok)
	// System prompt, user turn, assistant reply.
	assert.Len(t, messages, 3)

	resp = doJSON(t, app, http.MethodGet, "/api/editor/sessions/", nil, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listing := decodeBody(t, resp)
	sessions, ok := listing["sessions"].([]any)
	require.True(t, ok)
	assert.Len(t, sessions, 1)
}

func TestEditSessions_ForeignSessionStaysHidden(t *testing.T) {
	t.Parallel()

	f := newFixture()
	app := f.app(web.Config{EnableUserAuth: true})

	resp := doJSON(t, app, http.MethodPost, "/api/editor/sessions/", fiber.Map{"siteId": "101"},
		map[string]string{"X-User-ID": "owner"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	session := decodeBody(t, resp)
	sessionID, _ := session["id"].(string)
	require.NotEmpty(t, sessionID)

	resp = doJSON(t, app, http.MethodGet, "/api/editor/sessions/"+sessionID+"/messages", nil,
		map[string]string{"X-User-ID": "intruder"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}
