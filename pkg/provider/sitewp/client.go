// Package sitewp drives a provisioned site's WordPress REST surface
// with basic-auth application credentials.
package sitewp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/webtosite/webtosite/pkg/provider"
)

const (
	vendor = "wordpress"

	restBase   = "/wp-json/wp/v2"
	pluginBase = "/wp-json/wts/v1"

	defaultTimeout = 30 * time.Second
	mediaBodyLimit = 10 << 20
)

// Client talks to one site's REST API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *slog.Logger
	retry      provider.Retry
}

// RenderedText is WordPress's {raw, rendered} text shape. Plain
// strings in responses are tolerated.
type RenderedText struct {
	Raw      string `json:"raw,omitempty"`
	Rendered string `json:"rendered,omitempty"`
}

// UnmarshalJSON accepts both the object form and a bare string.
func (r *RenderedText) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		r.Rendered = asString

		return nil
	}

	type alias RenderedText

	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*r = RenderedText(decoded)

	return nil
}

// Text prefers the raw editing form over the rendered one.
func (r RenderedText) Text() string {
	if r.Raw != "" {
		return r.Raw
	}

	return r.Rendered
}

// Page is one WordPress page.
type Page struct {
	ID      int          `json:"id"`
	Slug    string       `json:"slug"`
	Status  string       `json:"status"`
	Link    string       `json:"link"`
	Title   RenderedText `json:"title"`
	Content RenderedText `json:"content"`
}

// Plugin is one installed plugin.
type Plugin struct {
	Plugin string       `json:"plugin"`
	Status string       `json:"status"`
	Name   RenderedText `json:"name"`
}

// Media is one uploaded media item.
type Media struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
}

// CreatePageParams describes one page creation.
type CreatePageParams struct {
	Title   string
	Content string
	Slug    string
	Status  string
}

// NewClient builds a client for one site. Base URL is the site root;
// the REST prefix is appended per call.
func NewClient(baseURL, username, password string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("vendor", vendor),
		retry:      provider.DefaultRetry(),
	}
}

// SetRetry overrides the retry envelope, mainly for tests.
func (c *Client) SetRetry(retry provider.Retry) {
	c.retry = retry
}

// BaseURL returns the site root this client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetSettings fetches the site settings map.
func (c *Client) GetSettings(ctx context.Context) (map[string]any, error) {
	return provider.Do(ctx, c.logger, c.retry, "settings.get", func(ctx context.Context) (map[string]any, error) {
		var settings map[string]any
		if err := c.do(ctx, http.MethodGet, restBase+"/settings", nil, &settings); err != nil {
			return nil, err
		}

		return settings, nil
	})
}

// UpdateSettings applies a partial settings update.
func (c *Client) UpdateSettings(ctx context.Context, updates map[string]any) (map[string]any, error) {
	return provider.Do(ctx, c.logger, c.retry, "settings.update", func(ctx context.Context) (map[string]any, error) {
		var settings map[string]any
		if err := c.do(ctx, http.MethodPost, restBase+"/settings", updates, &settings); err != nil {
			return nil, err
		}

		return settings, nil
	})
}

// ListPages fetches up to one hundred pages in their editing form.
func (c *Client) ListPages(ctx context.Context) ([]Page, error) {
	return provider.Do(ctx, c.logger, c.retry, "pages.list", func(ctx context.Context) ([]Page, error) {
		var pages []Page
		if err := c.do(ctx, http.MethodGet, restBase+"/pages?per_page=100&context=edit", nil, &pages); err != nil {
			return nil, err
		}

		return pages, nil
	})
}

// CreatePage creates a page. Status defaults to publish.
func (c *Client) CreatePage(ctx context.Context, params CreatePageParams) (*Page, error) {
	return provider.Do(ctx, c.logger, c.retry, "pages.create", func(ctx context.Context) (*Page, error) {
		status := params.Status
		if status == "" {
			status = "publish"
		}

		payload := map[string]any{
			"title":   params.Title,
			"content": params.Content,
			"status":  status,
		}
		if params.Slug != "" {
			payload["slug"] = params.Slug
		}

		var page Page
		if err := c.do(ctx, http.MethodPost, restBase+"/pages", payload, &page); err != nil {
			return nil, err
		}

		return &page, nil
	})
}

// UpdatePage applies a partial update to one page.
func (c *Client) UpdatePage(ctx context.Context, pageID int, updates map[string]any) (*Page, error) {
	return provider.Do(ctx, c.logger, c.retry, "pages.update", func(ctx context.Context) (*Page, error) {
		var page Page
		if err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/pages/%d", restBase, pageID), updates, &page); err != nil {
			return nil, err
		}

		return &page, nil
	})
}

// InstallPlugin installs a plugin from the directory and optionally
// activates it. When the plugin already exists the existing install is
// activated instead.
func (c *Client) InstallPlugin(ctx context.Context, slug string, activate bool) (*Plugin, error) {
	status := "inactive"
	if activate {
		status = "active"
	}

	installed, err := provider.Do(ctx, c.logger, c.retry, "plugins.install", func(ctx context.Context) (*Plugin, error) {
		payload := map[string]any{"slug": slug, "status": status}

		var plugin Plugin
		if err := c.do(ctx, http.MethodPost, restBase+"/plugins", payload, &plugin); err != nil {
			return nil, err
		}

		return &plugin, nil
	})
	if err == nil {
		return installed, nil
	}

	if !isAlreadyInstalled(err) {
		return nil, err
	}

	if !activate {
		return &Plugin{Plugin: slug, Status: "inactive"}, nil
	}

	return c.ActivatePlugin(ctx, slug)
}

// ActivatePlugin activates an installed plugin. The identifier may be
// a bare slug; WordPress's slug/slug form is derived from it.
func (c *Client) ActivatePlugin(ctx context.Context, identifier string) (*Plugin, error) {
	if !strings.Contains(identifier, "/") {
		identifier = identifier + "/" + identifier
	}

	return provider.Do(ctx, c.logger, c.retry, "plugins.activate", func(ctx context.Context) (*Plugin, error) {
		payload := map[string]any{"status": "active"}

		var plugin Plugin
		if err := c.do(ctx, http.MethodPost, restBase+"/plugins/"+identifier, payload, &plugin); err != nil {
			return nil, err
		}

		return &plugin, nil
	})
}

// UploadMediaFromURL downloads an external asset and re-uploads it to
// the site's media library.
func (c *Client) UploadMediaFromURL(ctx context.Context, sourceURL, filename string) (*Media, error) {
	data, contentType, err := c.download(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	if filename == "" {
		filename = filenameFromURL(sourceURL, contentType)
	}

	return provider.Do(ctx, c.logger, c.retry, "media.upload", func(ctx context.Context) (*Media, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+restBase+"/media", bytes.NewReader(data))
		if err != nil {
			return nil, provider.NewError(vendor, provider.KindUpstreamInvalid, 0, err.Error())
		}

		req.SetBasicAuth(c.username, c.password)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, provider.FromTransport(vendor, err)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, provider.FromTransport(vendor, err)
		}

		if resp.StatusCode >= 400 {
			return nil, restError(resp.StatusCode, raw)
		}

		var media Media
		if err := json.Unmarshal(raw, &media); err != nil {
			return nil, provider.NewError(vendor, provider.KindUpstreamInvalid, resp.StatusCode, err.Error())
		}

		return &media, nil
	})
}

// SetCustomCSS writes site-wide CSS through the companion plugin
// channel.
func (c *Client) SetCustomCSS(ctx context.Context, css string) error {
	_, err := provider.Do(ctx, c.logger, c.retry, "custom_css.set", func(ctx context.Context) (struct{}, error) {
		payload := map[string]any{"css": css}

		return struct{}{}, c.do(ctx, http.MethodPost, pluginBase+"/custom-css", payload, nil)
	})

	return err
}

// PushAPIKey stores a proxy API key in the companion plugin settings.
func (c *Client) PushAPIKey(ctx context.Context, key string) error {
	_, err := provider.Do(ctx, c.logger, c.retry, "api_key.push", func(ctx context.Context) (struct{}, error) {
		payload := map[string]any{"api_key": key}

		return struct{}{}, c.do(ctx, http.MethodPost, pluginBase+"/api-key", payload, nil)
	})

	return err
}

func (c *Client) download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", provider.NewError(vendor, provider.KindUpstreamInvalid, 0, err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", provider.FromTransport(vendor, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, "", provider.FromStatus(vendor, resp.StatusCode,
			fmt.Sprintf("downloading %s", sourceURL))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, mediaBodyLimit))
	if err != nil {
		return nil, "", provider.FromTransport(vendor, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return data, contentType, nil
}

type restErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func restError(status int, raw []byte) *provider.Error {
	var body restErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		return provider.FromStatus(vendor, status, strings.TrimSpace(string(raw)))
	}

	return provider.FromStatus(vendor, status, fmt.Sprintf("[%s] %s", body.Code, body.Message))
}

// isAlreadyInstalled recognises the install-time conflict WordPress
// reports for plugins that are already present.
func isAlreadyInstalled(err error) bool {
	pe, ok := provider.AsError(err)
	if !ok {
		return false
	}

	if pe.Kind == provider.KindConflict {
		return true
	}

	message := strings.ToLower(pe.VendorMessage)

	return strings.Contains(message, "already installed") ||
		strings.Contains(message, "already exists") ||
		strings.Contains(message, "folder_exists")
}

func (c *Client) do(ctx context.Context, method, pathWithQuery string, payload, out any) error {
	var body io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return provider.NewError(vendor, provider.KindUpstreamInvalid, 0, err.Error())
		}

		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathWithQuery, body)
	if err != nil {
		return provider.NewError(vendor, provider.KindUpstreamInvalid, 0, err.Error())
	}

	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.FromTransport(vendor, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.FromTransport(vendor, err)
	}

	if resp.StatusCode >= 400 {
		return restError(resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return provider.NewError(vendor, provider.KindUpstreamInvalid, resp.StatusCode, err.Error())
		}
	}

	return nil
}

func filenameFromURL(sourceURL, contentType string) string {
	name := path.Base(strings.SplitN(sourceURL, "?", 2)[0])
	if name != "" && name != "." && name != "/" && strings.Contains(name, ".") {
		return name
	}

	exts, _ := mime.ExtensionsByType(contentType)
	ext := ".bin"

	if len(exts) > 0 {
		ext = exts[0]
	}

	return "upload" + ext
}
