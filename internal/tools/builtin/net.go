package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/net/html"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	defaultMaxRespBytes = 1 << 20 // 1 MiB
	browserNavTimeout   = 20 * time.Second
)

var allowedHTTPMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "DELETE": {}, "PATCH": {}, "HEAD": {}, "OPTIONS": {},
}

var sensitiveHeaderSubstrings = []string{"authorization", "api-key", "apikey", "token", "secret"}

// HTTPRequestTool issues an HTTP request to a domain-allowlisted host
// (spec §4.4) and returns a truncated, header-redacted rendering of the
// response.
type HTTPRequestTool struct {
	security  *secpolicy.Policy
	client    *http.Client
	userAgent string
	maxBytes  int
}

func NewHTTPRequestTool(security *secpolicy.Policy, userAgent string) *HTTPRequestTool {
	if userAgent == "" {
		userAgent = "zeroclaw-agent/1.0"
	}
	return &HTTPRequestTool{
		security: security,
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
		maxBytes:  defaultMaxRespBytes,
	}
}

func (t *HTTPRequestTool) Name() string { return "http_request" }
func (t *HTTPRequestTool) Description() string {
	return "Make an HTTP request to an allowlisted domain. Supports GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS."
}

func (t *HTTPRequestTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "description": "The URL to request (http:// or https://)"},
			"method":  map[string]any{"type": "string", "description": "HTTP method. Defaults to GET."},
			"headers": map[string]any{"type": "object", "description": "Optional request headers"},
			"body":    map[string]any{"type": "string", "description": "Optional request body"},
		},
		"required": []string{"url"},
	})
}

func (t *HTTPRequestTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		URL     string            `json:"url"`
		Method  string            `json:"method"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return invalidInput(err)
	}

	method := strings.ToUpper(strings.TrimSpace(params.Method))
	if method == "" {
		method = "GET"
	}
	if _, ok := allowedHTTPMethods[method]; !ok {
		return invalidInput(fmt.Errorf("unsupported HTTP method: %s. Supported: GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS", method))
	}

	if _, err := t.security.ValidateDomain(params.URL); err != nil {
		return fromPolicyError(err)
	}

	var bodyReader io.Reader
	if params.Body != "" {
		bodyReader = strings.NewReader(params.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, params.URL, bodyReader)
	if err != nil {
		return invalidInput(err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	for key, value := range params.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, int64(t.maxBytes)+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to read response: %v", err)}, nil
	}

	truncated := len(data) > t.maxBytes
	if truncated {
		data = data[:t.maxBytes]
	}
	body := string(data)
	if truncated {
		body += "\n\n... [Response truncated due to size limit] ..."
	}

	reqHeaders := redactHeaders(params.Headers)
	var hdrSummary strings.Builder
	for k, v := range reqHeaders {
		fmt.Fprintf(&hdrSummary, "%s: %s\n", k, v)
	}

	output := fmt.Sprintf("HTTP %d %s %s\n%s\n%s", resp.StatusCode, method, params.URL, hdrSummary.String(), body)
	return &agentcore.ToolResult{Success: resp.StatusCode < 400, Output: output}, nil
}

func redactHeaders(headers map[string]string) map[string]string {
	redacted := make(map[string]string, len(headers))
	for key, value := range headers {
		lower := strings.ToLower(key)
		sensitive := false
		for _, substr := range sensitiveHeaderSubstrings {
			if strings.Contains(lower, substr) {
				sensitive = true
				break
			}
		}
		if sensitive {
			redacted[key] = "***REDACTED***"
		} else {
			redacted[key] = value
		}
	}
	return redacted
}

// WebFetchTool fetches an allowlisted URL and extracts its visible text,
// stripping markup so the agent reads prose rather than HTML.
type WebFetchTool struct {
	security *secpolicy.Policy
	client   *http.Client
	maxBytes int
}

func NewWebFetchTool(security *secpolicy.Policy) *WebFetchTool {
	return &WebFetchTool{
		security: security,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		maxBytes: defaultMaxRespBytes,
	}
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a web page from an allowlisted domain and return its visible text content" }

func (t *WebFetchTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "The URL to fetch (http:// or https://)"},
		},
		"required": []string{"url"},
	})
}

func (t *WebFetchTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return invalidInput(err)
	}

	if _, err := t.security.ValidateDomain(params.URL); err != nil {
		return fromPolicyError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return invalidInput(err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Fetch failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, int64(t.maxBytes)+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to read response: %v", err)}, nil
	}

	text := extractVisibleText(bytes.NewReader(data))
	return &agentcore.ToolResult{Success: resp.StatusCode < 400, Output: text}, nil
}

// extractVisibleText walks the parsed HTML tree, skipping script/style
// nodes, and joins text nodes with single spaces.
func extractVisibleText(r io.Reader) string {
	doc, err := html.Parse(r)
	if err != nil {
		return ""
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(buf.String())
}

// BrowserOpenTool opens an allowlisted URL in a headless browser and returns
// the rendered page's visible text, for pages that require JavaScript.
// Each call launches and tears down its own Chromium instance; callers that
// need high call volume should rate-limit via secpolicy rather than expect
// instance reuse.
type BrowserOpenTool struct {
	security *secpolicy.Policy
}

func NewBrowserOpenTool(security *secpolicy.Policy) *BrowserOpenTool {
	return &BrowserOpenTool{security: security}
}

func (t *BrowserOpenTool) Name() string { return "browser_open" }
func (t *BrowserOpenTool) Description() string {
	return "Open an allowlisted URL in a headless browser and return the rendered page's visible text. Use for JavaScript-heavy pages web_fetch cannot render."
}

func (t *BrowserOpenTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "The URL to open (http:// or https://)"},
		},
		"required": []string{"url"},
	})
}

func (t *BrowserOpenTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return invalidInput(err)
	}

	if _, err := t.security.ValidateDomain(params.URL); err != nil {
		return fromPolicyError(err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to start browser runtime: %v", err)}, nil
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(true)})
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to launch browser: %v", err)}, nil
	}
	defer browser.Close()

	page, err := browser.NewPage()
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to open page: %v", err)}, nil
	}

	if _, err := page.Goto(params.URL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(browserNavTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindTimeout, Error: fmt.Sprintf("Failed to navigate: %v", err)}, nil
	}

	text, err := page.InnerText("body")
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to read page text: %v", err)}, nil
	}

	return &agentcore.ToolResult{Success: true, Output: strings.TrimSpace(text)}, nil
}
