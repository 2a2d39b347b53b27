package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var webClient = &http.Client{Timeout: 30 * time.Second}

// WebSearchTool queries the Brave search API.
type WebSearchTool struct {
	apiKey     string
	maxResults int
}

func NewWebSearchTool(apiKey string, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{apiKey: apiKey, maxResults: maxResults}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web and return result summaries." }
func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Search query"},
		},
		"required": []string{"query"},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	query := stringArg(args, "query")
	if t.apiKey == "" {
		return ErrorResult("web search is not configured: missing search API key"), nil
	}

	endpoint := "https://api.search.brave.com/res/v1/web/search?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", t.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := webClient.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Sprintf("search failed: http %d", resp.StatusCode)), nil
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ErrorResult(fmt.Sprintf("search decode failed: %v", err)), nil
	}

	var b strings.Builder
	for i, r := range parsed.Web.Results {
		if i >= t.maxResults {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
	}
	if b.Len() == 0 {
		return NewResult("no results"), nil
	}
	return NewResult(b.String()), nil
}

// WebFetchTool fetches a URL and returns its text content.
type WebFetchTool struct{}

func NewWebFetchTool() *WebFetchTool { return &WebFetchTool{} }

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and return its readable text." }
func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "description": "URL to fetch"},
		},
		"required": []string{"url"},
	}
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	target := stringArg(args, "url")
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ErrorResult("invalid url, must be http or https"), nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "nanoroom/1.0")

	resp, err := webClient.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err)), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Sprintf("fetch failed: http %d", resp.StatusCode)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err)), nil
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = StripHTML(text)
	}
	if len(text) > maxReadBytes {
		text = text[:maxReadBytes] + "\n[truncated]"
	}
	return NewResult(text), nil
}

// StripHTML reduces an HTML document to whitespace-normalized text.
func StripHTML(html string) string {
	text := scriptRe.ReplaceAllString(html, "")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")
	text = strings.ReplaceAll(text, "&nbsp;", " ")

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return blankRe.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
}
