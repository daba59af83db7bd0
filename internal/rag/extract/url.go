package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"

	"groundedqa/internal/rag/domain"
)

// URLExtractor fetches a remote page, capped at maxBytes, restricted to an
// allowlist of hosts, and extracts its main article text via Readability,
// falling back to a markdown rendering of the full document.
type URLExtractor struct {
	maxBytes  int64
	allowlist map[string]struct{}
	client    *http.Client
}

func NewURLExtractor(maxBytes int64, allowlist []string) *URLExtractor {
	m := make(map[string]struct{}, len(allowlist))
	for _, h := range allowlist {
		m[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return &URLExtractor{
		maxBytes:  maxBytes,
		allowlist: m,
		client: &http.Client{
			Timeout: 20 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
	}
}

func (e *URLExtractor) hostAllowed(host string) bool {
	return HostAllowed(e.allowlist, host)
}

// HostAllowed reports whether host is permitted by allowlist. An empty
// allowlist (as a map) permits every host; callers with a raw []string
// allowlist should use HostAllowedList instead.
func HostAllowed(allowlist map[string]struct{}, host string) bool {
	if len(allowlist) == 0 {
		return true
	}
	_, ok := allowlist[strings.ToLower(host)]
	return ok
}

// HostAllowedList is the []string-allowlist variant of HostAllowed, used by
// callers (e.g. the ingest-time synchronous check in service.IngestURL)
// that only have the raw config value and haven't built a URLExtractor.
func HostAllowedList(allowlist []string, host string) bool {
	if len(allowlist) == 0 {
		return true
	}
	m := make(map[string]struct{}, len(allowlist))
	for _, h := range allowlist {
		m[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return HostAllowed(m, host)
}

func (e *URLExtractor) Extract(ctx context.Context, raw []byte, origin string) (Result, error) {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{}, domain.ValidationError("extract.url", "invalid url: "+origin)
	}
	if !e.hostAllowed(u.Hostname()) {
		return Result{}, domain.ForbiddenError("extract.url", "host not allowed: "+u.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, domain.ValidationError("extract.url", err.Error())
	}
	req.Header.Set("User-Agent", "groundedqa-ingest/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, domain.ProviderError("extract.url", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Result{}, domain.ValidationError("extract.url", fmt.Sprintf("fetch failed with status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return Result{}, domain.ProviderError("extract.url", err)
	}
	if int64(len(body)) > e.maxBytes {
		return Result{}, domain.ValidationError("extract.url", fmt.Sprintf("url content exceeds max size of %d bytes", e.maxBytes))
	}

	html := string(body)
	finalURL := resp.Request.URL

	var articleHTML, title string
	if art, rerr := readability.FromReader(strings.NewReader(html), finalURL); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
	} else {
		articleHTML = html
	}

	md, err := htmltomarkdown.ConvertString(articleHTML)
	if err != nil {
		return Result{}, domain.ValidationError("extract.url", "html to text conversion failed: "+err.Error())
	}
	text := strings.TrimSpace(md)
	if title != "" && !strings.HasPrefix(text, "# ") {
		text = "# " + title + "\n\n" + text
	}
	if text == "" {
		return Result{}, domain.ValidationError("extract.url", "no extractable text found at url")
	}

	return Result{Text: text}, nil
}
