package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/searchd/internal/connector"
)

// WebSourceConfig holds configuration for the web connector source.
type WebSourceConfig struct {
	// UserAgent sent on every request. Default: "searchd/1.0"
	UserAgent string

	// RequestsPerSecond is the sustained request rate against one site.
	// This is proactive pacing, separate from the per-connector slot
	// budget the orchestrator holds. Default: 2
	RequestsPerSecond float64

	// Burst is the token bucket burst size. Default: 1
	Burst int

	// MaxPages caps how many same-host pages one crawl visits.
	// Default: 8
	MaxPages int

	// MaxBodyBytes caps how much of a response body is read.
	// Default: 2MB
	MaxBodyBytes int64

	// RequestTimeout bounds a single fetch. Default: 15s
	RequestTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *WebSourceConfig) ApplyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "searchd/1.0"
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 2
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
	if c.MaxPages == 0 {
		c.MaxPages = 8
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 2 * 1024 * 1024
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
}

// WebSource crawls a website breadth-first, staying on the starting
// host. Requests are paced with a token bucket so a crawl never
// hammers the target site.
type WebSource struct {
	config  WebSourceConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Source = (*WebSource)(nil)

// NewWebSource creates a web source with its own HTTP client.
func NewWebSource(config WebSourceConfig, logger *zap.Logger) *WebSource {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSource{
		config:  config,
		client:  &http.Client{Timeout: config.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:  logger,
	}
}

func (s *WebSource) Connector() connector.Name { return connector.WebConnector }

// FetchDocuments crawls from the target URL, following same-host links
// up to the configured page budget. A failure on the starting page
// fails the crawl; failures on discovered pages are logged and skipped.
func (s *WebSource) FetchDocuments(ctx context.Context, target connector.LinkTarget) ([]SourceDocument, error) {
	web, ok := target.(connector.WebTarget)
	if !ok {
		return nil, fmt.Errorf("%w: web source got %s target", connector.ErrInvalidLocation, target.Connector())
	}

	queue := []*url.URL{web.URL}
	visited := map[string]bool{canonical(web.URL): true}
	var docs []SourceDocument

	for len(queue) > 0 && len(docs) < s.config.MaxPages {
		page := queue[0]
		queue = queue[1:]

		doc, links, err := s.fetchPage(ctx, page)
		if err != nil {
			if len(docs) == 0 && canonical(page) == canonical(web.URL) {
				return nil, fmt.Errorf("fetching %s: %w", page, err)
			}
			s.logger.Warn("skipping page",
				zap.String("url", page.String()),
				zap.Error(err),
			)
			continue
		}
		docs = append(docs, doc)

		for _, link := range links {
			if link.Host != web.URL.Host {
				continue
			}
			key := canonical(link)
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, link)
		}
	}
	return docs, nil
}

func (s *WebSource) fetchPage(ctx context.Context, page *url.URL) (SourceDocument, []*url.URL, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return SourceDocument{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page.String(), nil)
	if err != nil {
		return SourceDocument{}, nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return SourceDocument{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SourceDocument{}, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
		return SourceDocument{}, nil, fmt.Errorf("unsupported content type %q", ct)
	}

	title, text, links, err := parsePage(io.LimitReader(resp.Body, s.config.MaxBodyBytes), page)
	if err != nil {
		return SourceDocument{}, nil, fmt.Errorf("parsing page: %w", err)
	}
	if title == "" {
		title = page.String()
	}

	updatedAt := time.Now().UTC()
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if ts, err := http.ParseTime(lm); err == nil {
			updatedAt = ts.UTC()
		}
	}

	return SourceDocument{
		ID:      canonical(page),
		Title:   title,
		Content: text,
		Metadata: map[string]string{
			"url":  page.String(),
			"host": page.Host,
		},
		UpdatedAt: updatedAt,
	}, links, nil
}

// canonical normalizes a URL for deduplication: fragments dropped,
// trailing slash trimmed.
func canonical(u *url.URL) string {
	c := *u
	c.Fragment = ""
	return strings.TrimSuffix(c.String(), "/")
}

// parsePage extracts the title, visible text, and outbound links from
// an HTML document.
func parsePage(r io.Reader, base *url.URL) (title, text string, links []*url.URL, err error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", "", nil, err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case "a":
				for _, attr := range n.Attr {
					if attr.Key != "href" {
						continue
					}
					ref, err := url.Parse(strings.TrimSpace(attr.Val))
					if err != nil {
						continue
					}
					resolved := base.ResolveReference(ref)
					if resolved.Scheme == "http" || resolved.Scheme == "https" {
						links = append(links, resolved)
					}
				}
			}
		case html.TextNode:
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(trimmed)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	return title, sb.String(), links, nil
}
