package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/connector"
)

func webTarget(t *testing.T, rawURL string) connector.LinkTarget {
	t.Helper()
	target, err := connector.ParseTarget(connector.WebConnector, rawURL)
	require.NoError(t, err)
	return target
}

func fastWebSource(maxPages int) *WebSource {
	return NewWebSource(WebSourceConfig{
		RequestsPerSecond: 1000,
		Burst:             100,
		MaxPages:          maxPages,
	}, zap.NewNop())
}

func TestWebSource_CrawlsSameHostLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Home</title></head>
			<body>welcome <a href="/docs">docs</a>
			<a href="https://elsewhere.example/offsite">offsite</a></body></html>`))
	})
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Docs</title></head><body>the documentation</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	docs, err := fastWebSource(8).FetchDocuments(context.Background(), webTarget(t, srv.URL))
	require.NoError(t, err)
	require.Len(t, docs, 2, "offsite link must not be followed")

	assert.Equal(t, "Home", docs[0].Title)
	assert.Contains(t, docs[0].Content, "welcome")
	assert.Equal(t, "Docs", docs[1].Title)
	assert.Contains(t, docs[1].Content, "the documentation")
	assert.Equal(t, srv.URL, docs[0].Metadata["url"])
}

func TestWebSource_MaxPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
			<a href="/p1">1</a><a href="/p2">2</a><a href="/p3">3</a></body></html>`))
	})
	for _, p := range []string{"/p1", "/p2", "/p3"} {
		p := p
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body>page</body></html>`))
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	docs, err := fastWebSource(2).FetchDocuments(context.Background(), webTarget(t, srv.URL))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestWebSource_SkipsBrokenPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Home</title></head>
			<body><a href="/gone">gone</a><a href="/ok">ok</a></body></html>`))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>OK</title></head><body>fine</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	docs, err := fastWebSource(8).FetchDocuments(context.Background(), webTarget(t, srv.URL))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "OK", docs[1].Title)
}

func TestWebSource_RootFailureFailsCrawl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fastWebSource(8).FetchDocuments(context.Background(), webTarget(t, srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestWebSource_UntitledPageFallsBackToURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>no title here</body></html>`))
	}))
	defer srv.Close()

	docs, err := fastWebSource(1).FetchDocuments(context.Background(), webTarget(t, srv.URL))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, srv.URL, docs[0].Title)
}

func TestWebSource_RejectsForeignTarget(t *testing.T) {
	_, err := fastWebSource(1).FetchDocuments(context.Background(), connector.NotionTarget{PageID: "p"})
	require.ErrorIs(t, err, connector.ErrInvalidLocation)
}

func TestParsePage_IgnoresScriptAndStyle(t *testing.T) {
	base, _ := url.Parse("https://example.com/")
	title, text, links, err := parsePage(
		strings.NewReader(`<html><head><title>T</title><style>.x{}</style></head>
			<body><script>var a=1</script>visible <a href="/next">n</a></body></html>`),
		base,
	)
	require.NoError(t, err)
	assert.Equal(t, "T", title)
	assert.Contains(t, text, "visible")
	assert.NotContains(t, text, "var a=1")
	require.Len(t, links, 1)
	assert.Equal(t, "https://example.com/next", links[0].String())
}
