package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

func TestFetchReturnsPage(t *testing.T) {
	t.Parallel()

	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>Parcel Number</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	page, err := f.Fetch(context.Background(), property.FetchRequest{
		URL:     srv.URL + "/property-details?parcel=1",
		Headers: http.Header{"Referer": {srv.URL + "/quick-search"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.HTML), "Parcel Number")
	require.Equal(t, srv.URL+"/property-details?parcel=1", page.URL)
	require.False(t, page.UsedHeadless)
	require.Equal(t, DefaultUserAgent, gotUA)
	require.Equal(t, srv.URL+"/quick-search", gotReferer)
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), property.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
	}
}

func TestFetchNon200IsTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), property.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errors.Is(err, property.ErrTransport), "got %v", err)
	require.False(t, errors.Is(err, property.ErrTimeout))
}

func TestFetchConnectionRefusedIsTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), property.FetchRequest{URL: addr})
	require.Error(t, err)
	require.True(t, errors.Is(err, property.ErrTransport), "got %v", err)
}

func TestFetchSlowServerIsTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Config{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), property.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errors.Is(err, property.ErrTimeout), "got %v", err)
}

func TestFetchHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, property.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestOpenReturnsClosableSession(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}).Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestCollectorAppliesConfig(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "agent", RespectRobots: true, Timeout: time.Second})
	c := f.collector(&visit{request: property.FetchRequest{URL: "https://www.pcpao.gov"}})
	require.Equal(t, "agent", c.UserAgent)
	require.False(t, c.IgnoreRobotsTxt)
	require.True(t, c.AllowURLRevisit)
}

func TestVisitCallbacks(t *testing.T) {
	t.Parallel()

	v := &visit{
		request: property.FetchRequest{
			URL:     "https://www.pcpao.gov/quick-search",
			Headers: http.Header{"Referer": {"https://www.pcpao.gov"}},
		},
		start: time.Unix(0, 0),
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	v.onRequest(collyReq)
	require.Equal(t, "https://www.pcpao.gov", collyReq.Headers.Get("Referer"))

	v.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://www.pcpao.gov/property-details?parcel=1")},
	})
	require.Equal(t, "body", string(v.page.HTML))
	require.Equal(t, "ok", v.page.Headers.Get("X-Resp"))
	require.Equal(t, "https://www.pcpao.gov/quick-search", v.page.URL)
	require.Equal(t, "https://www.pcpao.gov/property-details?parcel=1", v.page.Location())

	v.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	require.True(t, errors.Is(v.err, property.ErrTransport))

	v.onError(nil, context.DeadlineExceeded)
	require.True(t, errors.Is(v.err, property.ErrTimeout))
}

func TestVisitWithoutHeaders(t *testing.T) {
	t.Parallel()

	collyReq := &colly.Request{Headers: &http.Header{}}
	(&visit{}).onRequest(collyReq)
	require.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
