package gcs

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

type capturedUpload struct {
	mu   sync.Mutex
	path string
	body string
}

func newTestClient(t *testing.T, status int, captured *capturedUpload) *storage.Client {
	t.Helper()
	transport := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(r.Body)
		captured.mu.Lock()
		captured.path = r.URL.Path
		captured.body = string(body)
		captured.mu.Unlock()
		payload := `{"bucket":"snapshots","name":"2025/01/02/id.html"}`
		if status != http.StatusOK {
			payload = `{"error":{"code":403,"message":"forbidden"}}`
		}
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(payload)),
			Request:    r,
		}, nil
	})
	client, err := storage.NewClient(context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: transport}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.StatusOK, &capturedUpload{})
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "archive.bucket")
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	captured := &capturedUpload{}
	store, err := New(newTestClient(t, http.StatusOK, captured), Config{Bucket: "snapshots"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "/2025/01/02/id.html", "text/html; charset=utf-8",
		strings.NewReader("<html>parcel</html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/2025/01/02/id.html", uri)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	require.Contains(t, captured.path, "/b/snapshots/o")
	require.Contains(t, captured.body, "<html>parcel</html>")
	require.Contains(t, captured.body, "text/html")
}

func TestPutObjectRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.StatusOK, &capturedUpload{}), Config{Bucket: "snapshots"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "/", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObjectSurfacesUploadFailure(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.StatusForbidden, &capturedUpload{}), Config{Bucket: "snapshots"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "id.html", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}
