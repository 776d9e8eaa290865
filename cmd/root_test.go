package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinellas-property-scraper/internal/config"
	"github.com/JakeFAU/pinellas-property-scraper/internal/lookup"
	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

type fakeApp struct {
	result   lookup.Result
	runErr   error
	lookedUp string
	ran      bool
	closed   bool
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return f.runErr
}

func (f *fakeApp) Lookup(_ context.Context, raw string) lookup.Result {
	f.lookedUp = raw
	return f.result
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

// withFakeApp swaps the package factories; tests using it cannot run in parallel.
func withFakeApp(t *testing.T, app *fakeApp, buildErr error) *config.Config {
	t.Helper()
	var seen config.Config
	origApp, origLogger := newApp, newLogger
	newApp = func(_ context.Context, cfg *config.Config, _ *zap.Logger) (App, error) {
		seen = *cfg
		if buildErr != nil {
			return nil, buildErr
		}
		return app, nil
	}
	newLogger = func(bool, string) (*zap.Logger, error) { return zap.NewNop(), nil }
	t.Cleanup(func() {
		newApp, newLogger = origApp, origLogger
	})
	return &seen
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLookupCommandPrintsRecord(t *testing.T) {
	app := &fakeApp{result: lookup.Result{
		LookupID: "abc",
		Record:   property.Record{property.FieldOwner: "SMITH JOHN"},
	}}
	withFakeApp(t, app, nil)

	out, err := execute(t, "lookup", "1505", "Maple", "St")
	require.NoError(t, err)
	require.Equal(t, "1505 Maple St", app.lookedUp)
	require.True(t, app.closed)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, "success", payload["status"])
	require.Equal(t, "SMITH JOHN", payload[property.FieldOwner])
	require.Equal(t, "abc", payload["lookupId"])
}

func TestLookupCommandCompact(t *testing.T) {
	app := &fakeApp{result: lookup.Result{Record: property.Record{property.FieldOwner: "X"}}}
	withFakeApp(t, app, nil)

	out, err := execute(t, "lookup", "--compact", "1 Main St")
	require.NoError(t, err)
	require.Equal(t, 1, bytes.Count([]byte(out), []byte("\n")))
}

func TestLookupCommandFailureExitsNonZero(t *testing.T) {
	app := &fakeApp{result: lookup.Result{
		Err:        errors.New("boom"),
		Message:    lookup.MsgNoResults,
		Suggestion: lookup.SuggestNoResults,
	}}
	withFakeApp(t, app, nil)

	out, err := execute(t, "lookup", "nowhere")
	require.ErrorIs(t, err, errLookupFailed)
	require.Contains(t, err.Error(), lookup.MsgNoResults)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, "error", payload["status"])
	require.Equal(t, lookup.SuggestNoResults, payload["suggestion"])
}

func TestLookupCommandRequiresAddress(t *testing.T) {
	withFakeApp(t, &fakeApp{}, nil)
	_, err := execute(t, "lookup")
	require.Error(t, err)
}

func TestServeCommandRunsApp(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app, nil)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	require.True(t, app.ran)
	require.True(t, app.closed)
}

func TestServeCommandIgnoresCancellation(t *testing.T) {
	withFakeApp(t, &fakeApp{runErr: context.Canceled}, nil)
	_, err := execute(t, "serve")
	require.NoError(t, err)
}

func TestServeCommandPropagatesRunError(t *testing.T) {
	withFakeApp(t, &fakeApp{runErr: errors.New("bind: address in use")}, nil)
	_, err := execute(t, "serve")
	require.ErrorContains(t, err, "address in use")
}

func TestRootLoadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600))
	seen := withFakeApp(t, &fakeApp{}, nil)

	_, err := execute(t, "serve", "--config", path)
	require.NoError(t, err)
	require.Equal(t, 9191, seen.Server.Port)
}

func TestRootReportsConfigErrors(t *testing.T) {
	withFakeApp(t, &fakeApp{}, nil)
	_, err := execute(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestRootReportsBuildErrors(t *testing.T) {
	withFakeApp(t, nil, errors.New("no bucket"))
	_, err := execute(t, "serve")
	require.ErrorContains(t, err, "no bucket")
}

func TestBatchCommandReadsStdin(t *testing.T) {
	app := &fakeApp{result: lookup.Result{LookupID: "x", Record: property.Record{property.FieldOwner: "O"}}}
	withFakeApp(t, app, nil)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(bytes.NewBufferString("# addresses\n1505 MAPLE ST\n\n200 MAIN ST\n"))
	root.SetArgs([]string{"batch", "--workers", "1"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.Equal(t, "1505 MAPLE ST", first["input"])
	require.Equal(t, "success", first["status"])
}

func TestBatchCommandReadsFileAndReportsFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresses.txt")
	require.NoError(t, os.WriteFile(path, []byte("nowhere\n"), 0o600))
	app := &fakeApp{result: lookup.Result{Err: errors.New("boom"), Message: lookup.MsgNoResults}}
	withFakeApp(t, app, nil)

	out, err := execute(t, "batch", "-f", path)
	require.ErrorIs(t, err, errLookupFailed)
	require.Contains(t, out, `"status":"error"`)
	require.Equal(t, "nowhere", app.lookedUp)
}
