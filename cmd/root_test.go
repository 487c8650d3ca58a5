package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/config"
	"github.com/JakeFAU/ludostock-crawler/internal/ingest"
	"github.com/JakeFAU/ludostock-crawler/internal/report"
)

type mockApp struct {
	mock.Mock
}

func (m *mockApp) Crawl(ctx context.Context, rng catalog.Range) (report.Summary, error) {
	args := m.Called(ctx, rng)
	return args.Get(0).(report.Summary), args.Error(1)
}

func (m *mockApp) Import(ctx context.Context, src io.Reader) (report.Summary, error) {
	b, _ := io.ReadAll(src)
	args := m.Called(ctx, string(b))
	return args.Get(0).(report.Summary), args.Error(1)
}

func (m *mockApp) CrawlReviews(ctx context.Context, rng catalog.Range) (report.Summary, error) {
	args := m.Called(ctx, rng)
	return args.Get(0).(report.Summary), args.Error(1)
}

func (m *mockApp) ResumeRange(ctx context.Context, rng catalog.Range) (catalog.Range, bool, error) {
	args := m.Called(ctx, rng)
	return args.Get(0).(catalog.Range), args.Bool(1), args.Error(2)
}

func (m *mockApp) Close(context.Context) { m.Called() }

// withApp swaps the app factory for the duration of the test and records the
// configuration it was built with.
func withApp(t *testing.T, a App) *config.Config {
	t.Helper()
	var got config.Config
	prev := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		got = cfg
		return a, nil
	}
	t.Cleanup(func() { newApp = prev })
	return &got
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "db:\n  driver: memory\nreport:\n  dir: " + t.TempDir() + "\nlogging:\n  development: false\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestCrawlFlagsOverrideConfig(t *testing.T) {
	a := &mockApp{}
	got := withApp(t, a)
	a.On("Crawl", mock.Anything, catalog.Range{Start: 3, End: 5}).
		Return(report.Summary{RunID: "r1", Created: 4}, nil)
	a.On("Close").Return()

	out, err := execute(t, "crawl", "--config", writeConfig(t),
		"--start-page", "3", "--end-page", "5", "--concurrency", "2", "--no-ingest")
	require.NoError(t, err)

	assert.Equal(t, 2, got.Crawler.Concurrency)
	assert.False(t, got.Ingest.Enabled)
	assert.Contains(t, out, "created,4\n")
	a.AssertExpectations(t)
}

func TestCrawlResume(t *testing.T) {
	a := &mockApp{}
	withApp(t, a)
	a.On("ResumeRange", mock.Anything, catalog.Range{Start: 1, End: 10}).
		Return(catalog.Range{Start: 7, End: 10}, true, nil)
	a.On("Crawl", mock.Anything, catalog.Range{Start: 7, End: 10}).
		Return(report.Summary{RunID: "r2"}, nil)
	a.On("Close").Return()

	_, err := execute(t, "crawl", "--config", writeConfig(t), "--end-page", "10", "--resume")
	require.NoError(t, err)
	a.AssertExpectations(t)
}

func TestCrawlResumeNothingLeft(t *testing.T) {
	a := &mockApp{}
	withApp(t, a)
	a.On("ResumeRange", mock.Anything, mock.Anything).
		Return(catalog.Range{Start: 1, End: 10}, false, ingest.ErrRunComplete)
	a.On("Close").Return()

	_, err := execute(t, "crawl", "--config", writeConfig(t), "--end-page", "10", "--resume")
	require.NoError(t, err)
	a.AssertNotCalled(t, "Crawl", mock.Anything, mock.Anything)
}

func TestCrawlFatalErrorStillPrintsSummary(t *testing.T) {
	a := &mockApp{}
	withApp(t, a)
	a.On("Crawl", mock.Anything, mock.Anything).
		Return(report.Summary{RunID: "r3", Error: "ping store"}, catalog.ErrStoreUnavailable)
	a.On("Close").Return()

	out, err := execute(t, "crawl", "--config", writeConfig(t), "--end-page", "1")
	require.ErrorIs(t, err, catalog.ErrStoreUnavailable)
	assert.Contains(t, out, "run_id,r3\n")
}

func TestCrawlRejectsInvalidRange(t *testing.T) {
	withApp(t, &mockApp{})
	_, err := execute(t, "crawl", "--config", writeConfig(t), "--start-page", "5", "--end-page", "2")
	require.ErrorContains(t, err, "start_page")
}

func TestCrawlReviews(t *testing.T) {
	a := &mockApp{}
	got := withApp(t, a)
	a.On("CrawlReviews", mock.Anything, catalog.Range{Start: 2, End: 4}).
		Return(report.Summary{RunID: "r5", Kind: report.KindReviews, Collected: 30, Broken: []string{"https://trictrac.net/avis/3"}}, nil)
	a.On("Close").Return()

	out, err := execute(t, "crawl", "reviews", "--config", writeConfig(t),
		"--start-page", "2", "--end-page", "4", "--concurrency", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "kind,reviews\n")
	assert.Contains(t, out, "collected,30\n")
	assert.False(t, got.Ingest.Enabled)
	assert.Equal(t, 3, got.Reviews.Concurrency)
	assert.Equal(t, 1, got.Source.StartPage, "game range flags stay untouched")
	a.AssertExpectations(t)
}

func TestCrawlReviewsWrapsError(t *testing.T) {
	a := &mockApp{}
	withApp(t, a)
	a.On("CrawlReviews", mock.Anything, mock.Anything).
		Return(report.Summary{RunID: "r6", Error: "disk full"}, errors.New("disk full"))
	a.On("Close").Return()

	out, err := execute(t, "crawl", "reviews", "--config", writeConfig(t), "--end-page", "1")
	require.ErrorContains(t, err, "crawl reviews: disk full")
	assert.Contains(t, out, "run_id,r6\n")
}

func TestImport(t *testing.T) {
	a := &mockApp{}
	withApp(t, a)
	records := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, os.WriteFile(records, []byte(`{"url":"u","fields":{"Nom":"Catan"}}`+"\n"), 0o600))
	a.On("Import", mock.Anything, `{"url":"u","fields":{"Nom":"Catan"}}`+"\n").
		Return(report.Summary{RunID: "r4", Created: 1}, nil)
	a.On("Close").Return()

	out, err := execute(t, "import", "--config", writeConfig(t), records)
	require.NoError(t, err)
	assert.Contains(t, out, "created,1\n")
	a.AssertExpectations(t)
}

func TestImportMissingFile(t *testing.T) {
	withApp(t, &mockApp{})
	_, err := execute(t, "import", "--config", writeConfig(t), filepath.Join(t.TempDir(), "nope.jsonl"))
	require.ErrorContains(t, err, "open records")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}
