package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://trictrac.net/jeux/1", "trictrac.net"},
		{"standard https", "https://TricTrac.net/path", "trictrac.net"},
		{"no scheme", "trictrac.net/jeux", "trictrac.net"},
		{"host with port", "127.0.0.1:8080", "127.0.0.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestRateLimitDelay(t *testing.T) {
	m := New("test")
	m.ObserveRateLimitDelay("trictrac.net", 250*time.Millisecond)
	m.ObserveRateLimitDelay("https://trictrac.net/jeux/2", time.Second)

	assert.Equal(t, 1, testutil.CollectAndCount(m.rateLimitDelaySeconds))
	assert.InDelta(t, 1, testutil.ToFloat64(m.buildInfo.WithLabelValues("test")), 0)
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New("")
	m.ObserveRateLimitDelay("trictrac.net", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ludostock_rate_limit_delay_seconds_bucket")
	assert.Contains(t, string(body), `ludostock_build_info{version="dev"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://trictrac.net", "https://example.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
