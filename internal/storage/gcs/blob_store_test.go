package gcs

import (
	"context"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		in     string
		want   string
	}{
		{"", "run/summary.csv", "run/summary.csv"},
		{"reports/", "run/summary.csv", "reports/run/summary.csv"},
		{"/reports", "/run/summary.csv", "reports/run/summary.csv"},
	}
	for _, tt := range tests {
		store, err := New(&storage.Client{}, Config{Bucket: "b", Prefix: tt.prefix})
		require.NoError(t, err)
		assert.Equal(t, tt.want, store.ObjectName(tt.in))
	}
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "text/plain", strings.NewReader("x"))
	require.Error(t, err)
}
