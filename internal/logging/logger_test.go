package logging

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready", zap.Bool("development", development))
		_ = logger.Sync() //nolint:errcheck // stdout sync fails on some platforms
	}
}

func TestForRun(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	runID := uuid.Must(uuid.NewV7())
	ForRun(zap.New(core), runID).Info("page done")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, runID.String(), entries[0].ContextMap()["run_id"])

	assert.NotNil(t, ForRun(nil, runID))
}
