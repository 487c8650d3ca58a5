package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	runID := UUIDToBytes(uuid.New())
	now := time.Now()
	tests := []struct {
		name    string
		evt     Event
		wantErr string
	}{
		{name: "ok", evt: Event{RunID: runID, TS: now, Stage: StageRunStart}},
		{name: "missing run", evt: Event{TS: now, Stage: StageRunStart}, wantErr: "run id"},
		{name: "missing ts", evt: Event{RunID: runID, Stage: StageRunStart}, wantErr: "timestamp"},
		{name: "page required", evt: Event{RunID: runID, TS: now, Stage: StagePageDone}, wantErr: "page"},
		{name: "url required", evt: Event{RunID: runID, TS: now, Stage: StageItemBroken}, wantErr: "url"},
		{name: "outcome required", evt: Event{RunID: runID, TS: now, Stage: StageItemIngested}, wantErr: "outcome"},
		{name: "unknown", evt: Event{RunID: runID, TS: now, Stage: "NOPE"}, wantErr: "unknown stage"},
		{
			name:    "negative eta",
			evt:     Event{RunID: runID, TS: now, Stage: StagePageDone, Page: 1, ETA: -time.Second},
			wantErr: "durations",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusNone, ClassifyStatus(0))
	assert.Equal(t, Status2xx, ClassifyStatus(204))
	assert.Equal(t, Status3xx, ClassifyStatus(301))
	assert.Equal(t, Status4xx, ClassifyStatus(404))
	assert.Equal(t, Status5xx, ClassifyStatus(503))
	assert.Equal(t, StatusOther, ClassifyStatus(99))
}

func TestRunUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	assert.Equal(t, id, Event{RunID: UUIDToBytes(id)}.RunUUID())
}
