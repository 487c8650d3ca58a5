package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StagePageDone       Stage = "PAGE_DONE"
	StagePageFailed     Stage = "PAGE_FAILED"
	StageItemExtracted  Stage = "ITEM_EXTRACTED"
	StageItemBroken     Stage = "ITEM_BROKEN"
	StageItemIngested   Stage = "ITEM_INGESTED"
	StageRunDone        Stage = "RUN_DONE"
	StageRunInterrupted Stage = "RUN_INTERRUPTED"
	StageRunError       Stage = "RUN_ERROR"
)

// Lifecycle reports whether s starts or ends a run.
func (s Stage) Lifecycle() bool {
	switch s {
	case StageRunStart, StageRunDone, StageRunInterrupted, StageRunError:
		return true
	default:
		return false
	}
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported status classes. StatusNone marks failures with no HTTP response.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
	StatusNone  StatusClass = "none"
)

// Event captures a single step of a run.
type Event struct {
	// RunID identifies the run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Page is the listing page the event belongs to, when any.
	Page int
	// TotalPages is the number of pages in the run's range.
	TotalPages int
	// PagesDone counts pages fully drained so far in this run.
	PagesDone int
	// URL is the item or listing URL.
	URL string
	// StatusClass groups the HTTP outcome of item fetches.
	StatusClass StatusClass
	// Outcome is the ingestion status for StageItemIngested.
	Outcome string
	// Collected is the running total of records extracted.
	Collected int64
	// Dur is the fetch latency for item events and elapsed run time otherwise.
	Dur time.Duration
	// ETA is the estimated time remaining, set on StagePageDone.
	ETA time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunInterrupted, StageRunError:
	case StagePageDone, StagePageFailed:
		if e.Page < 1 {
			return errors.New("page events require a page")
		}
	case StageItemExtracted, StageItemBroken:
		if e.URL == "" {
			return errors.New("item events require a url")
		}
	case StageItemIngested:
		if e.Outcome == "" {
			return errors.New("ingest events require an outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.ETA < 0 {
		return errors.New("durations must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes. Zero means no response was received.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return StatusNone
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

// Emitter accepts events without blocking. *Hub implements it.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
