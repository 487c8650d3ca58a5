package catalog

import (
	"fmt"
	"strings"
)

// Field labels produced by the default item parser. They mirror the labels
// shown on the source site so a RawRecord stays a faithful copy of the page.
const (
	FieldName         = "Nom"
	FieldType         = "Type"
	FieldYear         = "Année de sortie"
	FieldPlayers      = "Nombre de joueurs"
	FieldAge          = "Age"
	FieldDuration     = "Durée de partie"
	FieldAuthors      = "Auteurs"
	FieldArtists      = "Artistes"
	FieldEditors      = "Editeurs"
	FieldDistributors = "Distributeurs"
	FieldLanguage     = "Langue"
	FieldImageURL     = "Url Image"
	FieldURL          = "Url"
)

// RawRecord is the flat label to text mapping extracted from one item page.
// It is never mutated after the extractor returns it.
type RawRecord struct {
	URL    string            `json:"url"`
	Page   int               `json:"page"`
	Fields map[string]string `json:"fields"`
}

// Name returns the trimmed item title, or "" when the page had none.
func (r RawRecord) Name() string {
	return strings.TrimSpace(r.Fields[FieldName])
}

// Get returns the value stored under label.
func (r RawRecord) Get(label string) (string, bool) {
	v, ok := r.Fields[label]
	return v, ok
}

// Item kinds.
const (
	KindGame      = "game"
	KindExtension = "extension"
)

// NormalizedItem is the typed projection of a RawRecord. Numeric fields are
// nil when the source text could not be parsed.
type NormalizedItem struct {
	Name            string
	Kind            string
	Year            *int
	MinPlayers      *int
	MaxPlayers      *int
	MinAge          *int
	DurationMinutes *int
	Language        string
	URL             string
	ImageURL        string
	Authors         []string
	Artists         []string
	Editors         []string
	Distributors    []string
}

// Names returns the related entity names of the given kind.
func (n NormalizedItem) Names(kind EntityKind) []string {
	switch kind {
	case Authors:
		return n.Authors
	case Artists:
		return n.Artists
	case Editors:
		return n.Editors
	case Distributors:
		return n.Distributors
	default:
		return nil
	}
}

// EntityKind names one of the four related entity tables.
type EntityKind string

// Supported related entity kinds.
const (
	Authors      EntityKind = "authors"
	Artists      EntityKind = "artists"
	Editors      EntityKind = "editors"
	Distributors EntityKind = "distributors"
)

// EntityKinds lists every kind in a stable order.
var EntityKinds = []EntityKind{Authors, Artists, Editors, Distributors}

// ParseEntityKind validates a kind name.
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range EntityKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Table is the entity table name.
func (k EntityKind) Table() string { return string(k) }

// LinkTable is the associative table joining games to this kind, e.g. game_authors.
func (k EntityKind) LinkTable() string { return "game_" + string(k) }

// LinkColumn is the foreign key column in LinkTable, e.g. author_id.
func (k EntityKind) LinkColumn() string {
	return strings.TrimSuffix(string(k), "s") + "_id"
}

// EntityKey is the comparison key for a related entity name: whitespace
// collapsed and lower-cased.
func EntityKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Status is the coarse result of ingesting one item.
type Status string

// Ingestion statuses.
const (
	StatusCreated Status = "created"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// ReasonAlreadyExists is the Skipped reason for an item whose name is already stored.
const ReasonAlreadyExists = "already exists"

// Outcome is the per-item result of the upserter.
type Outcome struct {
	Status Status
	ItemID int64
	Name   string
	Reason string
	Err    error
}

// Created builds a Created outcome.
func Created(name string, id int64) Outcome {
	return Outcome{Status: StatusCreated, ItemID: id, Name: name}
}

// Skipped builds a Skipped outcome for an existing item.
func Skipped(name string, id int64) Outcome {
	return Outcome{Status: StatusSkipped, ItemID: id, Name: name, Reason: ReasonAlreadyExists}
}

// Failed builds a Failed outcome.
func Failed(name string, err error) Outcome {
	return Outcome{Status: StatusFailed, Name: name, Err: err}
}

// Range is an inclusive listing page range.
type Range struct {
	Start int
	End   int
}

// Validate checks the range is positive and ordered.
func (r Range) Validate() error {
	if r.Start < 1 || r.End < r.Start {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidPageRange, r.Start, r.End)
	}
	return nil
}

// Pages is the number of pages in the range.
func (r Range) Pages() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Review is one player review listed on a review page. Text fields are empty
// when the row lacked them.
type Review struct {
	Game    string `json:"game"`
	GameURL string `json:"game_url,omitempty"`
	Date    string `json:"date,omitempty"`
	Author  string `json:"author,omitempty"`
	Score   string `json:"score,omitempty"`
	Page    int    `json:"page"`
}
