package normalize

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// Record projects a RawRecord onto a NormalizedItem. The only failure is a
// record without a usable name.
func Record(raw catalog.RawRecord) (catalog.NormalizedItem, error) {
	idx := labelIndex(raw.Fields)
	name := Text(idx[fieldName])
	if name == "" {
		return catalog.NormalizedItem{}, fmt.Errorf("normalize %s: %w", raw.URL, catalog.ErrMissingName)
	}
	minPlayers, maxPlayers := Players(idx[fieldPlayers])
	url := strings.TrimSpace(idx[fieldURL])
	if url == "" {
		url = raw.URL
	}
	return catalog.NormalizedItem{
		Name:            name,
		Kind:            Kind(idx[fieldType]),
		Year:            Year(idx[fieldYear]),
		MinPlayers:      minPlayers,
		MaxPlayers:      maxPlayers,
		MinAge:          Age(idx[fieldAge]),
		DurationMinutes: Duration(idx[fieldDuration]),
		Language:        Text(idx[fieldLanguage]),
		URL:             url,
		ImageURL:        strings.TrimSpace(idx[fieldImage]),
		Authors:         Names(idx[fieldAuthors]),
		Artists:         Names(idx[fieldArtists]),
		Editors:         Names(idx[fieldEditors]),
		Distributors:    Names(idx[fieldDistributors]),
	}, nil
}
