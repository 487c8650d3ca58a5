package normalize

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s, strips diacritics, trailing colons and surrounding
// space so "Durée de partie :" and "duree de partie" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.TrimSpace(strings.ToLower(folded))
	folded = strings.TrimSpace(strings.TrimRight(folded, ":"))
	return strings.Join(strings.Fields(folded), " ")
}

type field int

const (
	fieldName field = iota
	fieldType
	fieldYear
	fieldPlayers
	fieldAge
	fieldDuration
	fieldAuthors
	fieldArtists
	fieldEditors
	fieldDistributors
	fieldLanguage
	fieldImage
	fieldURL
)

var labelAliases = map[string]field{
	"nom":               fieldName,
	"name":              fieldName,
	"titre":             fieldName,
	"type":              fieldType,
	"annee de sortie":   fieldYear,
	"annee":             fieldYear,
	"year":              fieldYear,
	"nombre de joueurs": fieldPlayers,
	"joueurs":           fieldPlayers,
	"players":           fieldPlayers,
	"age":               fieldAge,
	"age minimum":       fieldAge,
	"duree de partie":   fieldDuration,
	"duree":             fieldDuration,
	"duration":          fieldDuration,
	"auteurs":           fieldAuthors,
	"auteur":            fieldAuthors,
	"authors":           fieldAuthors,
	"artistes":          fieldArtists,
	"artiste":           fieldArtists,
	"illustrateurs":     fieldArtists,
	"artists":           fieldArtists,
	"editeurs":          fieldEditors,
	"editeur":           fieldEditors,
	"editors":           fieldEditors,
	"publishers":        fieldEditors,
	"distributeurs":     fieldDistributors,
	"distributeur":      fieldDistributors,
	"distributors":      fieldDistributors,
	"langue":            fieldLanguage,
	"langues":           fieldLanguage,
	"langue(s)":         fieldLanguage,
	"language":          fieldLanguage,
	"url image":         fieldImage,
	"image":             fieldImage,
	"url":               fieldURL,
}

// labelIndex returns the first non-blank value for each known field, taking
// labels in sorted order so aliases of one field resolve the same way on
// every call. Unknown labels are ignored.
func labelIndex(fields map[string]string) map[field]string {
	labels := make([]string, 0, len(fields))
	for label := range fields {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	out := make(map[field]string, len(fields))
	for _, label := range labels {
		value := fields[label]
		f, ok := labelAliases[Fold(label)]
		if !ok {
			continue
		}
		if existing, dup := out[f]; dup && strings.TrimSpace(existing) != "" {
			continue
		}
		out[f] = value
	}
	return out
}
