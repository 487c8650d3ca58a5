// Package normalize turns the free text scraped from item pages into typed
// values. Every function here is total: unparseable input yields nil or the
// documented default, never an error.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	intPattern   = regexp.MustCompile(`\d+`)
	rangePattern = regexp.MustCompile(`(\d+)\D+(\d+)`)
	yearPattern  = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	splitPattern = regexp.MustCompile(`[/,]`)
)

// Players extracts a min/max player count from text such as "2 - 5 joueurs".
// The first two integers are min and max in the order written; a single
// number is used for both bounds.
func Players(text string) (minPlayers, maxPlayers *int) {
	if m := rangePattern.FindStringSubmatch(text); m != nil {
		lo, okLo := atoi(m[1])
		hi, okHi := atoi(m[2])
		if okLo && okHi {
			return &lo, &hi
		}
	}
	n := FirstInt(text)
	if n == nil {
		return nil, nil
	}
	lo, hi := *n, *n
	return &lo, &hi
}

// FirstInt returns the first integer found in text.
func FirstInt(text string) *int {
	m := intPattern.FindString(text)
	if m == "" {
		return nil
	}
	n, ok := atoi(m)
	if !ok {
		return nil
	}
	return &n
}

// Age returns the minimum age found in text.
func Age(text string) *int { return FirstInt(text) }

// Duration returns the play time in minutes found in text.
func Duration(text string) *int { return FirstInt(text) }

// Year returns the first standalone 19xx or 20xx token.
func Year(text string) *int {
	m := yearPattern.FindString(text)
	if m == "" {
		return nil
	}
	n, ok := atoi(m)
	if !ok {
		return nil
	}
	return &n
}

var kindVocabulary = map[string]string{
	"jeu":        "game",
	"jeux":       "game",
	"game":       "game",
	"games":      "game",
	"extension":  "extension",
	"extensions": "extension",
	"ext":        "extension",
	"ext.":       "extension",
	"expansion":  "extension",
}

// Kind maps a type label onto "game" or "extension". Unknown labels are games.
func Kind(text string) string {
	if k, ok := kindVocabulary[Fold(text)]; ok {
		return k
	}
	return "game"
}

// Names splits a contributor list on commas and slashes. Segments are
// trimmed, empty ones dropped, double quotes replaced by single quotes, and
// case-insensitive duplicates removed keeping the first spelling.
func Names(text string) []string {
	parts := splitPattern.Split(text, -1)
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		name := cleanName(p)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

var quoteReplacer = strings.NewReplacer(`"`, "'", "“", "'", "”", "'", "«", "'", "»", "'", "’", "'")

func cleanName(s string) string {
	s = quoteReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Text trims and collapses whitespace.
func Text(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
