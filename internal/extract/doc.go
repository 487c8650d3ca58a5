// Package extract turns fetched HTML into crawl inputs: the Walker reads item
// URLs from a listing page and the Extractor reads one item page into a
// catalog.RawRecord. Both return typed errors instead of aborting the caller,
// and the HTML parsing is pluggable through ListingParser and ItemParser.
package extract
