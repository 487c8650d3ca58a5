// Package catalog holds the types shared by every stage of the ingestion
// pipeline: raw and normalized records, related entity kinds, ingestion
// outcomes, the error taxonomy, and the consumer-side interfaces the
// pipeline depends on.
package catalog
