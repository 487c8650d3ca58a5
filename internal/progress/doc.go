// Package progress carries run progress out of the crawl scheduler and the
// ingest pipeline without slowing them down. Emitters hand Events to a Hub,
// which batches them on a background goroutine and fans them out to sinks
// such as the structured log or Prometheus collectors.
package progress
