// Package sinks implements progress consumers: a structured log line per
// page, Prometheus collectors, and a checkpoint ledger that records how far
// each run got so a later run can resume.
package sinks
