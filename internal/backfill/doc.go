// Package backfill defines the shared entry types and the ports (fetcher,
// document store, blob store, publisher, clock) that the import pipeline is
// assembled from.
package backfill
