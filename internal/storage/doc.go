// Package storage defines the object store the pipeline reads chunks from and
// writes segments and clips to.
//
// Keys are slash-separated and relative. Every backend reports a missing key
// with ErrNotExist and back-pressure with ErrThrottled, so callers classify
// failures without knowing which backend is configured. WithRetry absorbs
// throttling for any backend.
package storage
