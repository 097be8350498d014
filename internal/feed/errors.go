package feed

import "fmt"

// FetchError is a network-level failure for one source. The aggregator
// treats it as "source unavailable" and downgrades it to a warning.
type FetchError struct {
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed fetch %s: %v", e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError means the feed body is not valid calendar data at all.
// Individually malformed entries never produce it; they are skipped.
type ParseError struct {
	SourceID string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("feed parse %s: %v", e.SourceID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
