// Package errors defines the failure taxonomy of the sync pipeline and the
// replica client, and classifies failures as recoverable or not so retry
// loops can decide whether another attempt makes sense.
package errors

import (
	stderrors "errors"
	"fmt"
	"unicode/utf8"
)

// ErrorCategory determines how errors should be handled by retry logic.
type ErrorCategory int

const (
	// Recoverable errors should be retried with exponential backoff.
	// Examples: 503 Service Unavailable, timeouts, connection resets.
	Recoverable ErrorCategory = iota

	// Irrecoverable errors should fail immediately without retry.
	// Examples: 400 Bad Request, 404 Not Found, schema violations.
	Irrecoverable
)

// String returns a human-readable representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// maxBodyLen bounds the response body kept on fetch and delivery errors.
const maxBodyLen = 512

// Truncate shortens s to the retained body length without splitting a rune.
func Truncate(s string) string {
	if len(s) <= maxBodyLen {
		return s
	}
	cut := maxBodyLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// ClassifiedError wraps an error with categorization metadata for retry policies.
type ClassifiedError struct {
	Category   ErrorCategory
	StatusCode int    // HTTP status code (0 for non-HTTP errors)
	Body       string // truncated response body
	Underlying error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 && e.Body != "" {
		return fmt.Sprintf("[%s] HTTP %d: %v: %s", e.Category, e.StatusCode, e.Underlying, e.Body)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

func (e *ClassifiedError) Unwrap() error { return e.Underlying }

// FetchError is an upstream HTTP non-2xx response or network failure seen by a provider.
type FetchError struct {
	Provider   string
	URL        string
	StatusCode int // 0 for network failures
	Body       string
	Err        error
	// Terminal forces the error to be treated as irrecoverable regardless of status,
	// e.g. a GraphQL response carrying an errors array.
	Terminal bool
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s %s: HTTP %d: %s", e.Provider, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Provider, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Category classifies the fetch failure.
func (e *FetchError) Category() ErrorCategory {
	if e.Terminal {
		return Irrecoverable
	}
	if e.StatusCode == 0 {
		return Recoverable
	}
	return StatusCategory(e.StatusCode)
}

// ValidationError reports a raw upstream record that does not match the expected shape.
// It is terminal for that record only.
type ValidationError struct {
	Provider string
	Type     string
	Key      string
	Reason   string
}

func (e *ValidationError) Error() string {
	key := e.Key
	if key == "" {
		key = "<unknown>"
	}
	return fmt.Sprintf("invalid %s record %s from %s: %s", e.Type, key, e.Provider, e.Reason)
}

// StorageError is a write or transaction failure against the canonical store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// IndexError reports the search engine as unavailable or uninitialized.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string { return fmt.Sprintf("search index %s: %v", e.Op, e.Err) }
func (e *IndexError) Unwrap() error { return e.Err }

// IsIrrecoverable returns true if the error should not be retried.
func IsIrrecoverable(err error) bool {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified.Category == Irrecoverable
	}
	var fetch *FetchError
	if stderrors.As(err, &fetch) {
		return fetch.Category() == Irrecoverable
	}
	var validation *ValidationError
	return stderrors.As(err, &validation)
}

// IsRetryable is the complement of IsIrrecoverable for errors that carry a
// classification. Unclassified errors are treated as retryable.
func IsRetryable(err error) bool {
	return err != nil && !IsIrrecoverable(err)
}

// IsNetwork reports a recoverable failure that never produced an HTTP
// response, i.e. the remote end could not be reached.
func IsNetwork(err error) bool {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified.StatusCode == 0 && classified.Category == Recoverable
	}
	var fetch *FetchError
	if stderrors.As(err, &fetch) {
		return fetch.StatusCode == 0 && !fetch.Terminal
	}
	return false
}

// IsIndexError reports whether err originates from the search index.
func IsIndexError(err error) bool {
	var idx *IndexError
	return stderrors.As(err, &idx)
}
