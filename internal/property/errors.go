package property

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport reports connectivity failures and non-200 upstream responses.
	ErrTransport = errors.New("transport error")
	// ErrTimeout reports a fetch that exceeded its bound. It is terminal for the lookup.
	ErrTimeout = errors.New("fetch timed out")
	// ErrLookupNotFound is returned by LookupStore implementations for unknown IDs.
	ErrLookupNotFound = errors.New("lookup not found")
)

// NavigationKind distinguishes the ways search resolution can fail.
type NavigationKind int

// Navigation failure kinds.
const (
	// NoResultsFound means the search page had neither a parcel marker nor a results table.
	NoResultsFound NavigationKind = iota + 1
	// AmbiguousOrMissingLink means a results table was present but no row led to a detail page.
	AmbiguousOrMissingLink
)

func (k NavigationKind) String() string {
	switch k {
	case NoResultsFound:
		return "no_results_found"
	case AmbiguousOrMissingLink:
		return "ambiguous_or_missing_link"
	default:
		return "unknown"
	}
}

// NavigationError is returned when a search cannot be resolved to a detail page.
type NavigationError struct {
	Kind NavigationKind
	URL  string
}

func (e *NavigationError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("navigation failed: %s", e.Kind)
	}
	return fmt.Sprintf("navigation failed: %s (%s)", e.Kind, e.URL)
}

// AsNavigationError unwraps err into a NavigationError when possible.
func AsNavigationError(err error) (*NavigationError, bool) {
	var navErr *NavigationError
	if errors.As(err, &navErr) {
		return navErr, true
	}
	return nil, false
}
