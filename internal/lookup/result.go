package lookup

import (
	"context"
	"errors"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

// User-facing messages.
const (
	MsgTransport       = "Failed to connect to county website"
	MsgTimeout         = "County website timed out; it may be slow right now, try again shortly"
	MsgNoResults       = "No property found for that address"
	MsgMissingLink     = "Could not find a property details link in the search results"
	MsgCanceled        = "Lookup canceled"
	MsgInternal        = "Lookup failed"
	SuggestNoResults   = "Try a more specific address, e.g. include the house number and street suffix"
	SuggestMissingLink = "Multiple or unlinked results; try including the unit number or full street name"
)

const (
	payloadStatusKey   = "status"
	payloadErrorKey    = "error"
	payloadSuggestKey  = "suggestion"
	payloadLookupIDKey = "lookupId"
)

// Result is the outcome of one lookup. Exactly one of Record and Err is set.
type Result struct {
	LookupID   string
	Record     property.Record
	Err        error
	Message    string
	Suggestion string
}

// OK reports whether the lookup produced a record.
func (r Result) OK() bool {
	return r.Err == nil && r.Record != nil
}

// Status is the discriminator callers branch on.
func (r Result) Status() property.LookupStatus {
	if r.OK() {
		return property.StatusSuccess
	}
	return property.StatusError
}

// Payload flattens the result into the JSON shape served by the API.
func (r Result) Payload() map[string]any {
	if r.OK() {
		out := make(map[string]any, len(r.Record)+2)
		for k, v := range r.Record {
			out[k] = v
		}
		out[payloadStatusKey] = string(property.StatusSuccess)
		if r.LookupID != "" {
			out[payloadLookupIDKey] = r.LookupID
		}
		return out
	}
	out := map[string]any{
		payloadStatusKey: string(property.StatusError),
		payloadErrorKey:  r.Message,
	}
	if r.Suggestion != "" {
		out[payloadSuggestKey] = r.Suggestion
	}
	if r.LookupID != "" {
		out[payloadLookupIDKey] = r.LookupID
	}
	return out
}

// failure maps a pipeline error onto its message and suggestion.
func failure(err error) Result {
	res := Result{Err: err}
	if navErr, ok := property.AsNavigationError(err); ok {
		switch navErr.Kind {
		case property.NoResultsFound:
			res.Message, res.Suggestion = MsgNoResults, SuggestNoResults
		case property.AmbiguousOrMissingLink:
			res.Message, res.Suggestion = MsgMissingLink, SuggestMissingLink
		default:
			res.Message = MsgInternal
		}
		return res
	}
	switch {
	case errors.Is(err, property.ErrTimeout):
		res.Message = MsgTimeout
	case errors.Is(err, property.ErrTransport):
		res.Message = MsgTransport
	case errors.Is(err, context.Canceled):
		res.Message = MsgCanceled
	default:
		res.Message = MsgInternal
	}
	return res
}
