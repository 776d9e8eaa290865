package property

import (
	"context"
	"io"
	"time"
)

// Fetcher returns the rendered HTML for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// Session is a Fetcher scoped to one lookup. Close releases whatever the
// session acquired and must be called on every exit path.
type Session interface {
	Fetcher
	Close() error
}

// SessionOpener hands out per-lookup sessions.
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// PromotionDetector decides whether a statically fetched page needs a
// JavaScript-capable render.
type PromotionDetector interface {
	ShouldPromote(page Page) bool
}

// LookupStore persists lookup history.
type LookupStore interface {
	SaveLookup(ctx context.Context, record LookupRecord) error
	GetLookup(ctx context.Context, id string) (LookupRecord, error)
}

// LookupLister pages through lookup history, newest first.
type LookupLister interface {
	ListLookups(ctx context.Context, filter LookupFilter) ([]LookupRecord, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes lookup events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces lookup IDs.
type IDGenerator interface {
	NewID() (string, error)
}
