// Package resolver turns a normalized address into the parcel detail page,
// following at most one hop through a search-results listing.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

// Defaults for the Pinellas County property appraiser.
const (
	DefaultBaseURL           = "https://www.pcpao.gov"
	DefaultSearchPath        = "/quick-search"
	DefaultSearchParam       = "search"
	DefaultDetailLinkPattern = `(?i)(property-details|parcel)`
)

// DefaultParcelMarkers identify a parcel detail page.
var DefaultParcelMarkers = []string{"Parcel Number"}

// markerSelector lists the elements that may carry a parcel-identity label.
// Header cells are left out so a listing whose columns include
// "Parcel Number" is not mistaken for a detail page.
const markerSelector = "td, dt, label"

// Config describes the upstream search endpoint.
type Config struct {
	BaseURL           string
	SearchPath        string
	SearchQuery       map[string]string
	SearchParam       string
	DetailLinkPattern string
	ParcelMarkers     []string
}

// Resolution is the detail page a search resolved to, already parsed.
type Resolution struct {
	Page     property.Page
	Document *goquery.Document
	// Hops counts fetches performed: 1 for a direct hit, 2 via a listing.
	Hops int
}

// Resolver drives the search → (listing →) detail navigation.
type Resolver struct {
	base       *url.URL
	searchPath string
	query      url.Values
	param      string
	detailLink *regexp.Regexp
	markers    []string
	logger     *zap.Logger
}

// New validates cfg and builds a Resolver.
func New(cfg Config, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	// Only the origin is kept; relative detail links resolve against it.
	base = &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}

	pattern := cfg.DetailLinkPattern
	if pattern == "" {
		pattern = DefaultDetailLinkPattern
	}
	detailLink, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile detail link pattern: %w", err)
	}

	searchPath := cfg.SearchPath
	if searchPath == "" {
		searchPath = DefaultSearchPath
	}
	param := cfg.SearchParam
	if param == "" {
		param = DefaultSearchParam
	}
	query := url.Values{}
	for k, v := range cfg.SearchQuery {
		query.Set(k, v)
	}
	markers := cfg.ParcelMarkers
	if len(markers) == 0 {
		markers = DefaultParcelMarkers
	}

	return &Resolver{
		base:       base,
		searchPath: searchPath,
		query:      query,
		param:      param,
		detailLink: detailLink,
		markers:    markers,
		logger:     logger,
	}, nil
}

// SearchURL builds the search request URL for a normalized address.
func (r *Resolver) SearchURL(normalized string) string {
	u := r.base.ResolveReference(&url.URL{Path: r.searchPath})
	q := url.Values{}
	for k, v := range r.query {
		q[k] = append([]string(nil), v...)
	}
	q.Set(r.param, normalized)
	u.RawQuery = q.Encode()
	return u.String()
}

// Resolve searches for normalized and returns the parcel detail page. A
// listing is followed through its first qualifying row only; there is no
// ranking between candidates and no pagination.
func (r *Resolver) Resolve(ctx context.Context, normalized string, fetch property.Fetcher) (Resolution, error) {
	searchURL := r.SearchURL(normalized)
	log := r.logger.With(zap.String("address", normalized))

	page, err := fetch.Fetch(ctx, property.FetchRequest{URL: searchURL})
	if err != nil {
		return Resolution{}, fmt.Errorf("fetch search page: %w", err)
	}
	doc, err := parse(page)
	if err != nil {
		return Resolution{}, err
	}

	class := r.Classify(doc)
	log.Debug("search page classified",
		zap.String("url", page.Location()),
		zap.Stringer("class", class),
	)
	switch class {
	case property.ClassDetail:
		return Resolution{Page: page, Document: doc, Hops: 1}, nil
	case property.ClassUnresolvable:
		return Resolution{}, &property.NavigationError{Kind: property.NoResultsFound, URL: page.Location()}
	}

	detailURL, ok := r.FirstDetailLink(doc)
	if !ok {
		return Resolution{}, &property.NavigationError{Kind: property.AmbiguousOrMissingLink, URL: page.Location()}
	}
	log.Debug("following listing row", zap.String("detail_url", detailURL))

	headers := http.Header{}
	headers.Set("Referer", page.Location())
	detail, err := fetch.Fetch(ctx, property.FetchRequest{URL: detailURL, Headers: headers})
	if err != nil {
		return Resolution{}, fmt.Errorf("fetch detail page: %w", err)
	}
	detailDoc, err := parse(detail)
	if err != nil {
		return Resolution{}, err
	}
	if r.Classify(detailDoc) != property.ClassDetail {
		return Resolution{}, &property.NavigationError{Kind: property.AmbiguousOrMissingLink, URL: detail.Location()}
	}
	return Resolution{Page: detail, Document: detailDoc, Hops: 2}, nil
}

// Classify reports whether doc is a detail page, a results listing, or neither.
func (r *Resolver) Classify(doc *goquery.Document) property.Classification {
	if r.hasParcelMarker(doc) {
		return property.ClassDetail
	}
	if doc.Find("table tr").Length() > 0 {
		return property.ClassListing
	}
	return property.ClassUnresolvable
}

// FirstDetailLink scans table rows in document order and returns the absolute
// target of the first anchor matching the detail-link pattern.
func (r *Resolver) FirstDetailLink(doc *goquery.Document) (string, bool) {
	var found string
	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		row.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href := strings.TrimSpace(a.AttrOr("href", ""))
			if href == "" || !r.detailLink.MatchString(href) {
				return true
			}
			abs, err := r.absolute(href)
			if err != nil {
				r.logger.Debug("skipping malformed detail link", zap.String("href", href), zap.Error(err))
				return true
			}
			found = abs
			return false
		})
		return found == ""
	})
	return found, found != ""
}

func (r *Resolver) hasParcelMarker(doc *goquery.Document) bool {
	hit := false
	doc.Find(markerSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		// Layout cells wrapping a whole table are not labels.
		if s.Find("table").Length() > 0 {
			return true
		}
		text := s.Text()
		for _, marker := range r.markers {
			if containsFold(text, marker) {
				hit = true
				return false
			}
		}
		return true
	})
	return hit
}

func (r *Resolver) absolute(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if !strings.HasPrefix(ref.Path, "/") && ref.Path != "" {
		ref.Path = "/" + ref.Path
	}
	return r.base.ResolveReference(ref).String(), nil
}

func parse(page property.Page) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return nil, errors.Join(property.ErrTransport, fmt.Errorf("parse %s: %w", page.Location(), err))
	}
	return doc, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
