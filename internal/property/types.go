package property

import (
	"net/http"
	"regexp"
	"time"
)

// NotFound is the sentinel stored for any field the extractor could not locate.
const NotFound = "Not found"

// Output keys of an assembled Record.
const (
	FieldAddress          = "address"
	FieldParcelID         = "parcelId"
	FieldOwner            = "owner"
	FieldPropertyType     = "propertyType"
	FieldLegalDescription = "legalDescription"
	FieldYearBuilt        = "yearBuilt"
	FieldLivingArea       = "livingArea"
	FieldGrossArea        = "grossArea"
	FieldLotSize          = "lotSize"
	FieldBedrooms         = "bedrooms"
	FieldBathrooms        = "bathrooms"
	FieldLivingUnits      = "livingUnits"
	FieldMarketValue      = "marketValue"
	FieldAssessedValue    = "assessedValue"
	FieldTaxableValue     = "taxableValue"
	FieldLastSaleDate     = "lastSaleDate"
	FieldLastSalePrice    = "lastSalePrice"
	FieldFoundation       = "foundation"
	FieldRoofType         = "roofType"
	FieldQuality          = "quality"
	FieldTaxDistrict      = "taxDistrict"
	FieldFloodZone        = "floodZone"
	FieldCounty           = "county"
	FieldSourceURL        = "sourceUrl"
	FieldRetrievedAt      = "retrievedAt"
)

// Address pairs the caller's input with its search-ready form.
type Address struct {
	Raw        string
	Normalized string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// Page is the rendered HTML for one URL. Pages live for a single lookup and
// are never reused across requests.
type Page struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	HTML         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Location returns the URL the content was actually served from.
func (p Page) Location() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// Classification describes what kind of page the search returned.
type Classification int

// Page classifications.
const (
	ClassUnresolvable Classification = iota
	ClassListing
	ClassDetail
)

func (c Classification) String() string {
	switch c {
	case ClassListing:
		return "listing"
	case ClassDetail:
		return "detail"
	default:
		return "unresolvable"
	}
}

// Strategy selects how a FieldSpec locates its value.
type Strategy int

// Lookup strategies.
const (
	// SiblingCell reads the element immediately after the first label cell.
	SiblingCell Strategy = iota + 1
	// NextTableAfterHeader reads fixed columns from the first accepted row of
	// the table following a section heading.
	NextTableAfterHeader
	// TextSearch applies a pattern to the prose around a label.
	TextSearch
	// SectionText reads the text trailing a label inside the block that
	// follows a section heading.
	SectionText
)

func (s Strategy) String() string {
	switch s {
	case SiblingCell:
		return "sibling_cell"
	case NextTableAfterHeader:
		return "next_table_after_header"
	case TextSearch:
		return "text_search"
	case SectionText:
		return "section_text"
	default:
		return "unknown"
	}
}

// RowPredicate decides whether a table row (as trimmed cell texts) carries data.
type RowPredicate func(cells []string) bool

// FieldSpec declares how one field (or one group of columns) is located.
// Which members matter depends on Strategy.
type FieldSpec struct {
	Name     string
	Label    string
	Strategy Strategy

	// Selector overrides the label-cell selector for SiblingCell.
	Selector string
	// PreferAnchor returns the text of a link inside the value cell when present.
	PreferAnchor bool
	// JoinFragments separates the value cell's text nodes with spaces, for
	// values split across <br> or inline elements.
	JoinFragments bool

	// Header is the section heading for NextTableAfterHeader and SectionText.
	Header string
	// Accept picks the data row for NextTableAfterHeader.
	Accept RowPredicate
	// Columns are read from the accepted row and stored under Outputs.
	Columns []int
	Outputs []string

	// Pattern extracts the payload for TextSearch; the first submatch wins.
	Pattern *regexp.Regexp
	// Format wraps the payload, e.g. "%s sq ft".
	Format string
}

// OutputNames lists the record keys this spec fills.
func (s FieldSpec) OutputNames() []string {
	if len(s.Outputs) > 0 {
		return s.Outputs
	}
	return []string{s.Name}
}

// Record is the flat field map returned to callers. Every declared field is
// present, holding either a value or NotFound.
type Record map[string]string

// Get returns the value for key or NotFound.
func (r Record) Get(key string) string {
	if v, ok := r[key]; ok {
		return v
	}
	return NotFound
}

// LookupStatus is the outcome of a lookup.
type LookupStatus string

// Lookup status values.
const (
	StatusSuccess LookupStatus = "success"
	StatusError   LookupStatus = "error"
)

// LookupRecord is the history row persisted for each lookup.
type LookupRecord struct {
	ID          string       `json:"id"`
	Address     string       `json:"address"`
	Normalized  string       `json:"normalized"`
	Status      LookupStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	ParcelID    string       `json:"parcel_id,omitempty"`
	SourceURL   string       `json:"source_url,omitempty"`
	SnapshotURI string       `json:"snapshot_uri,omitempty"`
	ContentHash string       `json:"content_hash,omitempty"`
	Record      Record       `json:"record,omitempty"`
	Started     time.Time    `json:"started_at"`
	Finished    time.Time    `json:"finished_at"`
}

// LookupEvent is the compact notification published after each lookup.
type LookupEvent struct {
	LookupID   string       `json:"lookup_id"`
	Status     LookupStatus `json:"status"`
	ParcelID   string       `json:"parcel_id,omitempty"`
	County     string       `json:"county"`
	FinishedAt time.Time    `json:"finished_at"`
}

// LookupFilter narrows a history listing. A zero Status matches every row.
type LookupFilter struct {
	Status LookupStatus
	Limit  int
	Offset int
}
