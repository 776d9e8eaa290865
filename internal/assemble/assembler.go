// Package assemble turns raw extracted fields into the Record returned to
// callers.
package assemble

import (
	"time"

	"github.com/JakeFAU/pinellas-property-scraper/internal/clock/system"
	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

// DefaultCounty is attached to every record built for the Pinellas site.
const DefaultCounty = "Pinellas"

// Unpublished is reported for fields the county does not publish.
const Unpublished = "N/A"

const areaSuffix = " sq ft"

// Assembler shapes raw extraction output. It is stateless apart from its
// injected clock.
type Assembler struct {
	county string
	clock  property.Clock
	fields []string
}

// New builds an Assembler. fields lists every key the extractor declares;
// they are guaranteed to be present in each Record.
func New(county string, clock property.Clock, fields []string) *Assembler {
	if county == "" {
		county = DefaultCounty
	}
	if clock == nil {
		clock = system.New()
	}
	return &Assembler{county: county, clock: clock, fields: fields}
}

// Assemble merges raw with the lookup metadata. raw is not modified.
func (a *Assembler) Assemble(raw map[string]string, addr property.Address, pageURL string) property.Record {
	rec := make(property.Record, len(a.fields)+8)
	for _, name := range a.fields {
		rec[name] = property.NotFound
	}
	for k, v := range raw {
		if v == "" {
			v = property.NotFound
		}
		rec[k] = v
	}

	for _, key := range []string{property.FieldLivingArea, property.FieldGrossArea} {
		if v, ok := rec[key]; ok && v != property.NotFound {
			rec[key] = v + areaSuffix
		}
	}
	if rec.Get(property.FieldAddress) == property.NotFound {
		rec[property.FieldAddress] = addr.Raw
	}

	rec[property.FieldBedrooms] = Unpublished
	rec[property.FieldBathrooms] = Unpublished
	rec[property.FieldCounty] = a.county
	rec[property.FieldSourceURL] = pageURL
	rec[property.FieldRetrievedAt] = a.clock.Now().UTC().Format(time.RFC3339)
	return rec
}
