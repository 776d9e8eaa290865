package extract

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

// landArea matches the approximate square footage in the "Land Area:" prose.
// The page renders "≅"; some responses arrive double-decoded as "‚âÖ".
var landArea = regexp.MustCompile(`(?i)(?:≅|‚âÖ|~|approx\.?)\s*([\d,]+)\s*sf`)

var leadingYear = regexp.MustCompile(`^\d{4}$`)

// LeadingYear accepts rows whose first cell is a four-digit year.
func LeadingYear(cells []string) bool {
	return len(cells) > 1 && leadingYear.MatchString(cells[0])
}

// NotHeaderLabel accepts the first row carrying at least two cells whose
// leading cell is neither empty nor the column label.
func NotHeaderLabel(label string) property.RowPredicate {
	return func(cells []string) bool {
		if len(cells) < 2 || cells[0] == "" {
			return false
		}
		return !strings.Contains(strings.ToLower(cells[0]), strings.ToLower(label))
	}
}

// DefaultFields is the locator table for the Pinellas detail page.
func DefaultFields() []property.FieldSpec {
	return []property.FieldSpec{
		{Name: property.FieldParcelID, Label: "Parcel Number", Strategy: property.SiblingCell},
		{Name: property.FieldOwner, Label: "Owner Name", Strategy: property.SiblingCell},
		{Name: property.FieldPropertyType, Label: "Property Use", Strategy: property.SiblingCell},
		{Name: property.FieldAddress, Label: "Site Address", Strategy: property.SiblingCell, JoinFragments: true},
		{Name: property.FieldLegalDescription, Label: "Legal Description", Strategy: property.SiblingCell},
		{Name: property.FieldYearBuilt, Label: "Year Built", Strategy: property.SiblingCell},
		{Name: property.FieldLivingArea, Label: "Living SF", Strategy: property.SiblingCell},
		{Name: property.FieldGrossArea, Label: "Gross SF", Strategy: property.SiblingCell},
		{Name: property.FieldLivingUnits, Label: "Living Units", Strategy: property.SiblingCell},
		{
			Strategy: property.NextTableAfterHeader,
			Header:   "Final Values",
			Accept:   LeadingYear,
			Columns:  []int{1, 2, 3},
			Outputs: []string{
				property.FieldMarketValue,
				property.FieldAssessedValue,
				property.FieldTaxableValue,
			},
		},
		{
			Strategy: property.NextTableAfterHeader,
			Header:   "Sales History",
			Accept:   NotHeaderLabel("Sale Date"),
			Columns:  []int{0, 1},
			Outputs:  []string{property.FieldLastSaleDate, property.FieldLastSalePrice},
		},
		{
			Name:     property.FieldLotSize,
			Label:    "Land Area:",
			Strategy: property.TextSearch,
			Pattern:  landArea,
			Format:   "%s sq ft",
		},
		{Name: property.FieldFoundation, Label: "Foundation:", Header: "Structural Elements", Strategy: property.SectionText},
		{Name: property.FieldRoofType, Label: "Roof Cover:", Header: "Structural Elements", Strategy: property.SectionText},
		{Name: property.FieldQuality, Label: "Quality:", Header: "Structural Elements", Strategy: property.SectionText},
		{Name: property.FieldTaxDistrict, Label: "Current Tax District", Strategy: property.SiblingCell},
		{Name: property.FieldFloodZone, Label: "Flood Zone", Strategy: property.SiblingCell, PreferAnchor: true},
	}
}

// OutputNames flattens the record keys declared by specs, in order.
func OutputNames(specs []property.FieldSpec) []string {
	var names []string
	for _, spec := range specs {
		names = append(names, spec.OutputNames()...)
	}
	return names
}
