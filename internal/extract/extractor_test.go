package extract

import (
	"os"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

func loadDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func loadFixture(t *testing.T, name string) *goquery.Document {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return loadDoc(t, string(data))
}

func TestExtractDetailFixture(t *testing.T) {
	t.Parallel()

	got := New(nil).Extract(loadFixture(t, "detail.html"), DefaultFields())
	want := map[string]string{
		property.FieldParcelID:         "15-29-16-12345-000-0010",
		property.FieldOwner:            "DOE JANE",
		property.FieldPropertyType:     "0110 Single Family Home",
		property.FieldAddress:          "1505 MAPLE ST CLEARWATER FL 33755",
		property.FieldLegalDescription: "MAPLE GROVE SUB BLK 2, LOT 7",
		property.FieldYearBuilt:        "1957",
		property.FieldLivingArea:       "1,200",
		property.FieldGrossArea:        "1,640",
		property.FieldLivingUnits:      "1",
		property.FieldMarketValue:      "$200,000",
		property.FieldAssessedValue:    "$180,000",
		property.FieldTaxableValue:     "$150,000",
		property.FieldLastSaleDate:     "06/14/2019",
		property.FieldLastSalePrice:    "$165,000",
		property.FieldLotSize:          "7,500 sq ft",
		property.FieldFoundation:       "Continuous Footing",
		property.FieldRoofType:         "Composite Shingle",
		property.FieldQuality:          "Average",
		property.FieldTaxDistrict:      "CW (CLEARWATER)",
		property.FieldFloodZone:        "AE",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractIsCompleteOnEmptyPage(t *testing.T) {
	t.Parallel()

	specs := DefaultFields()
	got := New(nil).Extract(loadDoc(t, "<html><body></body></html>"), specs)
	names := OutputNames(specs)
	require.Len(t, got, len(names))
	for _, name := range names {
		require.Equal(t, property.NotFound, got[name], name)
	}
}

func TestExtractIsCompleteForArbitraryPages(t *testing.T) {
	t.Parallel()

	pages := []string{
		"",
		"<p>Owner Name</p>",
		"<table><tr><td>Owner Name</td></tr></table>",
		"<table><tr><td>Owner Name</td><td>   </td></tr></table>",
		"<h3>Final Values</h3><p>no table</p>",
		"<h3>Sales History</h3><table><tr><td>Sale Date</td><td>Price</td></tr></table>",
		"<h3>Structural Elements</h3><div><b>Foundation:</b><br><b>Roof Cover:</b> Tile</div>",
		"<p>Land Area: unknown</p>",
	}
	specs := DefaultFields()
	for _, html := range pages {
		got := New(nil).Extract(loadDoc(t, html), specs)
		for _, name := range OutputNames(specs) {
			v, ok := got[name]
			require.True(t, ok, "missing %s for %q", name, html)
			require.NotEmpty(t, v, "empty %s for %q", name, html)
		}
	}
}

func TestExtractNilDocument(t *testing.T) {
	t.Parallel()

	got := New(nil).Extract(nil, DefaultFields())
	require.Equal(t, property.NotFound, got[property.FieldOwner])
	require.Equal(t, property.NotFound, got[property.FieldMarketValue])
}

func TestSiblingCellFirstMatchWins(t *testing.T) {
	t.Parallel()

	doc := loadDoc(t, `<table>
<tr><td>Owner Name</td><td>FIRST OWNER</td></tr>
<tr><td>Owner Name</td><td>SECOND OWNER</td></tr>
</table>`)
	got := New(nil).Extract(doc, []property.FieldSpec{
		{Name: property.FieldOwner, Label: "owner name", Strategy: property.SiblingCell},
	})
	require.Equal(t, "FIRST OWNER", got[property.FieldOwner])
}

func TestSiblingCellFirstLabelWithoutSibling(t *testing.T) {
	t.Parallel()

	doc := loadDoc(t, `<table>
<tr><td>Owner Name</td></tr>
<tr><td>Owner Name</td><td>LATER</td></tr>
</table>`)
	got := New(nil).Extract(doc, []property.FieldSpec{
		{Name: property.FieldOwner, Label: "Owner Name", Strategy: property.SiblingCell},
	})
	require.Equal(t, property.NotFound, got[property.FieldOwner])
}

func TestSiblingCellJoinFragments(t *testing.T) {
	t.Parallel()

	doc := loadDoc(t, `<table><tr><td>Site Address</td><td>1505 MAPLE ST<br>CLEARWATER FL 33755</td></tr></table>`)
	joined := New(nil).Extract(doc, []property.FieldSpec{
		{Name: property.FieldAddress, Label: "Site Address", Strategy: property.SiblingCell, JoinFragments: true},
	})
	require.Equal(t, "1505 MAPLE ST CLEARWATER FL 33755", joined[property.FieldAddress])

	raw := New(nil).Extract(doc, []property.FieldSpec{
		{Name: property.FieldAddress, Label: "Site Address", Strategy: property.SiblingCell},
	})
	require.Equal(t, "1505 MAPLE STCLEARWATER FL 33755", raw[property.FieldAddress])
}

func TestSiblingCellCustomSelector(t *testing.T) {
	t.Parallel()

	doc := loadDoc(t, `<dl><dt>Owner</dt><dd>ROE RICHARD</dd></dl><div><span>Owner</span><span>SPAN OWNER</span></div>`)
	got := New(nil).Extract(doc, []property.FieldSpec{
		{Name: property.FieldOwner, Label: "Owner", Strategy: property.SiblingCell, Selector: "span"},
	})
	require.Equal(t, "SPAN OWNER", got[property.FieldOwner])
}

func TestFinalValuesRowPredicate(t *testing.T) {
	t.Parallel()

	doc := loadDoc(t, `<h3>Final Values</h3>
<table>
<tr><td>Year</td><td>Market</td><td>Assessed</td><td>Taxable</td></tr>
<tr><td>Total</td><td>$1</td><td>$1</td><td>$1</td></tr>
<tr><td>2025</td><td>$200,000</td><td>$180,000</td></tr>
</table>`)
	got := New(nil).Extract(doc, DefaultFields())
	require.Equal(t, "$200,000", got[property.FieldMarketValue])
	require.Equal(t, "$180,000", got[property.FieldAssessedValue])
	require.Equal(t, property.NotFound, got[property.FieldTaxableValue])
}

func TestTableAfterHeaderSkipsTablesBeforeHeading(t *testing.T) {
	t.Parallel()

	doc := loadDoc(t, `<table><tr><td>2020</td><td>$1</td><td>$2</td><td>$3</td></tr></table>
<h2>Current Final Values</h2>
<table><tr><td>2025</td><td>$9</td><td>$8</td><td>$7</td></tr></table>`)
	got := New(nil).Extract(doc, DefaultFields())
	require.Equal(t, "$9", got[property.FieldMarketValue])
	require.Equal(t, "$7", got[property.FieldTaxableValue])
}

func TestLotSizeVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
	}{
		{"utf8 approx", `<p>Land Area: ≅ 10,890 sf</p>`, "10,890 sq ft"},
		{"split across elements", `<div><span>Land Area:</span><span>≅ 6,000 sf</span></div>`, "6,000 sq ft"},
		{"no number", `<p>Land Area: see plat</p>`, property.NotFound},
		{"missing", `<p>Lot Area: 5 sf</p>`, property.NotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := New(nil).Extract(loadDoc(t, tt.html), DefaultFields())
			require.Equal(t, tt.want, got[property.FieldLotSize])
		})
	}
}

func TestSectionTextStopsAtNextLabel(t *testing.T) {
	t.Parallel()

	doc := loadDoc(t, `<h3>Structural Elements</h3>
<div><b>Foundation:</b><b>Roof Cover:</b> Metal</div>`)
	got := New(nil).Extract(doc, DefaultFields())
	require.Equal(t, property.NotFound, got[property.FieldFoundation])
	require.Equal(t, "Metal", got[property.FieldRoofType])
}

func TestRowPredicates(t *testing.T) {
	t.Parallel()

	require.True(t, LeadingYear([]string{"2025", "$1"}))
	require.False(t, LeadingYear([]string{"2025"}))
	require.False(t, LeadingYear([]string{"Year", "$1"}))
	require.False(t, LeadingYear([]string{"20255", "$1"}))

	accept := NotHeaderLabel("Sale Date")
	require.False(t, accept([]string{"Sale Date", "Price"}))
	require.False(t, accept([]string{"", "Price"}))
	require.False(t, accept([]string{"01/01/2020"}))
	require.True(t, accept([]string{"01/01/2020", "$1"}))
}
