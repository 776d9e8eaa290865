package assemble

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var retrieved = time.Date(2025, 3, 4, 15, 4, 5, 0, time.UTC)

func TestAssembleAppliesDecorations(t *testing.T) {
	t.Parallel()

	raw := map[string]string{
		property.FieldOwner:      "DOE JANE",
		property.FieldLivingArea: "1,200",
		property.FieldGrossArea:  property.NotFound,
		property.FieldLotSize:    "7,500 sq ft",
		property.FieldAddress:    property.NotFound,
	}
	fields := []string{
		property.FieldOwner,
		property.FieldLivingArea,
		property.FieldGrossArea,
		property.FieldLotSize,
		property.FieldAddress,
		property.FieldParcelID,
	}
	a := New("", fixedClock{t: retrieved}, fields)
	got := a.Assemble(raw, property.Address{Raw: "1505 Maple St, Clearwater", Normalized: "1505 MAPLE ST"},
		"https://www.pcpao.gov/property-details?parcel=1")

	want := property.Record{
		property.FieldOwner:       "DOE JANE",
		property.FieldLivingArea:  "1,200 sq ft",
		property.FieldGrossArea:   property.NotFound,
		property.FieldLotSize:     "7,500 sq ft",
		property.FieldAddress:     "1505 Maple St, Clearwater",
		property.FieldParcelID:    property.NotFound,
		property.FieldBedrooms:    "N/A",
		property.FieldBathrooms:   "N/A",
		property.FieldCounty:      "Pinellas",
		property.FieldSourceURL:   "https://www.pcpao.gov/property-details?parcel=1",
		property.FieldRetrievedAt: "2025-03-04T15:04:05Z",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Assemble() mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "1,200", raw[property.FieldLivingArea], "raw must not be modified")
}

func TestAssembleKeepsExtractedAddress(t *testing.T) {
	t.Parallel()

	a := New("Pinellas", fixedClock{t: retrieved}, []string{property.FieldAddress})
	got := a.Assemble(map[string]string{property.FieldAddress: "1505 MAPLE ST CLEARWATER FL 33755"},
		property.Address{Raw: "1505 maple"}, "u")
	require.Equal(t, "1505 MAPLE ST CLEARWATER FL 33755", got[property.FieldAddress])
}

func TestAssembleBlankValuesBecomeNotFound(t *testing.T) {
	t.Parallel()

	a := New("Pinellas", fixedClock{t: retrieved}, []string{property.FieldOwner, property.FieldLivingArea})
	got := a.Assemble(map[string]string{property.FieldOwner: "", property.FieldLivingArea: ""}, property.Address{}, "u")
	require.Equal(t, property.NotFound, got[property.FieldOwner])
	require.Equal(t, property.NotFound, got[property.FieldLivingArea])
}

func TestAssembleUsesCustomCounty(t *testing.T) {
	t.Parallel()

	got := New("Pasco", fixedClock{t: retrieved}, nil).Assemble(nil, property.Address{Raw: "x"}, "u")
	require.Equal(t, "Pasco", got[property.FieldCounty])
	require.Equal(t, "x", got[property.FieldAddress])
}
