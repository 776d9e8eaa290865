// Package extract pulls named fields out of a parcel detail page using a
// declarative table of label locators.
//
// Every lookup is first-match-in-document-order. When a label appears more
// than once on a page the first occurrence wins, even if a later one is the
// intended value; no disambiguation is attempted. Extraction never fails: a
// field that cannot be located is reported as property.NotFound.
package extract
