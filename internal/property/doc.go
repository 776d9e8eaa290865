// Package property defines the types shared by the lookup pipeline: fetched
// pages, field locators, assembled records, and the error taxonomy callers
// branch on.
package property
