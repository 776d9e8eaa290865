// Package detector decides when a static fetch of the county site must be
// repeated in a headless browser.
package detector

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

// DefaultContentMarkers show the page already carries what the resolver
// needs: a parcel marker or a results table.
var DefaultContentMarkers = []string{"parcel number", "<table"}

// Reasons reported by Heuristic.Reason.
const (
	ReasonEmptyBody    = "empty_body"
	ReasonScriptHeavy  = "script_heavy"
	ReasonNoscriptHint = "noscript_hint"
	ReasonAppShell     = "app_shell"
)

// minScriptShare is the percentage of a short page that must be script
// before it counts as a client-rendered shell.
const minScriptShare = 25

var appShellMarkers = []string{
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-app",
}

var noscriptHints = []string{
	"enable javascript",
	"requires javascript",
	"javascript is required",
}

// Heuristic promotes short, script-driven or app-shell pages unless they
// already contain one of ContentMarkers.
type Heuristic struct {
	BodyLengthThreshold int
	ContentMarkers      []string
}

// NewHeuristic creates a new detector. A zero threshold selects 2048 bytes;
// nil markers select DefaultContentMarkers.
func NewHeuristic(threshold int, contentMarkers []string) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	if contentMarkers == nil {
		contentMarkers = DefaultContentMarkers
	}
	lowered := make([]string, 0, len(contentMarkers))
	for _, m := range contentMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	return &Heuristic{BodyLengthThreshold: threshold, ContentMarkers: lowered}
}

// ShouldPromote reports whether page needs a headless render.
func (h *Heuristic) ShouldPromote(page property.Page) bool {
	return h.Reason(page) != ""
}

// Reason names the rule that wants page promoted, or "" when none does.
// Only 200 responses are considered.
func (h *Heuristic) Reason(page property.Page) string {
	if page.StatusCode != http.StatusOK {
		return ""
	}
	if len(page.HTML) == 0 {
		return ReasonEmptyBody
	}
	lower := strings.ToLower(string(page.HTML))
	if containsAny(lower, h.ContentMarkers) {
		return ""
	}
	switch {
	case len(lower) < h.BodyLengthThreshold && scriptShare(lower) >= minScriptShare:
		return ReasonScriptHeavy
	case containsAny(lower, noscriptHints):
		return ReasonNoscriptHint
	case containsAny(lower, appShellMarkers):
		return ReasonAppShell
	default:
		return ""
	}
}

// scriptShare returns the percentage of doc covered by <script> elements,
// tags included. An unterminated element runs to the end of doc.
func scriptShare(doc string) int {
	if doc == "" {
		return 0
	}
	covered := 0
	for rest := doc; ; {
		start := strings.Index(rest, "<script")
		if start < 0 {
			break
		}
		rest = rest[start:]
		end := strings.Index(rest, "</script>")
		if end < 0 {
			covered += len(rest)
			break
		}
		end += len("</script>")
		covered += end
		rest = rest[end:]
	}
	return covered * 100 / len(doc)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
