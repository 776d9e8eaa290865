package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

const (
	defaultLabelSelector = "td, dt"
	headingSelector      = "h1, h2, h3, h4, h5, h6"
)

// Extractor applies FieldSpecs to parsed detail pages. It holds no
// per-page state and is safe for concurrent use.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract runs every spec against doc. The result holds an entry for every
// output name of every spec; misses are property.NotFound.
func (e *Extractor) Extract(doc *goquery.Document, specs []property.FieldSpec) map[string]string {
	out := make(map[string]string, len(specs))
	for _, spec := range specs {
		for name, value := range e.apply(doc, spec) {
			out[name] = value
		}
	}
	for _, name := range OutputNames(specs) {
		v, ok := out[name]
		if !ok || strings.TrimSpace(v) == "" {
			out[name] = property.NotFound
			v = property.NotFound
		}
		if v == property.NotFound {
			e.logger.Debug("field not found", zap.String("field", name))
		}
	}
	return out
}

func (e *Extractor) apply(doc *goquery.Document, spec property.FieldSpec) map[string]string {
	if doc == nil {
		return nil
	}
	switch spec.Strategy {
	case property.SiblingCell:
		return map[string]string{spec.Name: siblingCell(doc, spec)}
	case property.NextTableAfterHeader:
		return tableAfterHeader(doc, spec)
	case property.TextSearch:
		return map[string]string{spec.Name: textSearch(doc, spec)}
	case property.SectionText:
		return map[string]string{spec.Name: sectionText(doc, spec)}
	default:
		e.logger.Warn("unknown lookup strategy",
			zap.Stringer("strategy", spec.Strategy),
			zap.Strings("fields", spec.OutputNames()),
		)
		return nil
	}
}

// siblingCell returns the text of the element after the first label cell.
// Only the first matching label is considered, even when it has no sibling.
func siblingCell(doc *goquery.Document, spec property.FieldSpec) string {
	selector := spec.Selector
	if selector == "" {
		selector = defaultLabelSelector
	}
	value := property.NotFound
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("table").Length() > 0 || !containsFold(s.Text(), spec.Label) {
			return true
		}
		next := s.Next()
		if next.Length() == 0 {
			return false
		}
		if spec.PreferAnchor {
			if text := collapse(next.Find("a").First().Text()); text != "" {
				value = text
				return false
			}
		}
		text := next.Text()
		if spec.JoinFragments {
			text = textOf(next.Nodes[0])
		}
		if text = collapse(text); text != "" {
			value = text
		}
		return false
	})
	return value
}

// tableAfterHeader reads spec.Columns from the first accepted row of the
// first table following the section heading.
func tableAfterHeader(doc *goquery.Document, spec property.FieldSpec) map[string]string {
	out := make(map[string]string, len(spec.Outputs))
	for _, name := range spec.Outputs {
		out[name] = property.NotFound
	}
	table := nextAfterHeading(doc, spec.Header, "table")
	if table == nil {
		return out
	}
	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		var cells []string
		row.ChildrenFiltered("td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, collapse(cell.Text()))
		})
		if len(cells) == 0 {
			return true
		}
		if spec.Accept != nil && !spec.Accept(cells) {
			return true
		}
		for i, col := range spec.Columns {
			if i >= len(spec.Outputs) {
				break
			}
			if col >= 0 && col < len(cells) && cells[col] != "" {
				out[spec.Outputs[i]] = cells[col]
			}
		}
		return false
	})
	return out
}

// textSearch applies spec.Pattern to the first text node containing the
// label, widening to its parent and grandparent when the payload sits in an
// adjacent element.
func textSearch(doc *goquery.Document, spec property.FieldSpec) string {
	var node *html.Node
	for _, root := range doc.Nodes {
		if node = firstTextNode(root, spec.Label); node != nil {
			break
		}
	}
	if node == nil {
		return property.NotFound
	}
	candidates := []string{node.Data}
	for p, depth := node.Parent, 0; p != nil && depth < 2; p, depth = p.Parent, depth+1 {
		candidates = append(candidates, textOf(p))
	}
	for _, text := range candidates {
		payload := ""
		if spec.Pattern == nil {
			payload = afterLabel(text, spec.Label)
		} else if m := spec.Pattern.FindStringSubmatch(text); len(m) > 1 {
			payload = strings.TrimSpace(m[1])
		}
		if payload == "" {
			continue
		}
		if spec.Format != "" {
			return fmt.Sprintf(spec.Format, payload)
		}
		return payload
	}
	return property.NotFound
}

// sectionText finds the label inside the first block after the section
// heading and returns the text that trails it: either the rest of the same
// text node or the content following the label's element.
func sectionText(doc *goquery.Document, spec property.FieldSpec) string {
	block := nextAfterHeading(doc, spec.Header, "div")
	if block == nil {
		return property.NotFound
	}
	var node *html.Node
	for _, root := range block.Nodes {
		if node = firstTextNode(root, spec.Label); node != nil {
			break
		}
	}
	if node == nil {
		return property.NotFound
	}
	if rest := afterLabel(node.Data, spec.Label); rest != "" {
		return rest
	}

	anchor := node
	if node.Parent != nil && node.Parent != block.Nodes[0] {
		anchor = node.Parent
	}
	for sib := anchor.NextSibling; sib != nil; sib = sib.NextSibling {
		switch sib.Type {
		case html.TextNode:
			if text := collapse(sib.Data); text != "" {
				return text
			}
		case html.ElementNode:
			if sib.Data == "br" {
				return property.NotFound
			}
			text := collapse(textOf(sib))
			if strings.HasSuffix(text, ":") {
				return property.NotFound
			}
			if text != "" {
				return text
			}
		}
	}
	return property.NotFound
}

// nextAfterHeading returns the first element named target that follows, in
// document order, the first heading containing header.
func nextAfterHeading(doc *goquery.Document, header, target string) *goquery.Selection {
	var found *goquery.Selection
	seen := false
	doc.Find(headingSelector + ", " + target).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name := goquery.NodeName(s)
		if !seen {
			if name != target && containsFold(s.Text(), header) {
				seen = true
			}
			return true
		}
		if name == target {
			found = s
			return false
		}
		return true
	})
	return found
}

// firstTextNode walks root in document order, skipping scripts and styles.
func firstTextNode(root *html.Node, label string) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && (root.Data == "script" || root.Data == "style") {
		return nil
	}
	if root.Type == html.TextNode && containsFold(root.Data, label) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := firstTextNode(c, label); n != nil {
			return n
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "script" || c.Data == "style") {
			continue
		}
		b.WriteString(textOf(c))
		b.WriteByte(' ')
	}
	return b.String()
}

func afterLabel(text, label string) string {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(label))
	if idx < 0 || idx+len(label) > len(text) {
		return ""
	}
	return collapse(text[idx+len(label):])
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
