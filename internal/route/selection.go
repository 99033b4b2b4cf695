package route

import (
	"regexp"
	"strings"
)

// SelectionStrategy picks the primary path segments out of a document.
// Strategies are tried in order; the first one reporting ok wins.
type SelectionStrategy interface {
	Name() string
	Select(doc RawDocument, paths []RawPlacemark) (selected []RawPlacemark, ok bool)
}

// DefaultPrimaryStyles are the style tags recognised as the planned route line
var DefaultPrimaryStyles = []string{"primary", "route", "primary-route", "primaryroute"}

// DefaultStrategies returns the standard selection chain
func DefaultStrategies() []SelectionStrategy {
	return []SelectionStrategy{
		ByStyleTag{Styles: DefaultPrimaryStyles},
		ByNamePattern{},
		ConcatenateFallback{},
	}
}

// normalizeStyle strips the styleUrl fragment marker and case
func normalizeStyle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "#"); i >= 0 {
		s = s[i+1:]
	}
	return strings.ToLower(s)
}

// ByStyleTag selects path segments whose style matches one of Styles
type ByStyleTag struct {
	Styles []string
}

func (ByStyleTag) Name() string { return "by-style-tag" }

func (s ByStyleTag) Select(_ RawDocument, paths []RawPlacemark) ([]RawPlacemark, bool) {
	styles := s.Styles
	if len(styles) == 0 {
		styles = DefaultPrimaryStyles
	}
	wanted := make(map[string]bool, len(styles))
	for _, st := range styles {
		wanted[normalizeStyle(st)] = true
	}

	var out []RawPlacemark
	for _, p := range paths {
		if wanted[normalizeStyle(p.Style)] {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}

// routeNamePattern matches "KADW-PHNL" style names, capturing both endpoints
var routeNamePattern = regexp.MustCompile(`^\s*([A-Za-z0-9]{3,4})\s*[-–]\s*([A-Za-z0-9]{3,4})\b`)

// parseRouteName extracts departure and arrival identifiers from a route name
func parseRouteName(name string) (from, to string, ok bool) {
	m := routeNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return strings.ToUpper(m[1]), strings.ToUpper(m[2]), true
}

// ByNamePattern selects path segments named after the route ("A-B").
// When the document itself carries an "A-B" name, the segment must match
// the same endpoints.
type ByNamePattern struct{}

func (ByNamePattern) Name() string { return "by-name-pattern" }

func (ByNamePattern) Select(doc RawDocument, paths []RawPlacemark) ([]RawPlacemark, bool) {
	docFrom, docTo, docNamed := parseRouteName(doc.Name)

	var out []RawPlacemark
	for _, p := range paths {
		from, to, ok := parseRouteName(p.Name)
		if !ok {
			continue
		}
		if docNamed && (from != docFrom || to != docTo) {
			continue
		}
		out = append(out, p)
	}
	return out, len(out) > 0
}

// ConcatenateFallback joins every path segment in document order.
// It always matches and marks the result as degraded.
type ConcatenateFallback struct{}

func (ConcatenateFallback) Name() string { return "concatenate-fallback" }

func (ConcatenateFallback) Select(_ RawDocument, paths []RawPlacemark) ([]RawPlacemark, bool) {
	return paths, len(paths) > 0
}
