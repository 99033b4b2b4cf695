package route

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
)

// LoadKML decodes a KML document into placemarks, preserving document order.
// Folders are flattened. Coordinates that cannot be parsed are kept as NaN so
// ingest can drop and report them.
func LoadKML(r io.Reader) (RawDocument, error) {
	var doc RawDocument
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var (
		stack []string
		pm    *RawPlacemark
		lines int
	)

	parent := func() string {
		if len(stack) < 2 {
			return ""
		}
		return stack[len(stack)-2]
	}
	within := func(name string) bool {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i] == name {
				return true
			}
		}
		return false
	}
	text := func(se xml.StartElement) (string, error) {
		var s string
		if err := dec.DecodeElement(&s, &se); err != nil {
			return "", fmt.Errorf("failed to decode <%s>: %w", se.Name.Local, err)
		}
		stack = stack[:len(stack)-1]
		return strings.TrimSpace(s), nil
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return RawDocument{}, fmt.Errorf("failed to parse KML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			// text() pops the element, so the enclosing name is read first
			enclosing := parent()

			switch t.Name.Local {
			case "Placemark":
				pm = &RawPlacemark{Kind: GeometryPoint}
				lines = 0

			case "name":
				s, err := text(t)
				if err != nil {
					return RawDocument{}, err
				}
				switch {
				case pm != nil && enclosing == "Placemark":
					pm.Name = s
				case pm == nil && enclosing == "Document" && doc.Name == "":
					doc.Name = s
				}

			case "description":
				s, err := text(t)
				if err != nil {
					return RawDocument{}, err
				}
				if pm != nil && enclosing == "Placemark" {
					pm.Description = s
				}

			case "styleUrl":
				s, err := text(t)
				if err != nil {
					return RawDocument{}, err
				}
				if pm != nil {
					pm.Style = s
				}

			case "color":
				s, err := text(t)
				if err != nil {
					return RawDocument{}, err
				}
				if pm != nil && pm.Style == "" && within("LineStyle") {
					pm.Style = s
				}

			case "LineString", "LinearRing":
				lines++

			case "coordinates":
				s, err := text(t)
				if err != nil {
					return RawDocument{}, err
				}
				if pm == nil {
					continue
				}
				coords := parseCoordinates(s)
				if within("LineString") || within("LinearRing") {
					pm.Kind = GeometryPath
					pm.Coordinates = append(pm.Coordinates, coords...)
				} else if within("Point") && pm.Kind == GeometryPoint && len(pm.Coordinates) == 0 {
					pm.Coordinates = coords
				}
			}

		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if t.Name.Local == "Placemark" && pm != nil {
				if lines > 0 {
					pm.Kind = GeometryPath
				}
				doc.Placemarks = append(doc.Placemarks, *pm)
				pm = nil
			}
		}
	}

	return doc, nil
}

// parseCoordinates reads whitespace separated "lon,lat[,alt]" tuples
func parseCoordinates(s string) []geo.Point {
	fields := strings.Fields(s)
	out := make([]geo.Point, 0, len(fields))
	for _, f := range fields {
		parts := strings.Split(f, ",")
		if len(parts) < 2 {
			out = append(out, geo.Point{Lat: math.NaN(), Lon: math.NaN()})
			continue
		}
		lon, errLon := strconv.ParseFloat(parts[0], 64)
		lat, errLat := strconv.ParseFloat(parts[1], 64)
		if errLon != nil || errLat != nil {
			out = append(out, geo.Point{Lat: math.NaN(), Lon: math.NaN()})
			continue
		}
		p := geo.Point{Lat: lat, Lon: lon}
		if len(parts) > 2 {
			if alt, err := strconv.ParseFloat(parts[2], 64); err == nil {
				p.Alt = &alt
			}
		}
		out = append(out, p)
	}
	return out
}
