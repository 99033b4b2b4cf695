package route

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadKMLKeepsNamesAndDescriptions(t *testing.T) {
	doc, err := LoadKML(strings.NewReader(kadwPhnlKML()))
	if err != nil {
		t.Fatalf("LoadKML: %v", err)
	}

	if doc.Name != "KADW-PHNL" {
		t.Errorf("document name = %q, want KADW-PHNL (not the folder name)", doc.Name)
	}

	type summary struct {
		Name, Style string
		Kind        GeometryKind
		HasTime     bool
	}
	var got []summary
	for _, pm := range doc.Placemarks {
		got = append(got, summary{
			Name:    pm.Name,
			Style:   pm.Style,
			Kind:    pm.Kind,
			HasTime: strings.Contains(pm.Description, "Time Over Waypoint:"),
		})
	}
	want := []summary{
		{Name: "KADW", Kind: GeometryPoint, HasTime: true},
		{Name: "PHNL", Kind: GeometryPoint, HasTime: true},
		{Name: "PHTO", Style: "#gray", Kind: GeometryPoint},
		{Name: "KADW-PHNL", Style: "#primary", Kind: GeometryPath},
		{Name: "Divert PHNL-PHTO", Style: "#gray", Kind: GeometryPath},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("placemarks (-want +got):\n%s", diff)
	}

	if d := doc.Placemarks[0].Description; !strings.HasPrefix(d, "Departure") {
		t.Errorf("CDATA description = %q", d)
	}
}

func TestLoadKMLNestedNameScopes(t *testing.T) {
	const src = `<kml><Document>
  <Folder><name>Folder first</name></Folder>
  <name>Doc</name>
  <Placemark>
    <ExtendedData><Data name="x"><name>inner</name></Data></ExtendedData>
    <name>WPT</name>
    <Point><coordinates>1,2,0</coordinates></Point>
  </Placemark>
</Document></kml>`

	doc, err := LoadKML(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Name != "Doc" {
		t.Errorf("document name = %q, want Doc", doc.Name)
	}
	if len(doc.Placemarks) != 1 || doc.Placemarks[0].Name != "WPT" {
		t.Fatalf("placemarks = %+v", doc.Placemarks)
	}
	if p := doc.Placemarks[0].Coordinates[0]; p.Lat != 2 || p.Lon != 1 {
		t.Errorf("coordinate = %+v", p)
	}
}
