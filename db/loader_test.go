package db

import (
	"errors"
	"strconv"
	"testing"

	"walkable-city/location"
	"walkable-city/model"
)

func lineBundle() *model.Bundle {
	b := &model.Bundle{
		Config: model.LocationConfig{Slug: "dhaka", Name: "Dhaka", Center: model.Point{Lat: 23.8, Lon: 90.4}, Bounds: []float64{23.7, 90.3, 23.9, 90.5}},
		Graph: model.GraphData{NodeCount: 3, Edges: []model.Edge{
			{U: 0, V: 1, Weight: 120.5},
			{U: 1, V: 2, Weight: 80},
		}},
		Mappings: model.Mappings{InternalToExternal: map[string]int64{}},
		Features: []model.Feature{
			{Name: "Square Hospital", Kind: "amenity", Category: "hospital", Lat: 23.75, Lon: 90.38},
			{Name: "Dhaka Pharmacy", Kind: "amenity", Category: "pharmacy", Lat: 23.76, Lon: 90.39},
			{Name: "", Kind: "amenity", Category: "hospital", Lat: 23.77, Lon: 90.40},
		},
		Places: []model.Place{{Name: "Gulshan", Lat: 23.79, Lon: 90.41, PlaceType: "suburb"}},
	}
	for i := 0; i < 3; i++ {
		ext := int64(500 + i)
		b.Mappings.InternalToExternal[strconv.Itoa(i)] = ext
		b.Nodes = append(b.Nodes, model.NodeRecord{ID: ext, Lat: 23.8 + float64(i)*0.001, Lon: 90.4})
	}
	return b
}

func TestBundleRowsRoundTrip(t *testing.T) {
	loc, nodes, edges, features, places, err := bundleToRows(lineBundle())
	if err != nil {
		t.Fatalf("bundleToRows: %v", err)
	}
	if loc.Nodes != 3 || loc.Edges != 2 || loc.POIs != 3 || loc.Places != 1 {
		t.Fatalf("location row counts = %+v", loc)
	}
	if len(loc.Categories) != 2 || loc.Categories[0] != "hospital" || loc.Categories[1] != "pharmacy" {
		t.Fatalf("categories = %v", loc.Categories)
	}
	for _, n := range nodes {
		if n.LocationSlug != "dhaka" {
			t.Fatalf("node slug = %q", n.LocationSlug)
		}
	}

	back, err := rowsToBundle(loc, nodes, edges, features, places)
	if err != nil {
		t.Fatalf("rowsToBundle: %v", err)
	}
	s, err := location.Build(back, location.BuildOptions{})
	if err != nil {
		t.Fatalf("rebuilt bundle does not build: %v", err)
	}
	if s.Graph.NodeCount() != 3 || s.Graph.EdgeCount() != 2 || s.Config.POIs != 3 {
		t.Fatalf("state = %+v", s.Config)
	}
	if ext, _ := s.Graph.ExternalID(2); ext != 502 {
		t.Fatalf("external id = %d", ext)
	}
	if back.Config.Bounds[3] != 90.5 || back.Config.Name != "Dhaka" {
		t.Fatalf("config = %+v", back.Config)
	}
}

func TestBundleToRowsRejectsBadInput(t *testing.T) {
	b := lineBundle()
	b.Config.Slug = "Not A Slug"
	if _, _, _, _, _, err := bundleToRows(b); err == nil {
		t.Fatal("expected invalid slug error")
	}

	b = lineBundle()
	delete(b.Mappings.InternalToExternal, "1")
	if _, _, _, _, _, err := bundleToRows(b); !errors.Is(err, location.ErrCorruptGraphData) {
		t.Fatalf("expected corrupt graph error, got %v", err)
	}
}

func TestRowsToBundleRequiresContiguousNodes(t *testing.T) {
	loc, nodes, edges, features, places, err := bundleToRows(lineBundle())
	if err != nil {
		t.Fatal(err)
	}
	nodes = append(nodes[:1], nodes[2:]...)
	if _, err := rowsToBundle(loc, nodes, edges, features, places); !errors.Is(err, location.ErrCorruptGraphData) {
		t.Fatalf("expected corrupt graph error, got %v", err)
	}
}
