package store

import (
	"errors"
	"math"
	"testing"

	"walkable-city/model"
	"walkable-city/utils"
)

var proj = utils.NewProjection(18.45)

// offset 从基准点向东/北偏移若干米
func offset(east, north float64) (lat, lon float64) {
	const baseLat, baseLon = 18.45, -66.1
	return baseLat + north/utils.MetersPerDegree, baseLon + east/(utils.MetersPerDegree*proj.CosLat)
}

func feat(name, category string, east, north float64) model.Feature {
	lat, lon := offset(east, north)
	return model.Feature{Name: name, Kind: "amenity", Category: category, Lat: lat, Lon: lon}
}

func place(name, placeType string, east, north float64) model.Place {
	lat, lon := offset(east, north)
	return model.Place{Name: name, Lat: lat, Lon: lon, PlaceType: placeType}
}

func mustNew(t *testing.T, features []model.Feature, places []model.Place) *Store {
	t.Helper()
	s, err := New(features, places, proj)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func sampleStore(t *testing.T) *Store {
	return mustNew(t, []model.Feature{
		feat("Farmacia Central", "pharmacy", 100, 0),
		feat("Farmacia Norte", "pharmacy", 0, 400),
		feat("Farmacia Lejana", "pharmacy", 3000, 0),
		feat("Escuela Uno", "school", 50, 50),
		feat("", "bench", 10, 10),
		feat("Cafe Condado", "cafe", -200, 0),
	}, []model.Place{
		place("Condado", "suburb", -250, 0),
		place("Old San Juan", "neighbourhood", 800, 800),
	})
}

func TestNearestFeaturesOrderedByDistance(t *testing.T) {
	s := sampleStore(t)
	lat, lon := offset(0, 0)
	hits := s.NearestFeatures("pharmacy", lat, lon, 2, 0)
	if len(hits) != 2 {
		t.Fatalf("got %d hits", len(hits))
	}
	if hits[0].Name != "Farmacia Central" || hits[1].Name != "Farmacia Norte" {
		t.Fatalf("unexpected order: %+v", hits)
	}
	if math.Abs(hits[0].DistanceMeters-100) > 0.01 {
		t.Fatalf("distance = %f, want 100", hits[0].DistanceMeters)
	}
}

func TestNearestFeaturesRadius(t *testing.T) {
	s := sampleStore(t)
	lat, lon := offset(0, 0)
	hits := s.NearestFeatures("pharmacy", lat, lon, 10, 500)
	if len(hits) != 2 {
		t.Fatalf("radius 500 should exclude the far pharmacy, got %+v", hits)
	}
	for _, h := range hits {
		if h.DistanceMeters > 500 {
			t.Fatalf("hit outside radius: %+v", h)
		}
	}
}

func TestMissingCategoryIsEmptyNotError(t *testing.T) {
	s := sampleStore(t)
	lat, lon := offset(0, 0)

	hits := s.NearestFeatures("hospital", lat, lon, 5, 2000)
	if hits == nil || len(hits) != 0 {
		t.Fatalf("expected empty slice, got %#v", hits)
	}
	count := s.CountFeatures("hospital", lat, lon, 2000)
	if count.Count != 0 || count.RadiusMeters != 2000 || count.Center.Lat != lat {
		t.Fatalf("unexpected count result %+v", count)
	}
}

func TestCountFeaturesIgnoresResultCap(t *testing.T) {
	var features []model.Feature
	for i := 0; i < 120; i++ {
		features = append(features, feat("", "bench", float64(i), 0))
	}
	s := mustNew(t, features, nil)
	lat, lon := offset(0, 0)
	if got := s.CountFeatures("bench", lat, lon, 1000).Count; got != 120 {
		t.Fatalf("count = %d, want 120", got)
	}
	if got := s.CountFeatures("bench", lat, lon, 59.5).Count; got != 60 {
		t.Fatalf("count within 59.5m = %d, want 60", got)
	}
}

func TestCountFeaturesByCategories(t *testing.T) {
	s := sampleStore(t)
	lat, lon := offset(0, 0)
	res := s.CountFeaturesByCategories([]string{"pharmacy", "school", "hospital"}, lat, lon, 1000)
	want := map[string]int{"pharmacy": 2, "school": 1, "hospital": 0}
	for k, v := range want {
		got, ok := res.Counts[k]
		if !ok || got != v {
			t.Fatalf("%s: got %d (present=%v), want %d", k, got, ok, v)
		}
	}
	if _, ok := res.Counts["cafe"]; ok {
		t.Fatal("unrequested category should not be counted")
	}
}

func TestFeaturesInBoundingBox(t *testing.T) {
	s := sampleStore(t)
	minLat, minLon := offset(-20, -20)
	maxLat, maxLon := offset(120, 120)

	all := s.FeaturesInBoundingBox(minLat, maxLat, minLon, maxLon, "")
	if len(all) != 3 {
		t.Fatalf("any category = %+v", all)
	}
	// 按加载顺序返回
	if all[0].Name != "Farmacia Central" || all[2].Category != "bench" {
		t.Fatalf("unexpected order %+v", all)
	}
	pharm := s.FeaturesInBoundingBox(minLat, maxLat, minLon, maxLon, "pharmacy")
	if len(pharm) != 1 {
		t.Fatalf("pharmacy = %+v", pharm)
	}
	if got := s.FeaturesInBoundingBox(maxLat, minLat, minLon, maxLon, ""); len(got) != 0 {
		t.Fatalf("inverted box should be empty, got %+v", got)
	}
}

func TestSearchPlacesOrFeaturesByText(t *testing.T) {
	s := sampleStore(t)
	res := s.SearchPlacesOrFeaturesByText("  condado ", 10)
	if len(res) != 2 {
		t.Fatalf("got %+v", res)
	}
	if res[0].Source != SourcePlace || res[0].Name != "Condado" {
		t.Fatalf("place should come first: %+v", res)
	}
	if res[1].Source != SourceFeature || res[1].Name != "Cafe Condado" {
		t.Fatalf("feature fallback missing: %+v", res)
	}
	if got := s.SearchPlacesOrFeaturesByText("", 10); len(got) != 0 {
		t.Fatalf("empty text should match nothing, got %+v", got)
	}
	if got := s.SearchPlacesOrFeaturesByText("farmacia", 2); len(got) != 2 {
		t.Fatalf("limit not applied: %+v", got)
	}
}

func TestCategoriesAndEmptyStore(t *testing.T) {
	s := sampleStore(t)
	cats := s.Categories()
	want := []string{"bench", "cafe", "pharmacy", "school"}
	if len(cats) != len(want) {
		t.Fatalf("categories = %v", cats)
	}
	for i := range want {
		if cats[i] != want[i] {
			t.Fatalf("categories = %v, want %v", cats, want)
		}
	}

	empty := mustNew(t, nil, nil)
	if got := empty.NearestFeatures("pharmacy", 18.45, -66.1, 3, 0); len(got) != 0 {
		t.Fatalf("empty store returned %+v", got)
	}
	if got := empty.CountFeatures("pharmacy", 18.45, -66.1, 100).Count; got != 0 {
		t.Fatalf("empty store count = %d", got)
	}
}

func TestNewRejectsInvalidCoordinates(t *testing.T) {
	for _, tt := range []struct {
		name     string
		lat, lon float64
	}{
		{"latitude out of range", 95, -66.1},
		{"longitude out of range", 18.45, 200},
		{"NaN", math.NaN(), -66.1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			bad := model.Feature{Name: "Broken", Kind: "amenity", Category: "pharmacy", Lat: tt.lat, Lon: tt.lon}
			s, err := New([]model.Feature{feat("Farmacia Central", "pharmacy", 100, 0), bad}, nil, proj)
			if !errors.Is(err, ErrInvalidFeature) {
				t.Fatalf("expected ErrInvalidFeature, got %v", err)
			}
			if s != nil {
				t.Fatal("store should be nil on error")
			}
		})
	}
}
