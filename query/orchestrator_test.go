package query

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"walkable-city/algo"
	"walkable-city/location"
	"walkable-city/model"
	"walkable-city/store"
)

const deg = 100 / 111000.0

func testBundle() *model.Bundle {
	records := []model.NodeRecord{
		{ID: 11, Lat: 18.45, Lon: -66.1},
		{ID: 12, Lat: 18.45, Lon: -66.1 + deg},
		{ID: 13, Lat: 18.45 + deg, Lon: -66.1 + deg},
		{ID: 14, Lat: 18.45 + deg, Lon: -66.1},
	}
	mappings := model.Mappings{InternalToExternal: map[string]int64{}}
	for i, r := range records {
		mappings.InternalToExternal[strconv.Itoa(i)] = r.ID
	}
	return &model.Bundle{
		Config: model.LocationConfig{Slug: "plaza", Name: "Plaza Town", Center: model.Point{Lat: 18.45, Lon: -66.1}},
		Graph: model.GraphData{NodeCount: 4, Edges: []model.Edge{
			{U: 0, V: 1, Weight: 100}, {U: 1, V: 2, Weight: 100}, {U: 2, V: 3, Weight: 100}, {U: 3, V: 0, Weight: 100},
		}},
		Mappings: mappings,
		Nodes:    records,
		Features: []model.Feature{
			{Name: "Farmacia Central", Kind: "amenity", Category: "pharmacy", Lat: 18.45, Lon: -66.1 + deg},
			{Name: "Escuela Norte", Kind: "amenity", Category: "school", Lat: 18.45 + deg, Lon: -66.1},
		},
		Places: []model.Place{{Name: "Plaza Mayor", Lat: 18.45, Lon: -66.1, PlaceType: "square"}},
	}
}

type fixedState struct {
	state *location.State
	err   error
}

func (f fixedState) Current() (*location.State, error) { return f.state, f.err }

func buildState(t *testing.T) *location.State {
	t.Helper()
	s, err := location.Build(testBundle(), location.BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return s
}

// stubSelector 记录收到的文本，返回预设的选择
type stubSelector struct {
	mu   sync.Mutex
	text string
	menu Menu
	sel  Selection
	err  error
}

func (s *stubSelector) Select(_ context.Context, text string, menu Menu) (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
	s.menu = menu
	return s.sel, s.err
}

func choose(name string, args any) *stubSelector {
	raw, _ := json.Marshal(args)
	return &stubSelector{sel: Selection{Name: name, Arguments: raw}}
}

type recordingPublisher struct {
	mu      sync.Mutex
	results []QueryResult
}

func (p *recordingPublisher) Publish(_ context.Context, r QueryResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newOrchestrator(t *testing.T, sel Selector, pub Publisher) *Orchestrator {
	return New(fixedState{state: buildState(t)}, sel, pub, Options{SelectorTimeout: time.Second, OperationTimeout: time.Second}, quietLogger())
}

func TestRunRoute(t *testing.T) {
	sel := choose("compute_route", map[string]float64{
		"start_lat": 18.45, "start_lon": -66.1, "end_lat": 18.45 + deg, "end_lon": -66.1 + deg,
	})
	pub := &recordingPublisher{}
	o := newOrchestrator(t, sel, pub)

	res := o.Run(context.Background(), "walk from Plaza Mayor to the school")
	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.ErrorKind, res.ErrorMessage)
	}
	route, ok := res.Output.(*algo.RouteResult)
	if !ok {
		t.Fatalf("output type = %T", res.Output)
	}
	if math.Abs(route.DistanceMeters-200) > 1e-6 {
		t.Fatalf("distance = %f, want 200", route.DistanceMeters)
	}
	if math.Abs(route.WalkMinutes-2.4) > 0.01 {
		t.Fatalf("minutes = %f, want ~2.4", route.WalkMinutes)
	}
	if res.ID == "" || res.Location != "plaza" || res.Operation != OpComputeRoute {
		t.Fatalf("envelope = %+v", res)
	}
	if _, ok := res.ResolvedPlaces["Plaza Mayor"]; !ok {
		t.Fatalf("resolved places = %v", res.ResolvedPlaces)
	}
	if strings.Contains(sel.text, "Plaza Mayor") || !strings.Contains(sel.text, "(lat 18.450000, lon -66.100000)") {
		t.Fatalf("selector saw %q", sel.text)
	}
	if len(sel.menu.Operations) != 7 || len(sel.menu.Categories) != 2 {
		t.Fatalf("menu = %+v", sel.menu)
	}
	if len(pub.results) != 1 || pub.results[0].ID != res.ID {
		t.Fatalf("published = %+v", pub.results)
	}
}

func TestRunScenarioNoHospitals(t *testing.T) {
	o := newOrchestrator(t, choose("list_nearby_features", map[string]any{
		"category": "hospital", "lat": 18.45, "lon": -66.1, "radius_m": 5000,
	}), nil)
	res := o.Run(context.Background(), "hospitals near me")
	if !res.Success {
		t.Fatalf("expected success, got %s", res.ErrorMessage)
	}
	out := res.Output.(NearbyOutput)
	if out.Count != 0 || out.Items == nil || len(out.Items) != 0 {
		t.Fatalf("output = %+v", out)
	}

	o = newOrchestrator(t, choose("count_features", map[string]any{
		"category": "hospital", "lat": 18.45, "lon": -66.1,
	}), nil)
	res = o.Run(context.Background(), "how many hospitals")
	if !res.Success {
		t.Fatalf("expected success, got %s", res.ErrorMessage)
	}
	if c := res.Output.(store.CountResult); c.Count != 0 {
		t.Fatalf("count = %d", c.Count)
	}
}

func TestRunErrorKindsAreDistinct(t *testing.T) {
	unavailable := &stubSelector{err: errors.New("dial tcp: connection refused")}
	malformed := &stubSelector{err: ErrSelectorMalformed}
	failing := choose("compute_route", map[string]float64{
		"start_lat": 95, "start_lon": -66.1, "end_lat": 18.45, "end_lon": -66.1,
	})

	tests := []struct {
		name string
		sel  Selector
		want ErrorKind
	}{
		{"unavailable", unavailable, KindSelectorUnavailable},
		{"malformed reply", malformed, KindSelectorMalformed},
		{"unknown operation", choose("teleport", map[string]any{}), KindSelectorMalformed},
		{"missing argument", choose("compute_isochrone", map[string]any{"lat": 18.45, "lon": -66.1}), KindSelectorMalformed},
		{"wrong type", choose("compute_isochrone", map[string]any{"lat": "north", "lon": -66.1, "max_minutes": 5}), KindSelectorMalformed},
		{"extra argument", choose("geocode_lookup", map[string]any{"place_name": "x", "zoom": 3}), KindSelectorMalformed},
		{"execution failed", failing, KindExecutionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newOrchestrator(t, tt.sel, nil).Run(context.Background(), "anything")
			if res.Success {
				t.Fatal("expected failure")
			}
			if res.ErrorKind != tt.want {
				t.Fatalf("kind = %s, want %s (%s)", res.ErrorKind, tt.want, res.ErrorMessage)
			}
			if res.ErrorMessage == "" || res.ElapsedSeconds < 0 {
				t.Fatalf("envelope = %+v", res)
			}
		})
	}
}

func TestRunWithoutLocation(t *testing.T) {
	o := New(fixedState{err: location.ErrNoLocationLoaded}, choose("geocode_lookup", map[string]any{"place_name": "x"}), nil, Options{}, quietLogger())
	res := o.Run(context.Background(), "where is x")
	if res.Success || res.ErrorKind != KindNoLocationLoaded {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunNoRoute(t *testing.T) {
	b := testBundle()
	b.Graph.Edges = b.Graph.Edges[:1]
	s, err := location.Build(b, location.BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	o := New(fixedState{state: s}, choose("compute_route", map[string]float64{
		"start_lat": 18.45, "start_lon": -66.1, "end_lat": 18.45 + deg, "end_lon": -66.1 + deg,
	}), nil, Options{}, quietLogger())
	res := o.Run(context.Background(), "route")
	if res.ErrorKind != KindNoRouteFound {
		t.Fatalf("kind = %s (%s)", res.ErrorKind, res.ErrorMessage)
	}
}

func TestRunOperationTimeout(t *testing.T) {
	o := newOrchestrator(t, choose("compute_isochrone", map[string]float64{"lat": 18.45, "lon": -66.1, "max_minutes": 10}), nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	res := o.Run(ctx, "what can I reach in 10 minutes")
	if res.Success || res.ErrorKind != KindTimeout {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunRecoversFromPanic(t *testing.T) {
	full := buildState(t)
	broken := &location.State{Config: full.Config, Graph: full.Graph, Store: full.Store, Resolver: full.Resolver}
	o := New(fixedState{state: broken}, choose("compute_route", map[string]float64{
		"start_lat": 18.45, "start_lon": -66.1, "end_lat": 18.45, "end_lon": -66.1,
	}), nil, Options{}, quietLogger())
	res := o.Run(context.Background(), "route")
	if res.Success || res.ErrorKind != KindExecutionFailed {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunWithoutSelector(t *testing.T) {
	o := newOrchestrator(t, nil, nil)
	res := o.Run(context.Background(), "anything")
	if res.ErrorKind != KindSelectorUnavailable {
		t.Fatalf("kind = %s", res.ErrorKind)
	}
}

func TestExecuteGeocodeLookup(t *testing.T) {
	o := newOrchestrator(t, nil, nil)

	res := o.Execute(context.Background(), GeocodeLookupRequest{PlaceName: "plaza mayor"})
	out := res.Output.(GeocodeOutput)
	if !res.Success || !out.Found || out.Name != "Plaza Mayor" || out.Count != 1 {
		t.Fatalf("result = %+v", res)
	}

	res = o.Execute(context.Background(), GeocodeLookupRequest{PlaceName: "Atlantis"})
	out = res.Output.(GeocodeOutput)
	if !res.Success || out.Found || out.Count != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteValidatesRequest(t *testing.T) {
	o := newOrchestrator(t, nil, nil)
	res := o.Execute(context.Background(), CountFeaturesRequest{Category: "school", Categories: []string{"pharmacy"}, Lat: 18.45, Lon: -66.1})
	if res.ErrorKind != KindSelectorMalformed {
		t.Fatalf("kind = %s", res.ErrorKind)
	}

	res = o.Execute(context.Background(), CountFeaturesRequest{Categories: []string{"school", "pharmacy", "hospital"}, Lat: 18.45, Lon: -66.1, RadiusMeters: 500})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	counts := res.Output.(store.CategoryCounts)
	if counts.Counts["school"] != 1 || counts.Counts["pharmacy"] != 1 || counts.Counts["hospital"] != 0 {
		t.Fatalf("counts = %v", counts.Counts)
	}
}

func TestExecuteIsochroneZeroMinutes(t *testing.T) {
	o := newOrchestrator(t, nil, nil)
	res := o.Execute(context.Background(), IsochroneRequest{Lat: 18.45, Lon: -66.1, MaxMinutes: 0})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if iso := res.Output.(*algo.IsochroneResult); iso.ReachableNodeCount != 1 {
		t.Fatalf("reachable = %d", iso.ReachableNodeCount)
	}
}

func TestResultJSONShape(t *testing.T) {
	o := newOrchestrator(t, nil, nil)
	res := o.Execute(context.Background(), ListNearbyRequest{Category: "pharmacy", Lat: 18.45, Lon: -66.1})
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "operation", "arguments", "output", "resolvedPlaces", "elapsedSeconds", "success"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("missing %q in %s", key, data)
		}
	}
	items := m["output"].(map[string]any)["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["name"] != "Farmacia Central" {
		t.Fatalf("items = %v", items)
	}
}
