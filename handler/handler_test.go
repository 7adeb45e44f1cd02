package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"walkable-city/location"
	"walkable-city/model"
	"walkable-city/query"
	"walkable-city/utils"

	"github.com/gin-gonic/gin"
)

const deg = 100 / 111000.0

func squareBundle(slug string) *model.Bundle {
	records := []model.NodeRecord{
		{ID: 1, Lat: 18.45, Lon: -66.1},
		{ID: 2, Lat: 18.45, Lon: -66.1 + deg},
		{ID: 3, Lat: 18.45 + deg, Lon: -66.1 + deg},
		{ID: 4, Lat: 18.45 + deg, Lon: -66.1},
	}
	mappings := model.Mappings{InternalToExternal: map[string]int64{}}
	for i, r := range records {
		mappings.InternalToExternal[strconv.Itoa(i)] = r.ID
	}
	return &model.Bundle{
		Config: model.LocationConfig{Slug: slug, Name: strings.ToUpper(slug)},
		Graph: model.GraphData{NodeCount: 4, Edges: []model.Edge{
			{U: 0, V: 1, Weight: 100}, {U: 1, V: 2, Weight: 100}, {U: 2, V: 3, Weight: 100}, {U: 3, V: 0, Weight: 100},
		}},
		Mappings: mappings,
		Nodes:    records,
		Features: []model.Feature{
			{Name: "Farmacia Luna", Kind: "amenity", Category: "pharmacy", Lat: 18.45, Lon: -66.1 + deg},
			{Name: "Escuela Sol", Kind: "amenity", Category: "school", Lat: 18.45 + deg, Lon: -66.1},
		},
		Places: []model.Place{{Name: "Barrio Luna", Lat: 18.45, Lon: -66.1, PlaceType: "neighbourhood"}},
	}
}

// memLoader 内存中的地点数据
type memLoader map[string]*model.Bundle

func (m memLoader) Load(_ context.Context, slug string) (*model.Bundle, error) {
	b, ok := m[slug]
	if !ok {
		return nil, location.ErrLocationNotFound
	}
	return b, nil
}

func (m memLoader) List(_ context.Context) ([]model.LocationConfig, error) {
	out := []model.LocationConfig{}
	for _, b := range m {
		out = append(out, b.Config)
	}
	return out, nil
}

type fixedSelector struct {
	mu  sync.Mutex
	sel query.Selection
}

func (f *fixedSelector) Select(context.Context, string, query.Menu) (query.Selection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sel, nil
}

const testSecret = "test-secret"

type testEnv struct {
	api     *API
	router  *gin.Engine
	manager *location.Manager
	sel     *fixedSelector
}

func newEnv(t *testing.T, activate bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := location.NewManager(memLoader{"luna": squareBundle("luna")}, location.BuildOptions{}, logger)
	if activate {
		if _, err := m.Switch(context.Background(), "luna"); err != nil {
			t.Fatal(err)
		}
	}
	sel := &fixedSelector{}
	orch := query.New(m, sel, nil, query.Options{OperationTimeout: time.Second}, logger)

	hash, err := utils.HashPassword("admin123")
	if err != nil {
		t.Fatal(err)
	}
	users := StaticUsers{"admin": {Username: "admin", Password: hash}}
	api := NewAPI(orch, m, NewAuth(testSecret, users, time.Hour), logger)
	return &testEnv{api: api, router: NewRouter(api, "*"), manager: m, sel: sel}
}

func (e *testEnv) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

type stubHealth bool

func (s stubHealth) Health(context.Context) bool { return bool(s) }

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestPing(t *testing.T) {
	e := newEnv(t, true)
	w := e.do(http.MethodGet, "/ping", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Fatalf("ping = %d %s", w.Code, w.Body.String())
	}
	res := decode[HealthResponse](t, w)
	if res.LLMServer != "offline" || res.DatabaseConnected {
		t.Fatalf("without health sources = %+v", res)
	}
	if res.LocationsAvailable != 1 || res.CurrentLocation != "luna" {
		t.Fatalf("locations = %+v", res)
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		selector SelectorHealth
		database DatabasePinger
		llm      string
		db       bool
	}{
		{"all up", stubHealth(true), stubPinger{}, "online", true},
		{"selector down", stubHealth(false), stubPinger{}, "offline", true},
		{"database down", stubHealth(true), stubPinger{err: errors.New("connection refused")}, "online", false},
		{"file mode", stubHealth(true), nil, "online", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, false)
			e.api.WithHealth(tt.selector, tt.database)
			w := e.do(http.MethodGet, "/api/health", nil, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
			res := decode[map[string]any](t, w)
			if res["llm_server"] != tt.llm || res["database_connected"] != tt.db {
				t.Fatalf("health = %v", res)
			}
			if res["locations_available"] != float64(1) || res["current_location"] != "" {
				t.Fatalf("locations = %v", res)
			}
		})
	}
}

func TestQueryEndpoint(t *testing.T) {
	e := newEnv(t, true)
	e.sel.sel = query.Selection{Name: "count_features", Arguments: json.RawMessage(`{"category": "hospital", "lat": 18.45, "lon": -66.1}`)}

	w := e.do(http.MethodPost, "/api/query", map[string]string{"query": "how many hospitals near Barrio Luna"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	res := decode[map[string]any](t, w)
	if res["success"] != true || res["operation"] != "count_features" {
		t.Fatalf("result = %v", res)
	}
	if res["output"].(map[string]any)["count"].(float64) != 0 {
		t.Fatalf("output = %v", res["output"])
	}
	if _, ok := res["resolvedPlaces"].(map[string]any)["Barrio Luna"]; !ok {
		t.Fatalf("resolved = %v", res["resolvedPlaces"])
	}

	e.sel.sel = query.Selection{Name: "fly_to", Arguments: json.RawMessage(`{}`)}
	w = e.do(http.MethodPost, "/api/query", map[string]string{"query": "fly"}, nil)
	if w.Code != http.StatusBadRequest || decode[query.QueryResult](t, w).ErrorKind != query.KindSelectorMalformed {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodPost, "/api/query", map[string]string{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing query status = %d", w.Code)
	}
}

func TestDirectRoute(t *testing.T) {
	e := newEnv(t, true)
	w := e.do(http.MethodPost, "/api/route", map[string]float64{
		"start_lat": 18.45, "start_lon": -66.1, "end_lat": 18.45 + deg, "end_lon": -66.1 + deg,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	out := decode[map[string]any](t, w)["output"].(map[string]any)
	if d := out["distanceMeters"].(float64); d < 199.9 || d > 200.1 {
		t.Fatalf("distance = %v", d)
	}

	w = e.do(http.MethodPost, "/api/route", map[string]float64{"start_lat": 18.45}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing args status = %d", w.Code)
	}
}

func TestDirectIsochroneWithoutLocation(t *testing.T) {
	e := newEnv(t, false)
	w := e.do(http.MethodPost, "/api/isochrone", map[string]float64{"lat": 18.45, "lon": -66.1, "max_minutes": 5}, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if decode[query.QueryResult](t, w).ErrorKind != query.KindNoLocationLoaded {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestFeatureEndpoints(t *testing.T) {
	e := newEnv(t, true)

	w := e.do(http.MethodGet, "/api/features/nearest?category=pharmacy&lat=18.45&lon=-66.1", nil, nil)
	out := decode[map[string]any](t, w)["output"].(map[string]any)
	if w.Code != http.StatusOK || out["count"].(float64) != 1 {
		t.Fatalf("nearest = %d %s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodGet, "/api/features/nearest?category=pharmacy&lat=18.45&lon=-66.1&walking=true", nil, nil)
	if w.Code != http.StatusOK || decode[query.QueryResult](t, w).Operation != query.OpNearestByWalking {
		t.Fatalf("walking = %d %s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodGet, "/api/features/nearest?category=pharmacy&lat=abc&lon=-66.1", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad lat status = %d", w.Code)
	}

	w = e.do(http.MethodGet, "/api/features/count?categories=pharmacy,school,hospital&lat=18.45&lon=-66.1&radius_m=500", nil, nil)
	counts := decode[map[string]any](t, w)["output"].(map[string]any)["counts"].(map[string]any)
	if counts["pharmacy"].(float64) != 1 || counts["school"].(float64) != 1 || counts["hospital"].(float64) != 0 {
		t.Fatalf("counts = %v", counts)
	}

	w = e.do(http.MethodGet, "/api/places/search?q=luna", nil, nil)
	if w.Code != http.StatusOK || decode[map[string]any](t, w)["count"].(float64) != 2 {
		t.Fatalf("search = %d %s", w.Code, w.Body.String())
	}
}

func TestLocationActivationRequiresAuth(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(http.MethodPost, "/api/locations/luna/activate", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", w.Code)
	}
	w = e.do(http.MethodPost, "/api/locations/luna/activate", nil, map[string]string{"Authorization": "Bearer garbage"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d", w.Code)
	}

	w = e.do(http.MethodPost, "/api/login", LoginRequest{Username: "admin", Password: "wrong"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", w.Code)
	}
	w = e.do(http.MethodPost, "/api/login", LoginRequest{Username: "admin", Password: "admin123"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d %s", w.Code, w.Body.String())
	}
	token := decode[LoginResponse](t, w).Token
	auth := map[string]string{"Authorization": "Bearer " + token}

	w = e.do(http.MethodPost, "/api/locations/nowhere/activate", nil, auth)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing slug status = %d", w.Code)
	}
	w = e.do(http.MethodPost, "/api/locations/luna/activate", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("activate = %d %s", w.Code, w.Body.String())
	}
	if h := decode[location.Health](t, w); !h.Loaded || h.Slug != "luna" || h.Nodes != 4 {
		t.Fatalf("health = %+v", h)
	}

	w = e.do(http.MethodGet, "/api/locations/current", nil, nil)
	if w.Code != http.StatusOK || decode[location.Health](t, w).Slug != "luna" {
		t.Fatalf("current = %d %s", w.Code, w.Body.String())
	}
	w = e.do(http.MethodGet, "/api/locations", nil, nil)
	if w.Code != http.StatusOK || decode[map[string]any](t, w)["count"].(float64) != 1 {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, true)
	w := e.do(http.MethodOptions, "/api/query", nil, nil)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d %v", w.Code, w.Header())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind query.ErrorKind
		want int
	}{
		{query.KindNoRouteFound, http.StatusOK},
		{query.KindSelectorUnavailable, http.StatusBadGateway},
		{query.KindTimeout, http.StatusGatewayTimeout},
		{query.KindExecutionFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(query.QueryResult{ErrorKind: tt.kind}); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.kind, got, tt.want)
		}
	}
}
