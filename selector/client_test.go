package selector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"walkable-city/config"
	"walkable-city/query"
)

func reply(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return b
}

func testMenu() query.Menu {
	return query.Menu{Operations: query.Operations(), Categories: []string{"hospital", "pharmacy"}, Location: "san_juan"}
}

type memCache struct {
	mu sync.Mutex
	m  map[string]query.Selection
}

func (c *memCache) Get(_ context.Context, key string) (query.Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[key]
	return s, ok
}

func (c *memCache) Set(_ context.Context, key string, sel query.Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = sel
}

func TestSelect(t *testing.T) {
	var got struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(reply("```json\n{\"name\": \"count_features\", \"arguments\": {\"category\": \"hospital\", \"lat\": 18.4, \"lon\": -66.1}}\n```"))
	}))
	defer srv.Close()

	c := New(config.SelectorConfig{URL: srv.URL + "/", Model: "qwen", APIKey: "secret"}, nil)
	sel, err := c.Select(context.Background(), "how many hospitals near (lat 18.400000, lon -66.100000)", testMenu())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Name != "count_features" {
		t.Fatalf("name = %q", sel.Name)
	}
	if _, err := query.Decode(sel.Name, sel.Arguments); err != nil {
		t.Fatalf("arguments do not decode: %v", err)
	}
	if got.Model != "qwen" || len(got.Messages) != 2 || got.Messages[1].Content == "" {
		t.Fatalf("request = %+v", got)
	}
	if !strings.Contains(got.Messages[0].Content, "nearest_feature_by_walking") || !strings.Contains(got.Messages[0].Content, "hospital, pharmacy") {
		t.Fatalf("system prompt = %q", got.Messages[0].Content)
	}
}

func TestSelectErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      []byte
		malformed bool
	}{
		{"server error", http.StatusInternalServerError, []byte("boom"), false},
		{"service unavailable", http.StatusServiceUnavailable, nil, false},
		{"not json body", http.StatusOK, []byte("<html>"), true},
		{"no choices", http.StatusOK, []byte(`{"choices": []}`), true},
		{"prose reply", http.StatusOK, reply("I think you want a route."), true},
		{"missing name", http.StatusOK, reply(`{"arguments": {}}`), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			_, err := New(config.SelectorConfig{URL: srv.URL}, nil).Select(context.Background(), "q", testMenu())
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, query.ErrSelectorMalformed) != tt.malformed {
				t.Fatalf("malformed = %v, want %v (%v)", !tt.malformed, tt.malformed, err)
			}
		})
	}
}

func TestSelectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(config.SelectorConfig{URL: url}, nil).Select(context.Background(), "q", testMenu())
	if err == nil || errors.Is(err, query.ErrSelectorMalformed) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	for _, tt := range []struct {
		name   string
		status int
		want   bool
	}{
		{"online", http.StatusOK, true},
		{"server error", http.StatusInternalServerError, false},
		{"not found", http.StatusNotFound, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" || r.Method != http.MethodGet {
					t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			if got := New(config.SelectorConfig{URL: srv.URL + "/"}, nil).Health(context.Background()); got != tt.want {
				t.Fatalf("Health = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if New(config.SelectorConfig{URL: url}, nil).Health(context.Background()) {
		t.Fatal("closed server reported online")
	}
}

func TestSelectUsesCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write(reply(`{"name": "compute_isochrone", "arguments": {"lat": 1, "lon": 2, "max_minutes": 5}}`))
	}))
	defer srv.Close()

	c := New(config.SelectorConfig{URL: srv.URL}, &memCache{m: map[string]query.Selection{}})
	for i := 0; i < 3; i++ {
		sel, err := c.Select(context.Background(), "ten minute walk", testMenu())
		if err != nil || sel.Name != "compute_isochrone" {
			t.Fatalf("select: %v %+v", err, sel)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("server called %d times", calls.Load())
	}

	menu := testMenu()
	menu.Location = "dhaka"
	if _, err := c.Select(context.Background(), "ten minute walk", menu); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("cache must be keyed by location, calls = %d", calls.Load())
	}
}

func TestParseReply(t *testing.T) {
	sel, err := ParseReply(`Sure! {"name": "geocode_lookup", "arguments": {"place_name": "Condado"}} hope it helps`)
	if err != nil || sel.Name != "geocode_lookup" {
		t.Fatalf("got %+v, %v", sel, err)
	}
	sel, err = ParseReply(`{"name": "compute_route"}`)
	if err != nil || string(sel.Arguments) != "{}" {
		t.Fatalf("got %+v, %v", sel, err)
	}
}

func TestCacheKey(t *testing.T) {
	a := cacheKey("san_juan", "q")
	if a != cacheKey("san_juan", "q") || !strings.HasPrefix(a, cacheKeyPrefix) {
		t.Fatalf("key = %q", a)
	}
	if a == cacheKey("san_juanq", "") {
		t.Fatal("location and text must be separated")
	}
}
