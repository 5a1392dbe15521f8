package srv

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wildspan.exe.dev/srv/cache"
	"wildspan.exe.dev/srv/catalog"
	"wildspan.exe.dev/srv/coords"
	"wildspan.exe.dev/srv/span"
	"wildspan.exe.dev/srv/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	server, err := New(Config{
		DBPath:   filepath.Join(dir, "test_server.sqlite3"),
		DataDir:  filepath.Join(dir, "inat_data"),
		Hostname: "test-hostname",
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	save := func(species string, id int64, res coords.Resolution) {
		meta := &store.Metadata{
			Taxonomy:      store.Taxonomy{CommonName: "American Robin"},
			ImageMetadata: store.ImageMetadata{ImageURL: "https://img.example/medium.jpg"},
		}
		meta.SetCoordinates(res)
		if _, err := server.Store.SaveObservation(species, id, []byte("img"), meta); err != nil {
			t.Fatal(err)
		}
		if err := server.Catalog.UpsertObservation(context.Background(), catalog.EntryFromMetadata(*meta)); err != nil {
			t.Fatal(err)
		}
	}
	at := func(lat, lon float64) coords.Resolution {
		return coords.Resolution{Coord: coords.LatLon{Lat: lat, Lon: lon}, OK: true, Source: coords.SourceFields}
	}

	save("Turdus_migratorius", 1, at(10, 10))
	save("Turdus_migratorius", 2, at(10, 11))
	save("Turdus_migratorius", 3, at(11, 10))
	save("Aves", 4, coords.Resolution{Reason: coords.ErrNoCoordinates})
	return server
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServerSetupAndHandlers(t *testing.T) {
	server := newTestServer(t)
	h := server.Handler()

	t.Run("root lists species", func(t *testing.T) {
		w := get(t, h, "/")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		body := w.Body.String()
		if !strings.Contains(body, "Species Range Maps") {
			t.Errorf("expected page to contain headline, got body: %s", body)
		}
		if !strings.Contains(body, `href="/species/Turdus_migratorius"`) || !strings.Contains(body, "Turdus migratorius") {
			t.Errorf("expected species link, got body: %s", body)
		}
	})

	t.Run("species page renders", func(t *testing.T) {
		w := get(t, h, "/species/Turdus_migratorius")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		body := w.Body.String()
		if !strings.Contains(body, "leaflet") {
			t.Error("expected map page to load leaflet")
		}
		if strings.Contains(body, `src="${`) || !strings.Contains(body, "createElement('img')") {
			t.Error("popup images must be built as elements, not interpolated markup")
		}
	})

	t.Run("species list", func(t *testing.T) {
		w := get(t, h, "/api/species")
		var out []speciesSummary
		if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		if len(out) != 2 || out[1].Species != "Turdus_migratorius" || out[1].WithCoordinates != 3 {
			t.Errorf("species = %+v", out)
		}
	})

	t.Run("observations geojson", func(t *testing.T) {
		w := get(t, h, "/api/species/Turdus_migratorius/observations")
		var fc GeoJSONFeatureCollection
		if err := json.NewDecoder(w.Body).Decode(&fc); err != nil {
			t.Fatal(err)
		}
		if len(fc.Features) != 3 {
			t.Fatalf("features = %d, want 3", len(fc.Features))
		}
		// GeoJSON order is [lon, lat].
		c := fc.Features[1].Geometry.Coordinates.([]any)
		if c[0].(float64) != 11 || c[1].(float64) != 10 {
			t.Errorf("coordinates = %v, want [11 10]", c)
		}
	})

	t.Run("span", func(t *testing.T) {
		w := get(t, h, "/api/species/Turdus_migratorius/span")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp spanResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Span.PointA.ObservationID != 2 || resp.Span.PointB.ObservationID != 3 {
			t.Errorf("boundary = %+v / %+v", resp.Span.PointA, resp.Span.PointB)
		}
		if resp.Midpoint.Lat != 10.5 || resp.CommonName != "American Robin" {
			t.Errorf("span response = %+v", resp)
		}
		if resp.Axis == nil || resp.Axis.Direction != "northwest" {
			t.Errorf("axis = %+v, want northwest", resp.Axis)
		}
		if len(resp.GeoJSON.Features) != 4 {
			t.Errorf("span features = %d, want centroid, two boundary points and a line", len(resp.GeoJSON.Features))
		}
	})

	t.Run("span without coordinates", func(t *testing.T) {
		if w := get(t, h, "/api/species/Aves/span"); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("unknown and invalid species", func(t *testing.T) {
		if w := get(t, h, "/api/species/Nope/span"); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
		if w := get(t, h, "/api/species/a%5Cb/observations"); w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("stats", func(t *testing.T) {
		w := get(t, h, "/api/stats")
		var sum struct {
			TotalObservations    int `json:"total_observations"`
			TotalWithCoordinates int `json:"total_with_coordinates"`
		}
		if err := json.NewDecoder(w.Body).Decode(&sum); err != nil {
			t.Fatal(err)
		}
		if sum.TotalObservations != 4 || sum.TotalWithCoordinates != 3 {
			t.Errorf("stats = %+v", sum)
		}
	})

	t.Run("activity", func(t *testing.T) {
		w := get(t, h, "/api/activity")
		var acts []map[string]any
		if err := json.NewDecoder(w.Body).Decode(&acts); err != nil {
			t.Fatal(err)
		}
		if len(acts) != 4 {
			t.Errorf("activity = %d entries, want 4", len(acts))
		}
	})

	t.Run("runs", func(t *testing.T) {
		ctx := context.Background()
		id, err := server.Catalog.StartRun(ctx, "Turdus")
		if err != nil {
			t.Fatal(err)
		}
		if err := server.Catalog.FinishRun(ctx, id, catalog.RunTotals{Pages: 1, Seen: 4, Saved: 4, WithoutCoords: 1}, nil); err != nil {
			t.Fatal(err)
		}

		w := get(t, h, "/api/runs")
		var runs []catalog.Run
		if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
			t.Fatal(err)
		}
		if len(runs) != 1 || runs[0].TaxonName != "Turdus" || runs[0].Saved != 4 || runs[0].FinishedAt == nil {
			t.Errorf("runs = %+v", runs)
		}
	})

	t.Run("csv export", func(t *testing.T) {
		w := get(t, h, "/api/export/species.csv")
		if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
			t.Errorf("content type = %q", ct)
		}
		records, err := csv.NewReader(w.Body).ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 3 || records[2][0] != "Turdus migratorius" || records[2][3] != "3" {
			t.Errorf("csv = %v", records)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		w := get(t, h, "/metrics")
		if !strings.Contains(w.Body.String(), "wildspan_http_requests_total") {
			t.Error("expected http request metrics")
		}
	})
}

type mapBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return b, nil
}

func (m *mapBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func TestSpanCacheFollowsMovedObservation(t *testing.T) {
	server := newTestServer(t)
	backend := &mapBackend{data: map[string][]byte{}}
	server.SpanCache = cache.NewSpanCache(backend, 5*time.Minute)
	h := server.Handler()

	fetchSpan := func() span.SpanResult {
		t.Helper()
		w := get(t, h, "/api/species/Turdus_migratorius/span")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp spanResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		return resp.Span
	}

	before := fetchSpan()
	if len(backend.data) != 1 {
		t.Fatalf("cache entries = %d, want 1", len(backend.data))
	}
	if cached := fetchSpan(); cached.MaxDistanceKm != before.MaxDistanceKm {
		t.Errorf("cached span = %v km, want %v km", cached.MaxDistanceKm, before.MaxDistanceKm)
	}

	// Same observation count, different coordinates.
	meta := &store.Metadata{Taxonomy: store.Taxonomy{CommonName: "American Robin"}}
	meta.SetCoordinates(coords.Resolution{Coord: coords.LatLon{Lat: 60, Lon: 100}, OK: true, Source: coords.SourceFields})
	if _, err := server.Store.SaveObservation("Turdus_migratorius", 3, []byte("img"), meta); err != nil {
		t.Fatal(err)
	}

	after := fetchSpan()
	want, _ := span.Summarize([]coords.GeoPoint{
		{Latitude: 10, Longitude: 10, ObservationID: 1},
		{Latitude: 10, Longitude: 11, ObservationID: 2},
		{Latitude: 60, Longitude: 100, ObservationID: 3},
	})
	if after.PointCount != 3 || after.MaxDistanceKm != want.MaxDistanceKm {
		t.Errorf("span after move = %v km over %d points, want %v km", after.MaxDistanceKm, after.PointCount, want.MaxDistanceKm)
	}
	if after.PointB == nil || after.PointB.ObservationID != 3 || after.PointB.Latitude != 60 {
		t.Errorf("boundary after move = %+v", after.PointB)
	}
}

func TestObservationsDropUnsafeImageURL(t *testing.T) {
	server := newTestServer(t)
	meta := &store.Metadata{ImageMetadata: store.ImageMetadata{ImageURL: `x" onerror="alert(1)`}}
	meta.SetCoordinates(coords.Resolution{Coord: coords.LatLon{Lat: 12, Lon: 12}, OK: true, Source: coords.SourceFields})
	if _, err := server.Store.SaveObservation("Turdus_migratorius", 5, []byte("img"), meta); err != nil {
		t.Fatal(err)
	}

	w := get(t, server.Handler(), "/api/species/Turdus_migratorius/observations")
	var fc GeoJSONFeatureCollection
	if err := json.NewDecoder(w.Body).Decode(&fc); err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 4 {
		t.Fatalf("features = %d, want 4", len(fc.Features))
	}
	for _, f := range fc.Features {
		id := f.Properties["observation_id"].(float64)
		url, _ := f.Properties["image_url"].(string)
		switch {
		case id == 5 && url != "":
			t.Errorf("observation 5 image_url = %q, want it dropped", url)
		case id != 5 && url != "https://img.example/medium.jpg":
			t.Errorf("observation %v image_url = %q", id, url)
		}
	}
}
