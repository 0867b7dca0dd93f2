package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"fleet-monitor/asset-tracking/internal/auth"
	"fleet-monitor/asset-tracking/internal/broadcast"
	"fleet-monitor/asset-tracking/internal/config"
	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/export"
	"fleet-monitor/asset-tracking/internal/store"
	"fleet-monitor/asset-tracking/internal/tracking"
)

type testEnv struct {
	srv    *httptest.Server
	svc    *tracking.Service
	mem    *store.MemoryStore
	engine *broadcast.Engine
	apiKey string
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestEnv(t *testing.T, mutate func(*config.Config, *HandlerDeps)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Server:    config.ServerConfig{CORSOrigins: []string{"*"}},
		Auth:      config.AuthConfig{Enabled: true, ValidAPIKeys: []string{"test-key"}},
		Broadcast: config.BroadcastConfig{PollInterval: 20 * time.Millisecond, SendTimeout: time.Second},
		Export:    config.ExportConfig{Dir: t.TempDir()},
	}

	mem := store.NewMemoryStore()
	svc := tracking.NewService(mem)
	exp, err := export.New(cfg.Export, mem)
	if err != nil {
		t.Fatalf("export.New() error = %v", err)
	}
	engine := broadcast.NewEngine(mem, broadcast.Config{
		PollInterval: cfg.Broadcast.PollInterval,
		SendTimeout:  cfg.Broadcast.SendTimeout,
	})

	deps := HandlerDeps{
		Service: svc,
		Exports: exp,
		Engine:  engine,
		Checks:  map[string]Pinger{"database": mem},
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	h := NewHandler(deps)
	srv := httptest.NewServer(NewRouter(h, auth.NewAuthenticator(cfg.Auth, nil), cfg))
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
		exp.Close()
	})
	return &testEnv{srv: srv, svc: svc, mem: mem, engine: engine, apiKey: "test-key"}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			rd = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if e.apiKey != "" {
		req.Header.Set("X-API-Key", e.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (e *testEnv) mustAsset(t *testing.T, id string) {
	t.Helper()
	if err := e.svc.CreateAsset(context.Background(), &domain.Asset{ID: id, Name: id, AssetType: "truck", UniqueID: "uid-" + id}); err != nil {
		t.Fatalf("CreateAsset(%s) error = %v", id, err)
	}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return v
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		key  string
		path string
		want int
	}{
		{name: "missing key", path: "/api/v1/assets", want: http.StatusUnauthorized},
		{name: "wrong key", key: "nope", path: "/api/v1/assets", want: http.StatusUnauthorized},
		{name: "valid key", key: "test-key", path: "/api/v1/assets", want: http.StatusOK},
		{name: "query param key", path: "/api/v1/assets?api_key=test-key", want: http.StatusOK},
		{name: "health is open", path: "/healthz", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.apiKey = tt.key
			resp, body := env.do(t, http.MethodGet, tt.path, nil)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.want, body)
			}
			if tt.want == http.StatusUnauthorized {
				if got := decode[errorResponse](t, body); got.Error == "" {
					t.Errorf("expected error envelope, got %s", body)
				}
			}
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, _ *HandlerDeps) { cfg.Auth.Enabled = false })
	env.apiKey = ""
	if resp, body := env.do(t, http.MethodGet, "/api/v1/assets", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, body)
	}
}

func TestAssets(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/assets", map[string]string{
		"id": "a1", "name": "Truck 1", "asset_type": "truck", "unique_id": "T-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", resp.StatusCode, body)
	}
	created := decode[domain.Asset](t, body)
	if created.Status != domain.AssetActive {
		t.Errorf("status = %q, want active", created.Status)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/assets", map[string]string{
		"name": "dup", "asset_type": "truck", "unique_id": "T-1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/assets", map[string]string{"asset_type": "truck"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status = %d, want 400", resp.StatusCode)
	}
	if got := decode[errorResponse](t, body); len(got.Fields) == 0 {
		t.Errorf("expected field errors, got %s", body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/assets/a1", nil)
	if resp.StatusCode != http.StatusOK || decode[domain.Asset](t, body).UniqueID != "T-1" {
		t.Errorf("get = %d %s", resp.StatusCode, body)
	}
	if resp, _ := env.do(t, http.MethodGet, "/api/v1/assets/ghost", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get unknown status = %d, want 404", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/assets", nil)
	if list := decode[[]domain.Asset](t, body); resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Errorf("list = %d %s", resp.StatusCode, body)
	}
}

func TestIngestFix(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mustAsset(t, "a1")

	tests := []struct {
		name  string
		path  string
		body  any
		want  int
		check func(t *testing.T, body []byte)
	}{
		{
			name: "valid",
			path: "/api/v1/track/a1",
			body: `{"latitude": 5, "longitude": 6, "additional_data": {"speed": 40}}`,
			want: http.StatusCreated,
			check: func(t *testing.T, body []byte) {
				fix := decode[domain.LocationFix](t, body)
				if fix.ID == 0 || fix.Timestamp.IsZero() || fix.Latitude != 5 || fix.Longitude != 6 {
					t.Errorf("fix = %+v", fix)
				}
			},
		},
		{name: "client timestamp", path: "/api/v1/track/a1", body: `{"latitude": 1, "longitude": 1, "timestamp": "2026-03-01T12:00:00Z"}`, want: http.StatusCreated},
		{name: "latitude out of range", path: "/api/v1/track/a1", body: `{"latitude": 95, "longitude": 6}`, want: http.StatusBadRequest},
		{name: "longitude out of range", path: "/api/v1/track/a1", body: `{"latitude": 5, "longitude": 200}`, want: http.StatusBadRequest},
		{name: "missing latitude", path: "/api/v1/track/a1", body: `{"longitude": 6}`, want: http.StatusBadRequest},
		{name: "payload not an object", path: "/api/v1/track/a1", body: `{"latitude": 5, "longitude": 6, "additional_data": [1]}`, want: http.StatusBadRequest},
		{name: "malformed json", path: "/api/v1/track/a1", body: `{"latitude":`, want: http.StatusBadRequest},
		{name: "unknown asset", path: "/api/v1/track/ghost", body: `{"latitude": 5, "longitude": 6}`, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.want, body)
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestLatestAndHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mustAsset(t, "a1")

	resp, body := env.do(t, http.MethodGet, "/api/v1/track/a1", nil)
	if resp.StatusCode != http.StatusNotFound || decode[errorResponse](t, body).Error != domain.ErrNoLocation.Error() {
		t.Fatalf("latest without fixes = %d %s", resp.StatusCode, body)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		fix := domain.LocationFix{AssetID: "a1", Latitude: float64(i), Longitude: float64(i), Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := env.svc.IngestFix(context.Background(), &fix); err != nil {
			t.Fatalf("IngestFix() error = %v", err)
		}
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/track/a1", nil)
	if got := decode[domain.LocationFix](t, body); resp.StatusCode != http.StatusOK || got.Latitude != 4 {
		t.Errorf("latest = %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/track/a1/history?limit=2", nil)
	if got := decode[[]domain.LocationFix](t, body); resp.StatusCode != http.StatusOK || len(got) != 2 || got[0].Latitude != 4 {
		t.Errorf("history limit = %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/track/a1/history?start_time=2026-03-01T12:01:00Z&end_time=2026-03-01T12:03:00Z", nil)
	if got := decode[[]domain.LocationFix](t, body); resp.StatusCode != http.StatusOK || len(got) != 3 {
		t.Errorf("history range = %d %s", resp.StatusCode, body)
	}

	for _, q := range []string{"limit=0", "limit=1001", "limit=x", "start_time=yesterday"} {
		if resp, _ := env.do(t, http.MethodGet, "/api/v1/track/a1/history?"+q, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("history?%s status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestGeofenceAndCheck(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mustAsset(t, "a1")

	resp, body := env.do(t, http.MethodGet, "/api/v1/geo/check/a1", nil)
	if resp.StatusCode != http.StatusNotFound || decode[errorResponse](t, body).Error != "no location available" {
		t.Fatalf("check without fix = %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/geo/geofence", map[string]any{
		"asset_id":    "a1",
		"name":        "yard",
		"coordinates": [][]float64{{0, 0}, {0, 10}, {10, 10}, {10, 0}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create zone = %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/geo/geofence", map[string]any{
		"asset_id": "a1", "name": "bad", "coordinates": [][]float64{{0, 0}, {1}, {2, 2}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed vertex status = %d, want 400", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/geo/geofence/a1", nil)
	if zones := decode[[]domain.GeoZone](t, body); resp.StatusCode != http.StatusOK || len(zones) != 1 {
		t.Errorf("list zones = %d %s", resp.StatusCode, body)
	}

	env.do(t, http.MethodPost, "/api/v1/track/a1", `{"latitude": 5, "longitude": 5}`)
	resp, body = env.do(t, http.MethodGet, "/api/v1/geo/check/a1", nil)
	inside := decode[map[string]any](t, body)
	if resp.StatusCode != http.StatusOK || inside["in_zone"] != true {
		t.Fatalf("check inside = %d %s", resp.StatusCode, body)
	}

	env.do(t, http.MethodPost, "/api/v1/track/a1", `{"latitude": 20, "longitude": 20}`)
	resp, body = env.do(t, http.MethodGet, "/api/v1/geo/check/a1", nil)
	outside := decode[tracking.CheckResult](t, body)
	if resp.StatusCode != http.StatusOK || outside.Contained || outside.Alert == nil || outside.Alert.Kind != domain.AlertZoneExit {
		t.Fatalf("check outside = %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/geo/alerts/a1", nil)
	if alerts := decode[[]domain.GeoAlert](t, body); resp.StatusCode != http.StatusOK || len(alerts) != 1 {
		t.Errorf("alerts = %d %s", resp.StatusCode, body)
	}
}

func TestExportAndDownload(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mustAsset(t, "a1")
	env.do(t, http.MethodPost, "/api/v1/track/a1", `{"latitude": 5, "longitude": 5}`)

	resp, body := env.do(t, http.MethodPost, "/api/v1/export/assets/a1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export = %d %s", resp.StatusCode, body)
	}
	out := decode[map[string]string](t, body)
	if !strings.HasPrefix(out["download_url"], "/api/v1/export/download/assets/a1/") {
		t.Fatalf("download_url = %q", out["download_url"])
	}

	resp, body = env.do(t, http.MethodGet, out["download_url"], nil)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "id,name,longitude") {
		t.Fatalf("download = %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/export/download/full/missing.csv", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing = %d %s", resp.StatusCode, body)
	}
	missing := decode[map[string]any](t, body)
	if files, _ := missing["available_files"].([]any); len(files) != 1 {
		t.Errorf("available_files = %v", missing["available_files"])
	}

	if resp, _ := env.do(t, http.MethodGet, "/api/v1/export/download/assets/a1/file.txt", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-csv status = %d, want 400", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/export/full", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "locations") {
		t.Errorf("full export = %d %s", resp.StatusCode, body)
	}
	if resp, _ := env.do(t, http.MethodPost, "/api/v1/export/assets_all/a1", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("combined export status = %d", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodPost, "/api/v1/export/assets/ghost", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown asset export status = %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, d *HandlerDeps) {
		d.Checks["redis"] = pingerFunc(func(context.Context) error { return errors.New("connection refused") })
	})

	resp, body := env.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (%s)", resp.StatusCode, body)
	}
	got := decode[map[string]any](t, body)
	checks, _ := got["checks"].(map[string]any)
	if checks["database"] != "ok" || checks["redis"] != "connection refused" {
		t.Errorf("checks = %v", checks)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.do(t, http.MethodGet, "/healthz", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}
