package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"fleet-monitor/asset-tracking/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSeededMemoryStore(t *testing.T, ids ...string) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	for _, id := range ids {
		a := &domain.Asset{ID: id, Name: id, AssetType: "truck", UniqueID: "uid-" + id}
		if err := s.CreateAsset(context.Background(), a); err != nil {
			t.Fatalf("CreateAsset(%s) error = %v", id, err)
		}
	}
	return s
}

func TestMemoryStore_CreateAsset(t *testing.T) {
	s := newSeededMemoryStore(t, "a1")
	ctx := context.Background()

	got, err := s.GetAsset(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAsset() error = %v", err)
	}
	if got.Status != domain.AssetActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	dup := &domain.Asset{ID: "a1", UniqueID: "other"}
	if err := s.CreateAsset(ctx, dup); !errors.Is(err, domain.ErrAssetExists) {
		t.Errorf("duplicate id error = %v, want ErrAssetExists", err)
	}
	dupUID := &domain.Asset{ID: "a2", UniqueID: "uid-a1"}
	if err := s.CreateAsset(ctx, dupUID); !errors.Is(err, domain.ErrAssetExists) {
		t.Errorf("duplicate unique id error = %v, want ErrAssetExists", err)
	}
	if _, err := s.GetAsset(ctx, "missing"); !errors.Is(err, domain.ErrAssetNotFound) {
		t.Errorf("GetAsset(missing) error = %v, want ErrAssetNotFound", err)
	}
}

func TestMemoryStore_ListAssetsSorted(t *testing.T) {
	s := newSeededMemoryStore(t, "c", "a", "b")

	assets, err := s.ListAssets(context.Background())
	if err != nil {
		t.Fatalf("ListAssets() error = %v", err)
	}
	if len(assets) != 3 || assets[0].ID != "a" || assets[2].ID != "c" {
		t.Errorf("ListAssets() = %+v, want a,b,c", assets)
	}
}

func TestMemoryStore_LatestFix(t *testing.T) {
	s := newSeededMemoryStore(t, "a1")
	ctx := context.Background()

	if _, err := s.LatestFix(ctx, "a1"); !errors.Is(err, domain.ErrNoLocation) {
		t.Fatalf("LatestFix() on empty history error = %v, want ErrNoLocation", err)
	}

	fixes := []domain.LocationFix{
		{AssetID: "a1", Latitude: 1, Longitude: 1, Timestamp: t0.Add(2 * time.Minute)},
		// arrives later but is older
		{AssetID: "a1", Latitude: 2, Longitude: 2, Timestamp: t0},
		// same timestamp as the newest, inserted last
		{AssetID: "a1", Latitude: 3, Longitude: 3, Timestamp: t0.Add(2 * time.Minute)},
	}
	for i := range fixes {
		if err := s.InsertFix(ctx, &fixes[i]); err != nil {
			t.Fatalf("InsertFix() error = %v", err)
		}
	}

	latest, err := s.LatestFix(ctx, "a1")
	if err != nil {
		t.Fatalf("LatestFix() error = %v", err)
	}
	if latest.Latitude != 3 {
		t.Errorf("LatestFix().Latitude = %v, want 3 (newest timestamp, last inserted)", latest.Latitude)
	}
	if string(latest.AdditionalData) != "{}" {
		t.Errorf("AdditionalData = %s, want {}", latest.AdditionalData)
	}
}

func TestMemoryStore_InsertFixUnknownAsset(t *testing.T) {
	s := NewMemoryStore()
	fix := &domain.LocationFix{AssetID: "ghost", Timestamp: t0}
	if err := s.InsertFix(context.Background(), fix); !errors.Is(err, domain.ErrAssetNotFound) {
		t.Errorf("InsertFix() error = %v, want ErrAssetNotFound", err)
	}
}

func TestMemoryStore_History(t *testing.T) {
	s := newSeededMemoryStore(t, "a1")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f := &domain.LocationFix{AssetID: "a1", Latitude: float64(i), Timestamp: t0.Add(time.Duration(i) * time.Minute)}
		if err := s.InsertFix(ctx, f); err != nil {
			t.Fatalf("InsertFix() error = %v", err)
		}
	}

	tests := []struct {
		name string
		q    domain.HistoryQuery
		want []float64
	}{
		{"all newest first", domain.HistoryQuery{AssetID: "a1"}, []float64{4, 3, 2, 1, 0}},
		{"limit", domain.HistoryQuery{AssetID: "a1", Limit: 2}, []float64{4, 3}},
		{"window inclusive", domain.HistoryQuery{AssetID: "a1", Start: t0.Add(time.Minute), End: t0.Add(3 * time.Minute)}, []float64{3, 2, 1}},
		{"open end", domain.HistoryQuery{AssetID: "a1", Start: t0.Add(3 * time.Minute)}, []float64{4, 3}},
		{"other asset", domain.HistoryQuery{AssetID: "a2"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.History(ctx, tt.q)
			if err != nil {
				t.Fatalf("History() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("History() returned %d fixes, want %d", len(got), len(tt.want))
			}
			for i, f := range got {
				if f.Latitude != tt.want[i] {
					t.Errorf("fix[%d].Latitude = %v, want %v", i, f.Latitude, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryStore_Zones(t *testing.T) {
	s := newSeededMemoryStore(t, "a1")
	ctx := context.Background()

	ring := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	z := &domain.GeoZone{AssetID: "a1", Name: "yard", Boundary: ring}
	if err := s.CreateZone(ctx, z); err != nil {
		t.Fatalf("CreateZone() error = %v", err)
	}
	if z.ID == 0 {
		t.Error("zone ID not assigned")
	}

	// mutating the caller's ring must not reach the store
	ring[1] = orb.Point{99, 99}

	zones, err := s.ZonesForAsset(ctx, "a1")
	if err != nil {
		t.Fatalf("ZonesForAsset() error = %v", err)
	}
	if len(zones) != 1 || zones[0].Boundary[1] != (orb.Point{10, 0}) {
		t.Errorf("ZonesForAsset() = %+v", zones)
	}

	bad := &domain.GeoZone{AssetID: "ghost", Boundary: orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	if err := s.CreateZone(ctx, bad); !errors.Is(err, domain.ErrAssetNotFound) {
		t.Errorf("CreateZone(ghost) error = %v, want ErrAssetNotFound", err)
	}
}

func TestMemoryStore_InsertAlertsAtomic(t *testing.T) {
	s := newSeededMemoryStore(t, "a1", "a2")
	ctx := context.Background()

	batch := []domain.GeoAlert{
		{AssetID: "a1", Kind: domain.AlertStaleData, Message: "stale", TriggeredAt: t0},
		{AssetID: "ghost", Kind: domain.AlertStaleData, Message: "stale", TriggeredAt: t0},
	}
	if err := s.InsertAlerts(ctx, batch); !errors.Is(err, domain.ErrAssetNotFound) {
		t.Fatalf("InsertAlerts() error = %v, want ErrAssetNotFound", err)
	}
	if got, _ := s.AlertsForAsset(ctx, "a1"); len(got) != 0 {
		t.Fatalf("partial batch stored: %+v", got)
	}

	batch = []domain.GeoAlert{
		{AssetID: "a1", Kind: domain.AlertZoneExit, Message: "first", TriggeredAt: t0},
		{AssetID: "a1", Kind: domain.AlertStaleData, Message: "second", TriggeredAt: t0.Add(time.Minute)},
		{AssetID: "a2", Kind: domain.AlertStaleData, Message: "other", TriggeredAt: t0},
	}
	if err := s.InsertAlerts(ctx, batch); err != nil {
		t.Fatalf("InsertAlerts() error = %v", err)
	}
	for i, a := range batch {
		if a.ID == 0 {
			t.Errorf("batch[%d].ID not assigned", i)
		}
	}

	got, err := s.AlertsForAsset(ctx, "a1")
	if err != nil {
		t.Fatalf("AlertsForAsset() error = %v", err)
	}
	if len(got) != 2 || got[0].Message != "second" || got[1].Message != "first" {
		t.Errorf("AlertsForAsset() = %+v, want newest first", got)
	}
}

func TestMemoryStore_InsertAlertsRejectsUnknownKind(t *testing.T) {
	s := newSeededMemoryStore(t, "a1")
	err := s.InsertAlerts(context.Background(), []domain.GeoAlert{{AssetID: "a1", Kind: "speeding"}})
	if err == nil {
		t.Fatal("InsertAlerts() with unknown kind succeeded")
	}
}
