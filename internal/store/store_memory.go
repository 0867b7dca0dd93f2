package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleet-monitor/asset-tracking/internal/domain"
)

// MemoryStore keeps everything in process. It enforces the same asset
// references and uniqueness rules as the Postgres schema.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	assets    map[string]domain.Asset
	uniqueIDs map[string]string
	fixes     map[string][]domain.LocationFix
	zones     map[string][]domain.GeoZone
	alerts    map[string][]domain.GeoAlert

	nextFixID   int64
	nextZoneID  int64
	nextAlertID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       func() time.Time { return time.Now().UTC() },
		assets:    make(map[string]domain.Asset),
		uniqueIDs: make(map[string]string),
		fixes:     make(map[string][]domain.LocationFix),
		zones:     make(map[string][]domain.GeoZone),
		alerts:    make(map[string][]domain.GeoAlert),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) CreateAsset(_ context.Context, a *domain.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[a.ID]; ok {
		return domain.ErrAssetExists
	}
	if _, ok := s.uniqueIDs[a.UniqueID]; ok {
		return domain.ErrAssetExists
	}
	if a.Status == "" {
		a.Status = domain.AssetActive
	}
	a.CreatedAt = s.now()
	s.assets[a.ID] = *a
	s.uniqueIDs[a.UniqueID] = a.ID
	return nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return domain.Asset{}, domain.ErrAssetNotFound
	}
	return a, nil
}

func (s *MemoryStore) ListAssets(context.Context) ([]domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]domain.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
	return assets, nil
}

func (s *MemoryStore) InsertFix(_ context.Context, fix *domain.LocationFix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[fix.AssetID]; !ok {
		return domain.ErrAssetNotFound
	}
	s.nextFixID++
	fix.ID = s.nextFixID
	if len(fix.AdditionalData) == 0 {
		fix.AdditionalData = []byte("{}")
	}
	s.fixes[fix.AssetID] = append(s.fixes[fix.AssetID], *fix)
	return nil
}

// newer orders fixes by timestamp, then by insertion.
func newer(a, b domain.LocationFix) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

func (s *MemoryStore) LatestFix(_ context.Context, assetID string) (domain.LocationFix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fixes := s.fixes[assetID]
	if len(fixes) == 0 {
		return domain.LocationFix{}, domain.ErrNoLocation
	}
	latest := fixes[0]
	for _, f := range fixes[1:] {
		if newer(f, latest) {
			latest = f
		}
	}
	return latest, nil
}

func (s *MemoryStore) History(_ context.Context, q domain.HistoryQuery) ([]domain.LocationFix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LocationFix
	for _, f := range s.fixes[q.AssetID] {
		if !q.Start.IsZero() && f.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && f.Timestamp.After(q.End) {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateZone(_ context.Context, z *domain.GeoZone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(z.Boundary) < 4 {
		return domain.ErrInvalidZone
	}
	if _, ok := s.assets[z.AssetID]; !ok {
		return domain.ErrAssetNotFound
	}
	s.nextZoneID++
	z.ID = s.nextZoneID
	z.CreatedAt = s.now()

	stored := *z
	stored.Boundary = append(stored.Boundary[:0:0], z.Boundary...)
	s.zones[z.AssetID] = append(s.zones[z.AssetID], stored)
	return nil
}

func (s *MemoryStore) ZonesForAsset(_ context.Context, assetID string) ([]domain.GeoZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	zones := s.zones[assetID]
	out := make([]domain.GeoZone, len(zones))
	copy(out, zones)
	return out, nil
}

func (s *MemoryStore) InsertAlerts(_ context.Context, alerts []domain.GeoAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// validate the whole batch before touching state
	for i, a := range alerts {
		if !a.Kind.Valid() {
			return fmt.Errorf("alert %d: unknown kind %q", i, a.Kind)
		}
		if _, ok := s.assets[a.AssetID]; !ok {
			return fmt.Errorf("alert for %s: %w", a.AssetID, domain.ErrAssetNotFound)
		}
	}

	for i := range alerts {
		s.nextAlertID++
		alerts[i].ID = s.nextAlertID
		stored := alerts[i]
		if stored.Coordinate != nil {
			c := *stored.Coordinate
			stored.Coordinate = &c
		}
		s.alerts[stored.AssetID] = append(s.alerts[stored.AssetID], stored)
	}
	return nil
}

func (s *MemoryStore) AlertsForAsset(_ context.Context, assetID string) ([]domain.GeoAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.alerts[assetID]
	out := make([]domain.GeoAlert, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].TriggeredAt.After(out[j].TriggeredAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
