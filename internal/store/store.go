// Package store persists assets, location fixes, geofences and alerts.
//
// TimescaleStore is the production backend (TimescaleDB + PostGIS),
// MemoryStore backs local runs and tests, and RedisStore holds the live-state
// cache, alert dedup keys and API keys.
package store

import (
	"context"

	"fleet-monitor/asset-tracking/internal/domain"
)

type AssetStore interface {
	// CreateAsset stores a new asset and fills CreatedAt. It returns
	// domain.ErrAssetExists when the id or unique id is taken.
	CreateAsset(ctx context.Context, asset *domain.Asset) error
	GetAsset(ctx context.Context, id string) (domain.Asset, error)
	ListAssets(ctx context.Context) ([]domain.Asset, error)
}

type LocationStore interface {
	// InsertFix stores fix and fills its ID. It returns
	// domain.ErrAssetNotFound for an unknown asset.
	InsertFix(ctx context.Context, fix *domain.LocationFix) error
	// LatestFix returns the fix with the greatest timestamp, ties broken by
	// insertion order, or domain.ErrNoLocation.
	LatestFix(ctx context.Context, assetID string) (domain.LocationFix, error)
	History(ctx context.Context, q domain.HistoryQuery) ([]domain.LocationFix, error)
}

type ZoneStore interface {
	CreateZone(ctx context.Context, zone *domain.GeoZone) error
	ZonesForAsset(ctx context.Context, assetID string) ([]domain.GeoZone, error)
}

type AlertStore interface {
	// InsertAlerts appends alerts atomically: either every alert is stored
	// (and gets its ID) or none is.
	InsertAlerts(ctx context.Context, alerts []domain.GeoAlert) error
	// AlertsForAsset lists alerts newest first.
	AlertsForAsset(ctx context.Context, assetID string) ([]domain.GeoAlert, error)
}

type Store interface {
	AssetStore
	LocationStore
	ZoneStore
	AlertStore
	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*TimescaleStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
