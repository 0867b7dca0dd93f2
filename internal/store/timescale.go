package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"fleet-monitor/asset-tracking/internal/config"
	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/metrics"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg config.DatabaseConfig) (*TimescaleStore, error) {
	connStr := fmt.Sprintf("%s&pool_max_conns=%d", cfg.DSN(), cfg.MaxConns)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ── assets ───────────────────────────────────────────────────

func (s *TimescaleStore) CreateAsset(ctx context.Context, a *domain.Asset) error {
	if a.Status == "" {
		a.Status = domain.AssetActive
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO assets (id, name, asset_type, unique_id, description, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, a.ID, a.Name, a.AssetType, a.UniqueID, a.Description, string(a.Status)).Scan(&a.CreatedAt)
	if pgCode(err) == pgUniqueViolation {
		return domain.ErrAssetExists
	}
	if err != nil {
		metrics.DBWriteFailures.WithLabelValues("assets").Inc()
		return fmt.Errorf("insert asset %s: %w", a.ID, err)
	}
	return nil
}

const assetColumns = `id, name, asset_type, unique_id, description, status, created_at`

func scanAsset(row pgx.Row) (domain.Asset, error) {
	var (
		a      domain.Asset
		status string
	)
	err := row.Scan(&a.ID, &a.Name, &a.AssetType, &a.UniqueID, &a.Description, &status, &a.CreatedAt)
	a.Status = domain.AssetStatus(status)
	return a, err
}

func (s *TimescaleStore) GetAsset(ctx context.Context, id string) (domain.Asset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Asset{}, domain.ErrAssetNotFound
	}
	if err != nil {
		return domain.Asset{}, fmt.Errorf("get asset %s: %w", id, err)
	}
	return a, nil
}

func (s *TimescaleStore) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// ── locations ────────────────────────────────────────────────

func (s *TimescaleStore) InsertFix(ctx context.Context, fix *domain.LocationFix) error {
	payload := string(fix.AdditionalData)
	if payload == "" {
		payload = "{}"
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO asset_locations (asset_id, latitude, longitude, timestamp, additional_data)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING id
	`, fix.AssetID, fix.Latitude, fix.Longitude, fix.Timestamp, payload).Scan(&fix.ID)
	if pgCode(err) == pgForeignKeyViolation {
		return domain.ErrAssetNotFound
	}
	if err != nil {
		metrics.DBWriteFailures.WithLabelValues("asset_locations").Inc()
		return fmt.Errorf("insert fix for %s: %w", fix.AssetID, err)
	}
	return nil
}

const fixColumns = `id, asset_id, latitude, longitude, timestamp, additional_data`

func scanFix(row pgx.Row) (domain.LocationFix, error) {
	var (
		f   domain.LocationFix
		raw []byte
	)
	if err := row.Scan(&f.ID, &f.AssetID, &f.Latitude, &f.Longitude, &f.Timestamp, &raw); err != nil {
		return f, err
	}
	f.AdditionalData = raw
	return f, nil
}

func (s *TimescaleStore) LatestFix(ctx context.Context, assetID string) (domain.LocationFix, error) {
	f, err := scanFix(s.pool.QueryRow(ctx, `
		SELECT `+fixColumns+`
		FROM asset_locations
		WHERE asset_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, assetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LocationFix{}, domain.ErrNoLocation
	}
	if err != nil {
		return domain.LocationFix{}, fmt.Errorf("latest fix for %s: %w", assetID, err)
	}
	return f, nil
}

func (s *TimescaleStore) History(ctx context.Context, q domain.HistoryQuery) ([]domain.LocationFix, error) {
	var start, end *time.Time
	if !q.Start.IsZero() {
		start = &q.Start
	}
	if !q.End.IsZero() {
		end = &q.End
	}
	// LIMIT NULL returns every row.
	var limit *int64
	if q.Limit > 0 {
		l := int64(q.Limit)
		limit = &l
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+fixColumns+`
		FROM asset_locations
		WHERE asset_id = $1
		  AND ($2::timestamptz IS NULL OR timestamp >= $2)
		  AND ($3::timestamptz IS NULL OR timestamp <= $3)
		ORDER BY timestamp DESC, id DESC
		LIMIT $4
	`, q.AssetID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", q.AssetID, err)
	}
	defer rows.Close()

	var fixes []domain.LocationFix
	for rows.Next() {
		f, err := scanFix(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fix: %w", err)
		}
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}

// ── zones ────────────────────────────────────────────────────

func (s *TimescaleStore) CreateZone(ctx context.Context, z *domain.GeoZone) error {
	if len(z.Boundary) < 4 {
		return domain.ErrInvalidZone
	}
	boundary := wkt.MarshalString(orb.Polygon{z.Boundary})

	err := s.pool.QueryRow(ctx, `
		INSERT INTO geo_zones (asset_id, name, boundary)
		VALUES ($1, $2, ST_GeomFromText($3, 4326))
		RETURNING id, created_at
	`, z.AssetID, z.Name, boundary).Scan(&z.ID, &z.CreatedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return domain.ErrAssetNotFound
	}
	if err != nil {
		metrics.DBWriteFailures.WithLabelValues("geo_zones").Inc()
		return fmt.Errorf("insert zone for %s: %w", z.AssetID, err)
	}
	return nil
}

func (s *TimescaleStore) ZonesForAsset(ctx context.Context, assetID string) ([]domain.GeoZone, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, asset_id, name, ST_AsText(boundary), created_at
		FROM geo_zones
		WHERE asset_id = $1
		ORDER BY id
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("zones for %s: %w", assetID, err)
	}
	defer rows.Close()

	var zones []domain.GeoZone
	for rows.Next() {
		var (
			z    domain.GeoZone
			text string
		)
		if err := rows.Scan(&z.ID, &z.AssetID, &z.Name, &text, &z.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		poly, err := wkt.UnmarshalPolygon(text)
		if err != nil || len(poly) == 0 {
			return nil, fmt.Errorf("decode zone %d boundary: %w", z.ID, errors.Join(domain.ErrInvalidZone, err))
		}
		z.Boundary = poly[0]
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// ── alerts ───────────────────────────────────────────────────

func (s *TimescaleStore) InsertAlerts(ctx context.Context, alerts []domain.GeoAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin alert batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]int64, len(alerts))
	for i := range alerts {
		a := &alerts[i]
		if !a.Kind.Valid() {
			return fmt.Errorf("alert %d: unknown kind %q", i, a.Kind)
		}
		var lat, lon *float64
		if a.Coordinate != nil {
			lat, lon = &a.Coordinate.Latitude, &a.Coordinate.Longitude
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO geo_alerts (asset_id, alert_type, message, latitude, longitude, triggered_at, resolved)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, a.AssetID, string(a.Kind), a.Message, lat, lon, a.TriggeredAt, a.Resolved).Scan(&ids[i])
		if pgCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("alert for %s: %w", a.AssetID, domain.ErrAssetNotFound)
		}
		if err != nil {
			metrics.DBWriteFailures.WithLabelValues("geo_alerts").Inc()
			return fmt.Errorf("insert alert for %s: %w", a.AssetID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.DBWriteFailures.WithLabelValues("geo_alerts").Inc()
		return fmt.Errorf("commit alert batch of %d: %w", len(alerts), err)
	}
	for i := range alerts {
		alerts[i].ID = ids[i]
	}
	return nil
}

func (s *TimescaleStore) AlertsForAsset(ctx context.Context, assetID string) ([]domain.GeoAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, asset_id, alert_type, message, latitude, longitude, triggered_at, resolved
		FROM geo_alerts
		WHERE asset_id = $1
		ORDER BY triggered_at DESC, id DESC
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("alerts for %s: %w", assetID, err)
	}
	defer rows.Close()

	var alerts []domain.GeoAlert
	for rows.Next() {
		var (
			a        domain.GeoAlert
			kind     string
			lat, lon *float64
		)
		if err := rows.Scan(&a.ID, &a.AssetID, &kind, &a.Message, &lat, &lon, &a.TriggeredAt, &a.Resolved); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Kind = domain.AlertKind(kind)
		if lat != nil && lon != nil {
			a.Coordinate = &domain.Coordinate{Latitude: *lat, Longitude: *lon}
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
