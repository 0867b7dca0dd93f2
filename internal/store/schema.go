package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type SchemaStep struct {
	Name       string
	Statements []string
}

// SchemaSteps creates the database objects in dependency order. Every
// statement is idempotent.
var SchemaSteps = []SchemaStep{
	{
		Name: "extensions",
		Statements: []string{
			`CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;`,
			`CREATE EXTENSION IF NOT EXISTS postgis;`,
		},
	},
	{
		Name: "assets",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS assets (
				id           TEXT        PRIMARY KEY,
				name         TEXT        NOT NULL,
				asset_type   TEXT        NOT NULL,
				unique_id    TEXT        NOT NULL UNIQUE,
				description  TEXT        NOT NULL DEFAULT '',
				status       TEXT        NOT NULL DEFAULT 'active',
				created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);`,
		},
	},
	{
		Name: "asset_locations",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS asset_locations (
				id               BIGSERIAL        NOT NULL,
				asset_id         TEXT             NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
				latitude         DOUBLE PRECISION NOT NULL,
				longitude        DOUBLE PRECISION NOT NULL,

				-- radius queries without recomputing the point
				location         GEOGRAPHY(POINT, 4326)
				                 GENERATED ALWAYS AS (
				                     ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography
				                 ) STORED,

				timestamp        TIMESTAMPTZ      NOT NULL,
				additional_data  JSONB            NOT NULL DEFAULT '{}',
				PRIMARY KEY (id, timestamp)
			);`,
			`SELECT create_hypertable('asset_locations', 'timestamp', if_not_exists => TRUE);`,
			`CREATE INDEX IF NOT EXISTS idx_asset_locations_asset_time
				ON asset_locations (asset_id, timestamp DESC, id DESC);`,
		},
	},
	{
		Name: "geo_zones",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS geo_zones (
				id          BIGSERIAL              PRIMARY KEY,
				asset_id    TEXT                   NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
				name        TEXT                   NOT NULL,
				boundary    GEOMETRY(POLYGON, 4326) NOT NULL,
				created_at  TIMESTAMPTZ            NOT NULL DEFAULT NOW()
			);`,
			`CREATE INDEX IF NOT EXISTS idx_geo_zones_asset ON geo_zones (asset_id);`,
			`CREATE INDEX IF NOT EXISTS idx_geo_zones_boundary ON geo_zones USING GIST (boundary);`,
		},
	},
	{
		Name: "geo_alerts",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS geo_alerts (
				id            BIGSERIAL        PRIMARY KEY,
				asset_id      TEXT             NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
				alert_type    TEXT             NOT NULL CHECK (alert_type IN ('zone_exit', 'stale_data')),
				message       TEXT             NOT NULL,

				-- NULL when the asset never reported and has no zone
				latitude      DOUBLE PRECISION,
				longitude     DOUBLE PRECISION,

				triggered_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
				resolved      BOOLEAN          NOT NULL DEFAULT false
			);`,
			`CREATE INDEX IF NOT EXISTS idx_geo_alerts_asset_time
				ON geo_alerts (asset_id, triggered_at DESC);`,
		},
	},
}

// Execer is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// ApplySchema runs every step, calling onStep (if set) after each one.
func ApplySchema(ctx context.Context, db Execer, onStep func(step SchemaStep)) error {
	for _, step := range SchemaSteps {
		for _, stmt := range step.Statements {
			if _, err := db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema step %s: %w", step.Name, err)
			}
		}
		if onStep != nil {
			onStep(step)
		}
	}
	return nil
}
