package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"fleet-monitor/asset-tracking/internal/config"
	"fleet-monitor/asset-tracking/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step := 0
	err = store.ApplySchema(ctx, conn, func(s store.SchemaStep) {
		step++
		fmt.Printf("\n── Step %d: %s ──\n", step, s.Name)
		fmt.Printf("  ✓ %d statement(s)\n", len(s.Statements))
	})
	if err != nil {
		log.Fatalf("FAILED: %v", err)
	}

	verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

func verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Verification ────────────────────────────────")

	for _, table := range []string{"assets", "asset_locations", "geo_zones", "geo_alerts"} {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("table %s missing: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var hypertable string
	err := conn.QueryRow(ctx, `
		SELECT hypertable_name FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'asset_locations'
	`).Scan(&hypertable)
	if err != nil {
		log.Fatalf("hypertable check failed: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s (time partitioned)\n", hypertable)

	var postgis string
	if err := conn.QueryRow(ctx, `SELECT postgis_version()`).Scan(&postgis); err != nil {
		log.Fatalf("postgis check failed: %v", err)
	}
	fmt.Printf("  ✓ postgis: %s\n", postgis)
}
