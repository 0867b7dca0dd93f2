package main

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/asset-tracking/internal/config"
	"fleet-monitor/asset-tracking/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	seedAPIKeys(ctx, client)
	verify(ctx, client)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/server")
}

// api key → owner; TTL 0 keeps them forever
var apiKeys = map[string]string{
	"depot_north_key": "depot_north",
	"depot_south_key": "depot_south",
	"field_ops_key":   "field_ops",
	"test_key":        "test_owner",
}

func seedAPIKeys(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 1: Seeding API keys ────────────────────")

	for key, owner := range apiKeys {
		redisKey := store.APIKeyKey(key)
		if err := client.Set(ctx, redisKey, owner, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", redisKey, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", redisKey, owner)
	}
}

func verify(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	keys, err := client.Keys(ctx, store.APIKeyKey("*")).Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(keys))

	val, err := client.Get(ctx, store.APIKeyKey("test_key")).Result()
	if err != nil {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: %s → %s\n", store.APIKeyKey("test_key"), val)
}
