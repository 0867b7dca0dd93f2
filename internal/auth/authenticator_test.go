package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleet-monitor/asset-tracking/internal/config"
)

type mockLookup struct {
	getAPIKeyFn func(ctx context.Context, apiKey string) (string, error)
	calls       []string
}

func (m *mockLookup) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	m.calls = append(m.calls, apiKey)
	return m.getAPIKeyFn(ctx, apiKey)
}

func TestValidate_StaticKeys(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{ValidAPIKeys: []string{"k1", ""}}, nil)

	if owner, ok := a.Validate(context.Background(), "k1"); !ok || owner != staticOwner {
		t.Errorf("Validate(k1) = %q, %v", owner, ok)
	}
	if _, ok := a.Validate(context.Background(), ""); ok {
		t.Error("empty key accepted")
	}
	if _, ok := a.Validate(context.Background(), "nope"); ok {
		t.Error("unknown key accepted without lookup")
	}
}

func TestValidate_LookupIsCached(t *testing.T) {
	lookup := &mockLookup{getAPIKeyFn: func(_ context.Context, key string) (string, error) {
		if key == "fleet-key" {
			return "fleet-a", nil
		}
		return "", nil
	}}
	a := NewAuthenticator(config.AuthConfig{CacheTTL: time.Minute}, lookup)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if owner, ok := a.Validate(ctx, "fleet-key"); !ok || owner != "fleet-a" {
			t.Fatalf("Validate() = %q, %v", owner, ok)
		}
	}
	if len(lookup.calls) != 1 {
		t.Errorf("lookup calls = %d, want 1 (cached)", len(lookup.calls))
	}

	now = now.Add(2 * time.Minute)
	a.Validate(ctx, "fleet-key")
	if len(lookup.calls) != 2 {
		t.Errorf("lookup calls after expiry = %d, want 2", len(lookup.calls))
	}

	if _, ok := a.Validate(ctx, "other"); ok {
		t.Error("unknown key accepted")
	}
}

func TestValidate_LookupErrorRejects(t *testing.T) {
	lookup := &mockLookup{getAPIKeyFn: func(context.Context, string) (string, error) {
		return "", errors.New("redis down")
	}}
	a := NewAuthenticator(config.AuthConfig{CacheTTL: time.Minute}, lookup)
	if _, ok := a.Validate(context.Background(), "k"); ok {
		t.Error("key accepted on lookup error")
	}
}
