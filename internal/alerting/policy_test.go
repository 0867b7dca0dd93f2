package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fleet-monitor/asset-tracking/internal/config"
	"fleet-monitor/asset-tracking/internal/domain"
)

type failingSuppressor struct{}

func (failingSuppressor) AcquireAlertDedup(context.Context, string, domain.AlertKind) (bool, error) {
	return false, errors.New("redis down")
}

func (failingSuppressor) ReleaseAlertDedup(context.Context, string, domain.AlertKind) error {
	return errors.New("redis down")
}

func TestNewPolicy(t *testing.T) {
	if _, err := NewPolicy("sometimes", nil); err == nil {
		t.Error("unknown mode accepted")
	}
	if _, err := NewPolicy(config.DedupSuppress, nil); err == nil {
		t.Error("suppress without suppressor accepted")
	}
	if _, err := NewPolicy(config.DedupRepeat, nil); err != nil {
		t.Errorf("repeat without suppressor rejected: %v", err)
	}
}

func TestPolicy_Repeat(t *testing.T) {
	p, _ := NewPolicy(config.DedupRepeat, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !p.Admit(ctx, "a1", domain.AlertStaleData) {
			t.Fatalf("sweep %d: repeat mode suppressed an alert", i)
		}
	}
	if err := p.Resolve(ctx, "a1", domain.AlertStaleData); err != nil {
		t.Errorf("Resolve() error = %v", err)
	}
}

func TestPolicy_Suppress(t *testing.T) {
	p, _ := NewPolicy(config.DedupSuppress, NewMemorySuppressor())
	ctx := context.Background()

	if !p.Admit(ctx, "a1", domain.AlertStaleData) {
		t.Fatal("first observation suppressed")
	}
	if p.Admit(ctx, "a1", domain.AlertStaleData) {
		t.Fatal("second observation of a still-triggering condition admitted")
	}
	if !p.Admit(ctx, "a1", domain.AlertZoneExit) {
		t.Error("different kind suppressed")
	}
	if !p.Admit(ctx, "a2", domain.AlertStaleData) {
		t.Error("different asset suppressed")
	}

	if err := p.Resolve(ctx, "a1", domain.AlertStaleData); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !p.Admit(ctx, "a1", domain.AlertStaleData) {
		t.Error("condition after resolution suppressed")
	}
}

func TestPolicy_SuppressorFailureAdmits(t *testing.T) {
	p, _ := NewPolicy(config.DedupSuppress, failingSuppressor{})
	if !p.Admit(context.Background(), "a1", domain.AlertZoneExit) {
		t.Error("suppressor failure must admit the alert")
	}
}

func TestAlertBuilders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	exit := ZoneExit(domain.LocationFix{AssetID: "a1", Latitude: 20, Longitude: 30}, now)
	if exit.Kind != domain.AlertZoneExit || exit.Coordinate == nil || exit.Coordinate.Latitude != 20 {
		t.Errorf("ZoneExit() = %+v", exit)
	}
	if exit.Message != "Asset a1 exited geo-fence at 30,20" {
		t.Errorf("ZoneExit().Message = %q", exit.Message)
	}

	stale := Stale("a2", nil, 10*time.Minute, now)
	if stale.Kind != domain.AlertStaleData || stale.Coordinate != nil || !stale.TriggeredAt.Equal(now) {
		t.Errorf("Stale() = %+v", stale)
	}
	if !strings.Contains(stale.Message, "10+ minutes") {
		t.Errorf("Stale().Message = %q", stale.Message)
	}
	if got := describe(90 * time.Second); got != "1m30s+" {
		t.Errorf("describe(90s) = %q", got)
	}
}
