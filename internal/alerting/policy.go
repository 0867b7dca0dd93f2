// Package alerting decides whether a triggering condition becomes a new
// alert row.
//
// In repeat mode every sweep that observes a condition records an alert. In
// suppress mode the first observation claims an (asset, kind) slot and later
// sweeps stay silent until the condition resolves and the slot is released.
package alerting

import (
	"context"
	"fmt"

	"fleet-monitor/asset-tracking/internal/config"
	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/logging"
	"fleet-monitor/asset-tracking/internal/metrics"
)

// Suppressor stores outstanding (asset, kind) alert slots.
type Suppressor interface {
	AcquireAlertDedup(ctx context.Context, assetID string, kind domain.AlertKind) (bool, error)
	ReleaseAlertDedup(ctx context.Context, assetID string, kind domain.AlertKind) error
}

type Policy struct {
	mode       string
	suppressor Suppressor
}

func NewPolicy(mode string, suppressor Suppressor) (*Policy, error) {
	switch mode {
	case config.DedupRepeat:
	case config.DedupSuppress:
		if suppressor == nil {
			return nil, fmt.Errorf("dedup policy %q needs a suppressor", mode)
		}
	default:
		return nil, fmt.Errorf("unknown dedup policy %q", mode)
	}
	return &Policy{mode: mode, suppressor: suppressor}, nil
}

func (p *Policy) Mode() string { return p.mode }

// Admit reports whether an alert for the condition should be written. A
// suppressor failure admits the alert.
func (p *Policy) Admit(ctx context.Context, assetID string, kind domain.AlertKind) bool {
	if p.mode == config.DedupRepeat {
		return true
	}
	ok, err := p.suppressor.AcquireAlertDedup(ctx, assetID, kind)
	if err != nil {
		logging.Warn().Err(err).Str("asset_id", assetID).Str("kind", string(kind)).
			Msg("dedup check failed, admitting alert")
		return true
	}
	if !ok {
		metrics.AlertsSuppressed.WithLabelValues(string(kind)).Inc()
	}
	return ok
}

// Resolve clears the slot once the condition no longer holds. Release undoes
// an admission whose alert never got committed; both drop the same slot.
func (p *Policy) Resolve(ctx context.Context, assetID string, kind domain.AlertKind) error {
	if p.mode == config.DedupRepeat {
		return nil
	}
	return p.suppressor.ReleaseAlertDedup(ctx, assetID, kind)
}

func (p *Policy) Release(ctx context.Context, assetID string, kind domain.AlertKind) error {
	return p.Resolve(ctx, assetID, kind)
}
