package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/logging"
)

type Publisher interface {
	PublishAlert(ctx context.Context, alert domain.GeoAlert) error
}

// AlertPublisher fans committed alerts out to subscribers of the alert
// channel. Publishing is best effort; the alert row is already stored.
type AlertPublisher struct {
	ch  <-chan domain.GeoAlert
	pub Publisher
	log zerolog.Logger
}

func NewAlertPublisher(ch <-chan domain.GeoAlert, pub Publisher) *AlertPublisher {
	return &AlertPublisher{ch: ch, pub: pub, log: logging.Component("alert-publisher")}
}

func (p *AlertPublisher) Run(ctx context.Context) {
	for {
		select {
		case alert, ok := <-p.ch:
			if !ok {
				return
			}
			p.publish(alert)

		case <-ctx.Done():
			return
		}
	}
}

func (p *AlertPublisher) publish(alert domain.GeoAlert) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.pub.PublishAlert(ctx, alert); err != nil {
		p.log.Warn().Err(err).Str("asset_id", alert.AssetID).Str("kind", string(alert.Kind)).
			Msg("alert publish failed")
	}
}
