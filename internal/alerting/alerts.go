package alerting

import (
	"fmt"
	"time"

	"fleet-monitor/asset-tracking/internal/domain"
)

func ZoneExit(fix domain.LocationFix, now time.Time) domain.GeoAlert {
	c := fix.Coordinate()
	return domain.GeoAlert{
		AssetID:     fix.AssetID,
		Kind:        domain.AlertZoneExit,
		Message:     fmt.Sprintf("Asset %s exited geo-fence at %g,%g", fix.AssetID, fix.Longitude, fix.Latitude),
		Coordinate:  &c,
		TriggeredAt: now,
	}
}

// Stale builds a stale_data alert. coord is the last fix, a zone centroid for
// an asset that never reported, or nil.
func Stale(assetID string, coord *domain.Coordinate, threshold time.Duration, now time.Time) domain.GeoAlert {
	return domain.GeoAlert{
		AssetID:     assetID,
		Kind:        domain.AlertStaleData,
		Message:     fmt.Sprintf("Asset %s has no updates for %s", assetID, describe(threshold)),
		Coordinate:  coord,
		TriggeredAt: now,
	}
}

func describe(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d+ minutes", int(d/time.Minute))
	}
	return d.String() + "+"
}
