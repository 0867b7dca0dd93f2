package alerting

import (
	"context"
	"sync"

	"fleet-monitor/asset-tracking/internal/domain"
)

type slotKey struct {
	assetID string
	kind    domain.AlertKind
}

// MemorySuppressor keeps alert slots in process for the memory backend.
type MemorySuppressor struct {
	mu    sync.Mutex
	slots map[slotKey]struct{}
}

func NewMemorySuppressor() *MemorySuppressor {
	return &MemorySuppressor{slots: make(map[slotKey]struct{})}
}

func (s *MemorySuppressor) AcquireAlertDedup(_ context.Context, assetID string, kind domain.AlertKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := slotKey{assetID, kind}
	if _, held := s.slots[k]; held {
		return false, nil
	}
	s.slots[k] = struct{}{}
	return true, nil
}

func (s *MemorySuppressor) ReleaseAlertDedup(_ context.Context, assetID string, kind domain.AlertKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.slots, slotKey{assetID, kind})
	return nil
}
