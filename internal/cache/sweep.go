package cache

import (
	"context"
	"time"
)

// DeleteExpired removes every expired entry and returns how many were
// dropped. Get never depends on this having run.
func (s *Store) DeleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry).expired(now) {
			s.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

func (s *Store) sweepLoop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.DeleteExpired(); n > 0 {
				s.log.WithField("removed", n).Debug("cache sweep removed expired entries")
			}
		}
	}
}
