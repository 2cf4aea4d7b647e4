package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var errNilProducer = errors.New("cache: nil producer")

// Warm runs every producer concurrently and stores the successful
// results. A failing producer is logged and skipped; it never stops the
// others.
func (s *Store) Warm(ctx context.Context, entries []WarmEntry) WarmResult {
	log := s.log.WithField("entries", len(entries))
	log.Info("warming cache")

	var loaded, failed atomic.Int64
	var g errgroup.Group
	if s.warmLimit > 0 {
		g.SetLimit(s.warmLimit)
	}

	for _, we := range entries {
		g.Go(func() error {
			if we.Producer == nil {
				s.log.WithField("key", we.Key).WithError(errNilProducer).Warn("cache warm-up skipped")
				failed.Add(1)
				return nil
			}
			value, err := we.Producer(ctx)
			if err != nil {
				s.log.WithField("key", we.Key).WithError(err).Warn("cache warm-up failed")
				failed.Add(1)
				return nil
			}
			s.SetWithTags(we.Key, value, we.TTL, we.Tags...)
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := WarmResult{Loaded: int(loaded.Load()), Failed: int(failed.Load())}
	log.WithFields(logrus.Fields{"loaded": res.Loaded, "failed": res.Failed}).Info("cache warm-up completed")
	return res
}
