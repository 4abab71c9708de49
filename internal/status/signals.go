package status

import (
	"context"
	"encoding/json"
	"time"

	"tradegate/internal/cache"
	"tradegate/internal/collab"
	"tradegate/internal/logging"
)

const signalCacheKey = "signals:latest"

// SignalService serves the latest trading signals through the shared cache
// so repeated dashboard polls do not re-read the collaborator's signal file
// every time. Cache failures fall back to the provider directly.
type SignalService struct {
	provider collab.SignalProvider
	cache    cache.Cache
	ttl      time.Duration
}

// NewSignalService creates the cached signal view.
func NewSignalService(provider collab.SignalProvider, c cache.Cache, ttl time.Duration) *SignalService {
	return &SignalService{provider: provider, cache: c, ttl: ttl}
}

// Latest returns the current signal set, from cache when fresh.
func (s *SignalService) Latest(ctx context.Context) ([]collab.Signal, error) {
	data, ok, err := s.cache.Get(ctx, signalCacheKey)
	if err != nil {
		logging.WithError(err).Warn("signal cache read failed")
	}
	if ok {
		var signals []collab.Signal
		if err := json.Unmarshal(data, &signals); err != nil {
			logging.WithError(err).Warn("discarding corrupt signal cache entry")
		} else {
			return signals, nil
		}
	}

	signals, err := s.provider.LatestSignals(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(signals); err == nil {
		if err := s.cache.Set(ctx, signalCacheKey, data, s.ttl); err != nil {
			logging.WithError(err).Warn("signal cache write failed")
		}
	}
	return signals, nil
}

// Invalidate drops the cached signal set.
func (s *SignalService) Invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, signalCacheKey); err != nil {
		logging.WithError(err).Warn("signal cache invalidation failed")
	}
}
