package tokens

import (
	"context"
	"fmt"
	"time"
)

// ExpireStale marks every valid record past its expiry as expired.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireAll(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("tokens.ExpireStale: %w", err)
	}
	return n, nil
}

// PurgeInactive deletes expired and revoked records.
func (s *Service) PurgeInactive(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteInactive(ctx)
	if err != nil {
		return 0, fmt.Errorf("tokens.PurgeInactive: %w", err)
	}
	return n, nil
}

// RunSweeper expires and purges records every interval until ctx is done.
// Sweep failures are logged; the loop keeps going.
func (s *Service) RunSweeper(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("tokens.RunSweeper: invalid interval %s", every)
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	expired, err := s.ExpireStale(ctx)
	if err != nil {
		s.log.Error("tokens.sweep.fail", "stage", "expire", "err", err)
		return
	}
	purged, err := s.PurgeInactive(ctx)
	if err != nil {
		s.log.Error("tokens.sweep.fail", "stage", "purge", "err", err)
		return
	}
	if expired > 0 || purged > 0 {
		s.log.Info("tokens.sweep", "expired", expired, "purged", purged)
	}
}
