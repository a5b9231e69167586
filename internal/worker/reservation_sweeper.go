package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/inventory-service/internal/port"
)

const sweepLockKey = "reservation-sweeper"

// Expirer is the reservation operation the sweeper drives.
type Expirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// ReservationSweeper expires overdue reservations on a fixed interval.
// Replicas sharing a Locker take turns; a tick whose lock is held elsewhere
// is skipped.
type ReservationSweeper struct {
	reservations Expirer
	locker       port.Locker
	interval     time.Duration
	lockTTL      time.Duration
	log          zerolog.Logger
}

func NewReservationSweeper(reservations Expirer, locker port.Locker, interval, lockTTL time.Duration, log zerolog.Logger) *ReservationSweeper {
	return &ReservationSweeper{
		reservations: reservations,
		locker:       locker,
		interval:     interval,
		lockTTL:      lockTTL,
		log:          log.With().Str("component", "reservation_sweeper").Logger(),
	}
}

// Run blocks until ctx is done.
func (s *ReservationSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("reservation sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("reservation sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single tick and reports how many reservations it expired.
func (s *ReservationSweeper) Sweep(ctx context.Context) int {
	release, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		s.log.Warn().Err(err).Msg("sweep lock unavailable")
		return 0
	}
	if !ok {
		s.log.Debug().Msg("sweep held by another replica, skipping")
		return 0
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Msg("failed to release sweep lock")
		}
	}()

	sweepCtx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()

	n, err := s.reservations.ExpireDue(sweepCtx)
	if err != nil {
		s.log.Error().Err(err).Int("expired", n).Msg("reservation sweep finished with errors")
		return n
	}
	if n > 0 {
		s.log.Info().Int("expired", n).Msg("reservation sweep finished")
	}
	return n
}
