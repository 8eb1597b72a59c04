package sweeper

import (
	"context"
	"time"

	"github.com/igormart21/milha-alerta-fly/internal/logger"
	"github.com/igormart21/milha-alerta-fly/internal/models"
)

// Expirer is the part of the service the sweeper drives.
type Expirer interface {
	ExpireStale(ctx context.Context, now time.Time) ([]models.Alert, error)
}

// Sweeper periodically expires alerts whose travel window has passed.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	now      func() time.Time
	logger   logger.Logger
}

func New(expirer Expirer, interval time.Duration, log logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Sweeper{
		expirer:  expirer,
		interval: interval,
		now:      time.Now,
		logger:   log,
	}
}

// RunOnce performs a single sweep and returns the number of alerts expired.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	expired, err := s.expirer.ExpireStale(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("Expiry sweep failed", "error", err, "expired", len(expired))
		return len(expired), err
	}
	s.logger.Debug("Expiry sweep completed", "expired", len(expired))
	return len(expired), nil
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Expiry sweeper started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
