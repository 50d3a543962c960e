package packages

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

// SweepResult counts what one expiry sweep did.
type SweepResult struct {
	Expired      int
	ExpiringSoon int
}

// Sweeper periodically realizes expirations and warns about packages that will lapse soon.
// Without it, expiry is only realized when a package is next read or consumed.
type Sweeper struct {
	service  *Service
	interval time.Duration
	window   time.Duration
	logger   *logging.Logger
}

// NewSweeper creates a sweeper. An interval <= 0 makes Start return immediately.
func NewSweeper(service *Service, interval, window time.Duration, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{service: service, interval: interval, window: window, logger: logger}
}

// Start runs sweeps until ctx is cancelled.
func (w *Sweeper) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("package sweeper disabled")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.service.SweepExpirations(ctx, w.window); err != nil && ctx.Err() == nil {
			w.logger.Error("package sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepExpirations marks lapsed packages expired and raises one expired and one
// expiring_soon alert per package at most.
func (s *Service) SweepExpirations(ctx context.Context, window time.Duration) (SweepResult, error) {
	var result SweepResult
	now := s.now()

	lapsed, err := s.repo.ListExpirable(ctx, now)
	if err != nil {
		return result, fmt.Errorf("packages: sweep list expirable: %w", err)
	}
	for _, p := range lapsed {
		raised, err := s.sweepOne(ctx, p.ID, AlertExpired, func(pkg *TherapyPackage, now time.Time) bool {
			return effectiveStatus(pkg, now) == StatusExpired
		})
		if err != nil {
			s.logger.Error("package sweep: expire failed", "package_id", p.ID, "error", err)
			continue
		}
		if raised {
			result.Expired++
		}
	}

	if window > 0 {
		soon, err := s.repo.ListExpiringBetween(ctx, now, now.Add(window))
		if err != nil {
			return result, fmt.Errorf("packages: sweep list expiring: %w", err)
		}
		for _, p := range soon {
			raised, err := s.sweepOne(ctx, p.ID, AlertExpiringSoon, func(pkg *TherapyPackage, now time.Time) bool {
				return !effectiveStatus(pkg, now).IsTerminal()
			})
			if err != nil {
				s.logger.Error("package sweep: expiring soon failed", "package_id", p.ID, "error", err)
				continue
			}
			if raised {
				result.ExpiringSoon++
			}
		}
	}

	if result.Expired > 0 || result.ExpiringSoon > 0 {
		s.logger.Info("package sweep done", "expired", result.Expired, "expiring_soon", result.ExpiringSoon)
	}
	return result, nil
}

// sweepOne re-reads the package under its lock, realizes its status and raises alertType if applies() and none exists yet.
func (s *Service) sweepOne(ctx context.Context, packageID string, alertType AlertType, applies func(*TherapyPackage, time.Time) bool) (bool, error) {
	release, err := s.acquire(ctx, "package:"+packageID)
	if err != nil {
		return false, err
	}
	defer release()

	raised := false
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		pkg, err := tx.GetPackage(ctx, packageID)
		if err != nil {
			return err
		}
		now := s.now()
		if !applies(pkg, now) {
			return nil
		}
		if st := effectiveStatus(pkg, now); st != pkg.Status {
			pkg.Status = st
			pkg.UpdatedAt = now
			if err := tx.UpdatePackage(ctx, pkg); err != nil {
				return err
			}
		}
		exists, err := tx.HasAlert(ctx, pkg.ID, alertType)
		if err != nil || exists {
			return err
		}
		alert, err := s.raiseAlert(ctx, tx, pkg, alertType, pkg.Remaining(), now)
		if err != nil {
			return err
		}
		s.metrics.ObserveAlert(string(alert.AlertType), string(alert.Method))
		raised = true
		return nil
	})
	return raised, err
}
