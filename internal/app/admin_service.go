package app

import (
	"context"
	"fmt"

	"khatam_bot/internal/domain/khatam"

	"github.com/sirupsen/logrus"
)

type AdminService struct {
	unitRepo        khatam.UnitRepository
	metaRepo        khatam.MetadataRepository
	oracle          khatam.PeriodOracle
	rollover        *RolloverService
	adminTelegramID int64
	logger          *logrus.Entry
}

func NewAdminService(ur khatam.UnitRepository, mr khatam.MetadataRepository, oracle khatam.PeriodOracle, rollover *RolloverService, adminID int64, logger *logrus.Entry) *AdminService {
	return &AdminService{
		unitRepo:        ur,
		metaRepo:        mr,
		oracle:          oracle,
		rollover:        rollover,
		adminTelegramID: adminID,
		logger:          logger.WithField("component", "admin"),
	}
}

// IsAdmin reports whether the Telegram user may run admin commands.
func (s *AdminService) IsAdmin(telegramID int64) bool {
	return telegramID == s.adminTelegramID
}

// ResetBoard is the explicit administrative reset: it clears every claim and sets
// the cycle counter back to 0 for the current period. Nothing is archived.
func (s *AdminService) ResetBoard(ctx context.Context, performingAdminID int64) (*Snapshot, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}

	period := s.oracle.CurrentPeriod(ctx)
	if err := s.unitRepo.ClearAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear board: %w", err)
	}
	if err := s.metaRepo.Write(ctx, khatam.Metadata{CycleCount: 0, RecordedPeriod: period}); err != nil {
		return nil, fmt.Errorf("failed to reset cycle metadata: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"admin_id": performingAdminID, "period": period}).Warn("Board reset by admin")

	snap, err := s.rollover.Reconcile(ctx, "admin_reset")
	if err != nil {
		return nil, fmt.Errorf("board reset but failed to refresh: %w", err)
	}
	return snap, nil
}
