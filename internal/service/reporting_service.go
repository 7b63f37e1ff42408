package service

import (
	"context"
	"fmt"

	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/pkg/apperror"
)

// ReportingServiceImpl implements ports.ReportingService.
type ReportingServiceImpl struct {
	txRepo ports.TransactionRepository
}

// NewReportingService creates a new ReportingServiceImpl.
func NewReportingService(txRepo ports.TransactionRepository) *ReportingServiceImpl {
	return &ReportingServiceImpl{txRepo: txRepo}
}

// GetStats returns transaction counts segmented by status and by
// payment method (push-initiated vs C2B).
func (s *ReportingServiceImpl) GetStats(ctx context.Context) (*ports.TransactionStats, error) {
	stats, err := s.txRepo.GetStats(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("transaction stats: %w", err))
	}
	return stats, nil
}
