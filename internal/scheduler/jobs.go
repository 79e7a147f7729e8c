/**
 * @description
 * Scheduled job implementations for campaign resolution and refund sweeps.
 */
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/transfa/crowdfund-service/internal/domain"
)

const jobTimeout = 2 * time.Minute

// CampaignRunner is the application surface used by the jobs.
type CampaignRunner interface {
	Status(ctx context.Context) domain.CampaignStatus
	Finalize(ctx context.Context) (*domain.FinalizeResponse, error)
	SweepRefunds(ctx context.Context) (*domain.RefundSweepResult, error)
	FlushJournal(ctx context.Context) error
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	campaign CampaignRunner
	logger   *slog.Logger
	now      func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(campaign CampaignRunner, logger *slog.Logger) *Jobs {
	return &Jobs{
		campaign: campaign,
		logger:   logger,
		now:      time.Now,
	}
}

// FinalizeCampaign resolves the campaign once its deadline has passed and retries a
// pending beneficiary payout.
func (j *Jobs) FinalizeCampaign() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := j.campaign.FlushJournal(ctx); err != nil {
		j.logger.Error("journal flush failed", "error", err)
	}

	status := j.campaign.Status(ctx)
	switch {
	case status.Phase == domain.PhaseOpen && j.now().Before(status.Deadline):
		return
	case status.Phase == domain.PhaseFailed:
		return
	case status.Phase == domain.PhaseSuccessful && !status.PayoutPending:
		return
	}

	j.logger.Info("starting campaign finalize job", "phase", status.Phase, "total_pledged", status.TotalPledged, "goal", status.GoalAmount)
	resp, err := j.campaign.Finalize(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDeadlineNotReached):
		return
	case errors.Is(err, domain.ErrTransfersUnsettled), errors.Is(err, domain.ErrTransferOutcomeUnknown):
		j.logger.Warn("campaign finalize waiting for transfer settlement", "unsettled", status.Unsettled, "error", err)
		return
	default:
		j.logger.Error("campaign finalize failed", "error", err)
		return
	}
	j.logger.Info("campaign finalize job finished", "phase", resp.Phase, "message", resp.Message)
}

// SweepRefunds refunds remaining contributors of a failed campaign.
func (j *Jobs) SweepRefunds() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	status := j.campaign.Status(ctx)
	if status.Phase != domain.PhaseFailed || status.Contributors == 0 {
		return
	}

	j.logger.Info("starting refund sweep job", "contributors", status.Contributors)
	result, err := j.campaign.SweepRefunds(ctx)
	if err != nil {
		j.logger.Error("refund sweep failed", "error", err)
		return
	}
	j.logger.Info("refund sweep job finished",
		"attempted", result.Attempted,
		"refunded", result.Refunded,
		"failed", result.Failed,
		"unsettled", result.Unsettled,
		"amount", result.Amount,
	)
}
