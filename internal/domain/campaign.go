/**
 * @description
 * This file defines the core domain models for the crowdfund-service: the immutable
 * campaign configuration, the lifecycle phase, and the read-only status views exposed
 * by the ledger and the HTTP layer.
 *
 * @notes
 * - Amounts are `int64` in the smallest currency unit (kobo).
 * - Identities (contributors, beneficiary, escrow) are opaque strings resolved to
 *   deposit accounts by the transfer adapter.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle phase of a campaign.
type Phase string

const (
	PhaseOpen       Phase = "open"
	PhaseSuccessful Phase = "successful"
	PhaseFailed     Phase = "failed"
)

// IsTerminal reports whether the phase has left Open.
func (p Phase) IsTerminal() bool {
	return p == PhaseSuccessful || p == PhaseFailed
}

// ParsePhase converts a stored phase string back into a Phase.
func ParsePhase(raw string) (Phase, error) {
	switch Phase(strings.ToLower(strings.TrimSpace(raw))) {
	case PhaseOpen:
		return PhaseOpen, nil
	case PhaseSuccessful:
		return PhaseSuccessful, nil
	case PhaseFailed:
		return PhaseFailed, nil
	}
	return "", fmt.Errorf("unknown campaign phase %q", raw)
}

// CampaignConfig is supplied once at construction and never reloaded.
type CampaignConfig struct {
	GoalAmount    int64     `json:"goal_amount"` // in kobo
	Deadline      time.Time `json:"deadline"`
	Beneficiary   string    `json:"beneficiary"`
	EscrowAccount string    `json:"escrow_account"`
}

// Validate checks the construction invariants of a campaign.
func (c CampaignConfig) Validate() error {
	if c.GoalAmount <= 0 {
		return fmt.Errorf("%w: goal amount must be greater than 0", ErrInvalidConfig)
	}
	if c.Deadline.IsZero() {
		return fmt.Errorf("%w: deadline is required", ErrInvalidConfig)
	}
	beneficiary := strings.TrimSpace(c.Beneficiary)
	if beneficiary == "" {
		return fmt.Errorf("%w: beneficiary is required", ErrInvalidConfig)
	}
	if beneficiary == strings.TrimSpace(c.EscrowAccount) {
		return fmt.Errorf("%w: beneficiary must differ from the escrow account", ErrInvalidConfig)
	}
	return nil
}

// CampaignStatus is a point-in-time view of the ledger.
type CampaignStatus struct {
	Phase            Phase     `json:"phase"`
	GoalAmount       int64     `json:"goal_amount"`
	Deadline         time.Time `json:"deadline"`
	Beneficiary      string    `json:"beneficiary"`
	TotalPledged     int64     `json:"total_pledged"`
	EscrowBalance    int64     `json:"escrow_balance"`
	FinalizedTotal   int64     `json:"finalized_total"`
	Contributors     int       `json:"contributors"`
	PayoutPending    bool      `json:"payout_pending"`
	PayoutDisbursed  int64     `json:"payout_disbursed"`
	RefundsDisbursed int64     `json:"refunds_disbursed"`
	InFlight         int64     `json:"in_flight"`
	Unsettled        int       `json:"unsettled_transfers"`
}

// ContributeRequest is the DTO for incoming contribution API requests.
type ContributeRequest struct {
	Amount int64 `json:"amount"` // in kobo
}

// ContributeResponse is returned after a successful contribution.
type ContributeResponse struct {
	ContributorID string `json:"contributor_id"`
	Amount        int64  `json:"amount"`
	TotalPledge   int64  `json:"total_pledge"`
}

// FinalizeResponse reports the resolved phase of the campaign.
type FinalizeResponse struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
}

// RefundResponse is returned after a successful refund.
type RefundResponse struct {
	ContributorID string `json:"contributor_id"`
	Refunded      int64  `json:"refunded"`
}

// PledgeResponse reports one contributor's current pledge.
type PledgeResponse struct {
	ContributorID string `json:"contributor_id"`
	Pledge        int64  `json:"pledge"`
}

// RefundSweepResult summarizes a refund sweep over all contributors.
type RefundSweepResult struct {
	Attempted int   `json:"attempted"`
	Refunded  int   `json:"refunded"`
	Failed    int   `json:"failed"`
	Unsettled int   `json:"unsettled"`
	Amount    int64 `json:"amount"`
}

// PendingTransfer is a contribution, payout or refund whose money movement has
// started but is not yet booked. Unsettled transfers had an unknown outcome and
// wait for an operator to confirm whether the money moved.
type PendingTransfer struct {
	Reference uuid.UUID `json:"reference"`
	Kind      string    `json:"kind"`
	Party     string    `json:"party"`
	Amount    int64     `json:"amount"`
	Unsettled bool      `json:"unsettled"`
	StartedAt time.Time `json:"started_at"`
}

// SettleTransferRequest is the DTO for settling an unsettled transfer.
type SettleTransferRequest struct {
	Delivered *bool `json:"delivered"`
}
