package domain

import (
	"time"

	"github.com/google/uuid"
)

// Journal entry kinds recorded for the running campaign. Every transfer is
// journaled as a pending intent before money moves, then booked or reverted under
// the same reference.
const (
	EntryContribution = "contribution"
	EntryFinalized    = "finalized"
	EntryPayout       = "payout"
	EntryRefund       = "refund"

	EntryContributionPending  = "contribution_pending"
	EntryContributionReverted = "contribution_reverted"
	EntryPayoutPending        = "payout_pending"
	EntryPayoutReverted       = "payout_reverted"
	EntryRefundPending        = "refund_pending"
	EntryRefundReverted       = "refund_reverted"
)

// PendingEntryKind returns the intent kind journaled before a transfer of kind.
func PendingEntryKind(kind string) string { return kind + "_pending" }

// RevertedEntryKind returns the kind journaled when a transfer of kind is undone.
func RevertedEntryKind(kind string) string { return kind + "_reverted" }

// Routing keys for campaign lifecycle events.
const (
	EventContributionReceived = "campaign.contribution.received"
	EventFinalized            = "campaign.finalized"
	EventPayoutDisbursed      = "campaign.payout.disbursed"
	EventPayoutFailed         = "campaign.payout.failed"
	EventRefundIssued         = "campaign.refund.issued"
	EventRefundFailed         = "campaign.refund.failed"
	EventTransferUnsettled    = "campaign.transfer.unsettled"
	EventTransferSettled      = "campaign.transfer.settled"
)

// LedgerEntry is one row of the campaign journal. Replaying the journal in
// sequence order rebuilds the ledger after a restart.
type LedgerEntry struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Seq           int64     `json:"seq" db:"seq"`
	Kind          string    `json:"kind" db:"kind"`
	Reference     uuid.UUID `json:"reference" db:"reference"`
	ContributorID string    `json:"contributor_id,omitempty" db:"contributor_id"`
	Amount        int64     `json:"amount" db:"amount"`
	Phase         Phase     `json:"phase,omitempty" db:"phase"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// CampaignEvent is the message payload published to RabbitMQ.
type CampaignEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	EventType     string    `json:"event_type"`
	ContributorID string    `json:"contributor_id,omitempty"`
	Beneficiary   string    `json:"beneficiary,omitempty"`
	Amount        int64     `json:"amount"`
	TotalPledged  int64     `json:"total_pledged"`
	Phase         Phase     `json:"phase"`
	Reason        string    `json:"reason,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
