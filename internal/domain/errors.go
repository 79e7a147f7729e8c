package domain

import "errors"

var (
	ErrInvalidConfig      = errors.New("invalid campaign configuration")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrCampaignClosed     = errors.New("campaign is closed")
	ErrDeadlineNotReached = errors.New("campaign deadline not reached")
	ErrCampaignNotFailed  = errors.New("campaign has not failed")
	ErrNothingToRefund    = errors.New("nothing to refund")
	ErrTransferFailed     = errors.New("transfer failed")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidContributor = errors.New("invalid contributor id")

	// ErrTransferOutcomeUnknown marks a transfer that may or may not have moved money.
	// The ledger parks it until it is settled and never retries it on its own.
	ErrTransferOutcomeUnknown = errors.New("transfer outcome unknown")
	ErrTransfersUnsettled     = errors.New("contributions awaiting settlement")
	ErrTransferNotFound       = errors.New("pending transfer not found")
	ErrTransferInFlight       = errors.New("transfer still in flight")
	ErrJournalUnavailable     = errors.New("journal unavailable")
)
