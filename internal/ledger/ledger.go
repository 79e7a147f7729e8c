/**
 * @description
 * This package holds the CampaignLedger: the authoritative record of pledges, the
 * aggregate total, the escrow balance and the lifecycle phase of a single campaign.
 * Every read-modify-write runs under one ledger-wide lock.
 *
 * @notes
 * - Every transfer is reserved under the lock first: a refund zeroes the pledge, a
 *   payout empties escrow, a contribution is counted as reserved. The pending intent
 *   is journaled, the lock is released for the external transfer, and the result is
 *   booked or reverted under the lock afterwards. A reentrant call during a transfer
 *   only ever sees the reservation.
 * - Only a confirmed rejection reverts a reservation. A transfer whose outcome is
 *   unknown stays reserved and unsettled until Settle is called for its reference.
 * - While any contribution is reserved the campaign cannot be finalized.
 */

package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/crowdfund-service/internal/domain"
)

// Transferer is the value-transfer primitive used by the ledger. reference is
// stable for one logical transfer. An error wrapping domain.ErrTransferOutcomeUnknown
// means the money may have moved; any other error is a rejection with no effect.
type Transferer interface {
	Receive(ctx context.Context, reference, from string, amount int64) error
	Send(ctx context.Context, reference, to string, amount int64) error
}

// Option customizes a Ledger at construction.
type Option func(*Ledger)

// WithClock overrides the time source used for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithEntryObserver registers fn to receive every journal entry in commit order.
// fn runs while the ledger lock is held and must not call back into the ledger.
func WithEntryObserver(fn func(domain.LedgerEntry)) Option {
	return func(l *Ledger) {
		l.observe = fn
	}
}

// WithJournalSync registers fn to durably store every entry observed so far. It is
// called without the lock before each transfer; an error cancels the transfer.
func WithJournalSync(fn func(context.Context) error) Option {
	return func(l *Ledger) {
		l.sync = fn
	}
}

// Ledger is the CampaignLedger for one campaign run.
type Ledger struct {
	mu       sync.Mutex
	cfg      domain.CampaignConfig
	transfer Transferer
	now      func() time.Time
	observe  func(domain.LedgerEntry)
	sync     func(context.Context) error

	pledges        map[string]int64
	totalPledged   int64
	escrowBalance  int64
	phase          domain.Phase
	finalizedTotal int64

	transfers        map[uuid.UUID]*domain.PendingTransfer
	reservedIn       int64
	payoutDisbursed  int64
	refundsDisbursed int64
}

// Resolution describes the outcome of a single Resolve call.
type Resolution struct {
	Phase           domain.Phase
	Transitioned    bool
	PaidOut         int64
	PayoutUnsettled bool
	Reference       uuid.UUID
}

// UnsettledTransferError reports a transfer whose outcome is unknown. The transfer
// stays reserved under Transfer.Reference until Settle is called.
type UnsettledTransferError struct {
	Transfer domain.PendingTransfer
	Err      error
}

func (e *UnsettledTransferError) Error() string {
	return fmt.Sprintf("%s %s to %s: %v", e.Transfer.Kind, e.Transfer.Reference, e.Transfer.Party, e.Err)
}

func (e *UnsettledTransferError) Unwrap() error { return e.Err }

// New creates a ledger in the Open phase.
func New(cfg domain.CampaignConfig, transfer Transferer, opts ...Option) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, fmt.Errorf("%w: transferer is required", domain.ErrInvalidConfig)
	}
	cfg.Beneficiary = strings.TrimSpace(cfg.Beneficiary)
	cfg.EscrowAccount = strings.TrimSpace(cfg.EscrowAccount)

	l := &Ledger{
		cfg:       cfg,
		transfer:  transfer,
		now:       time.Now,
		pledges:   make(map[string]int64),
		transfers: make(map[uuid.UUID]*domain.PendingTransfer),
		phase:     domain.PhaseOpen,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Contribute pulls amount from the contributor into escrow and adds it to their
// pledge. It returns the contributor's new cumulative pledge.
//
// The lock is not held during Receive, so a slow transfer does not stall other
// callers. The deadline is checked when the contribution is reserved.
func (l *Ledger) Contribute(ctx context.Context, contributorID string, amount int64) (int64, error) {
	contributorID = strings.TrimSpace(contributorID)
	if contributorID == "" {
		return 0, domain.ErrInvalidContributor
	}
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}

	l.mu.Lock()
	if l.phase != domain.PhaseOpen || !l.now().Before(l.cfg.Deadline) {
		l.mu.Unlock()
		return 0, domain.ErrCampaignClosed
	}
	if l.reservedIn > math.MaxInt64-amount || l.totalPledged > math.MaxInt64-l.reservedIn-amount {
		l.mu.Unlock()
		return 0, fmt.Errorf("%w: pledge would overflow", domain.ErrInvalidAmount)
	}
	t := l.begin(domain.EntryContribution, contributorID, amount)
	l.mu.Unlock()

	if err := l.syncJournal(ctx); err != nil {
		l.abort(t)
		return 0, err
	}

	recvErr := l.transfer.Receive(ctx, t.Reference.String(), contributorID, amount)

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case recvErr == nil:
		l.commit(t)
		return l.pledges[contributorID], nil
	case errors.Is(recvErr, domain.ErrTransferOutcomeUnknown):
		return 0, l.park(t, recvErr)
	default:
		l.revert(t)
		return 0, fmt.Errorf("%w: %w", domain.ErrTransferFailed, recvErr)
	}
}

// Finalize resolves the campaign once the deadline has passed and returns the
// resolved phase. It is safe to call repeatedly; a Successful campaign whose payout
// was rejected retries the payout.
func (l *Ledger) Finalize(ctx context.Context) (domain.Phase, error) {
	res, err := l.Resolve(ctx)
	return res.Phase, err
}

// Resolve is Finalize with details about what this particular call did.
func (l *Ledger) Resolve(ctx context.Context) (Resolution, error) {
	l.mu.Lock()

	res := Resolution{}
	if l.phase == domain.PhaseOpen {
		if l.now().Before(l.cfg.Deadline) {
			l.mu.Unlock()
			return Resolution{Phase: domain.PhaseOpen}, domain.ErrDeadlineNotReached
		}
		if l.reservedIn > 0 {
			l.mu.Unlock()
			return Resolution{Phase: domain.PhaseOpen}, domain.ErrTransfersUnsettled
		}
		l.finalizedTotal = l.totalPledged
		if l.totalPledged >= l.cfg.GoalAmount {
			l.phase = domain.PhaseSuccessful
		} else {
			l.phase = domain.PhaseFailed
		}
		res.Transitioned = true
		l.record(domain.EntryFinalized, "", l.finalizedTotal, uuid.Nil)
	}
	res.Phase = l.phase

	if l.phase != domain.PhaseSuccessful {
		l.mu.Unlock()
		return res, nil
	}
	if pending := l.pendingPayout(); pending != nil {
		res.PayoutUnsettled = pending.Unsettled
		res.Reference = pending.Reference
		l.mu.Unlock()
		return res, nil
	}
	if l.escrowBalance == 0 {
		l.mu.Unlock()
		return res, nil
	}

	t := l.begin(domain.EntryPayout, l.cfg.Beneficiary, l.escrowBalance)
	res.Reference = t.Reference
	l.mu.Unlock()

	if err := l.syncJournal(ctx); err != nil {
		l.abort(t)
		return res, err
	}

	sendErr := l.transfer.Send(ctx, t.Reference.String(), t.Party, t.Amount)

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case sendErr == nil:
		l.commit(t)
		res.PaidOut = t.Amount
		return res, nil
	case errors.Is(sendErr, domain.ErrTransferOutcomeUnknown):
		res.PayoutUnsettled = true
		return res, l.park(t, sendErr)
	default:
		l.revert(t)
		return res, fmt.Errorf("%w: beneficiary payout: %w", domain.ErrTransferFailed, sendErr)
	}
}

// Refund returns a contributor's entire pledge after a Failed resolution. When the
// transfer fails the returned amount is the pledge that was attempted.
func (l *Ledger) Refund(ctx context.Context, contributorID string) (int64, error) {
	contributorID = strings.TrimSpace(contributorID)
	if contributorID == "" {
		return 0, domain.ErrInvalidContributor
	}

	l.mu.Lock()
	if l.phase != domain.PhaseFailed {
		l.mu.Unlock()
		return 0, domain.ErrCampaignNotFailed
	}
	amount := l.pledges[contributorID]
	if amount <= 0 {
		l.mu.Unlock()
		return 0, domain.ErrNothingToRefund
	}
	t := l.begin(domain.EntryRefund, contributorID, amount)
	l.mu.Unlock()

	if err := l.syncJournal(ctx); err != nil {
		l.abort(t)
		return amount, err
	}

	sendErr := l.transfer.Send(ctx, t.Reference.String(), contributorID, amount)

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case sendErr == nil:
		l.commit(t)
		return amount, nil
	case errors.Is(sendErr, domain.ErrTransferOutcomeUnknown):
		return amount, l.park(t, sendErr)
	default:
		l.revert(t)
		return amount, fmt.Errorf("%w: refund: %w", domain.ErrTransferFailed, sendErr)
	}
}

// Settle books an unsettled transfer once its real outcome is known. A delivered
// transfer is booked as if it had succeeded; an undelivered one is reverted and may
// be attempted again.
func (l *Ledger) Settle(reference uuid.UUID, delivered bool) (domain.PendingTransfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.transfers[reference]
	if !ok {
		return domain.PendingTransfer{}, domain.ErrTransferNotFound
	}
	if !t.Unsettled {
		return domain.PendingTransfer{}, domain.ErrTransferInFlight
	}
	settled := *t
	if delivered {
		l.commit(t)
	} else {
		l.revert(t)
	}
	return settled, nil
}

// PendingTransfers lists transfers that are in flight or unsettled, oldest first.
func (l *Ledger) PendingTransfers() []domain.PendingTransfer {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.PendingTransfer, 0, len(l.transfers))
	for _, t := range l.transfers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Reference.String() < out[j].Reference.String()
	})
	return out
}

// begin reserves a transfer and journals its intent. l.mu must be held.
func (l *Ledger) begin(kind, party string, amount int64) *domain.PendingTransfer {
	t := l.reserve(uuid.New(), kind, party, amount, l.now().UTC())
	l.record(domain.PendingEntryKind(kind), party, amount, t.Reference)
	return t
}

// commit books t and journals it. l.mu must be held.
func (l *Ledger) commit(t *domain.PendingTransfer) {
	l.applyCommit(t)
	l.record(t.Kind, t.Party, t.Amount, t.Reference)
}

// revert undoes the reservation of t and journals it. l.mu must be held.
func (l *Ledger) revert(t *domain.PendingTransfer) {
	l.applyRevert(t)
	l.record(domain.RevertedEntryKind(t.Kind), t.Party, t.Amount, t.Reference)
}

// park leaves t reserved until Settle. l.mu must be held.
func (l *Ledger) park(t *domain.PendingTransfer, err error) error {
	t.Unsettled = true
	return &UnsettledTransferError{Transfer: *t, Err: err}
}

// abort reverts a transfer that never started because its intent was not stored.
func (l *Ledger) abort(t *domain.PendingTransfer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revert(t)
}

func (l *Ledger) reserve(reference uuid.UUID, kind, party string, amount int64, startedAt time.Time) *domain.PendingTransfer {
	switch kind {
	case domain.EntryContribution:
		l.reservedIn += amount
	case domain.EntryPayout:
		l.escrowBalance -= amount
	case domain.EntryRefund:
		delete(l.pledges, party)
		l.totalPledged -= amount
		l.escrowBalance -= amount
	}
	t := &domain.PendingTransfer{
		Reference: reference,
		Kind:      kind,
		Party:     party,
		Amount:    amount,
		StartedAt: startedAt,
	}
	l.transfers[reference] = t
	return t
}

func (l *Ledger) applyCommit(t *domain.PendingTransfer) {
	delete(l.transfers, t.Reference)
	switch t.Kind {
	case domain.EntryContribution:
		l.reservedIn -= t.Amount
		l.pledges[t.Party] += t.Amount
		l.totalPledged += t.Amount
		l.escrowBalance += t.Amount
	case domain.EntryPayout:
		l.payoutDisbursed += t.Amount
	case domain.EntryRefund:
		l.refundsDisbursed += t.Amount
	}
}

func (l *Ledger) applyRevert(t *domain.PendingTransfer) {
	delete(l.transfers, t.Reference)
	switch t.Kind {
	case domain.EntryContribution:
		l.reservedIn -= t.Amount
	case domain.EntryPayout:
		l.escrowBalance += t.Amount
	case domain.EntryRefund:
		l.pledges[t.Party] += t.Amount
		l.totalPledged += t.Amount
		l.escrowBalance += t.Amount
	}
}

func (l *Ledger) pendingPayout() *domain.PendingTransfer {
	for _, t := range l.transfers {
		if t.Kind == domain.EntryPayout {
			return t
		}
	}
	return nil
}

func (l *Ledger) syncJournal(ctx context.Context) error {
	if l.sync == nil {
		return nil
	}
	if err := l.sync(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrJournalUnavailable, err)
	}
	return nil
}

// record must be called with l.mu held.
func (l *Ledger) record(kind, party string, amount int64, reference uuid.UUID) {
	if l.observe == nil {
		return
	}
	l.observe(domain.LedgerEntry{
		Kind:          kind,
		Reference:     reference,
		ContributorID: party,
		Amount:        amount,
		Phase:         l.phase,
		CreatedAt:     l.now().UTC(),
	})
}

func (l *Ledger) Phase() domain.Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

func (l *Ledger) TotalPledged() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalPledged
}

func (l *Ledger) EscrowBalance() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrowBalance
}

func (l *Ledger) GoalAmount() int64 { return l.cfg.GoalAmount }

func (l *Ledger) Deadline() time.Time { return l.cfg.Deadline }

func (l *Ledger) Beneficiary() string { return l.cfg.Beneficiary }

// PledgeOf returns the contributor's current pledge, zero if none.
func (l *Ledger) PledgeOf(contributorID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pledges[strings.TrimSpace(contributorID)]
}

// Contributors lists contributors with a positive pledge in a stable order.
func (l *Ledger) Contributors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.pledges))
	for id := range l.pledges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a consistent view of the whole ledger.
func (l *Ledger) Snapshot() domain.CampaignStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	var inFlight int64
	unsettled := 0
	for _, t := range l.transfers {
		inFlight += t.Amount
		if t.Unsettled {
			unsettled++
		}
	}

	return domain.CampaignStatus{
		Phase:            l.phase,
		GoalAmount:       l.cfg.GoalAmount,
		Deadline:         l.cfg.Deadline,
		Beneficiary:      l.cfg.Beneficiary,
		TotalPledged:     l.totalPledged,
		EscrowBalance:    l.escrowBalance,
		FinalizedTotal:   l.finalizedTotal,
		Contributors:     len(l.pledges),
		PayoutPending:    l.phase == domain.PhaseSuccessful && l.escrowBalance > 0,
		PayoutDisbursed:  l.payoutDisbursed,
		RefundsDisbursed: l.refundsDisbursed,
		InFlight:         inFlight,
		Unsettled:        unsettled,
	}
}
