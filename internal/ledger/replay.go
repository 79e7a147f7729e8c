package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/crowdfund-service/internal/domain"
)

// Replay rebuilds ledger state from journal entries in sequence order without
// moving any money. It must run before the ledger serves any call. A transfer whose
// intent was journaled without a booking or revert comes back unsettled, since the
// process may have stopped while the money was moving.
func (l *Ledger) Replay(entries []domain.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.phase != domain.PhaseOpen || l.totalPledged != 0 || len(l.pledges) != 0 || len(l.transfers) != 0 {
		return fmt.Errorf("replay into a ledger that already holds state")
	}

	for _, entry := range entries {
		if err := l.applyEntry(entry); err != nil {
			return fmt.Errorf("replay entry seq=%d kind=%s: %w", entry.Seq, entry.Kind, err)
		}
	}
	for _, t := range l.transfers {
		t.Unsettled = true
	}
	return nil
}

func (l *Ledger) applyEntry(entry domain.LedgerEntry) error {
	party := strings.TrimSpace(entry.ContributorID)

	switch entry.Kind {
	case domain.EntryFinalized:
		if l.phase != domain.PhaseOpen {
			return fmt.Errorf("campaign finalized twice")
		}
		if l.reservedIn > 0 {
			return fmt.Errorf("finalized with contributions still pending")
		}
		if !entry.Phase.IsTerminal() {
			return fmt.Errorf("finalized entry carries non-terminal phase %q", entry.Phase)
		}
		if entry.Amount != 0 && entry.Amount != l.totalPledged {
			return fmt.Errorf("finalized total %d does not match replayed total %d", entry.Amount, l.totalPledged)
		}
		l.phase = entry.Phase
		l.finalizedTotal = l.totalPledged
		return nil

	case domain.EntryContributionPending, domain.EntryPayoutPending, domain.EntryRefundPending:
		kind := strings.TrimSuffix(entry.Kind, "_pending")
		if err := l.checkIntent(kind, party, entry); err != nil {
			return err
		}
		l.reserve(entry.Reference, kind, party, entry.Amount, entry.CreatedAt)
		return nil

	case domain.EntryContribution, domain.EntryPayout, domain.EntryRefund:
		t, err := l.matchIntent(entry.Kind, entry)
		if err != nil {
			return err
		}
		l.applyCommit(t)
		return nil

	case domain.EntryContributionReverted, domain.EntryPayoutReverted, domain.EntryRefundReverted:
		t, err := l.matchIntent(strings.TrimSuffix(entry.Kind, "_reverted"), entry)
		if err != nil {
			return err
		}
		l.applyRevert(t)
		return nil
	}
	return fmt.Errorf("unknown entry kind")
}

func (l *Ledger) checkIntent(kind, party string, entry domain.LedgerEntry) error {
	if entry.Reference == uuid.Nil {
		return fmt.Errorf("intent without a reference")
	}
	if _, exists := l.transfers[entry.Reference]; exists {
		return fmt.Errorf("reference %s reused", entry.Reference)
	}
	if entry.Amount <= 0 {
		return fmt.Errorf("malformed %s intent", kind)
	}

	switch kind {
	case domain.EntryContribution:
		if l.phase != domain.PhaseOpen {
			return fmt.Errorf("contribution after finalization")
		}
		if party == "" {
			return fmt.Errorf("contribution without a contributor")
		}
	case domain.EntryPayout:
		if l.phase != domain.PhaseSuccessful {
			return fmt.Errorf("payout outside a successful campaign")
		}
		if l.pendingPayout() != nil {
			return fmt.Errorf("second payout while one is pending")
		}
		if entry.Amount > l.escrowBalance {
			return fmt.Errorf("payout of %d exceeds escrow balance %d", entry.Amount, l.escrowBalance)
		}
	case domain.EntryRefund:
		if l.phase != domain.PhaseFailed {
			return fmt.Errorf("refund outside a failed campaign")
		}
		if l.pledges[party] != entry.Amount {
			return fmt.Errorf("refund of %d does not match pledge %d", entry.Amount, l.pledges[party])
		}
	}
	return nil
}

func (l *Ledger) matchIntent(kind string, entry domain.LedgerEntry) (*domain.PendingTransfer, error) {
	t, ok := l.transfers[entry.Reference]
	if !ok {
		return nil, fmt.Errorf("no pending intent for reference %s", entry.Reference)
	}
	if t.Kind != kind || t.Amount != entry.Amount {
		return nil, fmt.Errorf("entry does not match pending %s of %d", t.Kind, t.Amount)
	}
	return t, nil
}
