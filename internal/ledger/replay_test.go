package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/crowdfund-service/internal/domain"
)

// journalBuilder writes entries the way the ledger journals them.
type journalBuilder struct {
	entries []domain.LedgerEntry
}

func (b *journalBuilder) add(kind, party string, amount int64, phase domain.Phase, ref uuid.UUID) uuid.UUID {
	b.entries = append(b.entries, domain.LedgerEntry{
		Seq:           int64(len(b.entries) + 1),
		Kind:          kind,
		Reference:     ref,
		ContributorID: party,
		Amount:        amount,
		Phase:         phase,
	})
	return ref
}

func (b *journalBuilder) intent(kind, party string, amount int64, phase domain.Phase) uuid.UUID {
	return b.add(domain.PendingEntryKind(kind), party, amount, phase, uuid.New())
}

func (b *journalBuilder) transfer(kind, party string, amount int64, phase domain.Phase) uuid.UUID {
	ref := b.intent(kind, party, amount, phase)
	return b.add(kind, party, amount, phase, ref)
}

func (b *journalBuilder) finalized(phase domain.Phase) {
	b.add(domain.EntryFinalized, "", 0, phase, uuid.Nil)
}

func TestReplay_RebuildsOpenCampaign(t *testing.T) {
	l, transfer, _ := newTestLedger(t, 100)

	var j journalBuilder
	j.transfer(domain.EntryContribution, "alice", 30, domain.PhaseOpen)
	j.transfer(domain.EntryContribution, "bob", 20, domain.PhaseOpen)
	j.transfer(domain.EntryContribution, "alice", 5, domain.PhaseOpen)
	rejected := j.intent(domain.EntryContribution, "carol", 40, domain.PhaseOpen)
	j.add(domain.EntryContributionReverted, "carol", 40, domain.PhaseOpen, rejected)

	if err := l.Replay(j.entries); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	assertInvariants(t, l)

	if got := l.PledgeOf("alice"); got != 35 {
		t.Fatalf("expected alice pledge 35, got %d", got)
	}
	if got := l.TotalPledged(); got != 55 || l.PledgeOf("carol") != 0 {
		t.Fatalf("expected total 55 without carol, got %d", got)
	}
	if len(l.PendingTransfers()) != 0 {
		t.Fatalf("expected no pending transfers, got %+v", l.PendingTransfers())
	}
	if len(transfer.receives) != 0 || transfer.sendCount() != 0 {
		t.Fatal("expected replay to move no money")
	}

	// Replayed state keeps accepting contributions.
	if pledge := mustContribute(t, l, "bob", 10); pledge != 30 {
		t.Fatalf("expected bob pledge 30, got %d", pledge)
	}
}

func TestReplay_FailedCampaignWithPartialRefunds(t *testing.T) {
	l, transfer, clock := newTestLedger(t, 100)

	var j journalBuilder
	j.transfer(domain.EntryContribution, "alice", 30, domain.PhaseOpen)
	j.transfer(domain.EntryContribution, "bob", 20, domain.PhaseOpen)
	j.finalized(domain.PhaseFailed)
	j.transfer(domain.EntryRefund, "alice", 30, domain.PhaseFailed)

	if err := l.Replay(j.entries); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	assertInvariants(t, l)

	if _, err := l.Refund(context.Background(), "alice"); !errors.Is(err, domain.ErrNothingToRefund) {
		t.Fatalf("expected ErrNothingToRefund for refunded contributor, got %v", err)
	}

	clock.Set(deadlineT.Add(time.Hour))
	refunded, err := l.Refund(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if refunded != 20 || transfer.sentTo("bob") != 20 {
		t.Fatalf("expected bob refunded 20, got %d (sent %d)", refunded, transfer.sentTo("bob"))
	}

	snap := l.Snapshot()
	if snap.FinalizedTotal != 50 || snap.RefundsDisbursed != 50 || snap.EscrowBalance != 0 {
		t.Fatalf("unexpected snapshot after refunds: %+v", snap)
	}
}

func TestReplay_RefundIntentWithoutOutcomeIsNotPaidAgain(t *testing.T) {
	l, transfer, _ := newTestLedger(t, 100)

	var j journalBuilder
	j.transfer(domain.EntryContribution, "alice", 30, domain.PhaseOpen)
	j.finalized(domain.PhaseFailed)
	ref := j.intent(domain.EntryRefund, "alice", 30, domain.PhaseFailed)

	if err := l.Replay(j.entries); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	assertInvariants(t, l)

	if _, err := l.Refund(context.Background(), "alice"); !errors.Is(err, domain.ErrNothingToRefund) {
		t.Fatalf("expected ErrNothingToRefund while the refund is unsettled, got %v", err)
	}
	if transfer.attemptCount() != 0 {
		t.Fatalf("expected no refund attempt, got %d", transfer.attemptCount())
	}

	pending := onlyPendingTransfer(t, l)
	if pending.Reference != ref || !pending.Unsettled || pending.Party != "alice" {
		t.Fatalf("unexpected pending refund: %+v", pending)
	}
	if _, err := l.Settle(ref, true); err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if got := l.Snapshot().RefundsDisbursed; got != 30 {
		t.Fatalf("expected settled refund to be booked, got %d", got)
	}
}

func TestReplay_SuccessfulCampaignWithPendingPayout(t *testing.T) {
	l, transfer, _ := newTestLedger(t, 50)

	var j journalBuilder
	j.transfer(domain.EntryContribution, "alice", 60, domain.PhaseOpen)
	j.finalized(domain.PhaseSuccessful)

	if err := l.Replay(j.entries); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	if !l.Snapshot().PayoutPending {
		t.Fatal("expected payout to be pending after replay")
	}

	phase, err := l.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if phase != domain.PhaseSuccessful {
		t.Fatalf("expected successful phase, got %s", phase)
	}
	if transfer.sentTo("beneficiary") != 60 {
		t.Fatalf("expected beneficiary paid 60, got %d", transfer.sentTo("beneficiary"))
	}
}

func TestReplay_PayoutIntentWithoutOutcomeIsParked(t *testing.T) {
	l, transfer, _ := newTestLedger(t, 50)

	var j journalBuilder
	j.transfer(domain.EntryContribution, "alice", 60, domain.PhaseOpen)
	j.finalized(domain.PhaseSuccessful)
	j.intent(domain.EntryPayout, "beneficiary", 60, domain.PhaseSuccessful)

	if err := l.Replay(j.entries); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	res, err := l.Resolve(context.Background())
	if err != nil || !res.PayoutUnsettled {
		t.Fatalf("expected parked payout, got %+v err=%v", res, err)
	}
	if transfer.attemptCount() != 0 {
		t.Fatalf("expected no payout attempt, got %d", transfer.attemptCount())
	}
}

func TestReplay_PaidOutCampaignDoesNotPayAgain(t *testing.T) {
	l, transfer, _ := newTestLedger(t, 50)

	var j journalBuilder
	j.transfer(domain.EntryContribution, "alice", 60, domain.PhaseOpen)
	j.finalized(domain.PhaseSuccessful)
	j.transfer(domain.EntryPayout, "beneficiary", 60, domain.PhaseSuccessful)

	if err := l.Replay(j.entries); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}

	if _, err := l.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if transfer.attemptCount() != 0 {
		t.Fatalf("expected no payout after replayed payout, got %d attempts", transfer.attemptCount())
	}
	if got := l.Snapshot().PayoutDisbursed; got != 60 {
		t.Fatalf("expected payout disbursed 60, got %d", got)
	}
}

func TestReplay_RejectsInconsistentJournal(t *testing.T) {
	tests := []struct {
		name  string
		build func(j *journalBuilder)
	}{
		{
			name: "contribution after finalization",
			build: func(j *journalBuilder) {
				j.finalized(domain.PhaseFailed)
				j.transfer(domain.EntryContribution, "alice", 10, domain.PhaseOpen)
			},
		},
		{
			name: "non-positive contribution",
			build: func(j *journalBuilder) {
				j.intent(domain.EntryContribution, "alice", 0, domain.PhaseOpen)
			},
		},
		{
			name: "booking without an intent",
			build: func(j *journalBuilder) {
				j.add(domain.EntryContribution, "alice", 10, domain.PhaseOpen, uuid.New())
			},
		},
		{
			name: "intent without a reference",
			build: func(j *journalBuilder) {
				j.add(domain.EntryContributionPending, "alice", 10, domain.PhaseOpen, uuid.Nil)
			},
		},
		{
			name: "booking amount differs from intent",
			build: func(j *journalBuilder) {
				ref := j.intent(domain.EntryContribution, "alice", 10, domain.PhaseOpen)
				j.add(domain.EntryContribution, "alice", 11, domain.PhaseOpen, ref)
			},
		},
		{
			name: "finalized while a contribution is pending",
			build: func(j *journalBuilder) {
				j.intent(domain.EntryContribution, "alice", 10, domain.PhaseOpen)
				j.finalized(domain.PhaseFailed)
			},
		},
		{
			name: "finalized with open phase",
			build: func(j *journalBuilder) {
				j.finalized(domain.PhaseOpen)
			},
		},
		{
			name: "finalized twice",
			build: func(j *journalBuilder) {
				j.finalized(domain.PhaseFailed)
				j.finalized(domain.PhaseFailed)
			},
		},
		{
			name: "payout larger than escrow",
			build: func(j *journalBuilder) {
				j.transfer(domain.EntryContribution, "alice", 60, domain.PhaseOpen)
				j.finalized(domain.PhaseSuccessful)
				j.transfer(domain.EntryPayout, "beneficiary", 61, domain.PhaseSuccessful)
			},
		},
		{
			name: "two payouts pending",
			build: func(j *journalBuilder) {
				j.transfer(domain.EntryContribution, "alice", 60, domain.PhaseOpen)
				j.finalized(domain.PhaseSuccessful)
				j.intent(domain.EntryPayout, "beneficiary", 30, domain.PhaseSuccessful)
				j.intent(domain.EntryPayout, "beneficiary", 30, domain.PhaseSuccessful)
			},
		},
		{
			name: "refund not matching pledge",
			build: func(j *journalBuilder) {
				j.transfer(domain.EntryContribution, "alice", 10, domain.PhaseOpen)
				j.finalized(domain.PhaseFailed)
				j.transfer(domain.EntryRefund, "alice", 5, domain.PhaseFailed)
			},
		},
		{
			name: "unknown kind",
			build: func(j *journalBuilder) {
				j.add("bonus", "alice", 10, domain.PhaseOpen, uuid.New())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var j journalBuilder
			tt.build(&j)
			l, _, _ := newTestLedger(t, 50)
			if err := l.Replay(j.entries); err == nil {
				t.Fatal("expected replay error")
			}
		})
	}
}

func TestReplay_RejectsLedgerWithState(t *testing.T) {
	l, _, _ := newTestLedger(t, 50)
	mustContribute(t, l, "alice", 10)

	var j journalBuilder
	j.transfer(domain.EntryContribution, "bob", 5, domain.PhaseOpen)
	if err := l.Replay(j.entries); err == nil {
		t.Fatal("expected replay into a used ledger to fail")
	}
}

func TestEntryObserver_JournalReplaysToSameState(t *testing.T) {
	var journal []domain.LedgerEntry
	transfer := &transfererStub{sendErrFor: map[string]error{
		"bob":   errors.New("bank offline"),
		"carol": errGatewayTimeout,
	}}
	clock := &fakeClock{now: deadlineT.Add(-time.Hour)}
	cfg := domain.CampaignConfig{GoalAmount: 100, Deadline: deadlineT, Beneficiary: "beneficiary", EscrowAccount: "escrow"}

	l, err := New(cfg, transfer, WithClock(clock.Now), WithEntryObserver(func(e domain.LedgerEntry) {
		journal = append(journal, e)
	}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	mustContribute(t, l, "alice", 30)
	mustContribute(t, l, "bob", 20)
	mustContribute(t, l, "carol", 10)
	clock.Set(deadlineT)
	if _, err := l.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if _, err := l.Refund(context.Background(), "alice"); err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if _, err := l.Refund(context.Background(), "bob"); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected bob refund to fail, got %v", err)
	}
	if _, err := l.Refund(context.Background(), "carol"); !errors.Is(err, domain.ErrTransferOutcomeUnknown) {
		t.Fatalf("expected carol refund to be unsettled, got %v", err)
	}

	wantKinds := []string{
		domain.EntryContributionPending, domain.EntryContribution,
		domain.EntryContributionPending, domain.EntryContribution,
		domain.EntryContributionPending, domain.EntryContribution,
		domain.EntryFinalized,
		domain.EntryRefundPending, domain.EntryRefund,
		domain.EntryRefundPending, domain.EntryRefundReverted,
		domain.EntryRefundPending,
	}
	if len(journal) != len(wantKinds) {
		t.Fatalf("expected %d journal entries, got %d: %+v", len(wantKinds), len(journal), journal)
	}
	for i, kind := range wantKinds {
		if journal[i].Kind != kind {
			t.Fatalf("entry %d: expected kind %s, got %s", i, kind, journal[i].Kind)
		}
	}
	if journal[0].Reference == uuid.Nil || journal[0].Reference != journal[1].Reference {
		t.Fatalf("expected intent and booking to share a reference: %+v %+v", journal[0], journal[1])
	}
	if journal[6].Amount != 60 || journal[6].Phase != domain.PhaseFailed {
		t.Fatalf("unexpected finalized entry: %+v", journal[6])
	}

	restored, err := New(cfg, &transfererStub{}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := restored.Replay(journal); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	got, want := restored.Snapshot(), l.Snapshot()
	if got != want {
		t.Fatalf("expected replayed snapshot %+v, got %+v", want, got)
	}
	if restored.PledgeOf("bob") != 20 || restored.PledgeOf("carol") != 0 {
		t.Fatalf("expected bob restored and carol reserved, got bob=%d carol=%d", restored.PledgeOf("bob"), restored.PledgeOf("carol"))
	}
}
