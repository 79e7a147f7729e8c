/**
 * @description
 * This file contains the core business logic for the crowdfund-service. The `Service`
 * struct wraps the CampaignLedger and coordinates the journal repository, the event
 * publisher, rate limiting and metrics around every ledger operation.
 *
 * Key features:
 * - Contribute, Finalize and Refund delegate to the ledger, which owns all money rules.
 * - Every transfer intent is stored in the journal before money moves; bookings are
 *   journaled in commit order and the whole journal is replayed on startup.
 * - Transfers with an unknown outcome are parked until an operator settles them.
 * - Lifecycle events are published to RabbitMQ after money moves.
 * - Journal and publish failures after a completed ledger operation are logged only.
 *
 * @dependencies
 * - github.com/google/uuid: Event and campaign identifiers.
 * - internal/domain, internal/ledger, internal/store, internal/metrics.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/crowdfund-service/internal/domain"
	"github.com/transfa/crowdfund-service/internal/ledger"
	"github.com/transfa/crowdfund-service/internal/metrics"
	"github.com/transfa/crowdfund-service/internal/store"
	"github.com/transfa/crowdfund-service/pkg/rabbitmq"
)

const (
	DefaultEventsExchange = "crowdfund.events"

	rateLimitScopeContribute = "contribute"
	rateLimitScopeRefund     = "refund"
)

// RateLimiter counts requests per subject in a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitError is returned when a contributor exceeds a per-minute limit.
type RateLimitError struct {
	Scope             string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s retry after %ds", domain.ErrRateLimited, e.Scope, e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

// Service provides the application logic around the campaign ledger.
type Service struct {
	ledger        *ledger.Ledger
	repo          store.Repository
	campaignID    uuid.UUID
	eventProducer rabbitmq.Publisher
	exchange      string
	metrics       metrics.Recorder

	rateLimiter              RateLimiter
	contributeLimitPerMinute int
	refundLimitPerMinute     int

	pendingMu sync.Mutex
	pending   []domain.LedgerEntry
	flushMu   sync.Mutex
}

// NewService builds the ledger for cfg and the service around it.
func NewService(
	cfg domain.CampaignConfig,
	transfer ledger.Transferer,
	repo store.Repository,
	producer rabbitmq.Publisher,
	exchange string,
	opts ...ledger.Option,
) (*Service, error) {
	if repo == nil {
		return nil, errors.New("journal repository is required")
	}
	if exchange == "" {
		exchange = DefaultEventsExchange
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}

	s := &Service{
		repo:          repo,
		campaignID:    store.CampaignID(cfg),
		eventProducer: producer,
		exchange:      exchange,
		metrics:       metrics.Noop{},
	}

	ledgerOpts := append([]ledger.Option{}, opts...)
	ledgerOpts = append(ledgerOpts, ledger.WithEntryObserver(s.enqueueEntry), ledger.WithJournalSync(s.flushJournal))
	l, err := ledger.New(cfg, transfer, ledgerOpts...)
	if err != nil {
		return nil, err
	}
	s.ledger = l
	return s, nil
}

// SetMetrics replaces the no-op recorder.
func (s *Service) SetMetrics(recorder metrics.Recorder) {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	s.metrics = recorder
	s.syncGauges()
}

// ConfigureRateLimits sets per-contributor limits per minute. Zero disables a limit.
func (s *Service) ConfigureRateLimits(contributePerMinute, refundPerMinute int) {
	if contributePerMinute < 0 {
		contributePerMinute = 0
	}
	if refundPerMinute < 0 {
		refundPerMinute = 0
	}
	s.contributeLimitPerMinute = contributePerMinute
	s.refundLimitPerMinute = refundPerMinute
}

func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

func (s *Service) CampaignID() uuid.UUID { return s.campaignID }

func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Restore prepares the journal and replays it into the ledger. It must run before
// the service handles any request.
func (s *Service) Restore(ctx context.Context) error {
	if err := s.repo.EnsureSchema(ctx); err != nil {
		return err
	}
	entries, err := s.repo.ListEntries(ctx, s.campaignID)
	if err != nil {
		return err
	}
	if err := s.ledger.Replay(entries); err != nil {
		return fmt.Errorf("restore campaign %s: %w", s.campaignID, err)
	}

	status := s.ledger.Snapshot()
	log.Printf("level=info component=service msg=\"campaign restored\" campaign_id=%s entries=%d phase=%s total_pledged=%d escrow=%d",
		s.campaignID, len(entries), status.Phase, status.TotalPledged, status.EscrowBalance)
	for _, t := range s.ledger.PendingTransfers() {
		log.Printf("level=warn component=service msg=\"transfer awaiting settlement\" reference=%s kind=%s party=%s amount=%d",
			t.Reference, t.Kind, t.Party, t.Amount)
	}
	s.syncGauges()
	return nil
}

// Contribute pulls amount from the contributor into escrow.
func (s *Service) Contribute(ctx context.Context, contributorID string, amount int64) (*domain.ContributeResponse, error) {
	contributorID = strings.TrimSpace(contributorID)
	if err := s.enforceRateLimit(ctx, rateLimitScopeContribute, contributorID, s.contributeLimitPerMinute); err != nil {
		return nil, err
	}

	pledge, err := s.ledger.Contribute(ctx, contributorID, amount)
	if err != nil {
		var unsettled *ledger.UnsettledTransferError
		switch {
		case errors.As(err, &unsettled):
			s.metrics.ObserveContribution(metrics.OutcomeUnknown, amount)
			s.reportUnsettled(ctx, unsettled)
		case errors.Is(err, domain.ErrTransferFailed):
			s.metrics.ObserveContribution(metrics.OutcomeFailed, amount)
			log.Printf("level=warn component=service msg=\"contribution transfer rejected\" contributor_id=%s amount=%d err=%v", contributorID, amount, err)
		case errors.Is(err, domain.ErrJournalUnavailable):
			s.metrics.ObserveContribution(metrics.OutcomeFailed, amount)
			log.Printf("level=error component=service msg=\"contribution refused; journal unavailable\" contributor_id=%s amount=%d err=%v", contributorID, amount, err)
		default:
			s.metrics.ObserveContribution(metrics.OutcomeRejected, amount)
		}
		return nil, err
	}

	s.flushJournal(ctx)
	s.metrics.ObserveContribution(metrics.OutcomeSuccess, amount)
	s.syncGauges()

	total := s.ledger.TotalPledged()
	log.Printf("level=info component=service msg=\"contribution received\" contributor_id=%s amount=%d pledge=%d total_pledged=%d",
		contributorID, amount, pledge, total)
	s.publish(ctx, domain.CampaignEvent{
		EventType:     domain.EventContributionReceived,
		ContributorID: contributorID,
		Amount:        amount,
		TotalPledged:  total,
		Phase:         domain.PhaseOpen,
	})

	return &domain.ContributeResponse{ContributorID: contributorID, Amount: amount, TotalPledge: pledge}, nil
}

// Finalize resolves the campaign and, when successful, pays the beneficiary. The
// response always carries the current phase, also alongside an error.
func (s *Service) Finalize(ctx context.Context) (*domain.FinalizeResponse, error) {
	res, err := s.ledger.Resolve(ctx)
	s.flushJournal(ctx)
	s.syncGauges()

	resp := &domain.FinalizeResponse{Phase: res.Phase, Message: finalizeMessage(res, err)}
	if errors.Is(err, domain.ErrDeadlineNotReached) || errors.Is(err, domain.ErrTransfersUnsettled) {
		return resp, err
	}

	status := s.ledger.Snapshot()
	if res.Transitioned {
		log.Printf("level=info component=service msg=\"campaign finalized\" phase=%s finalized_total=%d goal=%d",
			res.Phase, status.FinalizedTotal, status.GoalAmount)
		s.publish(ctx, domain.CampaignEvent{
			EventType:    domain.EventFinalized,
			Beneficiary:  status.Beneficiary,
			Amount:       status.FinalizedTotal,
			TotalPledged: status.FinalizedTotal,
			Phase:        res.Phase,
		})
	}

	if res.PaidOut > 0 {
		s.metrics.ObservePayout(metrics.OutcomeSuccess, res.PaidOut)
		log.Printf("level=info component=service msg=\"beneficiary paid\" beneficiary=%s amount=%d", status.Beneficiary, res.PaidOut)
		s.publish(ctx, domain.CampaignEvent{
			EventType:    domain.EventPayoutDisbursed,
			Beneficiary:  status.Beneficiary,
			Amount:       res.PaidOut,
			TotalPledged: status.TotalPledged,
			Phase:        res.Phase,
		})
	}

	var unsettled *ledger.UnsettledTransferError
	switch {
	case err == nil:
		return resp, nil
	case errors.As(err, &unsettled):
		s.metrics.ObservePayout(metrics.OutcomeUnknown, unsettled.Transfer.Amount)
		s.reportUnsettled(ctx, unsettled)
	case errors.Is(err, domain.ErrJournalUnavailable):
		log.Printf("level=error component=service msg=\"beneficiary payout deferred; journal unavailable\" beneficiary=%s err=%v", status.Beneficiary, err)
	case errors.Is(err, domain.ErrTransferFailed):
		s.metrics.ObservePayout(metrics.OutcomeFailed, status.EscrowBalance)
		log.Printf("level=error component=service msg=\"beneficiary payout failed; will retry\" beneficiary=%s amount=%d err=%v",
			status.Beneficiary, status.EscrowBalance, err)
		s.publish(ctx, domain.CampaignEvent{
			EventType:    domain.EventPayoutFailed,
			Beneficiary:  status.Beneficiary,
			Amount:       status.EscrowBalance,
			TotalPledged: status.TotalPledged,
			Phase:        res.Phase,
			Reason:       err.Error(),
		})
	}
	return resp, err
}

// Refund returns the contributor's entire pledge after a failed campaign.
func (s *Service) Refund(ctx context.Context, contributorID string) (*domain.RefundResponse, error) {
	contributorID = strings.TrimSpace(contributorID)
	if err := s.enforceRateLimit(ctx, rateLimitScopeRefund, contributorID, s.refundLimitPerMinute); err != nil {
		return nil, err
	}
	return s.refund(ctx, contributorID)
}

func (s *Service) refund(ctx context.Context, contributorID string) (*domain.RefundResponse, error) {
	refunded, err := s.ledger.Refund(ctx, contributorID)
	if err != nil {
		var unsettled *ledger.UnsettledTransferError
		switch {
		case errors.As(err, &unsettled):
			s.metrics.ObserveRefund(metrics.OutcomeUnknown, refunded)
			s.reportUnsettled(ctx, unsettled)
		case errors.Is(err, domain.ErrTransferFailed):
			s.metrics.ObserveRefund(metrics.OutcomeFailed, refunded)
			log.Printf("level=error component=service msg=\"refund transfer failed\" contributor_id=%s amount=%d err=%v", contributorID, refunded, err)
			s.publish(ctx, domain.CampaignEvent{
				EventType:     domain.EventRefundFailed,
				ContributorID: contributorID,
				Amount:        refunded,
				TotalPledged:  s.ledger.TotalPledged(),
				Phase:         domain.PhaseFailed,
				Reason:        err.Error(),
			})
		case errors.Is(err, domain.ErrJournalUnavailable):
			s.metrics.ObserveRefund(metrics.OutcomeFailed, refunded)
			log.Printf("level=error component=service msg=\"refund deferred; journal unavailable\" contributor_id=%s amount=%d err=%v", contributorID, refunded, err)
		default:
			s.metrics.ObserveRefund(metrics.OutcomeRejected, 0)
		}
		return nil, err
	}

	s.flushJournal(ctx)
	s.metrics.ObserveRefund(metrics.OutcomeSuccess, refunded)
	s.syncGauges()

	log.Printf("level=info component=service msg=\"refund issued\" contributor_id=%s amount=%d", contributorID, refunded)
	s.publish(ctx, domain.CampaignEvent{
		EventType:     domain.EventRefundIssued,
		ContributorID: contributorID,
		Amount:        refunded,
		TotalPledged:  s.ledger.TotalPledged(),
		Phase:         domain.PhaseFailed,
	})
	return &domain.RefundResponse{ContributorID: contributorID, Refunded: refunded}, nil
}

// SweepRefunds refunds every contributor still holding a pledge in a failed campaign.
// Individual failures are counted and left for a later sweep or self-service refund.
func (s *Service) SweepRefunds(ctx context.Context) (*domain.RefundSweepResult, error) {
	if s.ledger.Phase() != domain.PhaseFailed {
		return nil, domain.ErrCampaignNotFailed
	}

	result := &domain.RefundSweepResult{}
	for _, contributorID := range s.ledger.Contributors() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++
		resp, err := s.refund(ctx, contributorID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNothingToRefund):
			// Lost a race with a self-service refund.
			result.Attempted--
			continue
		case errors.Is(err, domain.ErrTransferOutcomeUnknown):
			result.Unsettled++
			continue
		case errors.Is(err, domain.ErrJournalUnavailable):
			return result, err
		default:
			result.Failed++
			continue
		}
		result.Refunded++
		result.Amount += resp.Refunded
	}

	log.Printf("level=info component=service msg=\"refund sweep complete\" attempted=%d refunded=%d failed=%d unsettled=%d amount=%d",
		result.Attempted, result.Refunded, result.Failed, result.Unsettled, result.Amount)
	return result, nil
}

// SettleTransfer books an unsettled transfer once an operator has confirmed with the
// bank whether its money moved. Undelivered contributions and refunds become
// retryable; an undelivered payout is attempted again on the next finalize.
func (s *Service) SettleTransfer(ctx context.Context, reference uuid.UUID, delivered bool) (*domain.PendingTransfer, error) {
	settled, err := s.ledger.Settle(reference, delivered)
	if err != nil {
		return nil, err
	}
	s.flushJournal(ctx)
	s.syncGauges()

	status := s.ledger.Snapshot()
	log.Printf("level=info component=service msg=\"transfer settled\" reference=%s kind=%s party=%s amount=%d delivered=%t",
		settled.Reference, settled.Kind, settled.Party, settled.Amount, delivered)
	event := domain.CampaignEvent{
		EventType:    domain.EventTransferSettled,
		Amount:       settled.Amount,
		TotalPledged: status.TotalPledged,
		Phase:        status.Phase,
		Reference:    settled.Reference.String(),
		Reason:       settlementReason(delivered),
	}
	setEventParty(&event, settled)
	s.publish(ctx, event)

	if !delivered {
		return &settled, nil
	}
	followUp := event
	switch settled.Kind {
	case domain.EntryContribution:
		s.metrics.ObserveContribution(metrics.OutcomeSuccess, settled.Amount)
		followUp.EventType = domain.EventContributionReceived
	case domain.EntryPayout:
		s.metrics.ObservePayout(metrics.OutcomeSuccess, settled.Amount)
		followUp.EventType = domain.EventPayoutDisbursed
	case domain.EntryRefund:
		s.metrics.ObserveRefund(metrics.OutcomeSuccess, settled.Amount)
		followUp.EventType = domain.EventRefundIssued
	}
	followUp.Reason = ""
	s.publish(ctx, followUp)
	return &settled, nil
}

// PendingTransfers lists transfers that are in flight or awaiting settlement.
func (s *Service) PendingTransfers(ctx context.Context) []domain.PendingTransfer {
	return s.ledger.PendingTransfers()
}

func (s *Service) Status(ctx context.Context) domain.CampaignStatus {
	return s.ledger.Snapshot()
}

func (s *Service) Pledge(ctx context.Context, contributorID string) *domain.PledgeResponse {
	return &domain.PledgeResponse{ContributorID: contributorID, Pledge: s.ledger.PledgeOf(contributorID)}
}

// FlushJournal writes any journal entries left over from an earlier failed write.
func (s *Service) FlushJournal(ctx context.Context) error {
	return s.flushJournal(ctx)
}

// PendingJournalEntries reports how many committed entries are not yet stored.
func (s *Service) PendingJournalEntries() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// enqueueEntry runs under the ledger lock, so it only appends. The id is fixed here
// so a retried append of the same entry is deduplicated by the store.
func (s *Service) enqueueEntry(entry domain.LedgerEntry) {
	entry.ID = uuid.New()
	s.pendingMu.Lock()
	s.pending = append(s.pending, entry)
	s.pendingMu.Unlock()
}

func (s *Service) flushJournal(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	for {
		s.pendingMu.Lock()
		if len(s.pending) == 0 {
			s.pendingMu.Unlock()
			return nil
		}
		entry := s.pending[0]
		s.pendingMu.Unlock()

		if err := s.repo.AppendEntry(ctx, s.campaignID, &entry); err != nil {
			log.Printf("level=error component=service msg=\"journal append failed; entry kept for retry\" kind=%s contributor_id=%s amount=%d err=%v",
				entry.Kind, entry.ContributorID, entry.Amount, err)
			return err
		}

		s.pendingMu.Lock()
		s.pending = s.pending[1:]
		s.pendingMu.Unlock()
	}
}

func (s *Service) enforceRateLimit(ctx context.Context, scope, contributorID string, limit int) error {
	if s.rateLimiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, contributorID, limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=service msg=\"rate limiter unavailable; allowing request\" scope=%s contributor_id=%s err=%v", scope, contributorID, err)
		return nil
	}
	if count > limit {
		return &RateLimitError{Scope: scope, RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event domain.CampaignEvent) {
	event.EventID = uuid.New()
	event.OccurredAt = time.Now().UTC()
	if err := s.eventProducer.Publish(ctx, s.exchange, event.EventType, event); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" event_type=%s event_id=%s err=%v", event.EventType, event.EventID, err)
	}
}

// reportUnsettled alerts operators about a transfer parked with an unknown outcome.
func (s *Service) reportUnsettled(ctx context.Context, unsettled *ledger.UnsettledTransferError) {
	t := unsettled.Transfer
	s.flushJournal(ctx)
	s.syncGauges()
	log.Printf("level=error component=service msg=\"transfer outcome unknown; awaiting settlement\" reference=%s kind=%s party=%s amount=%d err=%v",
		t.Reference, t.Kind, t.Party, t.Amount, unsettled.Err)

	status := s.ledger.Snapshot()
	event := domain.CampaignEvent{
		EventType:    domain.EventTransferUnsettled,
		Amount:       t.Amount,
		TotalPledged: status.TotalPledged,
		Phase:        status.Phase,
		Reference:    t.Reference.String(),
		Reason:       unsettled.Err.Error(),
	}
	setEventParty(&event, t)
	s.publish(ctx, event)
}

func (s *Service) syncGauges() {
	status := s.ledger.Snapshot()
	s.metrics.SetEscrowBalance(status.EscrowBalance)
	s.metrics.SetPhase(string(status.Phase))
	s.metrics.SetUnsettledTransfers(status.Unsettled)
}

func setEventParty(event *domain.CampaignEvent, t domain.PendingTransfer) {
	if t.Kind == domain.EntryPayout {
		event.Beneficiary = t.Party
		return
	}
	event.ContributorID = t.Party
}

func settlementReason(delivered bool) string {
	if delivered {
		return "delivered"
	}
	return "not delivered"
}

func finalizeMessage(res ledger.Resolution, err error) string {
	switch {
	case errors.Is(err, domain.ErrDeadlineNotReached):
		return "campaign is still open until its deadline"
	case errors.Is(err, domain.ErrTransfersUnsettled):
		return "campaign deadline passed; contributions await settlement before it can be finalized"
	case res.PayoutUnsettled:
		return "campaign succeeded; beneficiary payout awaits settlement"
	case errors.Is(err, domain.ErrJournalUnavailable):
		return "campaign succeeded; beneficiary payout deferred until the journal is available"
	case errors.Is(err, domain.ErrTransferFailed):
		return "campaign succeeded; beneficiary payout failed and will be retried"
	case res.Phase == domain.PhaseSuccessful:
		return "campaign succeeded; funds released to the beneficiary"
	case res.Phase == domain.PhaseFailed:
		return "campaign failed; contributors may claim refunds"
	}
	return "campaign is open"
}
