package anchorclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/transfa/crowdfund-service/internal/domain"
)

const (
	campaignTransferTokenPrefix = "cf_tx:"
	transferStatusFailed        = "failed"
)

// AccountResolver maps a campaign identity to the Anchor deposit account that
// holds its funds.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, identity string) (string, error)
}

// Transferer moves campaign funds between participants and the escrow deposit
// account using book transfers.
type Transferer struct {
	client          *Client
	resolver        AccountResolver
	escrowAccountID string
	directAccounts  map[string]struct{}
}

// NewTransferer builds a Transferer. Identities listed in directAccounts are
// already Anchor account ids and skip resolution.
func NewTransferer(client *Client, resolver AccountResolver, escrowAccountID string, directAccounts ...string) *Transferer {
	direct := make(map[string]struct{}, len(directAccounts))
	for _, id := range directAccounts {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			direct[trimmed] = struct{}{}
		}
	}
	return &Transferer{
		client:          client,
		resolver:        resolver,
		escrowAccountID: strings.TrimSpace(escrowAccountID),
		directAccounts:  direct,
	}
}

// Receive pulls amount from the contributor's account into escrow. reference is
// carried in the transfer reason so the Anchor record can be matched during
// settlement.
func (t *Transferer) Receive(ctx context.Context, reference, from string, amount int64) error {
	source, err := t.accountFor(ctx, from)
	if err != nil {
		return err
	}
	return t.book(ctx, "receive", source, t.escrowAccountID, buildCampaignTransferReason("Campaign contribution", from, reference), amount)
}

// Send pushes amount from escrow to the recipient's account.
func (t *Transferer) Send(ctx context.Context, reference, to string, amount int64) error {
	dest, err := t.accountFor(ctx, to)
	if err != nil {
		return err
	}
	return t.book(ctx, "send", t.escrowAccountID, dest, buildCampaignTransferReason("Campaign disbursement", to, reference), amount)
}

func (t *Transferer) accountFor(ctx context.Context, identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if _, ok := t.directAccounts[identity]; ok {
		return identity, nil
	}
	if t.resolver == nil {
		return "", fmt.Errorf("no account resolver configured for %q", identity)
	}
	accountID, err := t.resolver.ResolveAccount(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("resolve account for %q: %w", identity, err)
	}
	if strings.TrimSpace(accountID) == "" {
		return "", fmt.Errorf("resolve account for %q: empty account id", identity)
	}
	return accountID, nil
}

// book returns an error wrapping domain.ErrTransferOutcomeUnknown unless Anchor
// clearly refused the transfer or never received it.
func (t *Transferer) book(ctx context.Context, op, source, dest, reason string, amount int64) error {
	resp, err := t.client.InitiateBookTransfer(ctx, source, dest, reason, amount)
	if err != nil {
		if isRejection(err) {
			log.Printf("level=warn component=anchor_transferer op=%s outcome=rejected source=%s destination=%s amount=%d reason=%q err=%v", op, source, dest, amount, reason, err)
			return err
		}
		log.Printf("level=error component=anchor_transferer op=%s outcome=ambiguous source=%s destination=%s amount=%d reason=%q err=%v", op, source, dest, amount, reason, err)
		return fmt.Errorf("%w: %w", domain.ErrTransferOutcomeUnknown, err)
	}
	if strings.EqualFold(strings.TrimSpace(resp.Data.Attributes.Status), transferStatusFailed) {
		log.Printf("level=warn component=anchor_transferer op=%s outcome=rejected anchor_transfer_id=%s amount=%d", op, resp.Data.ID, amount)
		return fmt.Errorf("anchor transfer %s reported status failed", resp.Data.ID)
	}
	log.Printf("level=info component=anchor_transferer op=%s outcome=ok anchor_transfer_id=%s amount=%d", op, resp.Data.ID, amount)
	return nil
}

func isRejection(err error) bool {
	if errors.Is(err, ErrRequestNotSent) {
		return true
	}
	var anchorErr *ErrorResponse
	return errors.As(err, &anchorErr) && anchorErr.IsExplicitRejection()
}

func buildCampaignTransferReason(base, party, reference string) string {
	party = strings.TrimSpace(party)
	if party != "" {
		base = fmt.Sprintf("%s for %s", base, party)
	}
	return fmt.Sprintf("%s [%s%s]", base, campaignTransferTokenPrefix, strings.TrimSpace(reference))
}
