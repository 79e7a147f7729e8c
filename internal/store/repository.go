/**
 * @description
 * This file defines the `Repository` interface for the campaign journal. The journal
 * is an append-only list of ledger entries for the current campaign, replayed on
 * startup to rebuild the in-memory ledger.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: Campaign identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/transfa/crowdfund-service/internal/domain"
)

// Repository defines the set of methods for interacting with the journal.
type Repository interface {
	EnsureSchema(ctx context.Context) error
	// AppendEntry stores entry and fills in its ID, Seq and CreatedAt.
	AppendEntry(ctx context.Context, campaignID uuid.UUID, entry *domain.LedgerEntry) error
	// ListEntries returns every entry of the campaign in sequence order.
	ListEntries(ctx context.Context, campaignID uuid.UUID) ([]domain.LedgerEntry, error)
}
