/**
 * @description
 * This file provides the PostgreSQL implementation of the journal `Repository`.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/google/uuid: Entry and campaign identifiers.
 * - internal/domain: Ledger entry model.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/crowdfund-service/internal/domain"
)

var ErrInvalidEntry = errors.New("invalid ledger entry")

// campaignNamespace scopes deterministic campaign ids.
var campaignNamespace = uuid.MustParse("6f0c4a1e-5d0b-4c8e-9a57-2b9f1c3d7e41")

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS campaign_ledger_entries (
		id             UUID PRIMARY KEY,
		seq            BIGSERIAL NOT NULL UNIQUE,
		campaign_id    UUID NOT NULL,
		kind           TEXT NOT NULL,
		reference      UUID,
		contributor_id TEXT NOT NULL DEFAULT '',
		amount         BIGINT NOT NULL DEFAULT 0,
		phase          TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	ALTER TABLE campaign_ledger_entries ADD COLUMN IF NOT EXISTS reference UUID;
	CREATE INDEX IF NOT EXISTS idx_campaign_ledger_entries_campaign_seq
		ON campaign_ledger_entries (campaign_id, seq);
	CREATE INDEX IF NOT EXISTS idx_campaign_ledger_entries_reference
		ON campaign_ledger_entries (reference) WHERE reference IS NOT NULL;
`

// CampaignID derives a stable identifier from the campaign terms, so a restart with
// the same configuration replays the same journal and a new configuration starts clean.
func CampaignID(cfg domain.CampaignConfig) uuid.UUID {
	key := fmt.Sprintf("%d|%s|%s|%s",
		cfg.GoalAmount,
		cfg.Deadline.UTC().Format(time.RFC3339Nano),
		strings.TrimSpace(cfg.Beneficiary),
		strings.TrimSpace(cfg.EscrowAccount),
	)
	return uuid.NewSHA1(campaignNamespace, []byte(key))
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendEntry(ctx context.Context, campaignID uuid.UUID, entry *domain.LedgerEntry) error {
	if err := prepareEntry(entry, time.Now().UTC()); err != nil {
		return err
	}

	query := `
		INSERT INTO campaign_ledger_entries (id, campaign_id, kind, reference, contributor_id, amount, phase, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING seq
	`
	err := r.db.QueryRow(ctx, query,
		entry.ID, campaignID, entry.Kind, nullableReference(entry.Reference), entry.ContributorID, entry.Amount, string(entry.Phase), entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return fmt.Errorf("append %s entry: %w", entry.Kind, err)
	}
	return nil
}

func (r *PostgresRepository) ListEntries(ctx context.Context, campaignID uuid.UUID) ([]domain.LedgerEntry, error) {
	query := `
		SELECT id, seq, kind, reference, contributor_id, amount, phase, created_at
		FROM campaign_ledger_entries
		WHERE campaign_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			entry     domain.LedgerEntry
			reference *uuid.UUID
			rawPhase  string
		)
		if err := rows.Scan(&entry.ID, &entry.Seq, &entry.Kind, &reference, &entry.ContributorID, &entry.Amount, &rawPhase, &entry.CreatedAt); err != nil {
			return nil, err
		}
		phase, err := domain.ParsePhase(rawPhase)
		if err != nil {
			return nil, fmt.Errorf("entry seq=%d: %w", entry.Seq, err)
		}
		entry.Phase = phase
		if reference != nil {
			entry.Reference = *reference
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// prepareEntry validates entry and assigns the identifiers the caller left empty.
func prepareEntry(entry *domain.LedgerEntry, now time.Time) error {
	if entry == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	entry.ContributorID = strings.TrimSpace(entry.ContributorID)

	switch transferKind(entry.Kind) {
	case domain.EntryContribution, domain.EntryRefund:
		if entry.ContributorID == "" {
			return fmt.Errorf("%w: %s entry requires a contributor", ErrInvalidEntry, entry.Kind)
		}
	case domain.EntryPayout:
	case domain.EntryFinalized:
		if !entry.Phase.IsTerminal() {
			return fmt.Errorf("%w: finalized entry requires a terminal phase", ErrInvalidEntry)
		}
		if entry.Reference != uuid.Nil {
			return fmt.Errorf("%w: finalized entry carries a transfer reference", ErrInvalidEntry)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, entry.Kind)
	}
	if entry.Kind != domain.EntryFinalized {
		if entry.Amount <= 0 {
			return fmt.Errorf("%w: %s amount must be positive", ErrInvalidEntry, entry.Kind)
		}
		if entry.Reference == uuid.Nil {
			return fmt.Errorf("%w: %s entry requires a transfer reference", ErrInvalidEntry, entry.Kind)
		}
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	return nil
}

// transferKind maps pending and reverted kinds onto the transfer they belong to.
func transferKind(kind string) string {
	switch kind {
	case domain.EntryContributionPending, domain.EntryContributionReverted:
		return domain.EntryContribution
	case domain.EntryPayoutPending, domain.EntryPayoutReverted:
		return domain.EntryPayout
	case domain.EntryRefundPending, domain.EntryRefundReverted:
		return domain.EntryRefund
	}
	return kind
}

func nullableReference(ref uuid.UUID) *uuid.UUID {
	if ref == uuid.Nil {
		return nil
	}
	return &ref
}
