package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clubledger/billing-service/internal/domain"
)

// publicLinkSlugRetries bounds how many random suffixes we try before giving
// up on a colliding slug.
const publicLinkSlugRetries = 3

// CreatePublicPaymentLink inserts a sharable link for a charge. The slug on
// the passed struct is used as-is first; on a unique violation a random
// suffix is appended and the insert retried.
func (r *PostgresRepository) CreatePublicPaymentLink(ctx context.Context, link *domain.PublicPaymentLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	link.Active = true

	baseSlug := link.Slug
	query := `
		INSERT INTO public_payment_links (id, charge_id, slug, active, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING access_count, created_at
	`
	var err error
	for attempt := 0; attempt <= publicLinkSlugRetries; attempt++ {
		if attempt > 0 {
			link.Slug = baseSlug + "-" + domain.RandomSlugSuffix()
		}
		err = r.db.QueryRow(ctx, query,
			link.ID, link.ChargeID, link.Slug, link.Active, link.ExpiresAt,
		).Scan(&link.AccessCount, &link.CreatedAt)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

// FindPublicPaymentLinkBySlug retrieves a link by its slug, active or not.
// Expiration and active checks belong to the caller.
func (r *PostgresRepository) FindPublicPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PublicPaymentLink, error) {
	query := `
		SELECT id, charge_id, slug, active, expires_at, access_count, created_at
		FROM public_payment_links WHERE slug = $1
	`
	var link domain.PublicPaymentLink
	err := r.db.QueryRow(ctx, query, slug).Scan(
		&link.ID, &link.ChargeID, &link.Slug, &link.Active,
		&link.ExpiresAt, &link.AccessCount, &link.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPublicLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

// IncrementPublicLinkAccess bumps the access counter atomically and returns
// the new count.
func (r *PostgresRepository) IncrementPublicLinkAccess(ctx context.Context, slug string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `
		UPDATE public_payment_links
		SET access_count = access_count + 1
		WHERE slug = $1
		RETURNING access_count
	`, slug).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPublicLinkNotFound
		}
		return 0, err
	}
	return count, nil
}

// DeactivatePublicPaymentLink revokes a link. Idempotent; deactivating an
// already-inactive link succeeds.
func (r *PostgresRepository) DeactivatePublicPaymentLink(ctx context.Context, slug string) error {
	result, err := r.db.Exec(ctx,
		`UPDATE public_payment_links SET active = FALSE WHERE slug = $1`, slug,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPublicLinkNotFound
	}
	return nil
}
