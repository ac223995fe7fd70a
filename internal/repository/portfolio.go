package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tallyhq/survey-server-go/internal/model"
)

type PortfolioRepository interface {
	// Upsert widens an existing grant or creates one. The validity window
	// only grows: a NULL ends_at (open-ended) wins over any date, and dates
	// combine with GREATEST. The unique key treats NULL campaigns as equal.
	Upsert(ctx context.Context, params model.UpsertPortfolioParams) (*model.Portfolio, error)
	Find(ctx context.Context, accountID, granteeID string, campaignID *int64) (*model.Portfolio, error)
	// FindCovering returns portfolio rows that could cover samples of the
	// account for the grantee: exact campaign matches plus campaign-less
	// grants, widest window first.
	FindCovering(ctx context.Context, accountID, granteeID string, campaignID *int64) ([]model.Portfolio, error)
	FindByGrantee(ctx context.Context, granteeID string, limit, offset int) ([]model.Portfolio, error)
	FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.Portfolio, error)
	Delete(ctx context.Context, id int64) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PortfolioRepository
}

type portfolioRepo struct {
	db sqlxDB
}

func NewPortfolioRepository(db *sqlx.DB) PortfolioRepository {
	return &portfolioRepo{db: db}
}

func (r *portfolioRepo) WithTx(tx *sqlx.Tx) PortfolioRepository {
	return &portfolioRepo{db: tx}
}

func (r *portfolioRepo) Upsert(ctx context.Context, params model.UpsertPortfolioParams) (*model.Portfolio, error) {
	var portfolio model.Portfolio
	err := r.db.GetContext(ctx, &portfolio, `
		INSERT INTO portfolios (account_id, grantee_id, campaign_id, ends_at, extra)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, grantee_id, campaign_id) DO UPDATE SET
			ends_at = CASE
				WHEN portfolios.ends_at IS NULL OR EXCLUDED.ends_at IS NULL THEN NULL
				ELSE GREATEST(portfolios.ends_at, EXCLUDED.ends_at)
			END,
			extra = COALESCE(EXCLUDED.extra, portfolios.extra)
		RETURNING *
	`, params.AccountID, params.GranteeID, params.CampaignID, params.EndsAt, params.Extra)
	if err != nil {
		return nil, err
	}
	return &portfolio, nil
}

func (r *portfolioRepo) Find(ctx context.Context, accountID, granteeID string, campaignID *int64) (*model.Portfolio, error) {
	var portfolio model.Portfolio
	err := r.db.GetContext(ctx, &portfolio, `
		SELECT * FROM portfolios
		WHERE account_id = $1 AND grantee_id = $2
		  AND campaign_id IS NOT DISTINCT FROM $3
	`, accountID, granteeID, campaignID)
	return HandleNotFound(&portfolio, err)
}

func (r *portfolioRepo) FindCovering(ctx context.Context, accountID, granteeID string, campaignID *int64) ([]model.Portfolio, error) {
	var portfolios []model.Portfolio
	err := r.db.SelectContext(ctx, &portfolios, `
		SELECT * FROM portfolios
		WHERE account_id = $1 AND grantee_id = $2
		  AND (campaign_id IS NULL OR campaign_id IS NOT DISTINCT FROM $3)
		ORDER BY ends_at DESC NULLS FIRST
	`, accountID, granteeID, campaignID)
	return portfolios, err
}

func (r *portfolioRepo) FindByGrantee(ctx context.Context, granteeID string, limit, offset int) ([]model.Portfolio, error) {
	var portfolios []model.Portfolio
	err := r.db.SelectContext(ctx, &portfolios, `
		SELECT * FROM portfolios
		WHERE grantee_id = $1
		ORDER BY account_id ASC
		LIMIT $2 OFFSET $3
	`, granteeID, limit, offset)
	return portfolios, err
}

func (r *portfolioRepo) FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.Portfolio, error) {
	var portfolios []model.Portfolio
	err := r.db.SelectContext(ctx, &portfolios, `
		SELECT * FROM portfolios
		WHERE account_id = $1
		ORDER BY grantee_id ASC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	return portfolios, err
}

func (r *portfolioRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM portfolios WHERE id = $1`, id)
	return err
}
