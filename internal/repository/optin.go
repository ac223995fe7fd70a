package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tallyhq/survey-server-go/internal/model"
)

type OptInRepository interface {
	Create(ctx context.Context, params model.CreateOptInParams) (*model.PortfolioDoubleOptIn, error)
	FindByID(ctx context.Context, id int64) (*model.PortfolioDoubleOptIn, error)
	// FindByVerificationKey only matches pending opt-ins: the key is cleared
	// on every transition out of the initiated state.
	FindByVerificationKey(ctx context.Context, key string) (*model.PortfolioDoubleOptIn, error)
	FindPendingForDecider(ctx context.Context, deciderID string, limit, offset int) ([]model.PortfolioDoubleOptIn, error)
	// FindByInitiator lists opt-ins the account started. An empty state
	// matches every state.
	FindByInitiator(ctx context.Context, initiatorID string, state model.OptInState, limit, offset int) ([]model.PortfolioDoubleOptIn, error)
	// Transition moves a pending opt-in to a terminal state and clears its
	// verification key. Returns the number of rows affected: zero means the
	// opt-in was not pending anymore.
	Transition(ctx context.Context, id int64, to model.OptInState) (int64, error)
	// DeletePending removes an opt-in that is still awaiting a decision.
	// Returns rows deleted: zero means it had already been decided.
	DeletePending(ctx context.Context, id int64) (int64, error)
	// ExpireOlderThan sweeps pending opt-ins created more than the retention
	// window ago into the expired state and returns the swept rows.
	ExpireOlderThan(ctx context.Context, retentionDays int) ([]model.PortfolioDoubleOptIn, error)
	CountPendingInitiatedSince(ctx context.Context, initiatorID string, sinceHours int) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) OptInRepository
}

type optInRepo struct {
	db sqlxDB
}

func NewOptInRepository(db *sqlx.DB) OptInRepository {
	return &optInRepo{db: db}
}

func (r *optInRepo) WithTx(tx *sqlx.Tx) OptInRepository {
	return &optInRepo{db: tx}
}

func (r *optInRepo) Create(ctx context.Context, params model.CreateOptInParams) (*model.PortfolioDoubleOptIn, error) {
	var optin model.PortfolioDoubleOptIn
	err := r.db.GetContext(ctx, &optin, `
		INSERT INTO portfolio_double_optins
			(kind, state, initiated_by_id, account_id, grantee_id, campaign_id,
			 verification_key, message, ends_at)
		VALUES ($1, 'initiated', $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, params.Kind, params.InitiatedByID, params.AccountID, params.GranteeID,
		params.CampaignID, params.VerificationKey, params.Message, params.EndsAt)
	if err != nil {
		return nil, err
	}
	return &optin, nil
}

func (r *optInRepo) FindByID(ctx context.Context, id int64) (*model.PortfolioDoubleOptIn, error) {
	var optin model.PortfolioDoubleOptIn
	err := r.db.GetContext(ctx, &optin, `
		SELECT * FROM portfolio_double_optins WHERE id = $1
	`, id)
	return HandleNotFound(&optin, err)
}

func (r *optInRepo) FindByVerificationKey(ctx context.Context, key string) (*model.PortfolioDoubleOptIn, error) {
	var optin model.PortfolioDoubleOptIn
	err := r.db.GetContext(ctx, &optin, `
		SELECT * FROM portfolio_double_optins
		WHERE verification_key = $1 AND state = 'initiated'
	`, key)
	return HandleNotFound(&optin, err)
}

func (r *optInRepo) FindPendingForDecider(ctx context.Context, deciderID string, limit, offset int) ([]model.PortfolioDoubleOptIn, error) {
	var optins []model.PortfolioDoubleOptIn
	err := r.db.SelectContext(ctx, &optins, `
		SELECT * FROM portfolio_double_optins
		WHERE state = 'initiated'
		  AND ((kind = 'grant' AND grantee_id = $1) OR (kind = 'request' AND account_id = $1))
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, deciderID, limit, offset)
	return optins, err
}

func (r *optInRepo) FindByInitiator(ctx context.Context, initiatorID string, state model.OptInState, limit, offset int) ([]model.PortfolioDoubleOptIn, error) {
	var optins []model.PortfolioDoubleOptIn
	err := r.db.SelectContext(ctx, &optins, `
		SELECT * FROM portfolio_double_optins
		WHERE initiated_by_id = $1
		  AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, initiatorID, string(state), limit, offset)
	return optins, err
}

func (r *optInRepo) DeletePending(ctx context.Context, id int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM portfolio_double_optins
		WHERE id = $1 AND state = 'initiated'
	`, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *optInRepo) Transition(ctx context.Context, id int64, to model.OptInState) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE portfolio_double_optins SET
			state = $2,
			verification_key = NULL
		WHERE id = $1 AND state = 'initiated'
	`, id, to)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *optInRepo) ExpireOlderThan(ctx context.Context, retentionDays int) ([]model.PortfolioDoubleOptIn, error) {
	var expired []model.PortfolioDoubleOptIn
	err := r.db.SelectContext(ctx, &expired, `
		UPDATE portfolio_double_optins SET
			state = 'expired',
			verification_key = NULL
		WHERE state = 'initiated'
		  AND created_at < NOW() - ($1 * INTERVAL '1 day')
		RETURNING *
	`, retentionDays)
	return expired, err
}

func (r *optInRepo) CountPendingInitiatedSince(ctx context.Context, initiatorID string, sinceHours int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM portfolio_double_optins
		WHERE initiated_by_id = $1
		  AND created_at > NOW() - ($2 * INTERVAL '1 hour')
	`, initiatorID, sinceHours)
	return count, err
}
