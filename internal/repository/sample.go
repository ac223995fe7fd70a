package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tallyhq/survey-server-go/internal/model"
)

type SampleRepository interface {
	Create(ctx context.Context, params model.CreateSampleParams) (*model.Sample, error)
	FindBySlug(ctx context.Context, slug string) (*model.Sample, error)
	FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.Sample, error)
	// FindLatestFrozen returns the most recent frozen sample for the account
	// and campaign, or nil. A nil campaignID matches campaign-less samples.
	FindLatestFrozen(ctx context.Context, accountID string, campaignID *int64) (*model.Sample, error)
	Freeze(ctx context.Context, id int64, frozenAt time.Time) (*model.Sample, error)
	Touch(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	// FindAccessible returns frozen samples the grantee may see through its
	// portfolios, applying the ends_at window per portfolio row.
	FindAccessible(ctx context.Context, granteeID string, limit, offset int) ([]model.Sample, error)
	// FindFrozen lists all frozen samples, newest first. Only used when the
	// availability bypass is on.
	FindFrozen(ctx context.Context, limit, offset int) ([]model.Sample, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SampleRepository
}

type sampleRepo struct {
	db sqlxDB
}

func NewSampleRepository(db *sqlx.DB) SampleRepository {
	return &sampleRepo{db: db}
}

func (r *sampleRepo) WithTx(tx *sqlx.Tx) SampleRepository {
	return &sampleRepo{db: tx}
}

func (r *sampleRepo) Create(ctx context.Context, params model.CreateSampleParams) (*model.Sample, error) {
	var sample model.Sample
	err := r.db.GetContext(ctx, &sample, `
		INSERT INTO samples (slug, account_id, campaign_id, extra)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.Slug, params.AccountID, params.CampaignID, params.Extra)
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

func (r *sampleRepo) FindBySlug(ctx context.Context, slug string) (*model.Sample, error) {
	var sample model.Sample
	err := r.db.GetContext(ctx, &sample, `
		SELECT * FROM samples WHERE slug = $1
	`, slug)
	return HandleNotFound(&sample, err)
}

func (r *sampleRepo) FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.Sample, error) {
	var samples []model.Sample
	err := r.db.SelectContext(ctx, &samples, `
		SELECT * FROM samples
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	return samples, err
}

func (r *sampleRepo) FindLatestFrozen(ctx context.Context, accountID string, campaignID *int64) (*model.Sample, error) {
	var sample model.Sample
	err := r.db.GetContext(ctx, &sample, `
		SELECT * FROM samples
		WHERE account_id = $1
		  AND is_frozen = TRUE
		  AND campaign_id IS NOT DISTINCT FROM $2
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID, campaignID)
	return HandleNotFound(&sample, err)
}

// Freeze stamps created_at as well: the freeze date, not the collection
// start, anchors portfolio windows.
func (r *sampleRepo) Freeze(ctx context.Context, id int64, frozenAt time.Time) (*model.Sample, error) {
	var sample model.Sample
	err := r.db.GetContext(ctx, &sample, `
		UPDATE samples SET
			is_frozen = TRUE,
			created_at = $2,
			updated_at = $2
		WHERE id = $1 AND is_frozen = FALSE
		RETURNING *
	`, id, frozenAt)
	return HandleNotFound(&sample, err)
}

func (r *sampleRepo) Touch(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE samples SET updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

func (r *sampleRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM samples WHERE id = $1`, id)
	return err
}

func (r *sampleRepo) FindFrozen(ctx context.Context, limit, offset int) ([]model.Sample, error) {
	var samples []model.Sample
	err := r.db.SelectContext(ctx, &samples, `
		SELECT * FROM samples
		WHERE is_frozen = TRUE
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return samples, err
}

func (r *sampleRepo) FindAccessible(ctx context.Context, granteeID string, limit, offset int) ([]model.Sample, error) {
	var samples []model.Sample
	err := r.db.SelectContext(ctx, &samples, `
		SELECT DISTINCT s.* FROM samples s
		JOIN portfolios p ON p.account_id = s.account_id
			AND (p.campaign_id IS NULL OR p.campaign_id IS NOT DISTINCT FROM s.campaign_id)
		WHERE p.grantee_id = $1
		  AND s.is_frozen = TRUE
		  AND (p.ends_at IS NULL OR s.created_at < p.ends_at)
		ORDER BY s.created_at DESC
		LIMIT $2 OFFSET $3
	`, granteeID, limit, offset)
	return samples, err
}
