package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tallyhq/survey-server-go/internal/model"
)

type CampaignRepository interface {
	Create(ctx context.Context, params model.CreateCampaignParams) (*model.Campaign, error)
	FindBySlug(ctx context.Context, slug string) (*model.Campaign, error)
	FindByID(ctx context.Context, id int64) (*model.Campaign, error)
	FindAll(ctx context.Context, limit, offset int) ([]model.Campaign, error)
	FindActive(ctx context.Context, limit, offset int) ([]model.Campaign, error)
	UpdateFlags(ctx context.Context, id int64, params model.UpdateCampaignFlagsParams) (*model.Campaign, error)
	// HasFrozenSamples reports whether any frozen sample references the
	// campaign, which locks its content.
	HasFrozenSamples(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error

	CreateQuestion(ctx context.Context, params model.CreateQuestionParams) (*model.Question, error)
	FindQuestions(ctx context.Context, campaignID int64) ([]model.Question, error)
	FindQuestionByPath(ctx context.Context, campaignID int64, path string) (*model.Question, error)
	FindAllQuestions(ctx context.Context) ([]model.Question, error)
}

type campaignRepo struct {
	db sqlxDB
}

func NewCampaignRepository(db *sqlx.DB) CampaignRepository {
	return &campaignRepo{db: db}
}

func (r *campaignRepo) Create(ctx context.Context, params model.CreateCampaignParams) (*model.Campaign, error) {
	var campaign model.Campaign
	err := r.db.GetContext(ctx, &campaign, `
		INSERT INTO campaigns (slug, title, description, account_id, is_active, is_commons)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.Slug, params.Title, params.Description, params.AccountID, params.IsActive, params.IsCommons)
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignRepo) FindBySlug(ctx context.Context, slug string) (*model.Campaign, error) {
	var campaign model.Campaign
	err := r.db.GetContext(ctx, &campaign, `
		SELECT * FROM campaigns WHERE slug = $1
	`, slug)
	return HandleNotFound(&campaign, err)
}

func (r *campaignRepo) FindByID(ctx context.Context, id int64) (*model.Campaign, error) {
	var campaign model.Campaign
	err := r.db.GetContext(ctx, &campaign, `
		SELECT * FROM campaigns WHERE id = $1
	`, id)
	return HandleNotFound(&campaign, err)
}

func (r *campaignRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	err := r.db.SelectContext(ctx, &campaigns, `
		SELECT * FROM campaigns
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return campaigns, err
}

func (r *campaignRepo) FindActive(ctx context.Context, limit, offset int) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	err := r.db.SelectContext(ctx, &campaigns, `
		SELECT * FROM campaigns
		WHERE is_active = TRUE
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return campaigns, err
}

func (r *campaignRepo) UpdateFlags(ctx context.Context, id int64, params model.UpdateCampaignFlagsParams) (*model.Campaign, error) {
	var campaign model.Campaign
	err := r.db.GetContext(ctx, &campaign, `
		UPDATE campaigns SET
			is_active = COALESCE($2, is_active),
			is_commons = COALESCE($3, is_commons)
		WHERE id = $1
		RETURNING *
	`, id, params.IsActive, params.IsCommons)
	return HandleNotFound(&campaign, err)
}

func (r *campaignRepo) HasFrozenSamples(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM samples WHERE campaign_id = $1 AND is_frozen = TRUE
		)
	`, id)
	return exists, err
}

func (r *campaignRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	return err
}

func (r *campaignRepo) CreateQuestion(ctx context.Context, params model.CreateQuestionParams) (*model.Question, error) {
	var question model.Question
	err := r.db.GetContext(ctx, &question, `
		INSERT INTO questions (campaign_id, path, text, default_unit_id, correct_answer, rank, required)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.CampaignID, params.Path, params.Text, params.DefaultUnitID,
		params.CorrectAnswer, params.Rank, params.Required)
	if err != nil {
		return nil, err
	}
	return &question, nil
}

func (r *campaignRepo) FindQuestions(ctx context.Context, campaignID int64) ([]model.Question, error) {
	var questions []model.Question
	err := r.db.SelectContext(ctx, &questions, `
		SELECT * FROM questions
		WHERE campaign_id = $1
		ORDER BY rank ASC, path ASC
	`, campaignID)
	return questions, err
}

func (r *campaignRepo) FindQuestionByPath(ctx context.Context, campaignID int64, path string) (*model.Question, error) {
	var question model.Question
	err := r.db.GetContext(ctx, &question, `
		SELECT * FROM questions
		WHERE campaign_id = $1 AND path = $2
	`, campaignID, path)
	return HandleNotFound(&question, err)
}

func (r *campaignRepo) FindAllQuestions(ctx context.Context) ([]model.Question, error) {
	var questions []model.Question
	err := r.db.SelectContext(ctx, &questions, `
		SELECT * FROM questions
		ORDER BY campaign_id ASC, rank ASC, path ASC
	`)
	return questions, err
}
