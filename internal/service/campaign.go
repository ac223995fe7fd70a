package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/tallyhq/survey-server-go/internal/errors"
	"github.com/tallyhq/survey-server-go/internal/model"
	"github.com/tallyhq/survey-server-go/internal/repository"
)

// CampaignService manages the question catalog. Campaign content locks down
// once a frozen sample references it; only activation flags stay editable.
type CampaignService struct {
	campaigns repository.CampaignRepository
	units     repository.UnitRepository
}

func NewCampaignService(campaigns repository.CampaignRepository, units repository.UnitRepository) *CampaignService {
	return &CampaignService{campaigns: campaigns, units: units}
}

func (s *CampaignService) Create(ctx context.Context, actor *model.Account, params model.CreateCampaignParams) (*model.Campaign, error) {
	if params.Slug == "" {
		return nil, apperrors.MissingRequired("slug")
	}
	if params.Title == "" {
		return nil, apperrors.MissingRequired("title")
	}
	existing, err := s.campaigns.FindBySlug(ctx, params.Slug)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil {
		return nil, apperrors.AlreadyExists("Campaign")
	}

	params.AccountID = &actor.ID
	campaign, err := s.campaigns.Create(ctx, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().Str("campaign", campaign.Slug).Str("account", actor.Slug).
		Msg("campaign created")
	return campaign, nil
}

func (s *CampaignService) Get(ctx context.Context, slug string) (*model.Campaign, error) {
	campaign, err := s.campaigns.FindBySlug(ctx, slug)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if campaign == nil {
		return nil, apperrors.NotFound("Campaign")
	}
	return campaign, nil
}

func (s *CampaignService) List(ctx context.Context, activeOnly bool, limit, offset int) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	var err error
	if activeOnly {
		campaigns, err = s.campaigns.FindActive(ctx, limit, offset)
	} else {
		campaigns, err = s.campaigns.FindAll(ctx, limit, offset)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return campaigns, nil
}

// UpdateFlags toggles is_active and is_commons. These stay mutable for the
// campaign's whole life; nothing else does once samples are frozen.
func (s *CampaignService) UpdateFlags(ctx context.Context, actor *model.Account, slug string, params model.UpdateCampaignFlagsParams) (*model.Campaign, error) {
	campaign, err := s.ownedCampaign(ctx, actor, slug)
	if err != nil {
		return nil, err
	}
	updated, err := s.campaigns.UpdateFlags(ctx, campaign.ID, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return updated, nil
}

// AddQuestion appends a question. Fails once frozen samples reference the
// campaign: grantees compare answers across samples, so the question set
// must not shift under them.
func (s *CampaignService) AddQuestion(ctx context.Context, actor *model.Account, slug string, params model.CreateQuestionParams) (*model.Question, error) {
	campaign, err := s.ownedCampaign(ctx, actor, slug)
	if err != nil {
		return nil, err
	}

	locked, err := s.campaigns.HasFrozenSamples(ctx, campaign.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if locked {
		return nil, apperrors.CampaignImmutable("question set")
	}

	unit, err := s.units.FindByID(ctx, params.DefaultUnitID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if unit == nil {
		return nil, apperrors.NotFound("Unit")
	}

	params.CampaignID = campaign.ID
	question, err := s.campaigns.CreateQuestion(ctx, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return question, nil
}

func (s *CampaignService) Questions(ctx context.Context, slug string) ([]model.Question, error) {
	campaign, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	questions, err := s.campaigns.FindQuestions(ctx, campaign.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return questions, nil
}

func (s *CampaignService) ownedCampaign(ctx context.Context, actor *model.Account, slug string) (*model.Campaign, error) {
	campaign, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if campaign.AccountID == nil || *campaign.AccountID != actor.ID {
		return nil, apperrors.Forbidden("only the campaign owner can modify it")
	}
	return campaign, nil
}
