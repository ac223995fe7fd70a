package service

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/tallyhq/survey-server-go/internal/config"
	apperrors "github.com/tallyhq/survey-server-go/internal/errors"
	"github.com/tallyhq/survey-server-go/internal/model"
	"github.com/tallyhq/survey-server-go/internal/repository"
)

// SampleService manages measurement sessions: answer collection, unit
// conversion, the freeze that makes a sample shareable, and grantee access.
type SampleService struct {
	db         TxRunner
	samples    repository.SampleRepository
	answers    repository.AnswerRepository
	campaigns  repository.CampaignRepository
	units      repository.UnitRepository
	portfolios repository.PortfolioRepository
	cfg        *config.Config
}

func NewSampleService(
	db TxRunner,
	samples repository.SampleRepository,
	answers repository.AnswerRepository,
	campaigns repository.CampaignRepository,
	units repository.UnitRepository,
	portfolios repository.PortfolioRepository,
	cfg *config.Config,
) *SampleService {
	return &SampleService{
		db:         db,
		samples:    samples,
		answers:    answers,
		campaigns:  campaigns,
		units:      units,
		portfolios: portfolios,
		cfg:        cfg,
	}
}

// Create starts a new, mutable sample for the account.
func (s *SampleService) Create(ctx context.Context, account *model.Account, campaignSlug *string, extra *string) (*model.Sample, error) {
	var campaignID *int64
	if campaignSlug != nil {
		campaign, err := s.campaigns.FindBySlug(ctx, *campaignSlug)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if campaign == nil {
			return nil, apperrors.NotFound("Campaign")
		}
		campaignID = &campaign.ID
	}

	sample, err := s.samples.Create(ctx, model.CreateSampleParams{
		Slug:       newSampleSlug(),
		AccountID:  account.ID,
		CampaignID: campaignID,
		Extra:      extra,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().Str("sample", sample.Slug).Str("account", account.Slug).
		Msg("sample created")
	return sample, nil
}

// Get returns the sample when the actor may see it: owners always, grantees
// only for frozen samples inside a portfolio window.
func (s *SampleService) Get(ctx context.Context, actor *model.Account, slug string) (*model.Sample, error) {
	sample, err := s.samples.FindBySlug(ctx, slug)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sample == nil {
		return nil, apperrors.NotFound("Sample")
	}
	ok, err := s.canView(ctx, actor, sample)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Hide existence from accounts with no grant.
		return nil, apperrors.NotFound("Sample")
	}
	return sample, nil
}

// Answers returns the sample's answers, subject to the same visibility rules
// as Get.
func (s *SampleService) Answers(ctx context.Context, actor *model.Account, slug string) ([]model.Answer, error) {
	sample, err := s.Get(ctx, actor, slug)
	if err != nil {
		return nil, err
	}
	answers, err := s.answers.FindBySample(ctx, sample.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return answers, nil
}

// RecordAnswer writes one datapoint into a mutable sample, converting it to
// the question's default unit when collected in another one. A blank
// freetext submission withdraws the answer instead and returns nil.
func (s *SampleService) RecordAnswer(ctx context.Context, actor *model.Account, slug, questionPath string, dp model.Datapoint) (*model.Answer, error) {
	sample, err := s.samples.FindBySlug(ctx, slug)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sample == nil {
		return nil, apperrors.NotFound("Sample")
	}
	if sample.AccountID != actor.ID {
		return nil, apperrors.Forbidden("only the sample owner can record answers")
	}
	if sample.IsFrozen {
		return nil, apperrors.SampleFrozen(sample.Slug)
	}
	if sample.CampaignID == nil {
		return nil, apperrors.ValidationError("sample has no campaign to take questions from")
	}

	question, err := s.campaigns.FindQuestionByPath(ctx, *sample.CampaignID, questionPath)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if question == nil {
		return nil, apperrors.NotFound("Question")
	}

	defaultUnit, err := s.units.FindByID(ctx, question.DefaultUnitID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if defaultUnit == nil {
		return nil, apperrors.Internal("question has no default unit")
	}

	// Blank freetext withdraws the answer rather than materializing an
	// empty choice.
	if defaultUnit.System == model.UnitSystemFreetext && strings.TrimSpace(dp.Measured) == "" {
		err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := s.answers.WithTx(tx).DeleteForQuestion(ctx, sample.ID, question.ID); err != nil {
				return err
			}
			return s.samples.WithTx(tx).Touch(ctx, sample.ID)
		})
		if err != nil {
			return nil, apperrors.Database(err)
		}
		log.Info().Str("sample", sample.Slug).Str("question", question.Path).
			Msg("answer withdrawn")
		return nil, nil
	}

	collectedUnit := defaultUnit
	if dp.Unit != "" && dp.Unit != defaultUnit.Slug {
		collectedUnit, err = s.units.FindBySlug(ctx, dp.Unit)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if collectedUnit == nil {
			return nil, apperrors.NotFound("Unit")
		}
	}

	measured, storedUnitID, err := s.resolveMeasure(ctx, dp.Measured, collectedUnit, defaultUnit)
	if err != nil {
		return nil, err
	}

	denominator := int64(1)
	if dp.Denominator != nil {
		if *dp.Denominator <= 0 {
			return nil, apperrors.InvalidInput("denominator", "must be positive")
		}
		denominator = *dp.Denominator
	}

	createdAt := time.Now()
	if dp.CreatedAt != nil {
		createdAt = *dp.CreatedAt
	}

	var answer *model.Answer
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		answers := s.answers.WithTx(tx)
		answer, err = answers.Upsert(ctx, model.UpsertAnswerParams{
			SampleID:      sample.ID,
			QuestionID:    question.ID,
			UnitID:        storedUnitID,
			Measured:      measured,
			Denominator:   denominator,
			CreatedAt:     createdAt,
			CollectedByID: &actor.ID,
		})
		if err != nil {
			return err
		}
		// Keep what was typed when storage changed the unit.
		if storedUnitID != collectedUnit.ID {
			if err := answers.SaveCollected(ctx, answer.ID, collectedUnit.ID, dp.Measured); err != nil {
				return err
			}
		}
		return s.samples.WithTx(tx).Touch(ctx, sample.ID)
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return answer, nil
}

// resolveMeasure turns the collected text into the stored integer measure
// and the unit it is stored in.
func (s *SampleService) resolveMeasure(ctx context.Context, text string, collected, def *model.Unit) (int64, int64, error) {
	if !def.System.IsNumerical() {
		// Choice-backed systems. Freetext and datetime materialize choices
		// on demand; enumerated units only accept existing ones.
		if collected.ID != def.ID {
			return 0, 0, apperrors.UnitMismatch(collected.Slug, def.Slug)
		}
		var choice *model.Choice
		var err error
		switch def.System {
		case model.UnitSystemEnumerated:
			choice, err = s.units.FindChoice(ctx, def.ID, strings.TrimSpace(text))
			if err == nil && choice == nil {
				return 0, 0, apperrors.InvalidInput("measured",
					"not a valid choice for unit "+def.Slug)
			}
		default:
			choice, err = s.units.GetOrCreateChoice(ctx, def.ID, strings.TrimSpace(text))
		}
		if err != nil {
			return 0, 0, apperrors.Database(err)
		}
		return choice.ID, def.ID, nil
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, 0, apperrors.InvalidInput("measured", "not a number")
	}

	if collected.ID != def.ID {
		eq, err := s.units.FindEquivalence(ctx, collected.ID, def.ID)
		if err != nil {
			return 0, 0, apperrors.Database(err)
		}
		if eq == nil {
			return 0, 0, apperrors.UnitMismatch(collected.Slug, def.Slug)
		}
		value = eq.AsTargetUnit(value)
	}

	if fitsMeasure(value) {
		return int64(math.Round(value)), def.ID, nil
	}

	// Too big for storage in the default unit; retry in a scaled sibling
	// (e.g. tons instead of kilograms).
	siblings, err := s.units.FindScaledSiblings(ctx, def.ID)
	if err != nil {
		return 0, 0, apperrors.Database(err)
	}
	for _, eq := range siblings {
		scaled := eq.AsTargetUnit(value)
		if fitsMeasure(scaled) {
			return int64(math.Round(scaled)), eq.TargetID, nil
		}
	}
	return 0, 0, apperrors.MeasureOverflow(text)
}

func fitsMeasure(value float64) bool {
	return math.Abs(value) < float64(model.MeasuredMaxValue)
}

// Freeze makes the sample immutable and shareable. The freeze date becomes
// the sample's created_at, which portfolio windows compare against. Unless
// forced, every required question of the campaign must be answered.
func (s *SampleService) Freeze(ctx context.Context, actor *model.Account, slug string, force bool) (*model.Sample, error) {
	sample, err := s.samples.FindBySlug(ctx, slug)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sample == nil {
		return nil, apperrors.NotFound("Sample")
	}
	if sample.AccountID != actor.ID {
		return nil, apperrors.Forbidden("only the sample owner can freeze it")
	}
	if sample.IsFrozen {
		return nil, apperrors.SampleFrozen(sample.Slug)
	}

	count, err := s.answers.CountBySample(ctx, sample.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if count == 0 {
		return nil, apperrors.ValidationError("cannot freeze a sample with no answers")
	}

	if !force && sample.CampaignID != nil {
		if err := s.checkRequiredAnswered(ctx, *sample.CampaignID, sample.ID); err != nil {
			return nil, err
		}
	}

	frozen, err := s.samples.Freeze(ctx, sample.ID, time.Now())
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if frozen == nil {
		return nil, apperrors.SampleFrozen(sample.Slug)
	}

	log.Info().Str("sample", frozen.Slug).Msg("sample frozen")
	return frozen, nil
}

func (s *SampleService) checkRequiredAnswered(ctx context.Context, campaignID, sampleID int64) error {
	questions, err := s.campaigns.FindQuestions(ctx, campaignID)
	if err != nil {
		return apperrors.Database(err)
	}
	answers, err := s.answers.FindBySample(ctx, sampleID)
	if err != nil {
		return apperrors.Database(err)
	}
	answered := make(map[int64]bool, len(answers))
	for i := range answers {
		answered[answers[i].QuestionID] = true
	}
	for i := range questions {
		if questions[i].Required && !answered[questions[i].ID] {
			return apperrors.ValidationError(
				"required question " + questions[i].Path + " is not answered")
		}
	}
	return nil
}

// RecordBaseline writes a zero-valued answer stamped with the baseline date,
// the starting point relative time series are measured against.
func (s *SampleService) RecordBaseline(ctx context.Context, actor *model.Account, slug, questionPath string, at time.Time) (*model.Answer, error) {
	return s.RecordAnswer(ctx, actor, slug, questionPath, model.Datapoint{
		Measured:  "0",
		CreatedAt: &at,
	})
}

// Reset discards every collected answer of a mutable sample.
func (s *SampleService) Reset(ctx context.Context, actor *model.Account, slug string) (int64, error) {
	sample, err := s.samples.FindBySlug(ctx, slug)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	if sample == nil {
		return 0, apperrors.NotFound("Sample")
	}
	if sample.AccountID != actor.ID {
		return 0, apperrors.Forbidden("only the sample owner can reset it")
	}
	if sample.IsFrozen {
		return 0, apperrors.SampleFrozen(sample.Slug)
	}

	count, err := s.answers.DeleteBySample(ctx, sample.ID)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	log.Info().Str("sample", sample.Slug).Int64("count", count).
		Msg("sample answers reset")
	return count, nil
}

// ListOwn lists the actor's samples, frozen or not.
func (s *SampleService) ListOwn(ctx context.Context, actor *model.Account, limit, offset int) ([]model.Sample, error) {
	samples, err := s.samples.FindByAccount(ctx, actor.ID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return samples, nil
}

// ListAccessible lists frozen samples the actor can see through portfolio
// grants. The availability bypass opens every frozen sample instead.
func (s *SampleService) ListAccessible(ctx context.Context, actor *model.Account, limit, offset int) ([]model.Sample, error) {
	var samples []model.Sample
	var err error
	if s.cfg.BypassSampleAvailable {
		samples, err = s.samples.FindFrozen(ctx, limit, offset)
	} else {
		samples, err = s.samples.FindAccessible(ctx, actor.ID, limit, offset)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return samples, nil
}

func (s *SampleService) canView(ctx context.Context, actor *model.Account, sample *model.Sample) (bool, error) {
	if sample.AccountID == actor.ID {
		return true, nil
	}
	if s.cfg.BypassSampleAvailable {
		return true, nil
	}
	if !sample.IsFrozen {
		return false, nil
	}
	portfolios, err := s.portfolios.FindCovering(ctx, sample.AccountID, actor.ID, sample.CampaignID)
	if err != nil {
		return false, apperrors.Database(err)
	}
	for i := range portfolios {
		if portfolios[i].Covers(sample.CreatedAt) {
			return true, nil
		}
	}
	return false, nil
}

// newSampleSlug returns a 32-char hex identifier.
func newSampleSlug() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
