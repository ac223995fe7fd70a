package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/survey-server-go/internal/config"
	apperrors "github.com/tallyhq/survey-server-go/internal/errors"
	"github.com/tallyhq/survey-server-go/internal/model"
)

func newSampleFixture(cfg *config.Config) (*SampleService, *mockSampleRepo, *mockAnswerRepo, *mockCampaignRepo, *mockUnitRepo, *mockPortfolioRepo) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	samples := new(mockSampleRepo)
	answers := new(mockAnswerRepo)
	campaigns := new(mockCampaignRepo)
	units := new(mockUnitRepo)
	portfolios := new(mockPortfolioRepo)
	svc := NewSampleService(fakeTxRunner{}, samples, answers, campaigns, units, portfolios, cfg)
	return svc, samples, answers, campaigns, units, portfolios
}

func campaignSample(frozen bool) *model.Sample {
	cid := int64(3)
	return &model.Sample{
		ID:         1,
		Slug:       "abc123",
		AccountID:  "acc-1",
		CampaignID: &cid,
		CreatedAt:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		IsFrozen:   frozen,
	}
}

var (
	kgUnit   = &model.Unit{ID: 10, Slug: "kilograms", System: model.UnitSystemStandard}
	tonsUnit = &model.Unit{ID: 11, Slug: "tons", System: model.UnitSystemImperial}
	yesNo    = &model.Unit{ID: 12, Slug: "yes-no", System: model.UnitSystemEnumerated}
	freetext = &model.Unit{ID: 13, Slug: "freetext", System: model.UnitSystemFreetext}
)

func weightQuestion() *model.Question {
	return &model.Question{ID: 5, CampaignID: 3, Path: "/metal/weight", DefaultUnitID: 10}
}

func TestCreateSample(t *testing.T) {
	t.Run("generates a hex slug", func(t *testing.T) {
		svc, samples, _, _, _, _ := newSampleFixture(nil)
		account := testAccount("acc-1", "supplier")

		samples.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateSampleParams) bool {
			return p.AccountID == "acc-1" && len(p.Slug) == 32 && p.CampaignID == nil
		})).Return(campaignSample(false), nil)

		_, err := svc.Create(context.Background(), account, nil, nil)
		require.NoError(t, err)
	})

	t.Run("rejects unknown campaign", func(t *testing.T) {
		svc, _, _, campaigns, _, _ := newSampleFixture(nil)
		slug := "missing"
		campaigns.On("FindBySlug", mock.Anything, "missing").Return(nil, nil)

		_, err := svc.Create(context.Background(), testAccount("acc-1", "supplier"), &slug, nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestRecordAnswer(t *testing.T) {
	t.Run("stores a numeric answer in the default unit", func(t *testing.T) {
		svc, samples, answers, campaigns, units, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		campaigns.On("FindQuestionByPath", mock.Anything, int64(3), "/metal/weight").
			Return(weightQuestion(), nil)
		units.On("FindByID", mock.Anything, int64(10)).Return(kgUnit, nil)
		answers.On("Upsert", mock.Anything, mock.MatchedBy(func(p model.UpsertAnswerParams) bool {
			return p.Measured == 1500 && p.UnitID == 10 && p.Denominator == 1
		})).Return(&model.Answer{ID: 20, Measured: 1500, UnitID: 10}, nil)
		samples.On("Touch", mock.Anything, int64(1)).Return(nil)

		answer, err := svc.RecordAnswer(context.Background(), owner, "abc123", "/metal/weight",
			model.Datapoint{Measured: "1500"})

		require.NoError(t, err)
		assert.Equal(t, int64(1500), answer.Measured)
		answers.AssertNotCalled(t, "SaveCollected")
	})

	t.Run("converts through a unit equivalence and keeps the collected text", func(t *testing.T) {
		svc, samples, answers, campaigns, units, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		campaigns.On("FindQuestionByPath", mock.Anything, int64(3), "/metal/weight").
			Return(weightQuestion(), nil)
		units.On("FindByID", mock.Anything, int64(10)).Return(kgUnit, nil)
		units.On("FindBySlug", mock.Anything, "tons").Return(tonsUnit, nil)
		units.On("FindEquivalence", mock.Anything, int64(11), int64(10)).
			Return(&model.UnitEquivalence{SourceID: 11, TargetID: 10, Factor: 1000, Scale: 1}, nil)
		answers.On("Upsert", mock.Anything, mock.MatchedBy(func(p model.UpsertAnswerParams) bool {
			return p.Measured == 2000 && p.UnitID == 10
		})).Return(&model.Answer{ID: 21, Measured: 2000, UnitID: 10}, nil)
		answers.On("SaveCollected", mock.Anything, int64(21), int64(11), "2").Return(nil)
		samples.On("Touch", mock.Anything, int64(1)).Return(nil)

		answer, err := svc.RecordAnswer(context.Background(), owner, "abc123", "/metal/weight",
			model.Datapoint{Measured: "2", Unit: "tons"})

		require.NoError(t, err)
		assert.Equal(t, int64(2000), answer.Measured)
		answers.AssertCalled(t, "SaveCollected", mock.Anything, int64(21), int64(11), "2")
	})

	t.Run("rescales an overflowing measure into a scaled sibling", func(t *testing.T) {
		svc, samples, answers, campaigns, units, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		campaigns.On("FindQuestionByPath", mock.Anything, int64(3), "/metal/weight").
			Return(weightQuestion(), nil)
		units.On("FindByID", mock.Anything, int64(10)).Return(kgUnit, nil)
		// 10 billion kg does not fit; kg -> kt (scale 1e-6) does.
		units.On("FindScaledSiblings", mock.Anything, int64(10)).
			Return([]model.UnitEquivalence{
				{SourceID: 10, TargetID: 14, Factor: 1, Scale: 1e-6},
			}, nil)
		answers.On("Upsert", mock.Anything, mock.MatchedBy(func(p model.UpsertAnswerParams) bool {
			return p.Measured == 10000 && p.UnitID == 14
		})).Return(&model.Answer{ID: 22, Measured: 10000, UnitID: 14}, nil)
		answers.On("SaveCollected", mock.Anything, int64(22), int64(10), "10000000000").Return(nil)
		samples.On("Touch", mock.Anything, int64(1)).Return(nil)

		answer, err := svc.RecordAnswer(context.Background(), owner, "abc123", "/metal/weight",
			model.Datapoint{Measured: "10000000000"})

		require.NoError(t, err)
		assert.Equal(t, int64(14), answer.UnitID)
	})

	t.Run("overflow with no sibling fails", func(t *testing.T) {
		svc, samples, answers, campaigns, units, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		campaigns.On("FindQuestionByPath", mock.Anything, int64(3), "/metal/weight").
			Return(weightQuestion(), nil)
		units.On("FindByID", mock.Anything, int64(10)).Return(kgUnit, nil)
		units.On("FindScaledSiblings", mock.Anything, int64(10)).
			Return([]model.UnitEquivalence{}, nil)

		_, err := svc.RecordAnswer(context.Background(), owner, "abc123", "/metal/weight",
			model.Datapoint{Measured: "10000000000"})

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeMeasureOverflow, apperrors.GetCode(err))
		answers.AssertNotCalled(t, "Upsert")
	})

	t.Run("enumerated answers must name an existing choice", func(t *testing.T) {
		svc, samples, answers, campaigns, units, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")
		question := &model.Question{ID: 6, CampaignID: 3, Path: "/audit/passed", DefaultUnitID: 12}

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		campaigns.On("FindQuestionByPath", mock.Anything, int64(3), "/audit/passed").
			Return(question, nil)
		units.On("FindByID", mock.Anything, int64(12)).Return(yesNo, nil)
		units.On("FindChoice", mock.Anything, int64(12), "maybe").Return(nil, nil)

		_, err := svc.RecordAnswer(context.Background(), owner, "abc123", "/audit/passed",
			model.Datapoint{Measured: "maybe"})

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
		answers.AssertNotCalled(t, "Upsert")
	})

	t.Run("freetext answers materialize a choice", func(t *testing.T) {
		svc, samples, answers, campaigns, units, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")
		question := &model.Question{ID: 7, CampaignID: 3, Path: "/notes", DefaultUnitID: 13}

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		campaigns.On("FindQuestionByPath", mock.Anything, int64(3), "/notes").
			Return(question, nil)
		units.On("FindByID", mock.Anything, int64(13)).Return(freetext, nil)
		units.On("GetOrCreateChoice", mock.Anything, int64(13), "all good").
			Return(&model.Choice{ID: 99, UnitID: 13, Text: "all good"}, nil)
		answers.On("Upsert", mock.Anything, mock.MatchedBy(func(p model.UpsertAnswerParams) bool {
			return p.Measured == 99 && p.UnitID == 13
		})).Return(&model.Answer{ID: 23, Measured: 99, UnitID: 13}, nil)
		samples.On("Touch", mock.Anything, int64(1)).Return(nil)

		_, err := svc.RecordAnswer(context.Background(), owner, "abc123", "/notes",
			model.Datapoint{Measured: "all good"})
		require.NoError(t, err)
	})

	t.Run("blank freetext withdraws the answer", func(t *testing.T) {
		svc, samples, answers, campaigns, units, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")
		question := &model.Question{ID: 7, CampaignID: 3, Path: "/notes", DefaultUnitID: 13}

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		campaigns.On("FindQuestionByPath", mock.Anything, int64(3), "/notes").
			Return(question, nil)
		units.On("FindByID", mock.Anything, int64(13)).Return(freetext, nil)
		answers.On("DeleteForQuestion", mock.Anything, int64(1), int64(7)).
			Return(int64(1), nil)
		samples.On("Touch", mock.Anything, int64(1)).Return(nil)

		answer, err := svc.RecordAnswer(context.Background(), owner, "abc123", "/notes",
			model.Datapoint{Measured: "   "})

		require.NoError(t, err)
		assert.Nil(t, answer)
		answers.AssertNotCalled(t, "Upsert")
		units.AssertNotCalled(t, "GetOrCreateChoice")
	})

	t.Run("frozen samples reject writes", func(t *testing.T) {
		svc, samples, answers, _, _, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(true), nil)

		_, err := svc.RecordAnswer(context.Background(), owner, "abc123", "/metal/weight",
			model.Datapoint{Measured: "1"})

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSampleFrozen, apperrors.GetCode(err))
		answers.AssertNotCalled(t, "Upsert")
	})

	t.Run("only the owner can record", func(t *testing.T) {
		svc, samples, _, _, _, _ := newSampleFixture(nil)

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)

		_, err := svc.RecordAnswer(context.Background(), testAccount("acc-9", "other"),
			"abc123", "/metal/weight", model.Datapoint{Measured: "1"})

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetCode(err))
	})
}

func TestFreeze(t *testing.T) {
	t.Run("freezes a sample with answers", func(t *testing.T) {
		svc, samples, answers, campaigns, _, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")
		frozen := campaignSample(true)

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		answers.On("CountBySample", mock.Anything, int64(1)).Return(4, nil)
		campaigns.On("FindQuestions", mock.Anything, int64(3)).
			Return([]model.Question{*weightQuestion()}, nil)
		answers.On("FindBySample", mock.Anything, int64(1)).
			Return([]model.Answer{{QuestionID: 5}}, nil)
		samples.On("Freeze", mock.Anything, int64(1), mock.AnythingOfType("time.Time")).
			Return(frozen, nil)

		got, err := svc.Freeze(context.Background(), owner, "abc123", false)
		require.NoError(t, err)
		assert.True(t, got.IsFrozen)
	})

	t.Run("refuses an empty sample", func(t *testing.T) {
		svc, samples, answers, _, _, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		answers.On("CountBySample", mock.Anything, int64(1)).Return(0, nil)

		_, err := svc.Freeze(context.Background(), owner, "abc123", false)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
		samples.AssertNotCalled(t, "Freeze")
	})

	t.Run("unanswered required question blocks the freeze", func(t *testing.T) {
		svc, samples, answers, campaigns, _, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")
		required := model.Question{ID: 6, CampaignID: 3, Path: "/audit/passed", Required: true}

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		answers.On("CountBySample", mock.Anything, int64(1)).Return(1, nil)
		campaigns.On("FindQuestions", mock.Anything, int64(3)).
			Return([]model.Question{*weightQuestion(), required}, nil)
		answers.On("FindBySample", mock.Anything, int64(1)).
			Return([]model.Answer{{QuestionID: 5}}, nil)

		_, err := svc.Freeze(context.Background(), owner, "abc123", false)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
		samples.AssertNotCalled(t, "Freeze")
	})

	t.Run("force skips the required check", func(t *testing.T) {
		svc, samples, answers, campaigns, _, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		answers.On("CountBySample", mock.Anything, int64(1)).Return(1, nil)
		samples.On("Freeze", mock.Anything, int64(1), mock.AnythingOfType("time.Time")).
			Return(campaignSample(true), nil)

		_, err := svc.Freeze(context.Background(), owner, "abc123", true)
		require.NoError(t, err)
		campaigns.AssertNotCalled(t, "FindQuestions")
	})

	t.Run("refreezing fails", func(t *testing.T) {
		svc, samples, _, _, _, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(true), nil)

		_, err := svc.Freeze(context.Background(), owner, "abc123", false)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSampleFrozen, apperrors.GetCode(err))
	})
}

func TestRecordBaseline(t *testing.T) {
	svc, samples, answers, campaigns, units, _ := newSampleFixture(nil)
	owner := testAccount("acc-1", "supplier")
	baseline := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
	campaigns.On("FindQuestionByPath", mock.Anything, int64(3), "/metal/weight").
		Return(weightQuestion(), nil)
	units.On("FindByID", mock.Anything, int64(10)).Return(kgUnit, nil)
	answers.On("Upsert", mock.Anything, mock.MatchedBy(func(p model.UpsertAnswerParams) bool {
		return p.Measured == 0 && p.CreatedAt.Equal(baseline)
	})).Return(&model.Answer{ID: 30, Measured: 0, CreatedAt: baseline}, nil)
	samples.On("Touch", mock.Anything, int64(1)).Return(nil)

	answer, err := svc.RecordBaseline(context.Background(), owner, "abc123", "/metal/weight", baseline)

	require.NoError(t, err)
	assert.Equal(t, int64(0), answer.Measured)
	assert.True(t, answer.CreatedAt.Equal(baseline))
}

func TestReset(t *testing.T) {
	t.Run("clears answers on a mutable sample", func(t *testing.T) {
		svc, samples, answers, _, _, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)
		answers.On("DeleteBySample", mock.Anything, int64(1)).Return(int64(4), nil)

		count, err := svc.Reset(context.Background(), owner, "abc123")
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})

	t.Run("frozen samples cannot be reset", func(t *testing.T) {
		svc, samples, answers, _, _, _ := newSampleFixture(nil)
		owner := testAccount("acc-1", "supplier")

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(true), nil)

		_, err := svc.Reset(context.Background(), owner, "abc123")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSampleFrozen, apperrors.GetCode(err))
		answers.AssertNotCalled(t, "DeleteBySample")
	})
}

func TestGetVisibility(t *testing.T) {
	t.Run("owner always sees its sample", func(t *testing.T) {
		svc, samples, _, _, _, _ := newSampleFixture(nil)

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)

		got, err := svc.Get(context.Background(), testAccount("acc-1", "supplier"), "abc123")
		require.NoError(t, err)
		assert.Equal(t, "abc123", got.Slug)
	})

	t.Run("grantee sees a frozen sample inside the window", func(t *testing.T) {
		svc, samples, _, _, _, portfolios := newSampleFixture(nil)
		sample := campaignSample(true)

		samples.On("FindBySlug", mock.Anything, "abc123").Return(sample, nil)
		endsAt := sample.CreatedAt.Add(24 * time.Hour)
		portfolios.On("FindCovering", mock.Anything, "acc-1", "acc-2", sample.CampaignID).
			Return([]model.Portfolio{{AccountID: "acc-1", GranteeID: "acc-2", EndsAt: &endsAt}}, nil)

		_, err := svc.Get(context.Background(), testAccount("acc-2", "buyer"), "abc123")
		require.NoError(t, err)
	})

	t.Run("grantee outside the window sees nothing", func(t *testing.T) {
		svc, samples, _, _, _, portfolios := newSampleFixture(nil)
		sample := campaignSample(true)

		samples.On("FindBySlug", mock.Anything, "abc123").Return(sample, nil)
		endsAt := sample.CreatedAt.Add(-24 * time.Hour)
		portfolios.On("FindCovering", mock.Anything, "acc-1", "acc-2", sample.CampaignID).
			Return([]model.Portfolio{{AccountID: "acc-1", GranteeID: "acc-2", EndsAt: &endsAt}}, nil)

		_, err := svc.Get(context.Background(), testAccount("acc-2", "buyer"), "abc123")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("mutable samples are never visible to grantees", func(t *testing.T) {
		svc, samples, _, _, _, portfolios := newSampleFixture(nil)

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)

		_, err := svc.Get(context.Background(), testAccount("acc-2", "buyer"), "abc123")
		require.Error(t, err)
		portfolios.AssertNotCalled(t, "FindCovering")
	})

	t.Run("availability bypass opens everything", func(t *testing.T) {
		svc, samples, _, _, _, portfolios := newSampleFixture(&config.Config{BypassSampleAvailable: true})

		samples.On("FindBySlug", mock.Anything, "abc123").Return(campaignSample(false), nil)

		_, err := svc.Get(context.Background(), testAccount("acc-2", "buyer"), "abc123")
		require.NoError(t, err)
		portfolios.AssertNotCalled(t, "FindCovering")
	})
}

func TestListAccessible(t *testing.T) {
	t.Run("uses portfolio windows by default", func(t *testing.T) {
		svc, samples, _, _, _, _ := newSampleFixture(nil)

		samples.On("FindAccessible", mock.Anything, "acc-2", 20, 0).
			Return([]model.Sample{*campaignSample(true)}, nil)

		got, err := svc.ListAccessible(context.Background(), testAccount("acc-2", "buyer"), 20, 0)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("bypass lists every frozen sample", func(t *testing.T) {
		svc, samples, _, _, _, _ := newSampleFixture(&config.Config{BypassSampleAvailable: true})

		samples.On("FindFrozen", mock.Anything, 20, 0).
			Return([]model.Sample{*campaignSample(true)}, nil)

		got, err := svc.ListAccessible(context.Background(), testAccount("acc-2", "buyer"), 20, 0)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		samples.AssertNotCalled(t, "FindAccessible")
	})
}
