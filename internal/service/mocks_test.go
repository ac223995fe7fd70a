package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/tallyhq/survey-server-go/internal/database"
	"github.com/tallyhq/survey-server-go/internal/model"
	"github.com/tallyhq/survey-server-go/internal/repository"
)

// fakeTxRunner runs the closure with a nil transaction; the mocked repos
// return themselves from WithTx so the nil is never dereferenced.
type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

// recordingNotifier captures published events.
type recordingNotifier struct {
	events []publishedEvent
}

type publishedEvent struct {
	AccountSlug string
	Type        string
}

func (n *recordingNotifier) Publish(ctx context.Context, accountSlug string, eventType string, payload any) error {
	n.events = append(n.events, publishedEvent{AccountSlug: accountSlug, Type: eventType})
	return nil
}

type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindBySlug(ctx context.Context, slug string) (*model.Account, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Account, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Account, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *mockAccountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) GetOrCreate(ctx context.Context, ref model.AccountRef) (*model.Account, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockAccountRepo) WithTx(tx *sqlx.Tx) repository.AccountRepository {
	return m
}

type mockOptInRepo struct {
	mock.Mock
}

func (m *mockOptInRepo) Create(ctx context.Context, params model.CreateOptInParams) (*model.PortfolioDoubleOptIn, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PortfolioDoubleOptIn), args.Error(1)
}

func (m *mockOptInRepo) FindByID(ctx context.Context, id int64) (*model.PortfolioDoubleOptIn, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PortfolioDoubleOptIn), args.Error(1)
}

func (m *mockOptInRepo) FindByVerificationKey(ctx context.Context, key string) (*model.PortfolioDoubleOptIn, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PortfolioDoubleOptIn), args.Error(1)
}

func (m *mockOptInRepo) FindPendingForDecider(ctx context.Context, deciderID string, limit, offset int) ([]model.PortfolioDoubleOptIn, error) {
	args := m.Called(ctx, deciderID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PortfolioDoubleOptIn), args.Error(1)
}

func (m *mockOptInRepo) FindByInitiator(ctx context.Context, initiatorID string, state model.OptInState, limit, offset int) ([]model.PortfolioDoubleOptIn, error) {
	args := m.Called(ctx, initiatorID, state, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PortfolioDoubleOptIn), args.Error(1)
}

func (m *mockOptInRepo) DeletePending(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOptInRepo) Transition(ctx context.Context, id int64, to model.OptInState) (int64, error) {
	args := m.Called(ctx, id, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOptInRepo) ExpireOlderThan(ctx context.Context, retentionDays int) ([]model.PortfolioDoubleOptIn, error) {
	args := m.Called(ctx, retentionDays)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PortfolioDoubleOptIn), args.Error(1)
}

func (m *mockOptInRepo) CountPendingInitiatedSince(ctx context.Context, initiatorID string, sinceHours int) (int, error) {
	args := m.Called(ctx, initiatorID, sinceHours)
	return args.Int(0), args.Error(1)
}

func (m *mockOptInRepo) WithTx(tx *sqlx.Tx) repository.OptInRepository {
	return m
}

type mockPortfolioRepo struct {
	mock.Mock
}

func (m *mockPortfolioRepo) Upsert(ctx context.Context, params model.UpsertPortfolioParams) (*model.Portfolio, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Portfolio), args.Error(1)
}

func (m *mockPortfolioRepo) Find(ctx context.Context, accountID, granteeID string, campaignID *int64) (*model.Portfolio, error) {
	args := m.Called(ctx, accountID, granteeID, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Portfolio), args.Error(1)
}

func (m *mockPortfolioRepo) FindCovering(ctx context.Context, accountID, granteeID string, campaignID *int64) ([]model.Portfolio, error) {
	args := m.Called(ctx, accountID, granteeID, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Portfolio), args.Error(1)
}

func (m *mockPortfolioRepo) FindByGrantee(ctx context.Context, granteeID string, limit, offset int) ([]model.Portfolio, error) {
	args := m.Called(ctx, granteeID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Portfolio), args.Error(1)
}

func (m *mockPortfolioRepo) FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.Portfolio, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Portfolio), args.Error(1)
}

func (m *mockPortfolioRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockPortfolioRepo) WithTx(tx *sqlx.Tx) repository.PortfolioRepository {
	return m
}

type mockCampaignRepo struct {
	mock.Mock
}

func (m *mockCampaignRepo) Create(ctx context.Context, params model.CreateCampaignParams) (*model.Campaign, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *mockCampaignRepo) FindBySlug(ctx context.Context, slug string) (*model.Campaign, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *mockCampaignRepo) FindByID(ctx context.Context, id int64) (*model.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *mockCampaignRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Campaign, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Campaign), args.Error(1)
}

func (m *mockCampaignRepo) FindActive(ctx context.Context, limit, offset int) ([]model.Campaign, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Campaign), args.Error(1)
}

func (m *mockCampaignRepo) UpdateFlags(ctx context.Context, id int64, params model.UpdateCampaignFlagsParams) (*model.Campaign, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *mockCampaignRepo) HasFrozenSamples(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockCampaignRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockCampaignRepo) CreateQuestion(ctx context.Context, params model.CreateQuestionParams) (*model.Question, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Question), args.Error(1)
}

func (m *mockCampaignRepo) FindQuestions(ctx context.Context, campaignID int64) ([]model.Question, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Question), args.Error(1)
}

func (m *mockCampaignRepo) FindQuestionByPath(ctx context.Context, campaignID int64, path string) (*model.Question, error) {
	args := m.Called(ctx, campaignID, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Question), args.Error(1)
}

func (m *mockCampaignRepo) FindAllQuestions(ctx context.Context) ([]model.Question, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Question), args.Error(1)
}

type mockSampleRepo struct {
	mock.Mock
}

func (m *mockSampleRepo) Create(ctx context.Context, params model.CreateSampleParams) (*model.Sample, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Sample), args.Error(1)
}

func (m *mockSampleRepo) FindBySlug(ctx context.Context, slug string) (*model.Sample, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Sample), args.Error(1)
}

func (m *mockSampleRepo) FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.Sample, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Sample), args.Error(1)
}

func (m *mockSampleRepo) FindLatestFrozen(ctx context.Context, accountID string, campaignID *int64) (*model.Sample, error) {
	args := m.Called(ctx, accountID, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Sample), args.Error(1)
}

func (m *mockSampleRepo) Freeze(ctx context.Context, id int64, frozenAt time.Time) (*model.Sample, error) {
	args := m.Called(ctx, id, frozenAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Sample), args.Error(1)
}

func (m *mockSampleRepo) Touch(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSampleRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSampleRepo) FindAccessible(ctx context.Context, granteeID string, limit, offset int) ([]model.Sample, error) {
	args := m.Called(ctx, granteeID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Sample), args.Error(1)
}

func (m *mockSampleRepo) FindFrozen(ctx context.Context, limit, offset int) ([]model.Sample, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Sample), args.Error(1)
}

func (m *mockSampleRepo) WithTx(tx *sqlx.Tx) repository.SampleRepository {
	return m
}

type mockAnswerRepo struct {
	mock.Mock
}

func (m *mockAnswerRepo) Upsert(ctx context.Context, params model.UpsertAnswerParams) (*model.Answer, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Answer), args.Error(1)
}

func (m *mockAnswerRepo) FindBySample(ctx context.Context, sampleID int64) ([]model.Answer, error) {
	args := m.Called(ctx, sampleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Answer), args.Error(1)
}

func (m *mockAnswerRepo) Find(ctx context.Context, sampleID, questionID int64) (*model.Answer, error) {
	args := m.Called(ctx, sampleID, questionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Answer), args.Error(1)
}

func (m *mockAnswerRepo) DeleteForQuestion(ctx context.Context, sampleID, questionID int64) (int64, error) {
	args := m.Called(ctx, sampleID, questionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAnswerRepo) DeleteBySample(ctx context.Context, sampleID int64) (int64, error) {
	args := m.Called(ctx, sampleID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAnswerRepo) CountBySample(ctx context.Context, sampleID int64) (int, error) {
	args := m.Called(ctx, sampleID)
	return args.Int(0), args.Error(1)
}

func (m *mockAnswerRepo) SaveCollected(ctx context.Context, answerID, unitID int64, collected string) error {
	args := m.Called(ctx, answerID, unitID, collected)
	return args.Error(0)
}

func (m *mockAnswerRepo) FindCollected(ctx context.Context, answerID int64) (*model.AnswerCollected, error) {
	args := m.Called(ctx, answerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AnswerCollected), args.Error(1)
}

func (m *mockAnswerRepo) FindRowsForQuestions(ctx context.Context, questionIDs []int64) ([]model.AnswerRow, error) {
	args := m.Called(ctx, questionIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AnswerRow), args.Error(1)
}

func (m *mockAnswerRepo) WithTx(tx *sqlx.Tx) repository.AnswerRepository {
	return m
}

type mockUnitRepo struct {
	mock.Mock
}

func (m *mockUnitRepo) FindByID(ctx context.Context, id int64) (*model.Unit, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Unit), args.Error(1)
}

func (m *mockUnitRepo) FindBySlug(ctx context.Context, slug string) (*model.Unit, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Unit), args.Error(1)
}

func (m *mockUnitRepo) FindAll(ctx context.Context) ([]model.Unit, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Unit), args.Error(1)
}

func (m *mockUnitRepo) FindEquivalence(ctx context.Context, sourceID, targetID int64) (*model.UnitEquivalence, error) {
	args := m.Called(ctx, sourceID, targetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UnitEquivalence), args.Error(1)
}

func (m *mockUnitRepo) FindScaledSiblings(ctx context.Context, sourceID int64) ([]model.UnitEquivalence, error) {
	args := m.Called(ctx, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.UnitEquivalence), args.Error(1)
}

func (m *mockUnitRepo) FindChoice(ctx context.Context, unitID int64, text string) (*model.Choice, error) {
	args := m.Called(ctx, unitID, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Choice), args.Error(1)
}

func (m *mockUnitRepo) FindChoiceByID(ctx context.Context, id int64) (*model.Choice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Choice), args.Error(1)
}

func (m *mockUnitRepo) FindChoices(ctx context.Context, unitID int64) ([]model.Choice, error) {
	args := m.Called(ctx, unitID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Choice), args.Error(1)
}

func (m *mockUnitRepo) GetOrCreateChoice(ctx context.Context, unitID int64, text string) (*model.Choice, error) {
	args := m.Called(ctx, unitID, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Choice), args.Error(1)
}

type mockFilterRepo struct {
	mock.Mock
}

func (m *mockFilterRepo) Upsert(ctx context.Context, params model.UpsertFilterParams) (*model.EditableFilter, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.EditableFilter), args.Error(1)
}

func (m *mockFilterRepo) FindBySlug(ctx context.Context, slug string) (*model.EditableFilter, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.EditableFilter), args.Error(1)
}

func (m *mockFilterRepo) FindBySlugs(ctx context.Context, slugs []string) ([]model.EditableFilter, error) {
	args := m.Called(ctx, slugs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.EditableFilter), args.Error(1)
}

func (m *mockFilterRepo) FindAll(ctx context.Context, limit, offset int) ([]model.EditableFilter, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.EditableFilter), args.Error(1)
}

func (m *mockFilterRepo) Delete(ctx context.Context, slug string) (int64, error) {
	args := m.Called(ctx, slug)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockFilterRepo) WithTx(tx *sqlx.Tx) repository.FilterRepository {
	return m
}

type mockMatrixRepo struct {
	mock.Mock
}

func (m *mockMatrixRepo) Upsert(ctx context.Context, params model.UpsertMatrixParams) (*model.Matrix, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Matrix), args.Error(1)
}

func (m *mockMatrixRepo) FindBySlug(ctx context.Context, slug string) (*model.Matrix, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Matrix), args.Error(1)
}

func (m *mockMatrixRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Matrix, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Matrix), args.Error(1)
}

func (m *mockMatrixRepo) Delete(ctx context.Context, slug string) (int64, error) {
	args := m.Called(ctx, slug)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMatrixRepo) WithTx(tx *sqlx.Tx) repository.MatrixRepository {
	return m
}
