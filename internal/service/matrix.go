package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tallyhq/survey-server-go/internal/config"
	apperrors "github.com/tallyhq/survey-server-go/internal/errors"
	"github.com/tallyhq/survey-server-go/internal/filter"
	"github.com/tallyhq/survey-server-go/internal/model"
	redisclient "github.com/tallyhq/survey-server-go/internal/redis"
	"github.com/tallyhq/survey-server-go/internal/repository"
)

// Display aggregates attached to every score set.
const (
	AggregateAverage = "Average"
	AggregateGoal    = "Goal 75%"
	goalScore        = 75.0
)

// MatrixService manages editable filters and benchmark matrices, and
// computes cohort scores from frozen answers.
type MatrixService struct {
	filters   repository.FilterRepository
	matrices  repository.MatrixRepository
	accounts  repository.AccountRepository
	campaigns repository.CampaignRepository
	answers   repository.AnswerRepository
	redis     *redisclient.Client
	cfg       *config.Config
}

func NewMatrixService(
	filters repository.FilterRepository,
	matrices repository.MatrixRepository,
	accounts repository.AccountRepository,
	campaigns repository.CampaignRepository,
	answers repository.AnswerRepository,
	redisClient *redisclient.Client,
	cfg *config.Config,
) *MatrixService {
	return &MatrixService{
		filters:   filters,
		matrices:  matrices,
		accounts:  accounts,
		campaigns: campaigns,
		answers:   answers,
		redis:     redisClient,
		cfg:       cfg,
	}
}

// UpsertFilter saves a named predicate pipeline. Unknown operator or
// selector names are stored as-is; they evaluate as no-ops.
func (s *MatrixService) UpsertFilter(ctx context.Context, params model.UpsertFilterParams) (*model.EditableFilter, error) {
	if params.Slug == "" {
		return nil, apperrors.MissingRequired("slug")
	}
	f, err := s.filters.Upsert(ctx, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	s.invalidateScores(ctx)
	return f, nil
}

func (s *MatrixService) GetFilter(ctx context.Context, slug string) (*model.EditableFilter, error) {
	f, err := s.filters.FindBySlug(ctx, slug)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if f == nil {
		return nil, apperrors.NotFound("Filter")
	}
	return f, nil
}

func (s *MatrixService) ListFilters(ctx context.Context, limit, offset int) ([]model.EditableFilter, error) {
	filters, err := s.filters.FindAll(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return filters, nil
}

func (s *MatrixService) DeleteFilter(ctx context.Context, slug string) error {
	n, err := s.filters.Delete(ctx, slug)
	if err != nil {
		return apperrors.Database(err)
	}
	if n == 0 {
		return apperrors.NotFound("Filter")
	}
	s.invalidateScores(ctx)
	return nil
}

// UpsertMatrix saves a matrix referencing previously saved filters by slug.
func (s *MatrixService) UpsertMatrix(ctx context.Context, params model.UpsertMatrixParams) (*model.Matrix, error) {
	if params.Slug == "" {
		return nil, apperrors.MissingRequired("slug")
	}
	if params.MetricSlug != nil {
		if _, err := s.GetFilter(ctx, *params.MetricSlug); err != nil {
			return nil, err
		}
	}
	for _, cohortSlug := range params.CohortSlugs {
		if _, err := s.GetFilter(ctx, cohortSlug); err != nil {
			return nil, err
		}
	}
	m, err := s.matrices.Upsert(ctx, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	s.dropCachedScores(ctx, m.Slug)
	return m, nil
}

func (s *MatrixService) GetMatrix(ctx context.Context, slug string) (*model.Matrix, error) {
	m, err := s.matrices.FindBySlug(ctx, slug)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if m == nil {
		return nil, apperrors.NotFound("Matrix")
	}
	return m, nil
}

func (s *MatrixService) ListMatrices(ctx context.Context, limit, offset int) ([]model.Matrix, error) {
	matrices, err := s.matrices.FindAll(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return matrices, nil
}

func (s *MatrixService) DeleteMatrix(ctx context.Context, slug string) error {
	n, err := s.matrices.Delete(ctx, slug)
	if err != nil {
		return apperrors.Database(err)
	}
	if n == 0 {
		return apperrors.NotFound("Matrix")
	}
	s.dropCachedScores(ctx, slug)
	return nil
}

// Scores computes one 0-100 score per cohort: the share of the cohort's
// answers on the metric's questions that match the questions' correct
// answers. Results are cached in redis for the configured TTL.
func (s *MatrixService) Scores(ctx context.Context, slug string) (*model.MatrixScores, error) {
	if cached := s.cachedScores(ctx, slug); cached != nil {
		return cached, nil
	}

	m, err := s.GetMatrix(ctx, slug)
	if err != nil {
		return nil, err
	}

	questions, err := s.metricQuestions(ctx, m)
	if err != nil {
		return nil, err
	}

	rows, err := s.answerRows(ctx, questions)
	if err != nil {
		return nil, err
	}

	allAccounts, err := s.accounts.FindAll(ctx, 10000, 0)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	scores := &model.MatrixScores{
		Slug:       m.Slug,
		Scores:     make(map[string]float64, len(m.Cohorts)),
		Aggregates: map[string]float64{AggregateGoal: goalScore},
		ComputedAt: time.Now(),
	}

	var sum float64
	for i := range m.Cohorts {
		cohort := &m.Cohorts[i]
		members := filter.Evaluate(allAccounts, cohort.Pipeline(), accountField)
		score := scoreCohort(members, rows)
		scores.Scores[cohort.Slug] = score
		sum += score
	}
	if len(m.Cohorts) > 0 {
		scores.Aggregates[AggregateAverage] = sum / float64(len(m.Cohorts))
	} else {
		scores.Aggregates[AggregateAverage] = 0
	}

	s.cacheScores(ctx, scores)
	return scores, nil
}

// scoreCohort counts correct over matching answers for the cohort's member
// accounts. An empty denominator yields zero, not a division error.
func scoreCohort(members []model.Account, rows []model.AnswerRow) float64 {
	inCohort := make(map[string]bool, len(members))
	for _, a := range members {
		inCohort[a.Slug] = true
	}

	var matching, correct int
	for _, row := range rows {
		if !inCohort[row.AccountSlug] {
			continue
		}
		matching++
		if row.CorrectAnswer != nil && row.MeasuredText == *row.CorrectAnswer {
			correct++
		}
	}
	if matching == 0 {
		return 0
	}
	return float64(correct) * 100 / float64(matching)
}

// metricQuestions resolves the matrix's metric pipeline over the question
// catalog. A matrix without a metric scores over every question.
func (s *MatrixService) metricQuestions(ctx context.Context, m *model.Matrix) ([]model.Question, error) {
	questions, err := s.campaigns.FindAllQuestions(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if m.Metric == nil {
		return questions, nil
	}
	return filter.Evaluate(questions, m.Metric.Pipeline(), questionField), nil
}

func (s *MatrixService) answerRows(ctx context.Context, questions []model.Question) ([]model.AnswerRow, error) {
	ids := make([]int64, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	rows, err := s.answers.FindRowsForQuestions(ctx, ids)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return rows, nil
}

// accountField exposes the attributes cohort predicates can compare.
func accountField(a model.Account, field string) string {
	switch field {
	case "slug":
		return a.Slug
	case "fullName", "full_name":
		return a.FullName
	case "email":
		if a.Email != nil {
			return *a.Email
		}
	}
	return ""
}

// questionField exposes the attributes metric predicates can compare.
func questionField(q model.Question, field string) string {
	switch field {
	case "path":
		return q.Path
	case "text":
		return q.Text
	case "rank":
		return strconv.Itoa(q.Rank)
	}
	return ""
}

func (s *MatrixService) cachedScores(ctx context.Context, slug string) *model.MatrixScores {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, redisclient.MatrixScoresKey(slug)).Result()
	if err != nil {
		if err != goredis.Nil {
			log.Warn().Err(err).Str("matrix", slug).Msg("read cached matrix scores")
		}
		return nil
	}
	var scores model.MatrixScores
	if err := json.Unmarshal([]byte(data), &scores); err != nil {
		return nil
	}
	return &scores
}

func (s *MatrixService) cacheScores(ctx context.Context, scores *model.MatrixScores) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(scores)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, redisclient.MatrixScoresKey(scores.Slug),
		data, s.cfg.MatrixCacheTTL()).Err(); err != nil {
		log.Warn().Err(err).Str("matrix", scores.Slug).Msg("cache matrix scores")
	}
}

func (s *MatrixService) dropCachedScores(ctx context.Context, slug string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, redisclient.MatrixScoresKey(slug)).Err(); err != nil {
		log.Warn().Err(err).Str("matrix", slug).Msg("drop cached matrix scores")
	}
}

// invalidateScores drops every cached score set. Filter edits can affect any
// matrix through shared cohorts.
func (s *MatrixService) invalidateScores(ctx context.Context) {
	if s.redis == nil {
		return
	}
	iter := s.redis.Scan(ctx, 0, redisclient.MatrixScoresKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
			log.Warn().Err(err).Msg("invalidate matrix score cache")
		}
	}
}
