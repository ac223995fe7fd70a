package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tallyhq/survey-server-go/internal/model"
)

type AnswerRepository interface {
	// Upsert writes or replaces the answer for (sample, question). Frozen
	// samples are guarded at the service layer.
	Upsert(ctx context.Context, params model.UpsertAnswerParams) (*model.Answer, error)
	FindBySample(ctx context.Context, sampleID int64) ([]model.Answer, error)
	Find(ctx context.Context, sampleID, questionID int64) (*model.Answer, error)
	// DeleteForQuestion removes the single answer for (sample, question).
	// Returns rows deleted: zero when the question was never answered.
	DeleteForQuestion(ctx context.Context, sampleID, questionID int64) (int64, error)
	DeleteBySample(ctx context.Context, sampleID int64) (int64, error)
	CountBySample(ctx context.Context, sampleID int64) (int, error)

	SaveCollected(ctx context.Context, answerID, unitID int64, collected string) error
	FindCollected(ctx context.Context, answerID int64) (*model.AnswerCollected, error)

	// FindRowsForQuestions returns answers on frozen samples for the given
	// questions, joined with question and account attributes for scoring.
	// Only the latest frozen sample per account counts.
	FindRowsForQuestions(ctx context.Context, questionIDs []int64) ([]model.AnswerRow, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AnswerRepository
}

type answerRepo struct {
	db sqlxDB
}

func NewAnswerRepository(db *sqlx.DB) AnswerRepository {
	return &answerRepo{db: db}
}

func (r *answerRepo) WithTx(tx *sqlx.Tx) AnswerRepository {
	return &answerRepo{db: tx}
}

func (r *answerRepo) Upsert(ctx context.Context, params model.UpsertAnswerParams) (*model.Answer, error) {
	var answer model.Answer
	err := r.db.GetContext(ctx, &answer, `
		INSERT INTO answers
			(sample_id, question_id, unit_id, measured, denominator, created_at, collected_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sample_id, question_id) DO UPDATE SET
			unit_id = EXCLUDED.unit_id,
			measured = EXCLUDED.measured,
			denominator = EXCLUDED.denominator,
			created_at = EXCLUDED.created_at,
			collected_by_id = EXCLUDED.collected_by_id
		RETURNING *
	`, params.SampleID, params.QuestionID, params.UnitID, params.Measured,
		params.Denominator, params.CreatedAt, params.CollectedByID)
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

func (r *answerRepo) FindBySample(ctx context.Context, sampleID int64) ([]model.Answer, error) {
	var answers []model.Answer
	err := r.db.SelectContext(ctx, &answers, `
		SELECT a.* FROM answers a
		JOIN questions q ON q.id = a.question_id
		WHERE a.sample_id = $1
		ORDER BY q.rank ASC, q.path ASC
	`, sampleID)
	return answers, err
}

func (r *answerRepo) Find(ctx context.Context, sampleID, questionID int64) (*model.Answer, error) {
	var answer model.Answer
	err := r.db.GetContext(ctx, &answer, `
		SELECT * FROM answers
		WHERE sample_id = $1 AND question_id = $2
	`, sampleID, questionID)
	return HandleNotFound(&answer, err)
}

func (r *answerRepo) DeleteForQuestion(ctx context.Context, sampleID, questionID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM answers WHERE sample_id = $1 AND question_id = $2
	`, sampleID, questionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *answerRepo) DeleteBySample(ctx context.Context, sampleID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM answers WHERE sample_id = $1
	`, sampleID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *answerRepo) CountBySample(ctx context.Context, sampleID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM answers WHERE sample_id = $1
	`, sampleID)
	return count, err
}

func (r *answerRepo) SaveCollected(ctx context.Context, answerID, unitID int64, collected string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO answers_collected (answer_id, unit_id, collected)
		VALUES ($1, $2, $3)
		ON CONFLICT (answer_id) DO UPDATE SET
			unit_id = EXCLUDED.unit_id,
			collected = EXCLUDED.collected
	`, answerID, unitID, collected)
	return err
}

func (r *answerRepo) FindCollected(ctx context.Context, answerID int64) (*model.AnswerCollected, error) {
	var collected model.AnswerCollected
	err := r.db.GetContext(ctx, &collected, `
		SELECT * FROM answers_collected WHERE answer_id = $1
	`, answerID)
	return HandleNotFound(&collected, err)
}

func (r *answerRepo) FindRowsForQuestions(ctx context.Context, questionIDs []int64) ([]model.AnswerRow, error) {
	if len(questionIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT a.*,
			q.path AS question_path,
			q.rank AS question_rank,
			q.correct_answer AS correct_answer,
			acc.slug AS account_slug,
			COALESCE(c.text, a.measured::text) AS measured_text
		FROM answers a
		JOIN questions q ON q.id = a.question_id
		JOIN samples s ON s.id = a.sample_id
		JOIN accounts acc ON acc.id = s.account_id
		LEFT JOIN choices c ON c.id = a.measured AND c.unit_id = a.unit_id
		WHERE a.question_id IN (?)
		  AND s.is_frozen = TRUE
		  AND s.created_at = (
			SELECT MAX(s2.created_at) FROM samples s2
			WHERE s2.account_id = s.account_id
			  AND s2.campaign_id IS NOT DISTINCT FROM s.campaign_id
			  AND s2.is_frozen = TRUE
		  )
		ORDER BY acc.slug ASC, q.rank ASC
	`, questionIDs)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var rows []model.AnswerRow
	err = r.db.SelectContext(ctx, &rows, query, args...)
	return rows, err
}
