package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tallyhq/survey-server-go/internal/model"
)

type MatrixRepository interface {
	// Upsert replaces the matrix's cohort set wholesale. Slugs referencing
	// missing filters fail the statement.
	Upsert(ctx context.Context, params model.UpsertMatrixParams) (*model.Matrix, error)
	FindBySlug(ctx context.Context, slug string) (*model.Matrix, error)
	FindAll(ctx context.Context, limit, offset int) ([]model.Matrix, error)
	Delete(ctx context.Context, slug string) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) MatrixRepository
}

type matrixRepo struct {
	db sqlxDB
}

func NewMatrixRepository(db *sqlx.DB) MatrixRepository {
	return &matrixRepo{db: db}
}

func (r *matrixRepo) WithTx(tx *sqlx.Tx) MatrixRepository {
	return &matrixRepo{db: tx}
}

func (r *matrixRepo) Upsert(ctx context.Context, params model.UpsertMatrixParams) (*model.Matrix, error) {
	var m model.Matrix
	err := r.db.GetContext(ctx, &m, `
		INSERT INTO matrices (slug, title, metric_id)
		VALUES ($1, $2, (SELECT id FROM editable_filters WHERE slug = $3))
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			metric_id = EXCLUDED.metric_id
		RETURNING *
	`, params.Slug, params.Title, params.MetricSlug)
	if err != nil {
		return nil, err
	}

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM matrix_cohorts WHERE matrix_id = $1
	`, m.ID); err != nil {
		return nil, err
	}
	for _, slug := range params.CohortSlugs {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO matrix_cohorts (matrix_id, filter_id)
			VALUES ($1, (SELECT id FROM editable_filters WHERE slug = $2))
		`, m.ID, slug); err != nil {
			return nil, err
		}
	}
	if err := r.loadFilters(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *matrixRepo) FindBySlug(ctx context.Context, slug string) (*model.Matrix, error) {
	var m model.Matrix
	err := r.db.GetContext(ctx, &m, `
		SELECT * FROM matrices WHERE slug = $1
	`, slug)
	if found, err := HandleNotFound(&m, err); found == nil || err != nil {
		return nil, err
	}
	if err := r.loadFilters(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *matrixRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Matrix, error) {
	var matrices []model.Matrix
	err := r.db.SelectContext(ctx, &matrices, `
		SELECT * FROM matrices
		ORDER BY slug ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range matrices {
		if err := r.loadFilters(ctx, &matrices[i]); err != nil {
			return nil, err
		}
	}
	return matrices, nil
}

func (r *matrixRepo) Delete(ctx context.Context, slug string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM matrices WHERE slug = $1
	`, slug)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *matrixRepo) loadFilters(ctx context.Context, m *model.Matrix) error {
	if m.MetricID != nil {
		var metric model.EditableFilter
		err := r.db.GetContext(ctx, &metric, `
			SELECT * FROM editable_filters WHERE id = $1
		`, *m.MetricID)
		if err != nil {
			return err
		}
		if err := r.loadPredicates(ctx, &metric); err != nil {
			return err
		}
		m.Metric = &metric
	}

	if err := r.db.SelectContext(ctx, &m.Cohorts, `
		SELECT f.* FROM editable_filters f
		JOIN matrix_cohorts mc ON mc.filter_id = f.id
		WHERE mc.matrix_id = $1
		ORDER BY f.slug ASC
	`, m.ID); err != nil {
		return err
	}
	for i := range m.Cohorts {
		if err := r.loadPredicates(ctx, &m.Cohorts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *matrixRepo) loadPredicates(ctx context.Context, f *model.EditableFilter) error {
	return r.db.SelectContext(ctx, &f.Predicates, `
		SELECT * FROM editable_predicates
		WHERE filter_id = $1
		ORDER BY rank ASC
	`, f.ID)
}
