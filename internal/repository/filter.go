package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tallyhq/survey-server-go/internal/model"
)

type FilterRepository interface {
	// Upsert replaces the filter's predicate pipeline wholesale. Predicate
	// ranks are reassigned from list position.
	Upsert(ctx context.Context, params model.UpsertFilterParams) (*model.EditableFilter, error)
	FindBySlug(ctx context.Context, slug string) (*model.EditableFilter, error)
	FindBySlugs(ctx context.Context, slugs []string) ([]model.EditableFilter, error)
	FindAll(ctx context.Context, limit, offset int) ([]model.EditableFilter, error)
	Delete(ctx context.Context, slug string) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) FilterRepository
}

type filterRepo struct {
	db sqlxDB
}

func NewFilterRepository(db *sqlx.DB) FilterRepository {
	return &filterRepo{db: db}
}

func (r *filterRepo) WithTx(tx *sqlx.Tx) FilterRepository {
	return &filterRepo{db: tx}
}

func (r *filterRepo) Upsert(ctx context.Context, params model.UpsertFilterParams) (*model.EditableFilter, error) {
	var f model.EditableFilter
	err := r.db.GetContext(ctx, &f, `
		INSERT INTO editable_filters (slug, title, tags)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			tags = EXCLUDED.tags,
			updated_at = NOW()
		RETURNING *
	`, params.Slug, params.Title, params.Tags)
	if err != nil {
		return nil, err
	}

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM editable_predicates WHERE filter_id = $1
	`, f.ID); err != nil {
		return nil, err
	}

	for i, p := range params.Predicates {
		var row model.EditablePredicate
		err := r.db.GetContext(ctx, &row, `
			INSERT INTO editable_predicates
				(filter_id, rank, operator, operand, field, selector)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		`, f.ID, i+1, p.Operator, p.Operand, p.Field, p.Selector)
		if err != nil {
			return nil, err
		}
		f.Predicates = append(f.Predicates, row)
	}
	return &f, nil
}

func (r *filterRepo) FindBySlug(ctx context.Context, slug string) (*model.EditableFilter, error) {
	var f model.EditableFilter
	err := r.db.GetContext(ctx, &f, `
		SELECT * FROM editable_filters WHERE slug = $1
	`, slug)
	if found, err := HandleNotFound(&f, err); found == nil || err != nil {
		return nil, err
	}
	if err := r.loadPredicates(ctx, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *filterRepo) FindBySlugs(ctx context.Context, slugs []string) ([]model.EditableFilter, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT * FROM editable_filters WHERE slug IN (?) ORDER BY slug ASC
	`, slugs)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var filters []model.EditableFilter
	if err := r.db.SelectContext(ctx, &filters, query, args...); err != nil {
		return nil, err
	}
	for i := range filters {
		if err := r.loadPredicates(ctx, &filters[i]); err != nil {
			return nil, err
		}
	}
	return filters, nil
}

func (r *filterRepo) FindAll(ctx context.Context, limit, offset int) ([]model.EditableFilter, error) {
	var filters []model.EditableFilter
	err := r.db.SelectContext(ctx, &filters, `
		SELECT * FROM editable_filters
		ORDER BY slug ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range filters {
		if err := r.loadPredicates(ctx, &filters[i]); err != nil {
			return nil, err
		}
	}
	return filters, nil
}

func (r *filterRepo) Delete(ctx context.Context, slug string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM editable_filters WHERE slug = $1
	`, slug)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *filterRepo) loadPredicates(ctx context.Context, f *model.EditableFilter) error {
	return r.db.SelectContext(ctx, &f.Predicates, `
		SELECT * FROM editable_predicates
		WHERE filter_id = $1
		ORDER BY rank ASC
	`, f.ID)
}
