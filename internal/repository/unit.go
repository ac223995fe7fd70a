package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tallyhq/survey-server-go/internal/model"
)

type UnitRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Unit, error)
	FindBySlug(ctx context.Context, slug string) (*model.Unit, error)
	FindAll(ctx context.Context) ([]model.Unit, error)
	// FindEquivalence returns the conversion row from source to target, or
	// nil when the units are not related.
	FindEquivalence(ctx context.Context, sourceID, targetID int64) (*model.UnitEquivalence, error)
	// FindScaledSiblings returns scale-only equivalences out of a unit,
	// ordered by ascending scale. Used to rescale overflowing measures.
	FindScaledSiblings(ctx context.Context, sourceID int64) ([]model.UnitEquivalence, error)

	FindChoice(ctx context.Context, unitID int64, text string) (*model.Choice, error)
	FindChoiceByID(ctx context.Context, id int64) (*model.Choice, error)
	FindChoices(ctx context.Context, unitID int64) ([]model.Choice, error)
	// GetOrCreateChoice materializes a choice row for freetext units.
	GetOrCreateChoice(ctx context.Context, unitID int64, text string) (*model.Choice, error)
}

type unitRepo struct {
	db sqlxDB
}

func NewUnitRepository(db *sqlx.DB) UnitRepository {
	return &unitRepo{db: db}
}

func (r *unitRepo) FindByID(ctx context.Context, id int64) (*model.Unit, error) {
	var unit model.Unit
	err := r.db.GetContext(ctx, &unit, `
		SELECT * FROM units WHERE id = $1
	`, id)
	return HandleNotFound(&unit, err)
}

func (r *unitRepo) FindBySlug(ctx context.Context, slug string) (*model.Unit, error) {
	var unit model.Unit
	err := r.db.GetContext(ctx, &unit, `
		SELECT * FROM units WHERE slug = $1
	`, slug)
	return HandleNotFound(&unit, err)
}

func (r *unitRepo) FindAll(ctx context.Context) ([]model.Unit, error) {
	var units []model.Unit
	err := r.db.SelectContext(ctx, &units, `
		SELECT * FROM units ORDER BY slug ASC
	`)
	return units, err
}

func (r *unitRepo) FindEquivalence(ctx context.Context, sourceID, targetID int64) (*model.UnitEquivalence, error) {
	var eq model.UnitEquivalence
	err := r.db.GetContext(ctx, &eq, `
		SELECT * FROM unit_equivalences
		WHERE source_id = $1 AND target_id = $2
	`, sourceID, targetID)
	return HandleNotFound(&eq, err)
}

func (r *unitRepo) FindScaledSiblings(ctx context.Context, sourceID int64) ([]model.UnitEquivalence, error) {
	var eqs []model.UnitEquivalence
	err := r.db.SelectContext(ctx, &eqs, `
		SELECT * FROM unit_equivalences
		WHERE source_id = $1 AND factor = 1
		ORDER BY scale ASC
	`, sourceID)
	return eqs, err
}

func (r *unitRepo) FindChoice(ctx context.Context, unitID int64, text string) (*model.Choice, error) {
	var choice model.Choice
	err := r.db.GetContext(ctx, &choice, `
		SELECT * FROM choices
		WHERE unit_id = $1 AND text = $2
	`, unitID, text)
	return HandleNotFound(&choice, err)
}

func (r *unitRepo) FindChoiceByID(ctx context.Context, id int64) (*model.Choice, error) {
	var choice model.Choice
	err := r.db.GetContext(ctx, &choice, `
		SELECT * FROM choices WHERE id = $1
	`, id)
	return HandleNotFound(&choice, err)
}

func (r *unitRepo) FindChoices(ctx context.Context, unitID int64) ([]model.Choice, error) {
	var choices []model.Choice
	err := r.db.SelectContext(ctx, &choices, `
		SELECT * FROM choices
		WHERE unit_id = $1
		ORDER BY rank ASC
	`, unitID)
	return choices, err
}

func (r *unitRepo) GetOrCreateChoice(ctx context.Context, unitID int64, text string) (*model.Choice, error) {
	var choice model.Choice
	err := r.db.GetContext(ctx, &choice, `
		INSERT INTO choices (unit_id, rank, text)
		VALUES ($1, (SELECT COALESCE(MAX(rank), 0) + 1 FROM choices WHERE unit_id = $1), $2)
		ON CONFLICT (unit_id, text) DO UPDATE SET text = EXCLUDED.text
		RETURNING *
	`, unitID, text)
	if err != nil {
		return nil, err
	}
	return &choice, nil
}
