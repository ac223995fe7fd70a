package model

import (
	"time"

	"github.com/tallyhq/survey-server-go/internal/filter"
)

// EditableFilter is a persisted, named predicate pipeline resolving to a
// subset of accounts (a cohort) or questions (a metric).
type EditableFilter struct {
	ID        int64     `db:"id" json:"-"`
	Slug      string    `db:"slug" json:"slug"`
	Title     string    `db:"title" json:"title"`
	Tags      string    `db:"tags" json:"tags"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	Predicates []EditablePredicate `db:"-" json:"predicates"`
}

// Pipeline converts the stored predicate rows, in rank order, into the
// filter engine's representation. Unknown operator or selector names map to
// the engine's explicit no-op variants.
func (f *EditableFilter) Pipeline() []filter.Predicate {
	preds := make([]filter.Predicate, 0, len(f.Predicates))
	for _, p := range f.Predicates {
		preds = append(preds, filter.Predicate{
			Operator: filter.ParseOperator(p.Operator),
			Operand:  p.Operand,
			Field:    p.Field,
			Selector: filter.ParseSelector(p.Selector),
		})
	}
	return preds
}

// EditablePredicate is one step of an editable filter. Operator, field and
// selector are stored as the free-form strings the filter builder UI sends;
// validation happens at evaluation time where unknown values are no-ops.
type EditablePredicate struct {
	ID       int64  `db:"id" json:"-"`
	FilterID int64  `db:"filter_id" json:"-"`
	Rank     int    `db:"rank" json:"rank"`
	Operator string `db:"operator" json:"operator"`
	Operand  string `db:"operand" json:"operand"`
	Field    string `db:"field" json:"field"`
	Selector string `db:"selector" json:"selector"`
}

type UpsertFilterParams struct {
	Slug       string
	Title      string
	Tags       string
	Predicates []EditablePredicate
}

// Matrix pairs a metric filter with a set of cohort filters for comparative
// scoring.
type Matrix struct {
	ID        int64     `db:"id" json:"-"`
	Slug      string    `db:"slug" json:"slug"`
	Title     string    `db:"title" json:"title"`
	MetricID  *int64    `db:"metric_id" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`

	Metric  *EditableFilter  `db:"-" json:"metric,omitempty"`
	Cohorts []EditableFilter `db:"-" json:"cohorts"`
}

type UpsertMatrixParams struct {
	Slug        string
	Title       string
	MetricSlug  *string
	CohortSlugs []string
}

// MatrixScores is the computed result for one matrix: a 0-100 score per
// cohort plus display aggregates.
type MatrixScores struct {
	Slug       string             `json:"slug"`
	Scores     map[string]float64 `json:"scores"`
	Aggregates map[string]float64 `json:"aggregates"`
	ComputedAt time.Time          `json:"computedAt"`
}
