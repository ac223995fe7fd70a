package model

import (
	"time"
)

// MeasuredMaxValue is the largest measure storable in the answers table.
// Overflowing measures are rescaled through a unit equivalence or rejected.
const MeasuredMaxValue = int64(1) << 31

// Sample is one measurement session for one account, optionally tied to a
// campaign. It is the unit of snapshot for access control: once frozen its
// answers are immutable and a new sample must be created instead.
type Sample struct {
	ID         int64     `db:"id" json:"-"`
	Slug       string    `db:"slug" json:"slug"`
	AccountID  string    `db:"account_id" json:"-"`
	CampaignID *int64    `db:"campaign_id" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
	IsFrozen   bool      `db:"is_frozen" json:"isFrozen"`
	Extra      *string   `db:"extra" json:"extra,omitempty"`
}

type CreateSampleParams struct {
	Slug       string
	AccountID  string
	CampaignID *int64
	Extra      *string
}

// Answer is a single measured data point within a sample.
//
// CreatedAt is the date the measurement pertains to, which can differ from
// the sample's creation date for baseline-anchored time series. Measured
// holds either the number (numerical systems) or a choice id (enumerated,
// freetext, datetime systems).
type Answer struct {
	ID            int64     `db:"id" json:"-"`
	SampleID      int64     `db:"sample_id" json:"-"`
	QuestionID    int64     `db:"question_id" json:"-"`
	UnitID        int64     `db:"unit_id" json:"-"`
	Measured      int64     `db:"measured" json:"measured"`
	Denominator   int64     `db:"denominator" json:"denominator"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	CollectedByID *string   `db:"collected_by_id" json:"-"`
}

type UpsertAnswerParams struct {
	SampleID      int64
	QuestionID    int64
	UnitID        int64
	Measured      int64
	Denominator   int64
	CreatedAt     time.Time
	CollectedByID *string
}

// AnswerCollected preserves the datapoint as collected when it was converted
// to the question's default unit before storage.
type AnswerCollected struct {
	ID        int64  `db:"id" json:"-"`
	AnswerID  int64  `db:"answer_id" json:"-"`
	UnitID    int64  `db:"unit_id" json:"-"`
	Collected string `db:"collected" json:"collected"`
}

// Datapoint is a measurement as submitted by a caller, before unit
// resolution and conversion.
type Datapoint struct {
	Measured    string     `json:"measured"`
	Unit        string     `json:"unit,omitempty"`
	Denominator *int64     `json:"denominator,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// AnswerRow is an answer joined with its question and account for scoring
// and display.
type AnswerRow struct {
	Answer
	QuestionPath  string  `db:"question_path"`
	QuestionRank  int     `db:"question_rank"`
	CorrectAnswer *string `db:"correct_answer"`
	AccountSlug   string  `db:"account_slug"`
	MeasuredText  string  `db:"measured_text"`
}
