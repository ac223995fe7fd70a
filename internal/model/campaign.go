package model

import (
	"time"
)

// Campaign is a named collection of questions. Once a frozen sample
// references a campaign only its activation flags may change.
type Campaign struct {
	ID          int64     `db:"id" json:"-"`
	Slug        string    `db:"slug" json:"slug"`
	Title       string    `db:"title" json:"title"`
	Description *string   `db:"description" json:"description,omitempty"`
	AccountID   *string   `db:"account_id" json:"-"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	IsCommons   bool      `db:"is_commons" json:"isCommons"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

type CreateCampaignParams struct {
	Slug        string
	Title       string
	Description *string
	AccountID   *string
	IsActive    bool
	IsCommons   bool
}

// UpdateCampaignFlagsParams carries the only fields that stay mutable after
// samples reference the campaign.
type UpdateCampaignFlagsParams struct {
	IsActive  *bool
	IsCommons *bool
}

// Question belongs to a campaign. Immutable after creation except for
// metadata edits (text, correct answer).
type Question struct {
	ID            int64     `db:"id" json:"-"`
	CampaignID    int64     `db:"campaign_id" json:"-"`
	Path          string    `db:"path" json:"path"`
	Text          string    `db:"text" json:"text"`
	DefaultUnitID int64     `db:"default_unit_id" json:"-"`
	CorrectAnswer *string   `db:"correct_answer" json:"correctAnswer,omitempty"`
	Rank          int       `db:"rank" json:"rank"`
	Required      bool      `db:"required" json:"required"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

type CreateQuestionParams struct {
	CampaignID    int64
	Path          string
	Text          string
	DefaultUnitID int64
	CorrectAnswer *string
	Rank          int
	Required      bool
}
