package model

import (
	"time"
)

// Portfolio records that answers from an account have been shared with a
// grantee, optionally restricted to one campaign.
//
// EndsAt bounds which frozen samples the grantee can see: samples created
// before EndsAt are visible. A nil EndsAt means the grant is open-ended and
// tracks the latest frozen sample. EndsAt only ever moves forward; a new
// grant cycle is the only way to renew an expired window.
type Portfolio struct {
	ID         int64      `db:"id" json:"-"`
	AccountID  string     `db:"account_id" json:"-"`
	GranteeID  string     `db:"grantee_id" json:"-"`
	CampaignID *int64     `db:"campaign_id" json:"-"`
	EndsAt     *time.Time `db:"ends_at" json:"endsAt,omitempty"`
	Extra      *string    `db:"extra" json:"extra,omitempty"`
}

// Covers reports whether a frozen sample created at the given time falls
// inside the grant's validity window.
func (p *Portfolio) Covers(sampleCreatedAt time.Time) bool {
	if p.EndsAt == nil {
		return true
	}
	return sampleCreatedAt.Before(*p.EndsAt)
}

type UpsertPortfolioParams struct {
	AccountID  string
	GranteeID  string
	CampaignID *int64
	EndsAt     *time.Time
	Extra      *string
}

// PortfolioDoubleOptIn is the negotiation record for one grant or request.
//
// The verification key is a single-use bearer capability: it exists exactly
// while the opt-in awaits an accept or deny decision and is cleared on every
// transition out of the initiated state.
type PortfolioDoubleOptIn struct {
	ID              int64      `db:"id" json:"-"`
	Kind            OptInKind  `db:"kind" json:"kind"`
	State           OptInState `db:"state" json:"state"`
	InitiatedByID   string     `db:"initiated_by_id" json:"-"`
	AccountID       string     `db:"account_id" json:"-"`
	GranteeID       string     `db:"grantee_id" json:"-"`
	CampaignID      *int64     `db:"campaign_id" json:"-"`
	VerificationKey *string    `db:"verification_key" json:"-"`
	Message         *string    `db:"message" json:"message,omitempty"`
	EndsAt          *time.Time `db:"ends_at" json:"endsAt,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
}

// IsPending reports whether the opt-in still awaits a decision.
func (o *PortfolioDoubleOptIn) IsPending() bool {
	return o.State == OptInStateInitiated
}

// DecidedBy returns the account expected to act on this opt-in: the grantee
// for a grant, the data-owning account for a request.
func (o *PortfolioDoubleOptIn) DecidedBy() string {
	if o.Kind == OptInKindGrant {
		return o.GranteeID
	}
	return o.AccountID
}

type CreateOptInParams struct {
	Kind            OptInKind
	InitiatedByID   string
	AccountID       string
	GranteeID       string
	CampaignID      *int64
	VerificationKey string
	Message         *string
	EndsAt          *time.Time
}
