package model

import (
	"time"
)

// Account is an external identity. It owns samples and is the subject and
// object of portfolio grants; this service references accounts, it does not
// own them.
type Account struct {
	ID           string     `db:"id" json:"-"`
	Slug         string     `db:"slug" json:"slug"`
	FullName     string     `db:"full_name" json:"fullName"`
	Email        *string    `db:"email" json:"email,omitempty"`
	APITokenHash *string    `db:"api_token_hash" json:"-"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	DisabledAt   *time.Time `db:"disabled_at" json:"disabledAt,omitempty"`
}

// HasContact reports whether the account can be reached for a double opt-in
// notification. An opt-in targeting an account with no slug and no email can
// never be accepted or denied.
func (a *Account) HasContact() bool {
	return a.Slug != "" || (a.Email != nil && *a.Email != "")
}

type CreateAccountParams struct {
	ID           string
	Slug         string
	FullName     string
	Email        *string
	APITokenHash *string
}

// AccountRef identifies an account that may not exist yet. Grant and request
// creation resolve refs with get-or-create semantics so data can be shared
// with accounts that have not signed up.
type AccountRef struct {
	Slug     string  `json:"slug"`
	Email    *string `json:"email,omitempty"`
	FullName string  `json:"fullName,omitempty"`
}

// HasContact mirrors Account.HasContact for not-yet-persisted refs.
func (r AccountRef) HasContact() bool {
	return r.Slug != "" || (r.Email != nil && *r.Email != "")
}
