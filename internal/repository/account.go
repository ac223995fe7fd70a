package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/tallyhq/survey-server-go/internal/model"
)

type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindBySlug(ctx context.Context, slug string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Account, error)
	FindAll(ctx context.Context, limit, offset int) ([]model.Account, error)
	Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error)
	// GetOrCreate resolves a ref to an existing account by slug or email,
	// creating a shell account when none exists.
	GetOrCreate(ctx context.Context, ref model.AccountRef) (*model.Account, error)
	Count(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AccountRepository
}

type accountRepo struct {
	db sqlxDB
}

// sqlxDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) WithTx(tx *sqlx.Tx) AccountRepository {
	return &accountRepo{db: tx}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindBySlug(ctx context.Context, slug string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE slug = $1
	`, slug)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts
		WHERE email = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, email)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts
		WHERE api_token_hash = $1 AND disabled_at IS NULL
	`, tokenHash)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (id, slug, full_name, email, api_token_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.ID, params.Slug, params.FullName, params.Email, params.APITokenHash)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) GetOrCreate(ctx context.Context, ref model.AccountRef) (*model.Account, error) {
	if ref.Slug != "" {
		var account model.Account
		err := r.db.GetContext(ctx, &account, `
			INSERT INTO accounts (id, slug, full_name, email)
			VALUES (gen_random_uuid(), $1, $2, $3)
			ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
			RETURNING *
		`, ref.Slug, ref.FullName, ref.Email)
		if err != nil {
			return nil, err
		}
		return &account, nil
	}

	// Email-only refs cannot upsert on slug; look up first, then create a
	// shell account slugged after the email local part.
	account, err := r.FindByEmail(ctx, *ref.Email)
	if err != nil || account != nil {
		return account, err
	}
	var created model.Account
	err = r.db.GetContext(ctx, &created, `
		INSERT INTO accounts (id, slug, full_name, email)
		VALUES (gen_random_uuid(), split_part($1, '@', 1), $2, $1)
		ON CONFLICT (slug) DO UPDATE SET email = EXCLUDED.email
		RETURNING *
	`, *ref.Email, ref.FullName)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *accountRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM accounts`)
	return count, err
}
