package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound maps sql.ErrNoRows onto a nil result so Find* methods can
// report a missing row without raising an error. Repositories pass the
// scanned value and the query error straight through:
//
//	var sample model.Sample
//	err := r.db.GetContext(ctx, &sample, query, slug)
//	return HandleNotFound(&sample, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
