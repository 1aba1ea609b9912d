package repository

import (
	"database/sql"

	"github.com/holiman/uint256"

	"interest-bank/internal/errors"
)

// NUMERIC(78,0) holds every uint256 value; amounts travel as decimal strings.

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse amount").WithDetails(err.Error())
	}
	return v, nil
}

func parseNullAmount(s sql.NullString) (*uint256.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	return parseAmount(s.String)
}

func nullAmount(v *uint256.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.Dec()
}
