package handler

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"interest-bank/internal/errors"
)

// maxAmountDigits is the decimal width of the largest uint256.
const maxAmountDigits = 78

// AmountCodec converts between decimal token units on the wire and base
// units in the ledger.
type AmountCodec struct {
	Decimals int32
}

// Parse reads a non-negative token amount such as "10" or "0.25".
func (c AmountCodec) Parse(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.ErrInvalidAmount.WithDetails("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error())
	}
	if d.IsNegative() {
		return nil, errors.ErrInvalidAmount.WithDetails("amount must not be negative")
	}

	if d.IsZero() {
		return new(uint256.Int), nil
	}

	// Bound the magnitude before materialising the integer; exponents reach
	// MaxInt32 and the value is coefficient * 10^scale.
	digits := int64(d.NumDigits())
	scale := int64(d.Exponent()) + int64(c.Decimals)
	if digits+scale > maxAmountDigits {
		return nil, errors.ErrInvalidAmount.WithDetails("amount out of range")
	}
	if digits+scale <= 0 {
		return nil, errors.ErrInvalidAmount.WithDetails(fmt.Sprintf("at most %d decimal places are supported", c.Decimals))
	}

	base := d.Shift(c.Decimals)
	if !base.Equal(base.Truncate(0)) {
		return nil, errors.ErrInvalidAmount.WithDetails(fmt.Sprintf("at most %d decimal places are supported", c.Decimals))
	}
	v, overflow := uint256.FromBig(base.BigInt())
	if overflow {
		return nil, errors.ErrInvalidAmount.WithDetails("amount out of range")
	}
	return v, nil
}

// Format renders base units as a token amount without trailing zeros.
func (c AmountCodec) Format(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -c.Decimals).String()
}
