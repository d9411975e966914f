package claimsend

import (
	"math"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/iov-one/claimsend/errors"
)

// Amount is a quantity of an asset counted in its smallest unit. It is never
// represented as a binary float: display values are converted with exact
// decimal arithmetic.
type Amount uint64

// IsPositive returns true if the amount is greater than zero.
func (a Amount) IsPositive() bool {
	return a > 0
}

// Add returns the sum, failing instead of wrapping around.
func (a Amount) Add(b Amount) (Amount, error) {
	if uint64(a) > math.MaxUint64-uint64(b) {
		return 0, errors.Wrapf(errors.ErrInvalidAmount, "%d + %d overflows", a, b)
	}
	return a + b, nil
}

// Sub returns the difference, failing if b is greater than a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b > a {
		return 0, errors.Wrapf(errors.ErrInsufficientBalance, "%d - %d is negative", a, b)
	}
	return a - b, nil
}

// Decimal returns the amount in whole units of an asset with the given number
// of decimal places.
func (a Amount) Decimal(decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -decimals)
}

// Format renders the amount in whole units, for example 19990000 with 6
// decimals is "19.99".
func (a Amount) Format(decimals int32) string {
	return a.Decimal(decimals).String()
}

// String returns the raw smallest unit count.
func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// ParseAmount converts a decimal string in whole units into smallest units.
// Values with more precision than the asset supports are rejected rather
// than rounded.
func ParseAmount(s string, decimals int32) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidAmount, "%q: %s", s, err)
	}
	if d.IsNegative() {
		return 0, errors.Wrapf(errors.ErrInvalidAmount, "%q is negative", s)
	}
	units := d.Shift(decimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, errors.Wrapf(errors.ErrInvalidAmount, "%q has more than %d decimal places", s, decimals)
	}
	n := units.BigInt()
	if !n.IsUint64() {
		return 0, errors.Wrapf(errors.ErrInvalidAmount, "%q out of range", s)
	}
	return Amount(n.Uint64()), nil
}
