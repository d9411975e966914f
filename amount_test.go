package claimsend

import (
	"math"
	"testing"

	"github.com/iov-one/claimsend/claimtest/assert"
	"github.com/iov-one/claimsend/errors"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]struct {
		input    string
		decimals int32
		want     Amount
		wantErr  *errors.Error
	}{
		"whole units":                {input: "5", decimals: 6, want: 5000000},
		"fraction is exact":          {input: "19.99", decimals: 6, want: 19990000},
		"smallest unit":              {input: "0.000001", decimals: 6, want: 1},
		"zero decimals":              {input: "42", decimals: 0, want: 42},
		"trailing zeros are fine":    {input: "1.500000000", decimals: 6, want: 1500000},
		"too precise":                {input: "0.0000001", decimals: 6, wantErr: errors.ErrInvalidAmount},
		"negative":                   {input: "-1", decimals: 6, wantErr: errors.ErrInvalidAmount},
		"not a number":               {input: "ten", decimals: 6, wantErr: errors.ErrInvalidAmount},
		"overflow":                   {input: "18446744073709551616", decimals: 0, wantErr: errors.ErrInvalidAmount},
		"max value":                  {input: "18446744073709551615", decimals: 0, want: math.MaxUint64},
		"zero parses, caller checks": {input: "0", decimals: 6, want: 0},
	}
	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			got, err := ParseAmount(tc.input, tc.decimals)
			if !tc.wantErr.Is(err) {
				t.Fatalf("want %v error, got %+v", tc.wantErr, err)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAmountFormat(t *testing.T) {
	assert.Equal(t, "19.99", Amount(19990000).Format(6))
	assert.Equal(t, "5", Amount(5000000).Format(6))
	assert.Equal(t, "0.000001", Amount(1).Format(6))
	assert.Equal(t, "19990000", Amount(19990000).String())

	// formatting and parsing must not drift
	for _, a := range []Amount{1, 19989999, 19990000, 19990001, math.MaxUint64} {
		back, err := ParseAmount(a.Format(6), 6)
		assert.Nil(t, err)
		assert.Equal(t, a, back)
	}
}

func TestAmountArithmetic(t *testing.T) {
	sum, err := Amount(2).Add(3)
	assert.Nil(t, err)
	assert.Equal(t, Amount(5), sum)

	_, err = Amount(math.MaxUint64).Add(1)
	assert.IsErr(t, errors.ErrInvalidAmount, err)

	diff, err := Amount(5).Sub(5)
	assert.Nil(t, err)
	assert.Equal(t, Amount(0), diff)

	_, err = Amount(4).Sub(5)
	assert.IsErr(t, errors.ErrInsufficientBalance, err)
}
