package core

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// BigInt wraps math/big.Int with decimal-string JSON marshaling, the
// wire/persistence representation spec.md §9 mandates for balances,
// fees, and vote weights.
type BigInt struct {
	v *big.Int
}

// NewBigInt wraps an int64 value.
func NewBigInt(v int64) *BigInt {
	return &BigInt{v: big.NewInt(v)}
}

// ParseBigInt parses a decimal string into a BigInt.
func ParseBigInt(s string) (*BigInt, error) {
	if s == "" {
		return NewBigInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal integer %q", s)
	}
	return &BigInt{v: v}, nil
}

// MustParseBigInt is ParseBigInt, panicking on malformed literals; only
// for constants known at compile time.
func MustParseBigInt(s string) *BigInt {
	b, err := ParseBigInt(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Int returns the underlying *big.Int, never nil.
func (b *BigInt) Int() *big.Int {
	if b == nil || b.v == nil {
		return big.NewInt(0)
	}
	return b.v
}

// Clone returns an independent copy.
func (b *BigInt) Clone() *BigInt {
	return &BigInt{v: new(big.Int).Set(b.Int())}
}

// String renders the decimal form.
func (b *BigInt) String() string {
	return b.Int().String()
}

// Add returns a new BigInt holding b+other.
func (b *BigInt) Add(other *BigInt) *BigInt {
	return &BigInt{v: new(big.Int).Add(b.Int(), other.Int())}
}

// Sub returns a new BigInt holding b-other.
func (b *BigInt) Sub(other *BigInt) *BigInt {
	return &BigInt{v: new(big.Int).Sub(b.Int(), other.Int())}
}

// Mul returns a new BigInt holding b*n, for scaling a per-unit fee by a
// member/participant count (spec.md §4.2 multisig fee surcharges).
func (b *BigInt) Mul(n int) *BigInt {
	return &BigInt{v: new(big.Int).Mul(b.Int(), big.NewInt(int64(n)))}
}

// Cmp compares b to other (-1, 0, 1).
func (b *BigInt) Cmp(other *BigInt) int {
	return b.Int().Cmp(other.Int())
}

// Sign returns -1, 0, or 1.
func (b *BigInt) Sign() int {
	return b.Int().Sign()
}

// IsNegative reports whether b < 0.
func (b *BigInt) IsNegative() bool {
	return b.Sign() < 0
}

// MarshalJSON renders b as a JSON string of its decimal form.
func (b *BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON parses a JSON decimal string (or bare number) into b.
func (b *BigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return err
		}
		s = n.String()
	}
	parsed, err := ParseBigInt(s)
	if err != nil {
		return err
	}
	*b = *parsed
	return nil
}
