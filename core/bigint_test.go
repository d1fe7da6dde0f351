package core

import (
	"encoding/json"
	"testing"
)

func TestBigIntArithmetic(t *testing.T) {
	a := MustParseBigInt("1000000000000000000000")
	b := NewBigInt(250)

	if got := a.Add(b).String(); got != "1000000000000000000250" {
		t.Fatalf("Add: got %s", got)
	}
	if got := a.Sub(b).String(); got != "999999999999999999750" {
		t.Fatalf("Sub: got %s", got)
	}
	if got := NewBigInt(3).Mul(4).String(); got != "12" {
		t.Fatalf("Mul: got %s", got)
	}
	if NewBigInt(5).Cmp(NewBigInt(3)) <= 0 {
		t.Fatal("Cmp: expected 5 > 3")
	}
	if !NewBigInt(-1).IsNegative() {
		t.Fatal("IsNegative: expected true for -1")
	}
	if NewBigInt(0).IsNegative() {
		t.Fatal("IsNegative: expected false for 0")
	}
}

func TestBigIntClone(t *testing.T) {
	a := NewBigInt(10)
	b := a.Clone()
	b.v.SetInt64(20)
	if a.String() != "10" {
		t.Fatalf("Clone shared state: a changed to %s", a.String())
	}
}

func TestBigIntJSONRoundTrip(t *testing.T) {
	orig := MustParseBigInt("123456789012345678901234567890")
	raw, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(raw) != `"123456789012345678901234567890"` {
		t.Fatalf("unexpected wire form: %s", raw)
	}

	var decoded BigInt
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Cmp(orig) != 0 {
		t.Fatalf("round-trip mismatch: got %s, want %s", decoded.String(), orig.String())
	}
}

func TestBigIntUnmarshalBareNumber(t *testing.T) {
	var decoded BigInt
	if err := json.Unmarshal([]byte(`42`), &decoded); err != nil {
		t.Fatalf("Unmarshal bare number: %v", err)
	}
	if decoded.String() != "42" {
		t.Fatalf("got %s, want 42", decoded.String())
	}
}

func TestParseBigIntRejectsGarbage(t *testing.T) {
	if _, err := ParseBigInt("not-a-number"); err == nil {
		t.Fatal("expected error for malformed decimal literal")
	}
}

func TestNilBigIntIntIsZero(t *testing.T) {
	var b *BigInt
	if b.Int().Sign() != 0 {
		t.Fatal("nil BigInt.Int() should behave as zero")
	}
}
