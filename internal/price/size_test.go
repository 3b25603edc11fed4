package price

import "testing"

func TestSizeTruncatesToTwoPlaces(t *testing.T) {
	if !SizeOf(10.001).Equal(SizeOf(10.00)) {
		t.Fatalf("expected 10.001 to truncate to 10.00, got %v", SizeOf(10.001))
	}
	if !SizeOf(0.999).Equal(SizeOf(0.99)) {
		t.Fatalf("expected 0.999 to truncate to 0.99, got %v", SizeOf(0.999))
	}
}

func TestSizeClampsNegative(t *testing.T) {
	if !SizeOf(-9.99).Equal(SizeOf(0)) {
		t.Fatalf("expected negative size to clamp to zero, got %v", SizeOf(-9.99))
	}
}

func TestSizeArithmetic(t *testing.T) {
	a, b := SizeOf(10.50), SizeOf(0.25)
	if got := a.Add(b); !got.Equal(SizeOf(10.75)) {
		t.Fatalf("Add = %v, want 10.75", got)
	}
	if got := a.Sub(b); !got.Equal(SizeOf(10.25)) {
		t.Fatalf("Sub = %v, want 10.25", got)
	}
	if got := b.Sub(a); !got.IsZero() {
		t.Fatalf("Sub below zero should clamp, got %v", got)
	}
	if got := SizeOf(10).Mul(0.333); !got.Equal(SizeOf(3.33)) {
		t.Fatalf("Mul = %v, want 3.33", got)
	}
	if got := SizeOf(10).Div(3); !got.Equal(SizeOf(3.33)) {
		t.Fatalf("Div = %v, want 3.33", got)
	}
}

func TestSizeString(t *testing.T) {
	if s := SizeOf(5).String(); s != "5.00" {
		t.Fatalf("String = %q, want 5.00", s)
	}
}
