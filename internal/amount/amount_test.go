package amount

import "testing"

func TestCheckRoundTripExact(t *testing.T) {
	intAmount, ok := CheckRoundTrip(0.00000001, 8)
	if !ok {
		t.Fatal("expected 0.00000001 at precision 8 to round-trip exactly")
	}
	if intAmount != 1 {
		t.Errorf("intAmount = %d, want 1", intAmount)
	}
}

func TestCheckRoundTripLossy(t *testing.T) {
	intAmount, ok := CheckRoundTrip(0.005, 2)
	if ok {
		t.Fatal("expected 0.005 at precision 2 to be lossy")
	}
	if intAmount != 0 {
		t.Errorf("intAmount = %d, want 0", intAmount)
	}
	if got := ToFloat(intAmount, 2); got != 0 {
		t.Errorf("ToFloat(0, 2) = %v, want 0", got)
	}
}

func TestSatSub(t *testing.T) {
	if got := SatSub(100, 30); got != 70 {
		t.Errorf("SatSub(100, 30) = %d, want 70", got)
	}
	if got := SatSub(10, 30); got != 0 {
		t.Errorf("SatSub(10, 30) = %d, want 0 (saturating)", got)
	}
}

func TestSatAdd(t *testing.T) {
	if got := SatAdd(100, 30); got != 130 {
		t.Errorf("SatAdd(100, 30) = %d, want 130", got)
	}
}
