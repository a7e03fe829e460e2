package types

import "testing"

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		side Side
		want Side
	}{
		{Buy, Sell},
		{Sell, Buy},
	}

	for _, tt := range tests {
		if got := tt.side.Opposite(); got != tt.want {
			t.Errorf("Side(%q).Opposite() = %q, want %q", tt.side, got, tt.want)
		}
	}
}

func TestOrderRemaining(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		order Order
		want  Volume
	}{
		{"untouched", Order{Quantity: 10, Filled: 0}, 10},
		{"partial", Order{Quantity: 10, Filled: 4}, 6},
		{"filled", Order{Quantity: 10, Filled: 10}, 0},
		{"overfilled is clamped", Order{Quantity: 10, Filled: 11}, 0},
	}

	for _, tt := range tests {
		if got := tt.order.Remaining(); got != tt.want {
			t.Errorf("%s: Remaining() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestTimestampArithmetic(t *testing.T) {
	t.Parallel()

	base := Timestamp(1000)
	after := base.Add(500)
	if after != 1500 {
		t.Fatalf("Add(500) = %d, want 1500", after)
	}
	if d := after.Sub(base); d != 500 {
		t.Fatalf("Sub() = %d, want 500", d)
	}
	if !base.Before(after) {
		t.Fatalf("expected base before after")
	}
	if !after.After(base) {
		t.Fatalf("expected after after base")
	}
}
