package types

import "testing"

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if BUY.Opposite() != SELL || SELL.Opposite() != BUY {
		t.Error("Opposite is not an involution on {BUY, SELL}")
	}
	if !BUY.Valid() || !SELL.Valid() || Side("HOLD").Valid() {
		t.Error("Side.Valid misclassifies")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total, filled int64
		want          OrderStatus
	}{
		{10, 0, StatusIncomplete},
		{10, 1, StatusPartialFilled},
		{10, 9, StatusPartialFilled},
		{10, 10, StatusCompletelyFilled},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.total, tt.filled); got != tt.want {
			t.Errorf("StatusFor(%d, %d) = %s, want %s", tt.total, tt.filled, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{StatusIncomplete, false},
		{StatusPartialFilled, false},
		{StatusCompletelyFilled, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestValidPrice(t *testing.T) {
	t.Parallel()

	for p := MinPrice; p <= MaxPrice; p++ {
		if !ValidPrice(p) {
			t.Errorf("ValidPrice(%d) = false", p)
		}
	}
	for _, p := range []int64{0, -1, 11, 100} {
		if ValidPrice(p) {
			t.Errorf("ValidPrice(%d) = true", p)
		}
	}
}

func TestOrderInvariants(t *testing.T) {
	t.Parallel()

	o := Order{ID: 1, TotalQuantity: 10, FilledQuantity: 4, Status: StatusPartialFilled}
	if err := o.CheckInvariants(); err != nil {
		t.Errorf("valid order rejected: %v", err)
	}
	if o.Remaining() != 6 {
		t.Errorf("Remaining = %d, want 6", o.Remaining())
	}

	o.FilledQuantity = 11
	if err := o.CheckInvariants(); err == nil {
		t.Error("overfilled order accepted")
	}

	o.FilledQuantity = 4
	o.Status = StatusCompletelyFilled
	if err := o.CheckInvariants(); err == nil {
		t.Error("status mismatch accepted")
	}

	// Cancellation freezes the counters at any fill level.
	o.Status = StatusCancelled
	if err := o.CheckInvariants(); err != nil {
		t.Errorf("cancelled partial order rejected: %v", err)
	}
}

func TestTradeValue(t *testing.T) {
	t.Parallel()

	tr := Trade{Price: 7, Quantity: 3}
	if tr.Value() != 21 {
		t.Errorf("Value = %d, want 21", tr.Value())
	}
}
