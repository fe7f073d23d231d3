package circuitbreaker

import (
	"testing"
	"time"
)

func TestAllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("stripe") {
		t.Fatal("closed circuit rejected a call")
	}
}

func TestTripsAtThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("stripe")
	b.RecordFailure("stripe")
	if !b.Allow("stripe") {
		t.Fatal("circuit tripped before the threshold")
	}

	b.RecordFailure("stripe")
	if b.Allow("stripe") {
		t.Fatal("circuit still admitting calls after 3 failures")
	}
	if b.State("stripe") != StateOpen {
		t.Fatalf("state = %v, want open", b.State("stripe"))
	}
}

func TestCoolOffAdmitsOneProbe(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("adyen")
	b.RecordFailure("adyen")
	if b.Allow("adyen") {
		t.Fatal("circuit should be open")
	}

	time.Sleep(60 * time.Millisecond)

	if !b.Allow("adyen") {
		t.Fatal("probe rejected after cool-off")
	}
	if b.State("adyen") != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", b.State("adyen"))
	}
	if b.Allow("adyen") {
		t.Fatal("second call admitted while probe is in flight")
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("paypal")
	b.RecordFailure("paypal")
	time.Sleep(60 * time.Millisecond)
	b.Allow("paypal") // half-open

	b.RecordSuccess("paypal")
	if b.State("paypal") != StateClosed {
		t.Fatalf("state = %v, want closed after probe success", b.State("paypal"))
	}
	if !b.Allow("paypal") {
		t.Fatal("recovered circuit rejected a call")
	}
}

func TestProbeFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("paystack")
	b.RecordFailure("paystack")
	time.Sleep(60 * time.Millisecond)
	b.Allow("paystack") // half-open

	b.RecordFailure("paystack")
	if b.State("paystack") != StateOpen {
		t.Fatalf("state = %v, want open after probe failure", b.State("paystack"))
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("stripe")
	b.RecordFailure("stripe")
	b.RecordSuccess("stripe")

	b.RecordFailure("stripe")
	if !b.Allow("stripe") {
		t.Fatal("circuit tripped although the count was reset")
	}
}

func TestProvidersAreIndependent(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("stripe")
	b.RecordFailure("stripe")

	if b.Allow("stripe") {
		t.Fatal("stripe should be open")
	}
	if !b.Allow("razorpay") {
		t.Fatal("razorpay affected by stripe's failures")
	}
}

func TestUnknownKeyIsClosed(t *testing.T) {
	b := New(2, 100*time.Millisecond)
	if b.State("wallet") != StateClosed {
		t.Fatalf("state = %v, want closed for an unseen key", b.State("wallet"))
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
