package license

import (
	"context"
	"errors"
	"testing"
)

func TestCost(t *testing.T) {
	if c := Cost(EndpointUser); c != 1 {
		t.Errorf("Cost(user) = %d, want 1", c)
	}
	if c := Cost(EndpointTweets); c != 1 {
		t.Errorf("Cost(tweets) = %d, want 1", c)
	}
	if c := Cost("/api/v1/proxy/unknown"); c != DefaultCost {
		t.Errorf("Cost(unknown) = %d, want %d", c, DefaultCost)
	}
}

// ---------------------------------------------------------------------------
// Balance
// ---------------------------------------------------------------------------

func TestBalance_Match(t *testing.T) {
	store := newFakeStore(boundLicense("KEY-1", "device-1", 7))
	meter := NewMeter(store)

	remaining, ok, err := meter.Balance(context.Background(), "KEY-1", "device-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if remaining != 7 {
		t.Errorf("remaining = %d, want 7", remaining)
	}
}

func TestBalance_NoBinding(t *testing.T) {
	store := newFakeStore(unboundLicense("KEY-1", 7))
	meter := NewMeter(store)

	_, ok, err := meter.Balance(context.Background(), "KEY-1", "device-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for an unbound key")
	}
}

func TestBalance_WrongDevice(t *testing.T) {
	store := newFakeStore(boundLicense("KEY-1", "device-1", 7))
	meter := NewMeter(store)

	_, ok, err := meter.Balance(context.Background(), "KEY-1", "device-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for the wrong device")
	}
}

// ---------------------------------------------------------------------------
// Charge
// ---------------------------------------------------------------------------

func TestCharge_Success(t *testing.T) {
	store := newFakeStore(boundLicense("KEY-1", "device-1", 3))
	meter := NewMeter(store)

	res, err := meter.Charge(context.Background(), "KEY-1", "device-1", EndpointUser, "1.2.3.4", "ext/1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != Charged {
		t.Fatalf("Outcome = %q, want %q", res.Outcome, Charged)
	}
	if res.Cost != 1 {
		t.Errorf("Cost = %d, want 1", res.Cost)
	}
	if res.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2", res.Remaining)
	}
}

func TestCharge_DrainsToZeroThenStops(t *testing.T) {
	store := newFakeStore(boundLicense("KEY-1", "device-1", 2))
	meter := NewMeter(store)

	for i := 0; i < 2; i++ {
		res, err := meter.Charge(context.Background(), "KEY-1", "device-1", EndpointUser, "", "")
		if err != nil {
			t.Fatalf("charge %d: unexpected error: %v", i, err)
		}
		if res.Outcome != Charged {
			t.Fatalf("charge %d: Outcome = %q, want %q", i, res.Outcome, Charged)
		}
	}

	res, err := meter.Charge(context.Background(), "KEY-1", "device-1", EndpointUser, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != InsufficientCredits {
		t.Errorf("Outcome = %q, want %q", res.Outcome, InsufficientCredits)
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
	if store.licenses["KEY-1"].CreditsRemaining != 0 {
		t.Error("balance must never go negative")
	}
}

func TestCharge_BindingNotFound(t *testing.T) {
	store := newFakeStore(boundLicense("KEY-1", "device-1", 5))
	meter := NewMeter(store)

	res, err := meter.Charge(context.Background(), "KEY-1", "device-2", EndpointTweets, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != BindingNotFound {
		t.Errorf("Outcome = %q, want %q", res.Outcome, BindingNotFound)
	}
	if store.licenses["KEY-1"].CreditsRemaining != 5 {
		t.Error("a rejected charge must not mutate the balance")
	}
}

func TestCharge_MissingKey(t *testing.T) {
	store := newFakeStore()
	meter := NewMeter(store)

	res, err := meter.Charge(context.Background(), "KEY-GONE", "device-1", EndpointUser, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != BindingNotFound {
		t.Errorf("Outcome = %q, want %q", res.Outcome, BindingNotFound)
	}
}

func TestCharge_StoreError(t *testing.T) {
	store := newFakeStore(boundLicense("KEY-1", "device-1", 5))
	store.deductErr = errors.New("db down")
	meter := NewMeter(store)

	_, err := meter.Charge(context.Background(), "KEY-1", "device-1", EndpointUser, "", "")
	if err == nil {
		t.Error("expected error when the store fails")
	}
}
