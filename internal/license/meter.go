// meter.go charges credits for metered proxy calls. The deduction itself is a
// single conditional UPDATE so the no-overdraft invariant holds under any
// interleaving of concurrent requests and instances.
package license

import (
	"context"

	"github.com/keygate/keygate/internal/telemetry"
)

// Endpoint names used for cost lookup, activity records, and metrics.
const (
	EndpointUser   = "/api/v1/proxy/user"
	EndpointTweets = "/api/v1/proxy/tweets"
)

// endpointCosts maps metered endpoints to their credit cost. Unknown endpoints
// fall back to DefaultCost so a newly added route can never be accidentally
// free.
var endpointCosts = map[string]int{
	EndpointUser:   1,
	EndpointTweets: 1,
}

// DefaultCost applies to any endpoint missing from the cost table.
const DefaultCost = 1

// Cost returns the credit cost of a metered endpoint.
func Cost(endpoint string) int {
	if c, ok := endpointCosts[endpoint]; ok {
		return c
	}
	return DefaultCost
}

// ChargeOutcome classifies a charge attempt.
type ChargeOutcome string

const (
	// Charged means the deduction succeeded.
	Charged ChargeOutcome = "charged"
	// InsufficientCredits means the balance could not cover the cost and
	// nothing was deducted.
	InsufficientCredits ChargeOutcome = "insufficient"
	// BindingNotFound means the key/device pair no longer matches a ledger
	// row, typically because the key was deleted or rebound between the
	// pre-flight check and the deduction.
	BindingNotFound ChargeOutcome = "binding_not_found"
)

// ChargeResult reports the outcome of a charge plus the post-charge balance
// when known.
type ChargeResult struct {
	Outcome   ChargeOutcome
	Cost      int
	Remaining int
}

// Meter charges credits against the license ledger.
type Meter struct {
	store Store
}

// NewMeter creates a Meter over the same store the Ledger uses.
func NewMeter(store Store) *Meter {
	return &Meter{store: store}
}

// Balance returns the remaining credits for a key/device pair, with ok=false
// when no matching binding exists. Used by handlers for the pre-flight 402
// check before spending an upstream call.
func (m *Meter) Balance(ctx context.Context, key, deviceID string) (remaining int, ok bool, err error) {
	lic, err := m.store.GetLicense(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if lic == nil || !lic.Bound() || *lic.DeviceID != deviceID {
		return 0, false, nil
	}
	return lic.CreditsRemaining, true, nil
}

// Charge deducts the endpoint's cost from the key's balance. Called only after
// the upstream request succeeded: a failed upstream call costs nothing.
//
// The deduction is atomic; when it reports false the row is re-read to tell an
// insufficient balance apart from a missing or rebound key.
func (m *Meter) Charge(ctx context.Context, key, deviceID, endpoint, ip, userAgent string) (*ChargeResult, error) {
	cost := Cost(endpoint)

	deducted, err := m.store.DeductCredits(ctx, key, deviceID, cost, endpoint, ip, userAgent)
	if err != nil {
		telemetry.CreditChargesTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}

	if deducted {
		telemetry.CreditChargesTotal.WithLabelValues(endpoint, string(Charged)).Inc()
		remaining, ok, err := m.Balance(ctx, key, deviceID)
		if err != nil || !ok {
			// The charge itself landed; a failed balance re-read only costs
			// the response its remaining-credits field.
			remaining = 0
		}
		return &ChargeResult{Outcome: Charged, Cost: cost, Remaining: remaining}, nil
	}

	lic, err := m.store.GetLicense(ctx, key)
	if err != nil {
		telemetry.CreditChargesTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	if lic == nil || !lic.Bound() || *lic.DeviceID != deviceID {
		telemetry.CreditChargesTotal.WithLabelValues(endpoint, string(BindingNotFound)).Inc()
		return &ChargeResult{Outcome: BindingNotFound, Cost: cost}, nil
	}

	telemetry.CreditChargesTotal.WithLabelValues(endpoint, string(InsufficientCredits)).Inc()
	return &ChargeResult{Outcome: InsufficientCredits, Cost: cost, Remaining: lic.CreditsRemaining}, nil
}
