package payments

import (
	"context"
	"errors"
	"fmt"
)

// AuthorizationStatus mirrors the processor's view of a charge authorization
type AuthorizationStatus string

const (
	AuthorizationProcessing     AuthorizationStatus = "processing"
	AuthorizationRequiresAction AuthorizationStatus = "requires_action"
	AuthorizationSucceeded      AuthorizationStatus = "succeeded"
	AuthorizationFailed         AuthorizationStatus = "failed"
)

// Authorization is the processor's record of a reserved/confirmed charge.
// Metadata carries the booking context that was attached at authorization
// time and travels back through webhooks and reconciliation queries.
type Authorization struct {
	ID           string
	Status       AuthorizationStatus
	Amount       int64
	Currency     string
	ClientSecret string
	Metadata     map[string]string
}

// AuthorizeParams describes an authorize-and-confirm request
type AuthorizeParams struct {
	Amount          int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]string
}

// TransferParams describes a destination transfer to a payout sub-account
type TransferParams struct {
	Amount      int64
	Currency    string
	Destination string
	Metadata    map[string]string
}

// Processor is the external payment processor contract consumed by the
// escrow pipeline. The Stripe implementation lives in stripe.go; tests
// substitute fakes.
type Processor interface {
	Authorize(ctx context.Context, params AuthorizeParams) (*Authorization, error)
	RetrieveAuthorization(ctx context.Context, id string) (*Authorization, error)
	Transfer(ctx context.Context, params TransferParams) (string, error)
	CanReceiveTransfers(ctx context.Context, accountID string) (bool, error)
}

// SuccessHandler consumes a terminal successful authorization. The webhook
// dispatcher and the reconciliation sweeper both drive the same handler so
// the two paths produce identical state.
type SuccessHandler interface {
	HandleAuthorizationSucceeded(ctx context.Context, auth *Authorization) error
}

// FailureHandler consumes a terminal failed/canceled authorization
type FailureHandler interface {
	HandleAuthorizationFailed(ctx context.Context, auth *Authorization) error
}

// ErrDeclined indicates a terminal card decline; retrying with the same
// instrument will not succeed.
var ErrDeclined = errors.New("payment declined")

// RequiresActionError indicates the payer must complete step-up
// authentication before the authorization can proceed.
type RequiresActionError struct {
	AuthorizationID string
	ClientSecret    string
}

func (e *RequiresActionError) Error() string {
	return fmt.Sprintf("authorization %s requires additional authentication", e.AuthorizationID)
}
