package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/transfer"
)

// StripeProcessor implements Processor against the Stripe API
type StripeProcessor struct{}

// NewStripeProcessor sets the API key and returns a Stripe-backed processor
func NewStripeProcessor(secretKey string) *StripeProcessor {
	stripe.Key = secretKey
	return &StripeProcessor{}
}

// Authorize creates and confirms an off-session PaymentIntent
func (p *StripeProcessor) Authorize(ctx context.Context, params AuthorizeParams) (*Authorization, error) {
	piParams := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(params.Amount),
		Currency:      stripe.String(params.Currency),
		Customer:      stripe.String(params.CustomerID),
		PaymentMethod: stripe.String(params.PaymentMethodID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return AuthorizationFromIntent(pi), nil
}

// RetrieveAuthorization fetches the current state of a PaymentIntent
func (p *StripeProcessor) RetrieveAuthorization(ctx context.Context, id string) (*Authorization, error) {
	pi, err := paymentintent.Get(id, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve authorization %s: %w", id, err)
	}
	return AuthorizationFromIntent(pi), nil
}

// Transfer moves escrowed funds to a connected payout account
func (p *StripeProcessor) Transfer(ctx context.Context, params TransferParams) (string, error) {
	tParams := &stripe.TransferParams{
		Params:      stripe.Params{Context: ctx},
		Amount:      stripe.Int64(params.Amount),
		Currency:    stripe.String(params.Currency),
		Destination: stripe.String(params.Destination),
	}
	for k, v := range params.Metadata {
		tParams.AddMetadata(k, v)
	}

	t, err := transfer.New(tParams)
	if err != nil {
		return "", fmt.Errorf("failed to create transfer to %s: %w", params.Destination, err)
	}
	return t.ID, nil
}

// CanReceiveTransfers reports whether the connected account has finished
// onboarding far enough to accept destination transfers
func (p *StripeProcessor) CanReceiveTransfers(ctx context.Context, accountID string) (bool, error) {
	acct, err := account.GetByID(accountID, &stripe.AccountParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return false, fmt.Errorf("failed to retrieve account %s: %w", accountID, err)
	}
	return accountCanTransfer(acct), nil
}

func accountCanTransfer(acct *stripe.Account) bool {
	if acct == nil {
		return false
	}
	if acct.Capabilities != nil && acct.Capabilities.Transfers == stripe.AccountCapabilityStatusActive {
		return true
	}
	return acct.PayoutsEnabled
}

// AuthorizationFromIntent converts a Stripe PaymentIntent into the
// processor-neutral Authorization used throughout the pipeline
func AuthorizationFromIntent(pi *stripe.PaymentIntent) *Authorization {
	auth := &Authorization{
		ID:           pi.ID,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		auth.Status = AuthorizationSucceeded
	case stripe.PaymentIntentStatusRequiresAction:
		auth.Status = AuthorizationRequiresAction
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		auth.Status = AuthorizationFailed
	default:
		auth.Status = AuthorizationProcessing
	}
	return auth
}

// mapStripeError translates Stripe errors into the pipeline's taxonomy:
// step-up authentication and terminal declines get distinct types so the
// client can choose the right follow-up.
func mapStripeError(err error) error {
	var sErr *stripe.Error
	if !errors.As(err, &sErr) {
		return err
	}

	if sErr.PaymentIntent != nil {
		pi := sErr.PaymentIntent
		if sErr.Code == stripe.ErrorCodeAuthenticationRequired ||
			pi.Status == stripe.PaymentIntentStatusRequiresAction {
			return &RequiresActionError{
				AuthorizationID: pi.ID,
				ClientSecret:    pi.ClientSecret,
			}
		}
	}
	if sErr.Type == stripe.ErrorTypeCard {
		return fmt.Errorf("%w: %s", ErrDeclined, sErr.Msg)
	}
	return err
}
