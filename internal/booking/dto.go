package booking

// ConfirmPaymentRequest is the body of the confirm-payment endpoint
type ConfirmPaymentRequest struct {
	RecipientID     string `json:"recipient_id"`
	PaymentMethodID string `json:"payment_method_id"`
}

// Outcome reason codes returned to the caller
const (
	OutcomeProcessing     = "processing"
	OutcomeSucceeded      = "succeeded"
	OutcomeRequiresAction = "requires_action"
	OutcomePaymentFailed  = "payment_failed"
)

// PaymentOutcome tells the caller what happened to the charge attempt.
// ClientSecret is set only for requires_action so the client can run the
// step-up flow; Reason is set only for payment_failed.
type PaymentOutcome struct {
	Status          string `json:"status"`
	AuthorizationID string `json:"authorization_id,omitempty"`
	ClientSecret    string `json:"client_secret,omitempty"`
	Reason          string `json:"reason,omitempty"`
}
