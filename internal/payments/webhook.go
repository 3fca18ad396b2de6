package payments

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/jharden/gigpay/internal/metrics"
	"github.com/jharden/gigpay/pkg/response"
)

// Stripe caps webhook payloads well below this; anything larger is junk.
const maxWebhookBody = 65536

// RecordStore is the slice of the side ledger the dispatcher needs
type RecordStore interface {
	MarkStatus(ctx context.Context, authorizationID string, status RecordStatus) error
}

// RecipientBalance is the dispatcher's view of a recipient's withdrawable
// funds, used when a payout destination finishes onboarding.
type RecipientBalance struct {
	RecipientID           string
	Withdrawable          int64
	LastTransferAccountID string
}

// AccountStore exposes the recipient-account operations the account.updated
// flow needs. Implemented by the escrow repository.
type AccountStore interface {
	RecipientBalance(ctx context.Context, recipientID string) (*RecipientBalance, error)
	SetPayoutAccount(ctx context.Context, recipientID, payoutAccountID string) error
	DrainWithdrawable(ctx context.Context, recipientID, payoutAccountID string, amount int64, transferID string) error
}

// WebhookHandler verifies and dispatches asynchronous processor events
type WebhookHandler struct {
	secret    string
	currency  string
	success   SuccessHandler
	failure   FailureHandler
	records   RecordStore
	accounts  AccountStore
	processor Processor
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(secret, currency string, success SuccessHandler, failure FailureHandler, records RecordStore, accounts AccountStore, processor Processor) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		currency:  currency,
		success:   success,
		failure:   failure,
		records:   records,
		accounts:  accounts,
		processor: processor,
	}
}

// Handle handles POST /webhooks/stripe
//
// Signature failures are rejected with a 4xx so the sender's retry logic
// re-delivers; unhandled event types are acknowledged with a 2xx so it
// doesn't. Handler errors return 5xx for the same reason.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Unable to read request body")
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		log.Printf("webhook signature verification failed: %v", err)
		metrics.WebhookSignatureFailuresTotal.Inc()
		response.BadRequest(w, "Webhook signature verification failed")
		return
	}

	ctx := r.Context()
	eventType := string(event.Type)

	switch eventType {
	case "payment_intent.succeeded":
		auth, err := authorizationFromEvent(event)
		if err != nil {
			metrics.WebhookEventsTotal.WithLabelValues(eventType, "malformed").Inc()
			response.BadRequest(w, "Malformed event payload")
			return
		}
		if err := h.success.HandleAuthorizationSucceeded(ctx, auth); err != nil {
			log.Printf("webhook: success handler failed for %s: %v", auth.ID, err)
			metrics.WebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
			response.InternalError(w, "Failed to process authorization")
			return
		}
		// Side ledger mirrors the terminal state independently of the
		// booking update so the sweeper never re-processes this one.
		if err := h.records.MarkStatus(ctx, auth.ID, RecordSucceeded); err != nil {
			log.Printf("webhook: failed to mirror record %s: %v", auth.ID, err)
		}
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "ok").Inc()

	case "payment_intent.payment_failed":
		auth, err := authorizationFromEvent(event)
		if err != nil {
			metrics.WebhookEventsTotal.WithLabelValues(eventType, "malformed").Inc()
			response.BadRequest(w, "Malformed event payload")
			return
		}
		if err := h.failure.HandleAuthorizationFailed(ctx, auth); err != nil {
			log.Printf("webhook: failure handler failed for %s: %v", auth.ID, err)
			metrics.WebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
			response.InternalError(w, "Failed to process authorization failure")
			return
		}
		if err := h.records.MarkStatus(ctx, auth.ID, RecordFailed); err != nil {
			log.Printf("webhook: failed to mirror record %s: %v", auth.ID, err)
		}
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "ok").Inc()

	case "account.updated":
		var acct stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			metrics.WebhookEventsTotal.WithLabelValues(eventType, "malformed").Inc()
			response.BadRequest(w, "Malformed event payload")
			return
		}
		h.handleAccountUpdated(ctx, &acct)
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "ok").Inc()

	default:
		log.Printf("webhook: ignoring event type %s", eventType)
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
	}

	response.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleAccountUpdated links a newly transfer-capable payout account to its
// recipient and drains any withdrawable balance accrued while the recipient
// had no destination. Errors here are logged, not surfaced: the money is
// still safe in the internal balance and the next account.updated delivery
// retries the drain.
func (h *WebhookHandler) handleAccountUpdated(ctx context.Context, acct *stripe.Account) {
	if !accountCanTransfer(acct) {
		return
	}
	recipientID := acct.Metadata["recipient_id"]
	if recipientID == "" {
		log.Printf("webhook: account %s has no recipient_id metadata", acct.ID)
		return
	}

	if err := h.accounts.SetPayoutAccount(ctx, recipientID, acct.ID); err != nil {
		log.Printf("webhook: failed to link payout account %s to %s: %v", acct.ID, recipientID, err)
		return
	}

	bal, err := h.accounts.RecipientBalance(ctx, recipientID)
	if err != nil {
		log.Printf("webhook: failed to load balance for %s: %v", recipientID, err)
		return
	}
	if bal.LastTransferAccountID == acct.ID {
		log.Printf("webhook: funds already transferred to account %s for %s, skipping", acct.ID, recipientID)
		return
	}
	if bal.Withdrawable <= 0 {
		return
	}

	transferID, err := h.processor.Transfer(ctx, TransferParams{
		Amount:      bal.Withdrawable,
		Currency:    h.currency,
		Destination: acct.ID,
		Metadata: map[string]string{
			"recipient_id": recipientID,
			"description":  "transfer of accrued earnings to newly activated payout account",
		},
	})
	if err != nil {
		log.Printf("webhook: transfer of accrued earnings to %s failed: %v", acct.ID, err)
		return
	}

	if err := h.accounts.DrainWithdrawable(ctx, recipientID, acct.ID, bal.Withdrawable, transferID); err != nil {
		// Transfer went out but the local write failed; the
		// last_transfer_account_id guard makes the retry safe to inspect
		// manually rather than re-transfer blindly.
		log.Printf("webhook: transfer %s succeeded but balance update failed for %s: %v", transferID, recipientID, err)
		return
	}
	log.Printf("webhook: drained %d minor units to account %s for %s (transfer %s)", bal.Withdrawable, acct.ID, recipientID, transferID)
}

func authorizationFromEvent(event stripe.Event) (*Authorization, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, err
	}
	return AuthorizationFromIntent(&pi), nil
}
