package payments

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test_secret"

type fakeSuccess struct {
	handled []*Authorization
}

func (f *fakeSuccess) HandleAuthorizationSucceeded(ctx context.Context, auth *Authorization) error {
	f.handled = append(f.handled, auth)
	return nil
}

type fakeFailure struct {
	handled []*Authorization
}

func (f *fakeFailure) HandleAuthorizationFailed(ctx context.Context, auth *Authorization) error {
	f.handled = append(f.handled, auth)
	return nil
}

type fakeRecords struct {
	marked map[string]RecordStatus
}

func (f *fakeRecords) MarkStatus(ctx context.Context, authorizationID string, status RecordStatus) error {
	if f.marked == nil {
		f.marked = make(map[string]RecordStatus)
	}
	f.marked[authorizationID] = status
	return nil
}

type fakeAccounts struct {
	balance *RecipientBalance
	linked  map[string]string
	drained int64
}

func (f *fakeAccounts) RecipientBalance(ctx context.Context, recipientID string) (*RecipientBalance, error) {
	return f.balance, nil
}

func (f *fakeAccounts) SetPayoutAccount(ctx context.Context, recipientID, payoutAccountID string) error {
	if f.linked == nil {
		f.linked = make(map[string]string)
	}
	f.linked[recipientID] = payoutAccountID
	return nil
}

func (f *fakeAccounts) DrainWithdrawable(ctx context.Context, recipientID, payoutAccountID string, amount int64, transferID string) error {
	f.drained += amount
	return nil
}

type fakeTransferProcessor struct {
	transferID string
	transfers  []TransferParams
}

func (f *fakeTransferProcessor) Authorize(ctx context.Context, params AuthorizeParams) (*Authorization, error) {
	return nil, nil
}

func (f *fakeTransferProcessor) RetrieveAuthorization(ctx context.Context, id string) (*Authorization, error) {
	return nil, nil
}

func (f *fakeTransferProcessor) Transfer(ctx context.Context, params TransferParams) (string, error) {
	f.transfers = append(f.transfers, params)
	return f.transferID, nil
}

func (f *fakeTransferProcessor) CanReceiveTransfers(ctx context.Context, accountID string) (bool, error) {
	return true, nil
}

func eventPayload(t *testing.T, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_1",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data":        map[string]interface{}{"object": object},
	})
	if err != nil {
		t.Fatalf("failed to build event payload: %v", err)
	}
	return payload
}

func signedRequest(payload []byte, secret string) *http.Request {
	ts := time.Now()
	sig := webhook.ComputeSignature(ts, payload, secret)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig)))
	return req
}

func intentObject() map[string]interface{} {
	return map[string]interface{}{
		"id":       "pi_1",
		"object":   "payment_intent",
		"status":   "succeeded",
		"amount":   1200,
		"currency": "gbp",
		"metadata": map[string]string{
			"booking_id":   "bk_1",
			"venue_id":     "ven_1",
			"recipient_id": "rcp_1",
			"event_start":  "2026-03-03T19:00:00Z",
		},
	}
}

func TestWebhookHandle(t *testing.T) {
	newHandler := func(success *fakeSuccess, failure *fakeFailure, records *fakeRecords, accounts *fakeAccounts, proc Processor) *WebhookHandler {
		return NewWebhookHandler(testSecret, "gbp", success, failure, records, accounts, proc)
	}

	t.Run("rejects an invalid signature", func(t *testing.T) {
		success := &fakeSuccess{}
		h := newHandler(success, &fakeFailure{}, &fakeRecords{}, &fakeAccounts{}, &fakeTransferProcessor{})

		payload := eventPayload(t, "payment_intent.succeeded", intentObject())
		rec := httptest.NewRecorder()
		h.Handle(rec, signedRequest(payload, "whsec_wrong"))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
		if len(success.handled) != 0 {
			t.Error("expected no dispatch on signature failure")
		}
	})

	t.Run("dispatches payment_intent.succeeded", func(t *testing.T) {
		success := &fakeSuccess{}
		records := &fakeRecords{}
		h := newHandler(success, &fakeFailure{}, records, &fakeAccounts{}, &fakeTransferProcessor{})

		payload := eventPayload(t, "payment_intent.succeeded", intentObject())
		rec := httptest.NewRecorder()
		h.Handle(rec, signedRequest(payload, testSecret))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if len(success.handled) != 1 {
			t.Fatalf("expected one dispatch, got %d", len(success.handled))
		}
		auth := success.handled[0]
		if auth.ID != "pi_1" || auth.Status != AuthorizationSucceeded {
			t.Errorf("unexpected authorization %+v", auth)
		}
		if auth.Metadata["booking_id"] != "bk_1" {
			t.Errorf("expected metadata preserved, got %v", auth.Metadata)
		}
		if records.marked["pi_1"] != RecordSucceeded {
			t.Errorf("expected record mirrored as succeeded, got %s", records.marked["pi_1"])
		}
	})

	t.Run("dispatches payment_intent.payment_failed", func(t *testing.T) {
		failure := &fakeFailure{}
		records := &fakeRecords{}
		h := newHandler(&fakeSuccess{}, failure, records, &fakeAccounts{}, &fakeTransferProcessor{})

		object := intentObject()
		object["status"] = "requires_payment_method"
		payload := eventPayload(t, "payment_intent.payment_failed", object)
		rec := httptest.NewRecorder()
		h.Handle(rec, signedRequest(payload, testSecret))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if len(failure.handled) != 1 {
			t.Fatalf("expected one dispatch, got %d", len(failure.handled))
		}
		if failure.handled[0].Status != AuthorizationFailed {
			t.Errorf("expected failed status, got %s", failure.handled[0].Status)
		}
		if records.marked["pi_1"] != RecordFailed {
			t.Errorf("expected record mirrored as failed, got %s", records.marked["pi_1"])
		}
	})

	t.Run("acknowledges unhandled event types", func(t *testing.T) {
		success := &fakeSuccess{}
		h := newHandler(success, &fakeFailure{}, &fakeRecords{}, &fakeAccounts{}, &fakeTransferProcessor{})

		payload := eventPayload(t, "customer.created", map[string]interface{}{"id": "cus_1"})
		rec := httptest.NewRecorder()
		h.Handle(rec, signedRequest(payload, testSecret))

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200 for unhandled type, got %d", rec.Code)
		}
		if len(success.handled) != 0 {
			t.Error("expected no dispatch for unhandled type")
		}
	})

	t.Run("drains withdrawable funds when a payout account activates", func(t *testing.T) {
		accounts := &fakeAccounts{balance: &RecipientBalance{RecipientID: "rcp_1", Withdrawable: 1200}}
		proc := &fakeTransferProcessor{transferID: "tr_1"}
		h := newHandler(&fakeSuccess{}, &fakeFailure{}, &fakeRecords{}, accounts, proc)

		payload := eventPayload(t, "account.updated", map[string]interface{}{
			"id":              "acct_1",
			"object":          "account",
			"payouts_enabled": true,
			"metadata":        map[string]string{"recipient_id": "rcp_1"},
		})
		rec := httptest.NewRecorder()
		h.Handle(rec, signedRequest(payload, testSecret))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if accounts.linked["rcp_1"] != "acct_1" {
			t.Errorf("expected payout account linked, got %v", accounts.linked)
		}
		if len(proc.transfers) != 1 || proc.transfers[0].Amount != 1200 {
			t.Fatalf("expected transfer of 1200, got %+v", proc.transfers)
		}
		if accounts.drained != 1200 {
			t.Errorf("expected 1200 drained, got %d", accounts.drained)
		}
	})

	t.Run("skips the drain when funds already went to this account", func(t *testing.T) {
		accounts := &fakeAccounts{balance: &RecipientBalance{
			RecipientID:           "rcp_1",
			Withdrawable:          1200,
			LastTransferAccountID: "acct_1",
		}}
		proc := &fakeTransferProcessor{}
		h := newHandler(&fakeSuccess{}, &fakeFailure{}, &fakeRecords{}, accounts, proc)

		payload := eventPayload(t, "account.updated", map[string]interface{}{
			"id":              "acct_1",
			"object":          "account",
			"payouts_enabled": true,
			"metadata":        map[string]string{"recipient_id": "rcp_1"},
		})
		rec := httptest.NewRecorder()
		h.Handle(rec, signedRequest(payload, testSecret))

		if len(proc.transfers) != 0 {
			t.Errorf("expected no repeat transfer, got %+v", proc.transfers)
		}
		if accounts.drained != 0 {
			t.Errorf("expected nothing drained, got %d", accounts.drained)
		}
	})
}
