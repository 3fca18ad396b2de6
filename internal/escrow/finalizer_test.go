package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jharden/gigpay/internal/payments"
)

type fakeProcessor struct {
	canTransfer bool
	canErr      error
	transferID  string
	transferErr error
	transfers   []payments.TransferParams
}

func (f *fakeProcessor) Authorize(ctx context.Context, params payments.AuthorizeParams) (*payments.Authorization, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProcessor) RetrieveAuthorization(ctx context.Context, id string) (*payments.Authorization, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProcessor) Transfer(ctx context.Context, params payments.TransferParams) (string, error) {
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.transfers = append(f.transfers, params)
	return f.transferID, nil
}

func (f *fakeProcessor) CanReceiveTransfers(ctx context.Context, accountID string) (bool, error) {
	if f.canErr != nil {
		return false, f.canErr
	}
	return f.canTransfer, nil
}

func seedFee(store *fakeStore, amount int64) {
	store.fees["pi_1"] = &PendingFee{
		AuthorizationID: "pi_1",
		BookingID:       "bk_1",
		RecipientID:     "rcp_1",
		VenueID:         "ven_1",
		Amount:          amount,
		Currency:        "gbp",
		Status:          FeeStatusPending,
	}
	store.acct.PendingBalance += amount
}

func clearPayload() ClearFeePayload {
	return ClearFeePayload{
		AuthorizationID:   "pi_1",
		BookingID:         "bk_1",
		RecipientID:       "rcp_1",
		VenueID:           "ven_1",
		Amount:            1200,
		Currency:          "gbp",
		DisputeClearingAt: time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC),
		RecipientName:     "Ada",
		RecipientEmail:    "ada@example.com",
		VenueName:         "The Old Crown",
	}
}

func TestFinalizerClearFee(t *testing.T) {
	t.Run("acknowledges redelivery for an already settled fee", func(t *testing.T) {
		store := newFakeStore(testBooking(writerBase), testAccount())
		f := NewFinalizer(store, &fakeProcessor{}, &fakeMailer{}, "gbp")

		if err := f.ClearFee(context.Background(), clearPayload()); err != nil {
			t.Fatalf("expected no-op, got %v", err)
		}
		if store.clearedN != 0 {
			t.Errorf("expected nothing cleared, got %d", store.clearedN)
		}
	})

	t.Run("refuses a disputed fee", func(t *testing.T) {
		store := newFakeStore(testBooking(writerBase), testAccount())
		seedFee(store, 1200)
		store.fees["pi_1"].Status = FeeStatusInDispute
		f := NewFinalizer(store, &fakeProcessor{}, &fakeMailer{}, "gbp")

		err := f.ClearFee(context.Background(), clearPayload())
		if !errors.Is(err, ErrDisputeLogged) {
			t.Fatalf("expected ErrDisputeLogged, got %v", err)
		}
		if store.acct.PendingBalance != 1200 {
			t.Errorf("expected pending balance untouched, got %d", store.acct.PendingBalance)
		}
	})

	t.Run("settles to the withdrawable balance without a payout account", func(t *testing.T) {
		store := newFakeStore(testBooking(writerBase), testAccount())
		store.acct.PendingBalance = 3800
		seedFee(store, 1200)
		proc := &fakeProcessor{}
		mail := &fakeMailer{}
		f := NewFinalizer(store, proc, mail, "gbp")

		if err := f.ClearFee(context.Background(), clearPayload()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(proc.transfers) != 0 {
			t.Errorf("expected no external transfer, got %d", len(proc.transfers))
		}
		if store.acct.Earnings != 1200 {
			t.Errorf("expected earnings 1200, got %d", store.acct.Earnings)
		}
		if store.acct.PendingBalance != 3800 {
			t.Errorf("expected pending balance 3800, got %d", store.acct.PendingBalance)
		}
		if store.acct.Withdrawable != 1200 {
			t.Errorf("expected withdrawable 1200, got %d", store.acct.Withdrawable)
		}
		if store.acct.EventsPerformed != 1 {
			t.Errorf("expected events performed 1, got %d", store.acct.EventsPerformed)
		}
		if mail.releases != 1 {
			t.Errorf("expected one release email, got %d", mail.releases)
		}
	})

	t.Run("transfers externally when the payout account is active", func(t *testing.T) {
		store := newFakeStore(testBooking(writerBase), testAccount())
		payout := "acct_1"
		store.acct.PayoutAccountID = &payout
		seedFee(store, 1200)
		proc := &fakeProcessor{canTransfer: true, transferID: "tr_1"}
		f := NewFinalizer(store, proc, &fakeMailer{}, "gbp")

		if err := f.ClearFee(context.Background(), clearPayload()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(proc.transfers) != 1 {
			t.Fatalf("expected one transfer, got %d", len(proc.transfers))
		}
		if proc.transfers[0].Amount != 1200 || proc.transfers[0].Destination != "acct_1" {
			t.Errorf("unexpected transfer %+v", proc.transfers[0])
		}
		cleared := store.cleared["pi_1"]
		if cleared == nil || cleared.TransferID == nil || *cleared.TransferID != "tr_1" {
			t.Errorf("expected transfer id recorded on cleared fee, got %+v", cleared)
		}
		if store.acct.Withdrawable != 0 {
			t.Errorf("expected withdrawable unchanged when funds left externally, got %d", store.acct.Withdrawable)
		}
		if store.acct.Earnings != 1200 {
			t.Errorf("expected earnings 1200, got %d", store.acct.Earnings)
		}
	})

	t.Run("keeps funds internal when the payout capability is inactive", func(t *testing.T) {
		store := newFakeStore(testBooking(writerBase), testAccount())
		payout := "acct_1"
		store.acct.PayoutAccountID = &payout
		seedFee(store, 1200)
		proc := &fakeProcessor{canTransfer: false}
		f := NewFinalizer(store, proc, &fakeMailer{}, "gbp")

		if err := f.ClearFee(context.Background(), clearPayload()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(proc.transfers) != 0 {
			t.Errorf("expected no transfer to an inactive account, got %d", len(proc.transfers))
		}
		if store.acct.Withdrawable != 1200 {
			t.Errorf("expected withdrawable 1200, got %d", store.acct.Withdrawable)
		}
	})

	t.Run("fails closed when the transfer fails", func(t *testing.T) {
		store := newFakeStore(testBooking(writerBase), testAccount())
		payout := "acct_1"
		store.acct.PayoutAccountID = &payout
		seedFee(store, 1200)
		proc := &fakeProcessor{canTransfer: true, transferErr: errors.New("processor unavailable")}
		f := NewFinalizer(store, proc, &fakeMailer{}, "gbp")

		if err := f.ClearFee(context.Background(), clearPayload()); err == nil {
			t.Fatal("expected error when transfer fails")
		}
		if store.clearedN != 0 {
			t.Errorf("expected fee left in escrow, got %d cleared", store.clearedN)
		}
		if store.acct.PendingBalance != 1200 {
			t.Errorf("expected pending balance untouched, got %d", store.acct.PendingBalance)
		}
	})
}
