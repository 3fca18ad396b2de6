package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jharden/gigpay/internal/payments"
)

type fakeLease struct {
	available bool
	acquired  int
	released  int
}

func (f *fakeLease) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	f.acquired++
	return f.available, nil
}

func (f *fakeLease) Release(ctx context.Context, owner string) error {
	f.released++
	return nil
}

type fakeRecords struct {
	records   []*payments.PaymentRecord
	listCalls int
	marked    map[string]payments.RecordStatus
	touched   []string
}

func (f *fakeRecords) ListStaleProcessing(ctx context.Context, cutoff time.Time, afterCreated time.Time, afterID string, limit int) ([]*payments.PaymentRecord, error) {
	f.listCalls++
	var page []*payments.PaymentRecord
	for _, rec := range f.records {
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		if rec.CreatedAt.Before(afterCreated) {
			continue
		}
		if rec.CreatedAt.Equal(afterCreated) && rec.AuthorizationID <= afterID {
			continue
		}
		page = append(page, rec)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *fakeRecords) MarkStatus(ctx context.Context, authorizationID string, status payments.RecordStatus) error {
	if f.marked == nil {
		f.marked = make(map[string]payments.RecordStatus)
	}
	f.marked[authorizationID] = status
	return nil
}

func (f *fakeRecords) Touch(ctx context.Context, authorizationID string) error {
	f.touched = append(f.touched, authorizationID)
	return nil
}

type fakeProcessor struct {
	auths map[string]*payments.Authorization
	errs  map[string]error
}

func (f *fakeProcessor) Authorize(ctx context.Context, params payments.AuthorizeParams) (*payments.Authorization, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProcessor) RetrieveAuthorization(ctx context.Context, id string) (*payments.Authorization, error) {
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	auth, ok := f.auths[id]
	if !ok {
		return nil, errors.New("no such authorization")
	}
	return auth, nil
}

func (f *fakeProcessor) Transfer(ctx context.Context, params payments.TransferParams) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProcessor) CanReceiveTransfers(ctx context.Context, accountID string) (bool, error) {
	return false, nil
}

type fakeSuccess struct {
	handled []string
	err     error
}

func (f *fakeSuccess) HandleAuthorizationSucceeded(ctx context.Context, auth *payments.Authorization) error {
	if f.err != nil {
		return f.err
	}
	f.handled = append(f.handled, auth.ID)
	return nil
}

type fakeFailure struct {
	handled []string
}

func (f *fakeFailure) HandleAuthorizationFailed(ctx context.Context, auth *payments.Authorization) error {
	f.handled = append(f.handled, auth.ID)
	return nil
}

var sweepBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func staleRecord(id string, age time.Duration) *payments.PaymentRecord {
	return &payments.PaymentRecord{
		AuthorizationID: id,
		BookingID:       "bk_" + id,
		RecipientID:     "rcp_1",
		Status:          payments.RecordProcessing,
		CreatedAt:       sweepBase.Add(-age),
	}
}

func newTestSweeper(lease Lease, records Records, proc payments.Processor, success payments.SuccessHandler, failure payments.FailureHandler, pageSize int) *Sweeper {
	s := NewSweeper(lease, records, proc, success, failure, Config{
		Interval:   10 * time.Minute,
		StaleAfter: 10 * time.Minute,
		LeaseTTL:   4 * time.Minute,
		PageSize:   pageSize,
	})
	s.now = func() time.Time { return sweepBase }
	return s
}

func TestSweep(t *testing.T) {
	t.Run("skips the pass when the lease is held elsewhere", func(t *testing.T) {
		lease := &fakeLease{available: false}
		records := &fakeRecords{}
		s := newTestSweeper(lease, records, &fakeProcessor{}, &fakeSuccess{}, &fakeFailure{}, 100)

		if err := s.Sweep(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if records.listCalls != 0 {
			t.Errorf("expected no listing without the lease, got %d", records.listCalls)
		}
		if lease.released != 0 {
			t.Errorf("expected no release of a lease never held, got %d", lease.released)
		}
	})

	t.Run("dispatches terminal authorizations through the shared handlers", func(t *testing.T) {
		lease := &fakeLease{available: true}
		records := &fakeRecords{records: []*payments.PaymentRecord{
			staleRecord("pi_ok", time.Hour),
			staleRecord("pi_bad", time.Hour),
			staleRecord("pi_wait", time.Hour),
			staleRecord("pi_err", time.Hour),
		}}
		proc := &fakeProcessor{
			auths: map[string]*payments.Authorization{
				"pi_ok":   {ID: "pi_ok", Status: payments.AuthorizationSucceeded},
				"pi_bad":  {ID: "pi_bad", Status: payments.AuthorizationFailed},
				"pi_wait": {ID: "pi_wait", Status: payments.AuthorizationProcessing},
			},
			errs: map[string]error{"pi_err": errors.New("processor timeout")},
		}
		success := &fakeSuccess{}
		failure := &fakeFailure{}
		s := newTestSweeper(lease, records, proc, success, failure, 100)

		if err := s.Sweep(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(success.handled) != 1 || success.handled[0] != "pi_ok" {
			t.Errorf("expected success dispatch for pi_ok, got %v", success.handled)
		}
		if len(failure.handled) != 1 || failure.handled[0] != "pi_bad" {
			t.Errorf("expected failure dispatch for pi_bad, got %v", failure.handled)
		}
		if records.marked["pi_ok"] != payments.RecordSucceeded {
			t.Errorf("expected pi_ok marked succeeded, got %s", records.marked["pi_ok"])
		}
		if records.marked["pi_bad"] != payments.RecordFailed {
			t.Errorf("expected pi_bad marked failed, got %s", records.marked["pi_bad"])
		}
		if len(records.touched) != 1 || records.touched[0] != "pi_wait" {
			t.Errorf("expected pi_wait touched, got %v", records.touched)
		}
		if _, marked := records.marked["pi_err"]; marked {
			t.Error("expected pi_err left untouched for the next pass")
		}
		if lease.released != 1 {
			t.Errorf("expected lease released once, got %d", lease.released)
		}
	})

	t.Run("keeps going when the shared handler fails for one record", func(t *testing.T) {
		lease := &fakeLease{available: true}
		records := &fakeRecords{records: []*payments.PaymentRecord{
			staleRecord("pi_a", 2 * time.Hour),
			staleRecord("pi_b", time.Hour),
		}}
		proc := &fakeProcessor{auths: map[string]*payments.Authorization{
			"pi_a": {ID: "pi_a", Status: payments.AuthorizationSucceeded},
			"pi_b": {ID: "pi_b", Status: payments.AuthorizationFailed},
		}}
		success := &fakeSuccess{err: errors.New("booking table unavailable")}
		failure := &fakeFailure{}
		s := newTestSweeper(lease, records, proc, success, failure, 100)

		if err := s.Sweep(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, marked := records.marked["pi_a"]; marked {
			t.Error("expected failed dispatch to leave pi_a stale for retry")
		}
		if len(failure.handled) != 1 || failure.handled[0] != "pi_b" {
			t.Errorf("expected pi_b still dispatched, got %v", failure.handled)
		}
	})

	t.Run("pages through the backlog with a stable keyset", func(t *testing.T) {
		lease := &fakeLease{available: true}
		records := &fakeRecords{records: []*payments.PaymentRecord{
			staleRecord("pi_1", 3 * time.Hour),
			staleRecord("pi_2", 2 * time.Hour),
			staleRecord("pi_3", time.Hour),
		}}
		proc := &fakeProcessor{auths: map[string]*payments.Authorization{
			"pi_1": {ID: "pi_1", Status: payments.AuthorizationSucceeded},
			"pi_2": {ID: "pi_2", Status: payments.AuthorizationSucceeded},
			"pi_3": {ID: "pi_3", Status: payments.AuthorizationSucceeded},
		}}
		success := &fakeSuccess{}
		s := newTestSweeper(lease, records, proc, success, &fakeFailure{}, 2)

		if err := s.Sweep(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(success.handled) != 3 {
			t.Errorf("expected all 3 records reconciled, got %d", len(success.handled))
		}
		if records.listCalls != 2 {
			t.Errorf("expected 2 pages, got %d", records.listCalls)
		}
	})
}
