package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jharden/gigpay/internal/metrics"
	"github.com/jharden/gigpay/pkg/response"
)

// TrampolinePayload wraps a real task body whose target time lies beyond
// the queue's scheduling horizon. TargetTime is the true wall-clock target;
// it is recomputed against a fresh ceiling on every hop, never against the
// hop's own delivery time.
type TrampolinePayload struct {
	Kind       Kind            `json:"kind"`
	BookingID  string          `json:"booking_id"`
	TargetTime time.Time       `json:"target_time"`
	Body       json.RawMessage `json:"body"`
}

// ScheduleWithCeiling schedules body for its true target time, bouncing
// through the trampoline when the target exceeds the ceiling. Every caller
// that schedules deferred pipeline work goes through here so the writer and
// the trampoline itself cannot drift apart.
func ScheduleWithCeiling(ctx context.Context, s Scheduler, kind Kind, bookingID string, body interface{}, target, ceiling time.Time) (string, error) {
	if target.After(ceiling) {
		raw, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("failed to marshal trampoline body: %w", err)
		}
		return s.Schedule(ctx, Task{
			Endpoint: KindTrampoline,
			Body: TrampolinePayload{
				Kind:       kind,
				BookingID:  bookingID,
				TargetTime: target,
				Body:       raw,
			},
			NotBefore: ceiling,
		})
	}
	return s.Schedule(ctx, Task{Endpoint: kind, Body: body, NotBefore: target})
}

// HandleStore persists the newest task handle in a re-enqueue chain onto
// the booking so operators can audit or cancel it
type HandleStore interface {
	SaveTaskHandle(ctx context.Context, bookingID string, kind Kind, handle string) error
}

// Trampoline is the re-entrant task target that bridges the gap between
// "time until settlement" and the queue's maximum single-hop delay
type Trampoline struct {
	sched   Scheduler
	store   HandleStore
	horizon time.Duration
	now     func() time.Time
}

// NewTrampoline creates a new trampoline handler
func NewTrampoline(sched Scheduler, store HandleStore, horizon time.Duration) *Trampoline {
	return &Trampoline{
		sched:   sched,
		store:   store,
		horizon: horizon,
		now:     time.Now,
	}
}

// Handle handles POST /internal/tasks/trampoline
func (t *Trampoline) Handle(w http.ResponseWriter, r *http.Request) {
	var payload TrampolinePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		response.BadRequest(w, "Invalid trampoline payload")
		return
	}
	if payload.BookingID == "" || payload.TargetTime.IsZero() || len(payload.Body) == 0 {
		response.BadRequest(w, "Invalid trampoline payload")
		return
	}
	if payload.Kind != KindClearFee && payload.Kind != KindFollowUp {
		response.BadRequest(w, fmt.Sprintf("Unknown trampoline kind %q", payload.Kind))
		return
	}

	ctx := r.Context()
	ceiling := t.now().Add(t.horizon)

	handle, err := ScheduleWithCeiling(ctx, t.sched, payload.Kind, payload.BookingID, payload.Body, payload.TargetTime, ceiling)
	if err != nil {
		log.Printf("trampoline: failed to re-enqueue %s for booking %s: %v", payload.Kind, payload.BookingID, err)
		metrics.TaskScheduleFailuresTotal.Inc()
		response.InternalError(w, "Failed to re-enqueue task")
		return
	}
	metrics.TrampolineHopsTotal.Inc()

	if err := t.store.SaveTaskHandle(ctx, payload.BookingID, payload.Kind, handle); err != nil {
		// The next hop is already enqueued; a lost handle only hurts
		// auditability, but a missing booking means the chain is orphaned
		// and the queue should not keep retrying it.
		if errors.Is(err, ErrUnknownBooking) {
			log.Printf("trampoline: booking %s not found, dropping chain", payload.BookingID)
			response.NotFound(w, fmt.Sprintf("Booking %s not found", payload.BookingID))
			return
		}
		log.Printf("trampoline: failed to persist handle for booking %s: %v", payload.BookingID, err)
	}

	response.JSON(w, http.StatusOK, map[string]string{"task": handle})
}
