package booking

import "time"

// BookingStatus represents the open/closed lifecycle of a booking
type BookingStatus string

const (
	BookingStatusOpen   BookingStatus = "open"
	BookingStatusClosed BookingStatus = "closed"
)

// PaymentStatus tracks the venue's charge for the booking
type PaymentStatus string

const (
	PaymentStatusNone       PaymentStatus = "none"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// ApplicantStatus tracks one performer's application to a booking
type ApplicantStatus string

const (
	ApplicantStatusApplied           ApplicantStatus = "applied"
	ApplicantStatusAccepted          ApplicantStatus = "accepted"
	ApplicantStatusPaymentProcessing ApplicantStatus = "payment_processing"
	ApplicantStatusConfirmed         ApplicantStatus = "confirmed"
	ApplicantStatusDeclined          ApplicantStatus = "declined"
	ApplicantStatusPaid              ApplicantStatus = "paid"
)

// Applicant is one performer (individual or group) applying to a booking
type Applicant struct {
	RecipientID string          `json:"recipient_id"`
	Status      ApplicantStatus `json:"status"`
}

// Booking represents one scheduled engagement between a venue and a
// performer. FeeAmount is in minor currency units. Task handles reference
// the scheduled fee-clearing and follow-up deliveries so the chain can be
// audited or canceled.
type Booking struct {
	ID                 string        `json:"id"`
	VenueID            string        `json:"venue_id"`
	EventStart         time.Time     `json:"event_start"`
	FeeAmount          int64         `json:"fee_amount"`
	Status             BookingStatus `json:"status"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	AuthorizationID    *string       `json:"authorization_id,omitempty"`
	DisputeClearingAt  *time.Time    `json:"dispute_clearing_at,omitempty"`
	DisputeLogged      bool          `json:"dispute_logged"`
	FeeTaskHandle      *string       `json:"fee_task_handle,omitempty"`
	FollowUpTaskHandle *string       `json:"follow_up_task_handle,omitempty"`
	Applicants         []Applicant   `json:"applicants"`

	// Populated via JOIN on venues
	VenueName       string `json:"venue_name,omitempty"`
	VenueEmail      string `json:"-"`
	VenueCustomerID string `json:"-"`
}

// AcceptedApplicant returns the applicant with the given recipient id if it
// is currently in the accepted state
func (b *Booking) AcceptedApplicant(recipientID string) *Applicant {
	for i := range b.Applicants {
		a := &b.Applicants[i]
		if a.RecipientID == recipientID && a.Status == ApplicantStatusAccepted {
			return a
		}
	}
	return nil
}
