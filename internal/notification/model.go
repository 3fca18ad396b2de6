package notification

import "time"

// Email is one queued outbound message. Rows are written by the settlement
// pipeline and drained by a separate sender process.
type Email struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	HTMLBody  string    `json:"html_body"`
	CreatedAt time.Time `json:"created_at"`
}
