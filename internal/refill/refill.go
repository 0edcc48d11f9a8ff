package refill

import "time"

// Refill is a logged petrol refill
type Refill struct {
	ID            string    `json:"id"`
	Date          string    `json:"date"` // DDMMYY
	Mileage       int       `json:"mileage"`
	VolumeLitres  float64   `json:"volume_litres"`
	PricePerLitre float64   `json:"price_per_litre"`
	Previous      int       `json:"previous_mileage"`
	Row           int       `json:"row"` // Ledger row the refill was written to
	Sender        string    `json:"sender"`
	MessageID     string    `json:"message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reject is a receipt email that carried the marker but could not be parsed
type Reject struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	MessageID string    `json:"message_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Reason    string    `json:"reason"`
	Step      string    `json:"step,omitempty"`
	Field     string    `json:"field,omitempty"`
	Filename  string    `json:"filename,omitempty"` // Archived raw message
	CreatedAt time.Time `json:"created_at"`
}
