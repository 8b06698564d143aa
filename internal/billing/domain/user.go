package domain

import "time"

// User holds the authoritative balance in the smallest currency unit (Rial).
// Balance is mutated only through the transaction service and at any instant
// equals the sum of the user's committed transaction amounts.
type User struct {
	ID                 int64     `json:"id"`
	Username           string    `json:"username"`
	Balance            int64     `json:"balance"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	CreatedAt          time.Time `json:"created_at"`
}
