package domain

import "time"

type SessionStatus string

const (
	SessionCompleted        SessionStatus = "completed"
	SessionNoChangeDetected SessionStatus = "no_change_detected"
	SessionHasChanges       SessionStatus = "has_changes"
)

// ImportSession summarises one import call. Per-record decisions live in the
// match log under the same SessionID.
type ImportSession struct {
	SessionID  string        `json:"session_id"`
	SupplierID int64         `json:"supplier_id"`
	Status     SessionStatus `json:"status"`

	Received       int `json:"received"`
	Rejected       int `json:"rejected"`
	Failed         int `json:"failed"`
	Unchanged      int `json:"unchanged"`
	Matched        int `json:"matched"`
	CreatedProduct int `json:"created_products"`
	CreatedVariant int `json:"created_variants"`
	Emitted        int `json:"emitted"`

	Warnings  []string  `json:"warnings,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
