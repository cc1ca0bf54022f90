package ingest

import "github.com/google/uuid"

// NewSessionID names one import call in logs, the match log and API responses.
// Format: "imp_" + uuid v4.
func NewSessionID() string {
	return "imp_" + uuid.NewString()
}
